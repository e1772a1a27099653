package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GoPolymarket/polyaudit/internal/inspector"
)

func main() {
	if err := inspector.NewRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
