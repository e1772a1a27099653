package inspector

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GoPolymarket/polyaudit/internal/model"
	"github.com/GoPolymarket/polyaudit/internal/trace"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName   = "inspector"
	envPrefix = "POLYAUDIT_INSPECTOR"
)

// NewRootCommand builds `inspector` and its subcommands. Output goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         appName + " reads the audit trail of a polyaudit instance.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringP("url", "u", "http://127.0.0.1:8080", "polyaudit API URL")
	_ = v.BindPFlag("api.url", flags.Lookup("url"))
	flags.String("admin-key", "", "value of the X-Admin-Key header")
	_ = v.BindPFlag("api.admin_key", flags.Lookup("admin-key"))
	flags.StringP("output", "o", "table", "output format: table or json")
	_ = v.BindPFlag("output", flags.Lookup("output"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	client := func() *Client {
		return NewClient(v.GetString("api.url"), v.GetString("api.admin_key"))
	}
	render := func(cmd *cobra.Command, records []model.AuditRecord) error {
		return writeRecords(cmd.OutOrStdout(), v.GetString("output"), records)
	}

	rootCmd.AddCommand(
		newTraceCommand(client, render),
		newAppCommand(client, render),
		newIDCommand(),
	)
	return rootCmd
}

type renderFunc func(cmd *cobra.Command, records []model.AuditRecord) error

func newTraceCommand(client func() *Client, render renderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "trace TRACE_ID",
		Short: "Show every record of one trace, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := client().Trace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd, records)
		},
	}
}

func newAppCommand(client func() *Client, render renderFunc) *cobra.Command {
	var page, pageSize int
	cmd := &cobra.Command{
		Use:   "app NAME",
		Short: "Show the latest records of one application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := client().Application(cmd.Context(), args[0], page, pageSize)
			if err != nil {
				return err
			}
			return render(cmd, records)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "records per page (max 500)")
	return cmd
}

func newIDCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Work with trace ids",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Print a fresh trace id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), trace.NewID())
				return err
			},
		},
		&cobra.Command{
			Use:   "parse TRACE_ID",
			Short: "Print the creation time encoded in a trace id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				at, err := trace.ParseTime(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), at.Format(time.RFC3339Nano))
				return err
			},
		},
	)
	return cmd
}

func writeRecords(w io.Writer, format string, records []model.AuditRecord) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOGGED_AT\tTRACE_ID\tCATEGORY\tMETHOD\tOPERATION\tSTATUS\tDURATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\t%t\n",
			r.LoggedAt.UTC().Format(time.RFC3339),
			r.TraceID,
			r.Category,
			deref(r.Method),
			r.Operation,
			deref(r.StatusDescription),
			r.DurationMs,
			r.HasError,
		)
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
