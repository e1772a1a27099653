package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	IDPrefix  = "UCTI-"
	IDLength  = 32
	stampLen  = 16
	stampBase = "20060102150405"
)

// NewID returns a new trace identifier of the form
// UCTI-YYYYMMDDHHmmssff-XXXXXXXXXX (UTC, hundredths of a second, 5 random
// bytes as uppercase hex). It panics if the system randomness source fails.
func NewID() string {
	return newID(time.Now(), rand.Reader)
}

func newID(now time.Time, random io.Reader) string {
	var b [5]byte
	if _, err := io.ReadFull(random, b[:]); err != nil {
		panic(fmt.Sprintf("trace: random source failed: %v", err))
	}
	return IDPrefix + stamp(now) + "-" + strings.ToUpper(hex.EncodeToString(b[:]))
}

func stamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%02d", t.Format(stampBase), t.Nanosecond()/int(10*time.Millisecond))
}

// ParseTime extracts the UTC creation time encoded in a generated trace id.
func ParseTime(id string) (time.Time, error) {
	if len(id) != IDLength || !strings.HasPrefix(id, IDPrefix) || id[len(IDPrefix)+stampLen] != '-' {
		return time.Time{}, fmt.Errorf("trace: %q is not a generated trace id", id)
	}
	seg := id[len(IDPrefix) : len(IDPrefix)+stampLen]
	t, err := time.ParseInLocation(stampBase, seg[:14], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("trace: bad timestamp in %q: %w", id, err)
	}
	hundredths, err := strconv.Atoi(seg[14:])
	if err != nil {
		return time.Time{}, fmt.Errorf("trace: bad timestamp in %q: %w", id, err)
	}
	return t.Add(time.Duration(hundredths) * 10 * time.Millisecond), nil
}
