package fsutil

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// TimestampLayout is the human-readable timestamp format used in all
// persisted documents: local time, second resolution.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatBytes renders a byte count as a human-readable string ("1.5 MiB").
// Sizes flow through the catalog as int64; negative counts render as zero.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatDuration renders a duration in a compact form, truncated to seconds.
func FormatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

// FormatTimestamp renders t in the persisted document layout, local time.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// ParseTimestamp parses a timestamp in the persisted document layout.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
