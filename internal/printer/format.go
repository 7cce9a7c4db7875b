package printer

import (
	"fmt"
	"time"
)

// FormatBytes returns a human-readable byte size string.
// Examples: "0 B", "512 B", "1.5 KB", "700 MB".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "0 B"
	}

	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSeconds returns a machine run time rounded to seconds, e.g. "1h2m3s".
func FormatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

// FormatFinishTime returns the finish time of a task, Unix milliseconds, in UTC.
// Unfinished tasks have an empty finish time.
func FormatFinishTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05 UTC")
}
