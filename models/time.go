package models

import "time"

// TimeLayout is the canonical UTC timestamp format stored in SQLite text columns.
// Lexicographic comparison of values in this format matches chronological order.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders a timestamp in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp as UTC.
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}
