package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-day format (UTC).
const DateLayout = "2006-01-02"

// -----------------------------------------------------------------------------

// ParseDate parses a YYYY-MM-DD calendar day as UTC midnight.
func ParseDate(day string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", day, err)
	}
	return t, nil
}

// -----------------------------------------------------------------------------

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// -----------------------------------------------------------------------------

// Today returns the current UTC calendar day.
func Today() string {
	return FormatDate(time.Now())
}

// -----------------------------------------------------------------------------

// AddDays shifts a calendar day; the input must be valid.
func AddDays(day string, n int) string {
	t, err := ParseDate(day)
	if err != nil {
		return day
	}
	return FormatDate(t.AddDate(0, 0, n))
}

// -----------------------------------------------------------------------------

// ValidDate reports whether day is a well-formed YYYY-MM-DD calendar day.
func ValidDate(day string) bool {
	_, err := ParseDate(day)
	return err == nil
}

// -----------------------------------------------------------------------------

// DateRange lists the days from..to inclusive (empty if from > to).
func DateRange(from, to string) []string {
	start, err := ParseDate(from)
	if err != nil {
		return nil
	}
	end, err := ParseDate(to)
	if err != nil {
		return nil
	}
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, FormatDate(d))
	}
	return out
}
