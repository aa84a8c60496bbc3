package core

import (
	"fmt"
	"time"
)

// DueDateLayout is the user-facing due date format (DD-MM-YYYY).
const DueDateLayout = "02-01-2006"

var dateLayouts = []string{time.RFC3339, "2006-01-02", DueDateLayout}

// ParseDate parses the date formats that appear in task payloads: RFC 3339
// timestamps, ISO dates and DD-MM-YYYY due dates. Date-only values are
// interpreted in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// civilDay returns t's calendar date as midnight UTC so that day
// differences are exact.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b, each taken in
// its own location.
func DaysBetween(a, b time.Time) int {
	return int(civilDay(b).Sub(civilDay(a)).Hours() / 24)
}

// FormatRelativeDay renders due relative to now: "today", "tomorrow",
// "yesterday", "in N days" or "N days ago". Unparseable input is returned
// unchanged.
func FormatRelativeDay(due string, now time.Time) string {
	t, ok := ParseDate(due, now.Location())
	if !ok {
		return due
	}
	days := DaysBetween(now, t.In(now.Location()))
	switch {
	case days == 0:
		return "today"
	case days == 1:
		return "tomorrow"
	case days == -1:
		return "yesterday"
	case days > 1:
		return fmt.Sprintf("in %d days", days)
	default:
		return fmt.Sprintf("%d days ago", -days)
	}
}
