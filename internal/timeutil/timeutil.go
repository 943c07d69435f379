package timeutil

import (
	"fmt"
	"time"
)

// Format renders a timestamp the way records store it: RFC3339 with
// nanoseconds, always in UTC.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Parse is the inverse of [Format].
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SortKey renders a timestamp as a fixed width decimal of nanoseconds since
// the epoch so that lexical order matches chronological order.
func SortKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// Now returns the current time truncated to what [Format] can round trip.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}
