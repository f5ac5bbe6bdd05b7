package game

import (
	"fmt"
	"strings"
	"time"
)

// ParseQualifiedTime resolves a qualifier time against its scope date.
// Accepts RFC3339 ("2026-02-21T19:35:00Z") or the display form the live
// tracker emits ("7:35 PM ET"), interpreted in loc.
func ParseQualifiedTime(scopeDate, s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty qualified time")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	clock := s
	for _, suffix := range []string{" ET", " EST", " EDT"} {
		clock = strings.TrimSuffix(clock, suffix)
	}

	t, err := time.ParseInLocation("20060102 3:04 PM", scopeDate+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse qualified time %q on %s: %w", s, scopeDate, err)
	}
	return t, nil
}

// EndOfDay returns 23:59:59 on the scope date in loc. Reconciliation never
// walks snapshots past this instant.
func EndOfDay(scopeDate string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("20060102", scopeDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse scope date %q: %w", scopeDate, err)
	}
	// Built from components so DST transitions can't shift the day boundary.
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc), nil
}

// FormatClock renders an instant as the tracker's display form ("7:42 PM ET").
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM") + " ET"
}
