// Package watermark resolves where the next GoatCounter fetch should start.
package watermark

import "time"

// Window bounds the fetch range. BootstrapDays caps how far back a fetch
// ever reaches; OverlapDays is re-fetched behind the stored high-water mark
// to pick up late corrections.
type Window struct {
	BootstrapDays int
	OverlapDays   int
}

// StartDate returns the first day to fetch. hasData reports whether maxDate
// is a real watermark. All values are reduced to UTC calendar days.
func (w Window) StartDate(maxDate time.Time, hasData bool, now time.Time) time.Time {
	horizon := Day(now).AddDate(0, 0, -w.BootstrapDays)
	if !hasData {
		return horizon
	}
	overlap := Day(maxDate).AddDate(0, 0, -w.OverlapDays)
	if overlap.After(horizon) {
		return overlap
	}
	return horizon
}

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
