// Package hits turns GoatCounter's nested per-URL payload into flat daily
// rows keyed by (date, url, event).
package hits

import (
	"sort"
	"time"

	"github.com/withObsrvr/webstats/internal/goatcounter"
)

// DailyHit is one aggregated row of the daily_hits table, without loaded_at.
type DailyHit struct {
	Date   time.Time // UTC midnight
	URL    string
	Hits   int64
	Event  bool
	PathID *int64
	Title  *string
}

// Key identifies a DailyHit. An absent event flag is stored as false.
type Key struct {
	Date  time.Time
	URL   string
	Event bool
}

// Key returns the identity key of the row
func (d DailyHit) Key() Key {
	return Key{Date: d.Date, URL: d.URL, Event: d.Event}
}

// Flatten explodes the per-day stats of every hit and aggregates duplicates.
// Days that are missing or not ISO dates, and counts that are missing or not
// positive, are dropped before grouping. Within a group hits are summed, the
// largest path_id wins and the last non-null title wins. The result is sorted
// by date, url, event and is never nil.
func Flatten(raw []goatcounter.Hit) []DailyHit {
	groups := make(map[Key]*DailyHit)
	order := make([]Key, 0)

	for _, h := range raw {
		event := h.Event != nil && *h.Event
		for _, st := range h.Stats {
			if st.Daily == nil || *st.Daily <= 0 {
				continue
			}
			day, ok := parseDay(st.Day)
			if !ok {
				continue
			}

			k := Key{Date: day, URL: h.Path, Event: event}
			row, seen := groups[k]
			if !seen {
				row = &DailyHit{Date: day, URL: h.Path, Event: event}
				groups[k] = row
				order = append(order, k)
			}
			row.Hits += *st.Daily
			if h.PathID != nil && (row.PathID == nil || *h.PathID > *row.PathID) {
				id := *h.PathID
				row.PathID = &id
			}
			if h.Title != nil {
				title := *h.Title
				row.Title = &title
			}
		}
	}

	out := make([]DailyHit, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return !a.Event && b.Event
	})
	return out
}

// LatestDate returns the newest date in rows, and false when rows is empty.
func LatestDate(rows []DailyHit) (time.Time, bool) {
	var latest time.Time
	for _, r := range rows {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return latest, len(rows) > 0
}

// parseDay accepts "2006-01-02" and full RFC 3339 timestamps, returning the
// UTC calendar day.
func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u := t.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
