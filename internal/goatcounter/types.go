package goatcounter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Hit is one per-URL entry of the /stats/hits response. Nullable fields are
// pointers so an absent value can be told apart from a zero value.
type Hit struct {
	Path   string  `json:"path"`
	Event  *bool   `json:"event"`
	PathID *int64  `json:"path_id"`
	Title  *string `json:"title"`
	Count  int64   `json:"count"`
	Stats  []Stat  `json:"stats"`
}

// Stat is the per-day breakdown of a Hit
type Stat struct {
	Day   string `json:"day"`
	Daily *int64 `json:"daily"`
}

// UnmarshalJSON decodes daily leniently: integers, floats (truncated toward
// zero) and numeric strings are accepted, anything else leaves Daily nil.
func (s *Stat) UnmarshalJSON(data []byte) error {
	var raw struct {
		Day   string          `json:"day"`
		Daily json.RawMessage `json:"daily"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Day = raw.Day
	s.Daily = parseCount(raw.Daily)
	return nil
}

func parseCount(raw json.RawMessage) *int64 {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

// hitsResponse is the envelope of GET /api/v0/stats/hits
type hitsResponse struct {
	Hits []Hit `json:"hits"`
	More bool  `json:"more"`
}
