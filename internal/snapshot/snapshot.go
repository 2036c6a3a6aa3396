// Package snapshot keeps a parquet file of raw GoatCounter hits for ad hoc
// analysis outside DuckDB.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/logging"
)

// Row is one per-URL hit record as stored in the parquet file
type Row struct {
	Path   string    `parquet:"path"`
	Event  *bool     `parquet:"event,optional"`
	PathID *int64    `parquet:"path_id,optional"`
	Title  *string   `parquet:"title,optional"`
	Count  int64     `parquet:"count"`
	Stats  []StatRow `parquet:"stats,list"`
}

// StatRow is one day of a Row
type StatRow struct {
	Day   string `parquet:"day"`
	Daily *int64 `parquet:"daily,optional"`
}

// HitSource fetches raw hits starting at a day
type HitSource interface {
	FetchHits(ctx context.Context, start time.Time) ([]goatcounter.Hit, error)
}

// Result summarizes a snapshot run
type Result struct {
	Since    time.Time
	NewRows  int
	Total    int
	Written  bool
	FilePath string
}

// Snapshotter appends recent hits to a parquet file
type Snapshotter struct {
	source HitSource
	path   string
	days   int
	logger *zap.Logger
	now    func() time.Time
}

// New creates a snapshotter writing to path and fetching the last days days
func New(source HitSource, path string, days int, logger *zap.Logger) *Snapshotter {
	return &Snapshotter{
		source: source,
		path:   path,
		days:   days,
		logger: logging.OrNop(logger).With(zap.String("component", "snapshot"), zap.String("path", path)),
		now:    time.Now,
	}
}

// Run fetches, merges with the existing file and rewrites it. An empty fetch
// leaves the file untouched.
func (s *Snapshotter) Run(ctx context.Context) (Result, error) {
	since := s.now().UTC().AddDate(0, 0, -s.days)
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	res := Result{Since: since, FilePath: s.path}

	raw, err := s.source.FetchHits(ctx, since)
	if err != nil {
		return res, fmt.Errorf("fetch hits: %w", err)
	}
	if len(raw) == 0 {
		s.logger.Info("no new rows")
		return res, nil
	}
	fresh := toRows(raw)
	res.NewRows = len(fresh)

	existing, err := Load(s.path)
	if err != nil {
		return res, err
	}
	all := Dedupe(append(existing, fresh...))
	res.Total = len(all)

	if err := write(s.path, all); err != nil {
		return res, err
	}
	res.Written = true

	s.logger.Info("snapshot saved",
		zap.Int("new_rows", res.NewRows),
		zap.Int("total_rows", res.Total),
		zap.String("since", since.Format(time.DateOnly)),
	)
	return res, nil
}

// Load reads the parquet file at path. A missing file yields no rows.
func Load(path string) ([]Row, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return rows, nil
}

// Dedupe keeps the last occurrence of each record, keyed by path_id when
// set and by (path, event) otherwise. Survivors keep their relative order.
func Dedupe(rows []Row) []Row {
	last := make(map[string]int, len(rows))
	for i, r := range rows {
		last[dedupeKey(r)] = i
	}
	out := make([]Row, 0, len(last))
	for i, r := range rows {
		if last[dedupeKey(r)] == i {
			out = append(out, r)
		}
	}
	return out
}

func dedupeKey(r Row) string {
	if r.PathID != nil {
		return "id:" + strconv.FormatInt(*r.PathID, 10)
	}
	event := "null"
	if r.Event != nil {
		event = strconv.FormatBool(*r.Event)
	}
	return "path:" + event + ":" + r.Path
}

func toRows(hits []goatcounter.Hit) []Row {
	out := make([]Row, 0, len(hits))
	for _, h := range hits {
		row := Row{
			Path:   h.Path,
			Event:  h.Event,
			PathID: h.PathID,
			Title:  h.Title,
			Count:  h.Count,
			Stats:  make([]StatRow, 0, len(h.Stats)),
		}
		for _, st := range h.Stats {
			row.Stats = append(row.Stats, StatRow{Day: st.Day, Daily: st.Daily})
		}
		out = append(out, row)
	}
	return out
}

// write replaces path atomically via a temp file in the same directory
func write(path string, rows []Row) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.parquet")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	if err := parquet.WriteFile(tmpName, rows); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}
