package duckdb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/logging"
)

// View serves reads from a DuckDB file that another process may write to.
// Every call opens the file read-only and closes it before returning, so the
// file lock is only held for the length of one query and an ingest run can
// take it between calls.
type View struct {
	path   string
	logger *zap.Logger

	// one handle at a time inside this process
	mu sync.Mutex
}

// NewView creates a view over the file at path. The file is not opened.
func NewView(path string, logger *zap.Logger) *View {
	return &View{path: path, logger: logging.OrNop(logger)}
}

// Path returns the database file path
func (v *View) Path() string {
	return v.path
}

// Do opens a read-only handle, runs fn on it and closes it again.
func (v *View) Do(ctx context.Context, fn func(*Client) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	c, err := OpenReadOnly(ctx, v.path, v.logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// MaxDate is Client.MaxDate on a short-lived handle
func (v *View) MaxDate(ctx context.Context) (latest time.Time, ok bool, err error) {
	err = v.Do(ctx, func(c *Client) error {
		latest, ok, err = c.MaxDate(ctx)
		return err
	})
	return latest, ok, err
}

// DailyHits is Client.DailyHits on a short-lived handle
func (v *View) DailyHits(ctx context.Context, f HitFilter) (rows []StoredHit, err error) {
	err = v.Do(ctx, func(c *Client) error {
		rows, err = c.DailyHits(ctx, f)
		return err
	})
	return rows, err
}

// TopPaths is Client.TopPaths on a short-lived handle
func (v *View) TopPaths(ctx context.Context, f HitFilter) (paths []PathTotal, err error) {
	err = v.Do(ctx, func(c *Client) error {
		paths, err = c.TopPaths(ctx, f)
		return err
	})
	return paths, err
}
