package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/duckdb"
)

// RunView reads run records through a duckdb.View, holding the file only for
// the length of each call.
type RunView struct {
	view    *duckdb.View
	jobName string
	logger  *zap.Logger
}

// NewRunView creates a run reader for jobName over view
func NewRunView(view *duckdb.View, jobName string, logger *zap.Logger) *RunView {
	return &RunView{view: view, jobName: jobName, logger: logger}
}

// Recent is Ledger.Recent on a short-lived read-only handle
func (v *RunView) Recent(ctx context.Context, limit int) (records []Record, err error) {
	err = v.view.Do(ctx, func(c *duckdb.Client) error {
		records, err = New(c.DB(), v.jobName, v.logger).Recent(ctx, limit)
		return err
	})
	return records, err
}
