package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	goduckdb "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/hits"
)

const stageTable = "daily_hits_stage"

// The stage table lives in the main schema so the appender can resolve it. It
// is created and dropped inside the merge transaction and never committed.
const (
	createStageSQL = `
		CREATE OR REPLACE TABLE daily_hits_stage (
			date DATE,
			url VARCHAR,
			hits BIGINT,
			event BOOLEAN,
			path_id BIGINT,
			title VARCHAR
		)
	`
	deleteMatchedSQL = `
		DELETE FROM daily_hits AS t
		USING daily_hits_stage AS s
		WHERE t.date = s.date
		  AND t.url = s.url
		  AND COALESCE(t.event, FALSE) = COALESCE(s.event, FALSE)
	`
	insertFromStageSQL = `
		INSERT INTO daily_hits (date, url, hits, event, path_id, title, loaded_at)
		SELECT date, url, hits, event, path_id, title, CAST(? AS TIMESTAMP)
		FROM daily_hits_stage
	`
	dropStageSQL = `DROP TABLE IF EXISTS daily_hits_stage`
)

// MergeDailyHits replaces every stored row sharing a (date, url, event) key
// with rows and stamps them with loadedAt. Staging, delete and insert run in
// one transaction on a dedicated connection; the stage table is bulk-loaded
// with the DuckDB appender. An empty rows slice returns 0 without touching the table.
// The returned count is the number of rows inserted.
func (c *Client) MergeDailyHits(ctx context.Context, rows []hits.DailyHit, loadedAt time.Time) (int64, error) {
	if len(rows) == 0 {
		c.logger.Debug("nothing to merge")
		return 0, nil
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return 0, Wrap("acquire connection", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, Wrap("begin merge", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createStageSQL); err != nil {
		return 0, Wrap("create stage table", err)
	}
	if err := stageRows(conn, rows); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, deleteMatchedSQL)
	if err != nil {
		return 0, Wrap("delete matched rows", err)
	}
	deleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, insertFromStageSQL, loadedAt.UTC())
	if err != nil {
		return 0, Wrap("insert merged rows", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		inserted = int64(len(rows))
	}

	if _, err := tx.ExecContext(ctx, dropStageSQL); err != nil {
		return 0, Wrap("drop stage table", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, Wrap("commit merge", err)
	}

	c.logger.Info("merged daily hits",
		zap.Int("staged", len(rows)),
		zap.Int64("replaced", deleted),
		zap.Int64("inserted", inserted),
	)
	return inserted, nil
}

// stageRows appends rows to the stage table through the raw driver
// connection, which shares the open transaction.
func stageRows(conn *sql.Conn, rows []hits.DailyHit) error {
	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return Wrap("stage rows", fmt.Errorf("unexpected driver connection %T", driverConn))
		}
		appender, err := goduckdb.NewAppenderFromConn(dc, "", stageTable)
		if err != nil {
			return Wrap("create stage appender", err)
		}

		for i, r := range rows {
			err := appender.AppendRow(
				r.Date.UTC(),
				r.URL,
				r.Hits,
				r.Event,
				optional(r.PathID),
				optional(r.Title),
			)
			if err != nil {
				appender.Close()
				return Wrap("stage rows", fmt.Errorf("row %d (%s %s): %w", i, r.Date.Format(time.DateOnly), r.URL, err))
			}
		}
		if err := appender.Close(); err != nil {
			return Wrap("flush stage rows", err)
		}
		return nil
	})
}

// optional dereferences v for the appender, which writes an untyped nil as NULL
func optional[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
