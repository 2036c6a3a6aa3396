// Package ledger keeps the ingest_run_log table: one row per ingest attempt,
// keyed by job and Monday-aligned UTC week. A success row for the current
// week is what the once-per-period gate looks for.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/logging"
)

// Status of a ledger record
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrInvalidStatus is wrapped in the StorageError Append returns for a record
// whose status is neither success nor failure.
var ErrInvalidStatus = errors.New("invalid ledger status")

// Record is one row of ingest_run_log
type Record struct {
	JobName     string    `json:"job_name"`
	PeriodStart time.Time `json:"period_start"`
	Status      Status    `json:"status"`
	RunAt       time.Time `json:"run_at"`
	Message     string    `json:"message"`
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS ingest_run_log (
		job_name VARCHAR NOT NULL,
		period_start DATE NOT NULL,
		status VARCHAR NOT NULL,
		run_at TIMESTAMP NOT NULL,
		message VARCHAR
	)
`

// Ledger reads and appends run records for one job
type Ledger struct {
	db      *sql.DB
	jobName string
	logger  *zap.Logger
}

// New creates a ledger for jobName on db. Call Init before first use.
func New(db *sql.DB, jobName string, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:      db,
		jobName: jobName,
		logger:  logging.OrNop(logger).With(zap.String("component", "ledger"), zap.String("job", jobName)),
	}
}

// Init creates ingest_run_log if it does not exist
func (l *Ledger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTableSQL); err != nil {
		return duckdb.Wrap("create ingest_run_log", err)
	}
	return nil
}

// HasSuccess reports whether a success record exists for the week starting
// at period. It only reads.
func (l *Ledger) HasSuccess(ctx context.Context, period time.Time) (bool, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM ingest_run_log
		WHERE job_name = ? AND period_start = CAST(? AS DATE) AND status = ?`,
		l.jobName, period.Format(time.DateOnly), string(StatusSuccess),
	).Scan(&n)
	if err != nil {
		return false, duckdb.Wrap("check ingest_run_log", err)
	}
	return n > 0, nil
}

// Append writes rec. An empty JobName is filled with the ledger's job.
func (l *Ledger) Append(ctx context.Context, rec Record) error {
	if rec.JobName == "" {
		rec.JobName = l.jobName
	}
	if rec.Status != StatusSuccess && rec.Status != StatusFailure {
		return duckdb.Wrap("append ingest_run_log", fmt.Errorf("%w %q", ErrInvalidStatus, rec.Status))
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ingest_run_log (job_name, period_start, status, run_at, message)
		VALUES (?, CAST(? AS DATE), ?, CAST(? AS TIMESTAMP), ?)`,
		rec.JobName, rec.PeriodStart.Format(time.DateOnly), string(rec.Status), rec.RunAt.UTC(), rec.Message,
	)
	if err != nil {
		return duckdb.Wrap("append ingest_run_log", err)
	}

	l.logger.Info("run recorded",
		zap.String("period_start", rec.PeriodStart.Format(time.DateOnly)),
		zap.String("status", string(rec.Status)),
		zap.String("message", rec.Message),
	)
	return nil
}

// Recent returns up to limit records of this job, newest first. A store that
// has never been ingested into has no ingest_run_log and yields no records.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	var tables int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = 'main' AND table_name = 'ingest_run_log'`,
	).Scan(&tables)
	if err != nil {
		return nil, duckdb.Wrap("look up ingest_run_log", err)
	}
	if tables == 0 {
		return []Record{}, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT job_name, period_start, status, run_at, COALESCE(message, '')
		FROM ingest_run_log
		WHERE job_name = ?
		ORDER BY run_at DESC
		LIMIT ?`, l.jobName, limit)
	if err != nil {
		return nil, duckdb.Wrap("query ingest_run_log", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec    Record
			status string
		)
		if err := rows.Scan(&rec.JobName, &rec.PeriodStart, &status, &rec.RunAt, &rec.Message); err != nil {
			return nil, duckdb.Wrap("scan ingest_run_log", err)
		}
		rec.Status = Status(status)
		rec.PeriodStart = rec.PeriodStart.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, duckdb.Wrap("iterate ingest_run_log", err)
	}
	return out, nil
}
