// Package ingest runs one incremental GoatCounter → DuckDB pass: period gate,
// watermark, fetch, flatten, merge and ledger entry.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/hits"
	"github.com/withObsrvr/webstats/internal/ledger"
	"github.com/withObsrvr/webstats/internal/logging"
	"github.com/withObsrvr/webstats/internal/watermark"
)

// HitSource fetches raw hits starting at a day
type HitSource interface {
	FetchHits(ctx context.Context, start time.Time) ([]goatcounter.Hit, error)
}

// HitStore is the durable daily_hits table
type HitStore interface {
	MaxDate(ctx context.Context) (time.Time, bool, error)
	MergeDailyHits(ctx context.Context, rows []hits.DailyHit, loadedAt time.Time) (int64, error)
	CountRows(ctx context.Context) (int64, error)
}

// RunLedger is the per-period audit trail
type RunLedger interface {
	HasSuccess(ctx context.Context, period time.Time) (bool, error)
	Append(ctx context.Context, rec ledger.Record) error
}

// Config carries the settings of one orchestrator
type Config struct {
	JobName string
	Window  watermark.Window
}

// Options are the per-invocation switches
type Options struct {
	// OncePerPeriod skips the run when the current week already has a success.
	OncePerPeriod bool
	// Force runs even when OncePerPeriod would skip.
	Force bool
}

// Result describes how a run ended
type Result struct {
	State       State
	Period      time.Time
	StartDate   time.Time
	PayloadRows int
	MergedRows  int64
	TotalRows   int64
	LatestDate  time.Time
	HasLatest   bool
	Message     string
	Duration    time.Duration
}

// Orchestrator sequences a single ingest run
type Orchestrator struct {
	cfg    Config
	source HitSource
	store  HitStore
	ledger RunLedger
	logger *zap.Logger
	now    func() time.Time
}

// New creates an orchestrator
func New(cfg Config, source HitSource, store HitStore, runs RunLedger, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		source: source,
		store:  store,
		ledger: runs,
		logger: logging.OrNop(logger).With(zap.String("component", "ingest"), zap.String("job", cfg.JobName)),
		now:    time.Now,
	}
}

// WithClock replaces the wall clock, for tests and backfills.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run executes one pass. On error the returned Result still carries the
// period and the state the run failed in; no ledger record is written.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (Result, error) {
	began := o.now()
	res := Result{State: StateStart, Period: ledger.WeekStart(began)}
	log := o.logger.With(zap.String("period_start", res.Period.Format(time.DateOnly)))

	res.State = StateGateCheck
	if opts.OncePerPeriod && !opts.Force {
		done, err := o.ledger.HasSuccess(ctx, res.Period)
		if err != nil {
			return o.fail(res, fmt.Errorf("gate check: %w", err))
		}
		if done {
			res.State = StateSkipped
			runsTotal.WithLabelValues(outcomeSkipped).Inc()
			log.Info("successful run already logged for this period, skipping")
			return res, nil
		}
	} else if opts.Force {
		log.Debug("period gate bypassed")
	}

	res.State = StateFetching
	maxDate, hasData, err := o.store.MaxDate(ctx)
	if err != nil {
		return o.fail(res, fmt.Errorf("resolve watermark: %w", err))
	}
	res.StartDate = o.cfg.Window.StartDate(maxDate, hasData, began)
	log.Info("fetching hits",
		zap.String("start_date", res.StartDate.Format(time.DateOnly)),
		zap.Bool("has_watermark", hasData),
	)

	raw, err := o.source.FetchHits(ctx, res.StartDate)
	if err != nil {
		return o.fail(res, fmt.Errorf("fetch hits: %w", err))
	}
	res.PayloadRows = len(raw)
	payloadRowsTotal.Add(float64(len(raw)))

	res.State = StateFlattening
	rows := hits.Flatten(raw)
	if newest, ok := hits.LatestDate(rows); ok {
		log.Debug("flattened payload",
			zap.Int("daily_rows", len(rows)),
			zap.String("newest_day", newest.Format(time.DateOnly)),
		)
	}

	res.State = StateMerging
	res.MergedRows, err = o.store.MergeDailyHits(ctx, rows, o.now().UTC())
	if err != nil {
		return o.fail(res, fmt.Errorf("merge daily hits: %w", err))
	}
	mergedRowsTotal.Add(float64(res.MergedRows))

	if res.TotalRows, err = o.store.CountRows(ctx); err != nil {
		return o.fail(res, fmt.Errorf("count rows: %w", err))
	}
	if res.LatestDate, res.HasLatest, err = o.store.MaxDate(ctx); err != nil {
		return o.fail(res, fmt.Errorf("read high-water mark: %w", err))
	}

	res.State = StateLogging
	res.Message = ledger.SuccessMessage(res.PayloadRows, res.MergedRows, res.LatestDate, res.HasLatest)
	err = o.ledger.Append(ctx, ledger.Record{
		JobName:     o.cfg.JobName,
		PeriodStart: res.Period,
		Status:      ledger.StatusSuccess,
		RunAt:       o.now().UTC(),
		Message:     res.Message,
	})
	if err != nil {
		return o.fail(res, fmt.Errorf("record run: %w", err))
	}

	res.State = StateDone
	res.Duration = o.now().Sub(began)
	runsTotal.WithLabelValues(outcomeDone).Inc()
	runDuration.Observe(res.Duration.Seconds())
	if res.HasLatest {
		latestDate.Set(float64(res.LatestDate.Unix()))
	}

	log.Info("ingest run complete",
		zap.Int("payload_rows", res.PayloadRows),
		zap.Int64("upserted_rows", res.MergedRows),
		zap.Int64("total_rows", res.TotalRows),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// RecordFailure appends a failure record for period. The run itself never
// does this; callers opt in.
func (o *Orchestrator) RecordFailure(ctx context.Context, period time.Time, cause error) error {
	return o.ledger.Append(ctx, ledger.Record{
		JobName:     o.cfg.JobName,
		PeriodStart: period,
		Status:      ledger.StatusFailure,
		RunAt:       o.now().UTC(),
		Message:     cause.Error(),
	})
}

func (o *Orchestrator) fail(res Result, err error) (Result, error) {
	runsTotal.WithLabelValues(outcomeFailed).Inc()
	o.logger.Error("ingest run failed",
		zap.Stringer("state", res.State),
		zap.Error(err),
	)
	return res, err
}
