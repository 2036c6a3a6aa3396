package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/ingest"
	"github.com/withObsrvr/webstats/internal/ledger"
	"github.com/withObsrvr/webstats/internal/watermark"
)

type ingestFlags struct {
	oncePerPeriod bool
	oncePerWeek   bool
	force         bool
	recordFailure bool
}

func newIngestCommand() *cobra.Command {
	var flags ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch recent GoatCounter hits and merge them into DuckDB",
		Long: `Fetch hits since the stored high-water mark (minus the overlap window,
bounded by the bootstrap horizon), merge them into daily_hits and record the
run in ingest_run_log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.oncePerPeriod, "once-per-period", false, "skip if a successful run is already logged for this UTC week")
	cmd.Flags().BoolVar(&flags.oncePerWeek, "once-per-week", false, "alias for --once-per-period")
	_ = cmd.Flags().MarkHidden("once-per-week")
	cmd.Flags().BoolVar(&flags.force, "force", false, "run even if --once-per-period would skip")
	cmd.Flags().BoolVar(&flags.recordFailure, "record-failure", false, "append a failure record to the run log when GoatCounter is unreachable")

	return cmd
}

func runIngest(ctx context.Context, out io.Writer, flags ingestFlags) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	store, err := duckdb.Open(ctx, cfg.DuckDB.Path, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs := ledger.New(store.DB(), cfg.Service.JobName, a.logger)
	if err := runs.Init(ctx); err != nil {
		return err
	}

	orchestrator := ingest.New(
		ingest.Config{
			JobName: cfg.Service.JobName,
			Window: watermark.Window{
				BootstrapDays: cfg.Ingest.BootstrapDays,
				OverlapDays:   cfg.Ingest.OverlapDays,
			},
		},
		goatcounter.NewClient(cfg.GoatCounter, a.logger),
		store,
		runs,
		a.logger,
	)

	res, runErr := orchestrator.Run(ctx, ingest.Options{
		OncePerPeriod: flags.oncePerPeriod || flags.oncePerWeek,
		Force:         flags.force,
	})

	var transportErr *goatcounter.TransportError
	if runErr != nil && flags.recordFailure && errors.As(runErr, &transportErr) {
		if err := orchestrator.RecordFailure(ctx, res.Period, runErr); err != nil {
			a.logger.Error("failed to record failed run", zap.Error(err))
		}
	}

	writeMetricsTextfile(cfg.Metrics.TextfilePath, a.logger)

	if runErr != nil {
		return runErr
	}
	printIngestResult(out, res)
	return nil
}

func printIngestResult(out io.Writer, res ingest.Result) {
	if res.State == ingest.StateSkipped {
		fmt.Fprintf(out, "Skip: successful run already logged for week starting %s.\n", res.Period.Format(time.DateOnly))
		return
	}

	latest := "none"
	if res.HasLatest {
		latest = res.LatestDate.Format(time.DateOnly)
	}
	fmt.Fprintf(out, "Start date: %s\n", res.StartDate.Format(time.DateOnly))
	fmt.Fprintf(out, "Rows from GoatCounter payload: %d\n", res.PayloadRows)
	fmt.Fprintf(out, "Rows upserted into daily_hits: %d\n", res.MergedRows)
	fmt.Fprintf(out, "Total rows in daily_hits: %d\n", res.TotalRows)
	fmt.Fprintf(out, "Latest date in table: %s\n", latest)
}

// writeMetricsTextfile dumps the default registry for node_exporter's
// textfile collector. Failures are logged, never fatal.
func writeMetricsTextfile(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}
