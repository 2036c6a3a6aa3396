package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeDone    = "done"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webstats_ingest_runs_total",
		Help: "Ingest runs by outcome (done, skipped, failed)",
	}, []string{"outcome"})

	payloadRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webstats_ingest_payload_rows_total",
		Help: "Per-URL hit records received from GoatCounter",
	})

	mergedRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webstats_ingest_merged_rows_total",
		Help: "Daily rows written into daily_hits",
	})

	latestDate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webstats_ingest_latest_date_seconds",
		Help: "High-water mark of daily_hits as a unix timestamp",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webstats_ingest_run_duration_seconds",
		Help:    "Duration of ingest runs that reached the fetch step",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)
