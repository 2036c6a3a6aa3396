package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/hits"
	"github.com/withObsrvr/webstats/internal/ledger"
	"github.com/withObsrvr/webstats/internal/watermark"
)

type fakeSource struct {
	hits   []goatcounter.Hit
	err    error
	calls  int
	starts []time.Time
}

func (f *fakeSource) FetchHits(_ context.Context, start time.Time) ([]goatcounter.Hit, error) {
	f.calls++
	f.starts = append(f.starts, start)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeStore struct {
	rows       map[hits.Key]hits.DailyHit
	mergeCalls int
	mergeErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[hits.Key]hits.DailyHit)}
}

func (s *fakeStore) MaxDate(context.Context) (time.Time, bool, error) {
	var latest time.Time
	for k := range s.rows {
		if k.Date.After(latest) {
			latest = k.Date
		}
	}
	return latest, len(s.rows) > 0, nil
}

func (s *fakeStore) MergeDailyHits(_ context.Context, rows []hits.DailyHit, _ time.Time) (int64, error) {
	s.mergeCalls++
	if s.mergeErr != nil {
		return 0, s.mergeErr
	}
	for _, r := range rows {
		s.rows[r.Key()] = r
	}
	return int64(len(rows)), nil
}

func (s *fakeStore) CountRows(context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

type fakeLedger struct {
	records []ledger.Record
}

func (l *fakeLedger) HasSuccess(_ context.Context, period time.Time) (bool, error) {
	for _, r := range l.records {
		if r.PeriodStart.Equal(period) && r.Status == ledger.StatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) Append(_ context.Context, rec ledger.Record) error {
	l.records = append(l.records, rec)
	return nil
}

func i64(v int64) *int64 { return &v }

func day(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

// Wednesday 2024-06-05 14:00 UTC, week starts Monday 2024-06-03.
var wednesday = time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)

func payload() []goatcounter.Hit {
	return []goatcounter.Hit{
		{Path: "/a", Stats: []goatcounter.Stat{{Day: "2024-06-03", Daily: i64(3)}, {Day: "2024-06-04", Daily: i64(0)}}},
		{Path: "/a", Stats: []goatcounter.Stat{{Day: "2024-06-03", Daily: i64(5)}}},
		{Path: "/b", Stats: []goatcounter.Stat{{Day: "2024-06-04", Daily: i64(2)}}},
	}
}

func newTestOrchestrator(src *fakeSource, store *fakeStore, runs *fakeLedger) *Orchestrator {
	cfg := Config{JobName: "weekly", Window: watermark.Window{BootstrapDays: 30, OverlapDays: 7}}
	return New(cfg, src, store, runs, nil).WithClock(func() time.Time { return wednesday })
}

func TestRunFullCycle(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	runs := &fakeLedger{}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, day("2024-06-03"), res.Period)
	assert.Equal(t, day("2024-05-06"), res.StartDate, "empty store should bootstrap 30 days back")
	assert.Equal(t, 3, res.PayloadRows)
	assert.Equal(t, int64(2), res.MergedRows)
	assert.Equal(t, int64(2), res.TotalRows)
	assert.Equal(t, day("2024-06-04"), res.LatestDate)

	require.Len(t, runs.records, 1)
	rec := runs.records[0]
	assert.Equal(t, "weekly", rec.JobName)
	assert.Equal(t, ledger.StatusSuccess, rec.Status)
	assert.Equal(t, day("2024-06-03"), rec.PeriodStart)
	assert.Equal(t, "payload_rows=3, upserted_rows=2, latest_date=2024-06-04", rec.Message)

	assert.Equal(t, int64(8), store.rows[hits.Key{Date: day("2024-06-03"), URL: "/a"}].Hits)
}

func TestRunUsesWatermarkOverlap(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	store.rows[hits.Key{Date: day("2024-06-01"), URL: "/x"}] = hits.DailyHit{Date: day("2024-06-01"), URL: "/x", Hits: 1}

	res, err := newTestOrchestrator(src, store, &fakeLedger{}).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, day("2024-05-25"), res.StartDate)
	require.Len(t, src.starts, 1)
	assert.Equal(t, day("2024-05-25"), src.starts[0])
}

func TestRunUpdatesMetrics(t *testing.T) {
	done := testutil.ToFloat64(runsTotal.WithLabelValues(outcomeDone))
	skipped := testutil.ToFloat64(runsTotal.WithLabelValues(outcomeSkipped))
	merged := testutil.ToFloat64(mergedRowsTotal)

	runs := &fakeLedger{}
	o := newTestOrchestrator(&fakeSource{hits: payload()}, newFakeStore(), runs)
	_, err := o.Run(context.Background(), Options{OncePerPeriod: true})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), Options{OncePerPeriod: true})
	require.NoError(t, err)

	assert.Equal(t, done+1, testutil.ToFloat64(runsTotal.WithLabelValues(outcomeDone)))
	assert.Equal(t, skipped+1, testutil.ToFloat64(runsTotal.WithLabelValues(outcomeSkipped)))
	assert.Equal(t, merged+2, testutil.ToFloat64(mergedRowsTotal))
	assert.Equal(t, float64(day("2024-06-04").Unix()), testutil.ToFloat64(latestDate))
}

func TestRunGateSkips(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	runs := &fakeLedger{records: []ledger.Record{{JobName: "weekly", PeriodStart: day("2024-06-03"), Status: ledger.StatusSuccess}}}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{OncePerPeriod: true})
	require.NoError(t, err)

	assert.Equal(t, StateSkipped, res.State)
	assert.True(t, res.State.Terminal())
	assert.Zero(t, src.calls, "gate must prevent the fetch")
	assert.Zero(t, store.mergeCalls, "gate must prevent the merge")
	assert.Len(t, runs.records, 1, "gate must not write a ledger record")
}

func TestRunGateIgnoresFailuresAndOtherWeeks(t *testing.T) {
	src := &fakeSource{hits: payload()}
	runs := &fakeLedger{records: []ledger.Record{
		{PeriodStart: day("2024-06-03"), Status: ledger.StatusFailure},
		{PeriodStart: day("2024-05-27"), Status: ledger.StatusSuccess},
	}}

	res, err := newTestOrchestrator(src, newFakeStore(), runs).Run(context.Background(), Options{OncePerPeriod: true})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, src.calls)
	assert.Len(t, runs.records, 3)
}

func TestRunForceBypassesGate(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	runs := &fakeLedger{records: []ledger.Record{{PeriodStart: day("2024-06-03"), Status: ledger.StatusSuccess}}}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{OncePerPeriod: true, Force: true})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, store.mergeCalls)
	assert.Len(t, runs.records, 2)
}

func TestRunWithoutGateRunsTwice(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	runs := &fakeLedger{}
	o := newTestOrchestrator(src, store, runs)

	for i := 0; i < 2; i++ {
		_, err := o.Run(context.Background(), Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.calls)
	assert.Len(t, store.rows, 2)
	assert.Len(t, runs.records, 2)
}

func TestRunEmptyPayload(t *testing.T) {
	src := &fakeSource{hits: []goatcounter.Hit{}}
	store := newFakeStore()
	runs := &fakeLedger{}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Zero(t, res.PayloadRows)
	assert.Zero(t, res.MergedRows)
	assert.Empty(t, store.rows)
	require.Len(t, runs.records, 1)
	assert.Equal(t, "payload_rows=0, upserted_rows=0, latest_date=none", runs.records[0].Message)
}

func TestRunTransportFailure(t *testing.T) {
	src := &fakeSource{err: &goatcounter.TransportError{URL: "https://x/api/v0/stats/hits", StatusCode: 503}}
	store := newFakeStore()
	runs := &fakeLedger{}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{OncePerPeriod: true})
	require.Error(t, err)

	var terr *goatcounter.TransportError
	assert.True(t, errors.As(err, &terr))
	assert.Equal(t, StateFetching, res.State)
	assert.Equal(t, day("2024-06-03"), res.Period)
	assert.Zero(t, store.mergeCalls)
	assert.Empty(t, runs.records, "a failed run writes no ledger record")
}

func TestRunStorageFailure(t *testing.T) {
	src := &fakeSource{hits: payload()}
	store := newFakeStore()
	store.mergeErr = &duckdb.StorageError{Op: "commit merge", Err: errors.New("disk full")}
	runs := &fakeLedger{}

	res, err := newTestOrchestrator(src, store, runs).Run(context.Background(), Options{})
	require.Error(t, err)

	var serr *duckdb.StorageError
	assert.True(t, errors.As(err, &serr))
	assert.Equal(t, StateMerging, res.State)
	assert.Empty(t, runs.records)
}

func TestRecordFailure(t *testing.T) {
	runs := &fakeLedger{}
	o := newTestOrchestrator(&fakeSource{}, newFakeStore(), runs)

	require.NoError(t, o.RecordFailure(context.Background(), day("2024-06-03"), errors.New("goatcounter down")))

	require.Len(t, runs.records, 1)
	assert.Equal(t, ledger.StatusFailure, runs.records[0].Status)
	assert.Equal(t, "goatcounter down", runs.records[0].Message)
	assert.Equal(t, "weekly", runs.records[0].JobName)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "GATE_CHECK", StateGateCheck.String())
	assert.Equal(t, "DONE", StateDone.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	assert.False(t, StateMerging.Terminal())
}

func TestRunAgainstDuckDB(t *testing.T) {
	ctx := context.Background()
	store, err := duckdb.Open(ctx, filepath.Join(t.TempDir(), "webstats.duckdb"), nil)
	require.NoError(t, err)
	defer store.Close()

	runs := ledger.New(store.DB(), "weekly", nil)
	require.NoError(t, runs.Init(ctx))

	src := &fakeSource{hits: payload()}
	cfg := Config{JobName: "weekly", Window: watermark.Window{BootstrapDays: 30, OverlapDays: 7}}
	o := New(cfg, src, store, runs, nil).WithClock(func() time.Time { return wednesday })

	first, err := o.Run(ctx, Options{OncePerPeriod: true})
	require.NoError(t, err)
	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, int64(2), first.TotalRows)

	second, err := o.Run(ctx, Options{OncePerPeriod: true})
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, second.State)
	assert.Equal(t, 1, src.calls)

	forced, err := o.Run(ctx, Options{OncePerPeriod: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, StateDone, forced.State)
	assert.Equal(t, int64(2), forced.TotalRows, "re-merging the same payload must not add rows")

	recent, err := runs.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
