package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/webstats/internal/config"
	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/goatcounter"
	"github.com/withObsrvr/webstats/internal/ingest"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&config.ConfigError{Field: "goatcounter.token", Reason: "is required"}, "config error: goatcounter.token is required"},
		{fmt.Errorf("fetch hits: %w", &goatcounter.TransportError{URL: "u", StatusCode: 401}), "transport error: fetch hits: goatcounter u: unexpected status 401"},
		{fmt.Errorf("merge: %w", &duckdb.StorageError{Op: "commit merge", Err: errors.New("locked")}), "storage error: merge: commit merge: locked"},
		{errors.New("boom"), "error: boom"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Describe(tt.err))
	}
}

func TestPrintIngestResult(t *testing.T) {
	var buf bytes.Buffer
	printIngestResult(&buf, ingest.Result{State: ingest.StateSkipped, Period: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "Skip: successful run already logged for week starting 2024-06-03.\n", buf.String())

	buf.Reset()
	printIngestResult(&buf, ingest.Result{
		State:       ingest.StateDone,
		StartDate:   time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC),
		PayloadRows: 4,
		MergedRows:  6,
		TotalRows:   40,
		LatestDate:  time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC),
		HasLatest:   true,
	})
	assert.Equal(t, strings.Join([]string{
		"Start date: 2024-05-27",
		"Rows from GoatCounter payload: 4",
		"Rows upserted into daily_hits: 6",
		"Total rows in daily_hits: 40",
		"Latest date in table: 2024-06-04",
		"",
	}, "\n"), buf.String())
}

// setupEnv points the config at a temp database and the given GoatCounter URL.
func setupEnv(t *testing.T, url string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "webstats.duckdb")
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("GOATCOUNTER_SITE", "")
	t.Setenv("GOATCOUNTER_URL", url)
	t.Setenv("GOATCOUNTER_TOKEN", "test-token")
	t.Setenv("WEBSTATS_DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("WEBSTATS_METRICS_TEXTFILE", "")
	return dbPath
}

func TestRunIngestEndToEnd(t *testing.T) {
	var calls atomic.Int32
	today := time.Now().UTC().Format(time.DateOnly)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"hits":[{"path":"/a","event":false,"stats":[{"day":%q,"daily":3}]}]}`, today)
	}))
	defer srv.Close()
	dbPath := setupEnv(t, srv.URL)

	var out bytes.Buffer
	require.NoError(t, runIngest(context.Background(), &out, ingestFlags{oncePerPeriod: true}))
	assert.Contains(t, out.String(), "Rows upserted into daily_hits: 1")
	assert.Contains(t, out.String(), "Latest date in table: "+today)

	out.Reset()
	require.NoError(t, runIngest(context.Background(), &out, ingestFlags{oncePerWeek: true}))
	assert.True(t, strings.HasPrefix(out.String(), "Skip: successful run already logged"), out.String())
	assert.Equal(t, int32(1), calls.Load())

	out.Reset()
	require.NoError(t, runIngest(context.Background(), &out, ingestFlags{oncePerPeriod: true, force: true}))
	assert.Contains(t, out.String(), "Total rows in daily_hits: 1")
	assert.Equal(t, int32(2), calls.Load())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestRunIngestRecordsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	dbPath := setupEnv(t, srv.URL)

	err := runIngest(context.Background(), &bytes.Buffer{}, ingestFlags{recordFailure: true})
	var transportErr *goatcounter.TransportError
	require.True(t, errors.As(err, &transportErr))

	store, err := duckdb.OpenReadOnly(context.Background(), dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	var status, message string
	require.NoError(t, store.DB().QueryRow("SELECT status, message FROM ingest_run_log").Scan(&status, &message))
	assert.Equal(t, "failure", status)
	assert.Contains(t, message, "503")

	n, err := store.CountRows(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunIngestMissingTokenTouchesNothing(t *testing.T) {
	dbPath := setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("GOATCOUNTER_TOKEN", "")

	err := runIngest(context.Background(), &bytes.Buffer{}, ingestFlags{})
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "goatcounter.token", cfgErr.Field)

	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr), "no store should be created on config errors")
}

func TestRunIngestBadSettingsAreConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"missing config file", "CONFIG_PATH", "/nonexistent/config.yaml", "config"},
		{"non-integer overlap", "WEBSTATS_OVERLAP_DAYS", "seven", "ingest.overlap_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbPath := setupEnv(t, "http://127.0.0.1:1")
			t.Setenv(tt.key, tt.value)

			err := runIngest(context.Background(), &bytes.Buffer{}, ingestFlags{})
			var cfgErr *config.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, strings.HasPrefix(Describe(err), "config error: "), Describe(err))

			_, statErr := os.Stat(dbPath)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}
