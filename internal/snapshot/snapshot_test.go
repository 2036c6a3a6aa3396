package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/webstats/internal/goatcounter"
)

type stubSource struct {
	hits  []goatcounter.Hit
	err   error
	start time.Time
}

func (s *stubSource) FetchHits(_ context.Context, start time.Time) ([]goatcounter.Hit, error) {
	s.start = start
	return s.hits, s.err
}

func i64(v int64) *int64 { return &v }
func str(v string) *string { return &v }
func boolp(v bool) *bool { return &v }

func fixedClock() time.Time { return time.Date(2024, 6, 5, 23, 0, 0, 0, time.UTC) }

func TestRunWritesAndMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "hits.parquet")

	src := &stubSource{hits: []goatcounter.Hit{
		{Path: "/a", PathID: i64(1), Title: str("A"), Count: 3, Stats: []goatcounter.Stat{{Day: "2024-06-04", Daily: i64(3)}}},
		{Path: "/b", PathID: i64(2), Count: 1, Stats: []goatcounter.Stat{{Day: "2024-06-04", Daily: nil}}},
	}}
	s := New(src, path, 2, nil)
	s.now = fixedClock

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-03", src.start.Format(time.DateOnly))
	assert.True(t, res.Written)
	assert.Equal(t, 2, res.NewRows)
	assert.Equal(t, 2, res.Total)

	src.hits = []goatcounter.Hit{
		{Path: "/a", PathID: i64(1), Title: str("A v2"), Count: 5, Stats: []goatcounter.Stat{{Day: "2024-06-05", Daily: i64(5)}}},
		{Path: "/c", PathID: i64(3), Count: 1},
	}
	res, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.NewRows)
	assert.Equal(t, 3, res.Total)

	rows, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "/b", rows[0].Path)
	assert.Nil(t, rows[0].Stats[0].Daily)
	assert.Equal(t, "/a", rows[1].Path)
	assert.Equal(t, "A v2", *rows[1].Title)
	assert.Equal(t, int64(5), *rows[1].Stats[0].Daily)
	assert.Equal(t, "/c", rows[2].Path)
}

func TestRunEmptyFetchLeavesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.parquet")
	s := New(&stubSource{hits: []goatcounter.Hit{}}, path, 2, nil)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Written)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFetchError(t *testing.T) {
	s := New(&stubSource{err: &goatcounter.TransportError{StatusCode: 500}}, filepath.Join(t.TempDir(), "x.parquet"), 2, nil)

	_, err := s.Run(context.Background())
	var terr *goatcounter.TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestDedupe(t *testing.T) {
	rows := []Row{
		{Path: "/a", Count: 1},
		{Path: "/a", Event: boolp(true), Count: 2},
		{Path: "/x", PathID: i64(9), Count: 3},
		{Path: "/a", Count: 4},
		{Path: "/renamed", PathID: i64(9), Count: 5},
		{Path: "/a", Event: boolp(false), Count: 6},
	}

	out := Dedupe(rows)

	counts := make([]int64, 0, len(out))
	for _, r := range out {
		counts = append(counts, r.Count)
	}
	assert.Equal(t, []int64{2, 4, 5, 6}, counts)
}

func TestLoadMissingFile(t *testing.T) {
	rows, err := Load(filepath.Join(t.TempDir(), "nope.parquet"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
