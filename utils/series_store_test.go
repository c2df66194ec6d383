package utils

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSeriesStoreRoundTrip(t *testing.T) {
	store := &CSVSeriesStore{Dir: filepath.Join(t.TempDir(), "series")}
	points := []SeriesPoint{
		{RegionID: "52", RegionName: "Goiás", Band: "nbr", TimeStamp: time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), Median: 0.41, Mean: 0.4, Count: 120},
		{RegionID: "52", RegionName: "Goiás", Band: "nbr", TimeStamp: time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC), Median: -0.2, Mean: -0.25, Count: 98},
	}
	require.NoError(t, store.WriteSeries(context.Background(), "cerrado", points))

	got, err := ReadSeriesCSV(store.Path("cerrado"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, points[1].Median, got[1].Median)
	assert.Equal(t, points[1].Count, got[1].Count)
	assert.Equal(t, "Goiás", got[0].RegionName)
	assert.True(t, points[0].TimeStamp.Equal(got[0].TimeStamp))
	assert.NoError(t, store.Close())
}

type failingStore struct {
	writes int
	err    error
}

func (s *failingStore) WriteSeries(ctx context.Context, job string, points []SeriesPoint) error {
	s.writes++
	return s.err
}

func (s *failingStore) Close() error { return s.err }

func TestMultiSeriesStore(t *testing.T) {
	ok := &failingStore{}
	bad := &failingStore{err: errors.New("db down")}
	after := &failingStore{}
	m := MultiSeriesStore{ok, bad, after}

	assert.EqualError(t, m.WriteSeries(context.Background(), "j", nil), "db down")
	assert.Equal(t, 1, ok.writes)
	assert.Zero(t, after.writes)
	assert.EqualError(t, m.Close(), "db down")
}
