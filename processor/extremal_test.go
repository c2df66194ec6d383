package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func composites(grid Grid, series ...[]float64) []*Composite {
	var out []*Composite
	for i, v := range series {
		bucket := CalendarBucket{Year: 2020, Month: time.Month(i + 1), Granularity: Monthly}
		out = append(out, &Composite{
			Bucket: bucket,
			Raster: raster(grid, bucket.String(), bucket.Start(), map[string]*MaskedBand{"nbr": band(v...)}),
			Count:  1,
		})
	}
	return out
}

func TestSelectExtremesPerPixel(t *testing.T) {
	grid := testGrid(2, 1)
	cs := composites(grid,
		[]float64{0.2, 0.9},
		[]float64{0.5, nan},
		[]float64{0.1, 0.3},
	)
	pair, err := SelectExtremes(cs, "nbr")
	require.NoError(t, err)

	before, _ := pair.Before.Band("nbr")
	after, _ := pair.After.Band("nbr")
	assert.Equal(t, map[int]float64{0: 0.5, 1: 0.9}, validData(before))
	assert.Equal(t, map[int]float64{0: 0.1, 1: 0.3}, validData(after))

	change, err := Difference(pair.Before, pair.After, "nbr", "dnbr")
	require.NoError(t, err)
	d, err := change.Band("dnbr")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, d.Data[0], 1e-9)
	assert.InDelta(t, 0.6, d.Data[1], 1e-9)
}

func TestSelectExtremesAllInvalidPixel(t *testing.T) {
	grid := testGrid(2, 1)
	cs := composites(grid, []float64{nan, 1}, []float64{nan, 2})
	pair, err := SelectExtremes(cs, "nbr")
	require.NoError(t, err)
	assert.False(t, pair.Before.Bands["nbr"].Valid[0])
	assert.False(t, pair.After.Bands["nbr"].Valid[0])

	change, err := Difference(pair.Before, pair.After, "nbr", "dnbr")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, change.Bands["dnbr"].Valid)
}

func TestSelectExtremesEmpty(t *testing.T) {
	_, err := SelectExtremes(nil, "nbr")
	assert.Error(t, err)
}

func TestDifferenceGridMismatch(t *testing.T) {
	a := raster(testGrid(1, 1), "a", day("2020-01-01T00:00"), map[string]*MaskedBand{"nbr": band(1)})
	b := raster(testGrid(2, 1), "b", day("2020-01-01T00:00"), map[string]*MaskedBand{"nbr": band(1, 2)})
	_, err := Difference(a, b, "nbr", "dnbr")
	assert.ErrorIs(t, err, ErrGridMismatch)
}
