package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionSeries(t *testing.T) {
	regions, err := ParseRegions([]byte(twoRegions), "code", "nome", "")
	require.NoError(t, err)

	grid := testGrid(4, 1)
	cs := []*Composite{
		{Bucket: CalendarBucket{Year: 2020, Month: 1}, Raster: raster(grid, "2020-01", day("2020-01-01T00:00"),
			map[string]*MaskedBand{"nbr": band(0.4, 9, nan, 9)})},
		{Bucket: CalendarBucket{Year: 2020, Month: 2}, Raster: raster(grid, "2020-02", day("2020-02-01T00:00"),
			map[string]*MaskedBand{"nbr": band(0.2, 9, 0.6, 9)})},
	}

	points, err := RegionSeries(cs, regions, "nbr")
	require.NoError(t, err)
	require.Len(t, points, 3, "empty region in January is omitted")

	assert.Equal(t, "52", points[0].RegionID)
	assert.Equal(t, "Goiás", points[0].RegionName)
	assert.Equal(t, day("2020-01-01T00:00"), points[0].TimeStamp)
	assert.Equal(t, 0.4, points[0].Median)
	assert.Equal(t, 1, points[0].Count)

	assert.Equal(t, "1", points[2].RegionID)
	assert.Equal(t, 0.6, points[2].Mean)
	assert.Equal(t, "nbr", points[2].Band)
}

func TestRegionSeriesMissingBand(t *testing.T) {
	regions, err := ParseRegions([]byte(twoRegions), "", "", "")
	require.NoError(t, err)
	cs := []*Composite{{Raster: raster(testGrid(1, 1), "x", day("2020-01-01T00:00"), map[string]*MaskedBand{"B8": band(1)})}}
	_, err = RegionSeries(cs, regions, "nbr")
	assert.ErrorIs(t, err, ErrMissingBand)
}
