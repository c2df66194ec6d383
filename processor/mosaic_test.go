package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMosaicByDateOverlappingTiles(t *testing.T) {
	grid := testGrid(2, 1)
	tileA := &Acquisition{ID: "S2A_T22LHH", Tile: "22LHH", Raster: raster(grid, "a", day("2020-06-01T13:20"), map[string]*MaskedBand{
		"nbr": band(0.3, nan),
	})}
	tileB := &Acquisition{ID: "S2A_T23LKC", Tile: "23LKC", Raster: raster(grid, "b", day("2020-06-01T13:21"), map[string]*MaskedBand{
		"nbr": band(nan, 0.4),
	})}

	ts, err := MosaicByDate(&Collection{Grid: grid, Acquisitions: []*Acquisition{tileB, tileA}})
	require.NoError(t, err)
	require.Len(t, ts.Rasters, 1)

	r := ts.Rasters[0]
	assert.Equal(t, "2020-06-01", r.ID)
	assert.Equal(t, day("2020-06-01T00:00"), r.TimeStamp)
	b, err := r.Band("nbr")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 0.3, 1: 0.4}, validData(b))
}

func TestMosaicByDateFirstValidWinsByID(t *testing.T) {
	grid := testGrid(1, 1)
	late := &Acquisition{ID: "b", Raster: raster(grid, "b", day("2020-06-01T10:00"), map[string]*MaskedBand{"nbr": band(0.9)})}
	early := &Acquisition{ID: "a", Raster: raster(grid, "a", day("2020-06-01T11:00"), map[string]*MaskedBand{"nbr": band(0.1)})}

	ts, err := MosaicByDate(&Collection{Grid: grid, Acquisitions: []*Acquisition{late, early}})
	require.NoError(t, err)
	b, _ := ts.Rasters[0].Band("nbr")
	assert.Equal(t, 0.1, b.Data[0])
}

func TestMosaicByDateNeverLosesValidPixels(t *testing.T) {
	grid := testGrid(3, 1)
	acqs := []*Acquisition{
		{ID: "1", Raster: raster(grid, "1", day("2021-02-03T10:00"), map[string]*MaskedBand{"B8": band(nan, 2, nan)})},
		{ID: "2", Raster: raster(grid, "2", day("2021-02-03T10:01"), map[string]*MaskedBand{"B8": band(nan, nan, 3)})},
		{ID: "3", Raster: raster(grid, "3", day("2021-02-04T10:00"), map[string]*MaskedBand{"B8": band(nan, nan, nan)})},
	}
	ts, err := MosaicByDate(&Collection{Grid: grid, Acquisitions: acqs})
	require.NoError(t, err)
	require.Len(t, ts.Rasters, 2)

	first, _ := ts.Rasters[0].Band("B8")
	assert.Equal(t, 2, first.ValidCount())
	for _, acq := range acqs[:2] {
		src := acq.Raster.Bands["B8"]
		for i, v := range src.Valid {
			if v {
				assert.True(t, first.Valid[i])
			}
		}
	}

	second, _ := ts.Rasters[1].Band("B8")
	assert.Equal(t, "2021-02-04", ts.Rasters[1].ID)
	assert.Zero(t, second.ValidCount())
}

func TestMosaicByDateBandUnion(t *testing.T) {
	grid := testGrid(1, 1)
	acqs := []*Acquisition{
		{ID: "1", Raster: raster(grid, "1", day("2021-02-03T10:00"), map[string]*MaskedBand{"B8": band(1)})},
		{ID: "2", Raster: raster(grid, "2", day("2021-02-03T10:00"), map[string]*MaskedBand{"B12": band(2)})},
	}
	ts, err := MosaicByDate(&Collection{Grid: grid, Acquisitions: acqs})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B8", "B12"}, ts.Rasters[0].NameSpaces)
}

func TestMosaicByDateGridMismatch(t *testing.T) {
	acq := &Acquisition{ID: "1", Raster: raster(testGrid(2, 2), "1", day("2021-02-03T10:00"), map[string]*MaskedBand{"B8": band(1, 2, 3, 4)})}
	_, err := MosaicByDate(&Collection{Grid: testGrid(1, 1), Acquisitions: []*Acquisition{acq}})
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestDateMosaickerStage(t *testing.T) {
	grid := testGrid(1, 1)
	errChan := make(chan error, 10)
	m := NewDateMosaicker(grid, errChan)
	go m.Run()

	m.In <- &Acquisition{ID: "x", Raster: raster(grid, "x", day("2022-08-10T10:00"), map[string]*MaskedBand{"nbr": band(0.5)})}
	m.In <- &Acquisition{ID: "y", Raster: raster(grid, "y", day("2022-08-01T10:00"), map[string]*MaskedBand{"nbr": band(0.6)})}
	close(m.In)

	var ids []string
	for r := range m.Out {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"2022-08-01", "2022-08-10"}, ids)
	assert.Empty(t, errChan)
}
