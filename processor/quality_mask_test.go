package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityMaskJointCondition(t *testing.T) {
	grid := testGrid(6, 1)
	acq := &Acquisition{ID: "S2B", Raster: raster(grid, "S2B", day("2020-09-01T13:00"), map[string]*MaskedBand{
		"B8":         band(1000, 1000, 1000, 1000, 1000, 1000),
		"MSK_CLDPRB": band(0, 5, 0, 0, 0, 4),
		"MSK_SNWPRB": band(0, 0, 7, 0, 0, 4),
		"SCL":        band(4, 4, 4, 3, 10, 5),
	})}

	masked, err := DefaultQualityMask().Apply(acq)
	require.NoError(t, err)

	b, err := masked.Raster.Band("B8")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, false, true}, b.Valid)
	assert.Equal(t, acq.ID, masked.ID)

	// input untouched
	assert.Equal(t, 6, acq.Raster.Bands["B8"].ValidCount())
}

func TestQualityMaskInvalidQualitySample(t *testing.T) {
	grid := testGrid(2, 1)
	acq := &Acquisition{ID: "a", Raster: raster(grid, "a", day("2020-09-01T13:00"), map[string]*MaskedBand{
		"B12":        band(1, 2),
		"MSK_CLDPRB": band(nan, 0),
		"MSK_SNWPRB": band(0, 0),
		"SCL":        band(4, 4),
	})}
	masked, err := DefaultQualityMask().Apply(acq)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, masked.Raster.Bands["B12"].Valid)
}

func TestQualityMaskMissingBand(t *testing.T) {
	grid := testGrid(1, 1)
	acq := &Acquisition{ID: "a", Raster: raster(grid, "a", day("2020-09-01T13:00"), map[string]*MaskedBand{
		"B12":        band(1),
		"MSK_CLDPRB": band(0),
	})}
	_, err := DefaultQualityMask().Apply(acq)
	assert.ErrorIs(t, err, ErrMissingBand)
}

func TestAcquisitionMaskerReportsErrors(t *testing.T) {
	grid := testGrid(1, 1)
	errChan := make(chan error, 10)
	m := NewAcquisitionMasker(DefaultQualityMask(), errChan)
	go m.Run()

	m.In <- &Acquisition{ID: "bad", Raster: raster(grid, "bad", day("2020-09-01T13:00"), map[string]*MaskedBand{"B8": band(1)})}
	m.In <- &Acquisition{ID: "good", Raster: raster(grid, "good", day("2020-09-01T13:00"), map[string]*MaskedBand{
		"B8": band(1), "MSK_CLDPRB": band(0), "MSK_SNWPRB": band(0), "SCL": band(4),
	})}
	close(m.In)

	var out []string
	for acq := range m.Out {
		out = append(out, acq.ID)
	}
	assert.Equal(t, []string{"good"}, out)
	require.Len(t, errChan, 1)
	assert.ErrorIs(t, <-errChan, ErrMissingBand)
}

func TestAcquisitionMaskerKeepsSpectralBands(t *testing.T) {
	grid := testGrid(1, 1)
	errChan := make(chan error, 1)
	m := NewAcquisitionMasker(DefaultQualityMask(), errChan)
	m.KeepPrefix = SpectralBandPrefix
	go m.Run()

	m.In <- &Acquisition{ID: "a", Raster: raster(grid, "a", day("2020-09-01T13:00"), map[string]*MaskedBand{
		"B8": band(1), "B12": band(2), "MSK_CLDPRB": band(0), "MSK_SNWPRB": band(0), "SCL": band(4),
	})}
	close(m.In)

	acq := <-m.Out
	require.NotNil(t, acq)
	assert.ElementsMatch(t, []string{"B8", "B12"}, acq.Raster.NameSpaces)
	assert.Len(t, acq.Raster.Bands, 2)
	assert.Empty(t, errChan)
}
