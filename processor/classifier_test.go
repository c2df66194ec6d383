package processor

import (
	"math"
	"testing"

	"github.com/bimalab/fireregime/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityTableBoundaries(t *testing.T) {
	c, err := NewClassifier(SeverityTable())
	require.NoError(t, err)

	cases := []struct {
		value float64
		class uint8
	}{
		{-0.5, 1},
		{-0.0001, 1},
		{0, 2},
		{0.05, 2},
		{0.10, 3},
		{0.2699, 3},
		{0.27, 4},
		{0.44, 5},
		{0.6599, 5},
		{0.66, 6},
		{1.5, 6},
		{math.Inf(1), 6},
		{math.Inf(-1), 1},
	}
	for _, tc := range cases {
		class, ok := c.ClassOf(tc.value)
		assert.True(t, ok)
		assert.Equal(t, tc.class, class, "value %v", tc.value)
	}
}

func TestFrequencyTableBoundaries(t *testing.T) {
	c, err := NewClassifier(FrequencyTable())
	require.NoError(t, err)

	cases := map[float64]uint8{
		-1: 1, 0: 1, 1: 2, 2: 2, 3: 3, 4: 3, 5: 4, 10: 4, 11: 5, 15: 5, 16: 6, 36: 6, 40: 6,
	}
	for v, want := range cases {
		class, ok := c.ClassOf(v)
		assert.True(t, ok)
		assert.Equal(t, want, class, "value %v", v)
	}
}

func TestClassifyKeepsNoData(t *testing.T) {
	grid := testGrid(4, 1)
	r := raster(grid, "change", day("2020-01-01T00:00"), map[string]*MaskedBand{
		"dnbr": band(0.05, nan, 0.7, -0.2),
	})
	r.Bands["dnbr"].Data[1] = 0.3

	c, err := NewClassifier(SeverityTable())
	require.NoError(t, err)
	cm, err := c.Classify(r, "dnbr")
	require.NoError(t, err)

	assert.Equal(t, []uint8{2, NoDataClass, 6, 1}, cm.Classes)
	assert.Equal(t, []bool{true, false, true, true}, cm.Valid)
	assert.Equal(t, []uint8{1, 2, 6}, cm.ValueSet())
	assert.Equal(t, map[uint8]int{1: 1, 2: 1, 6: 1}, cm.Histogram())
	for _, v := range cm.ValueSet() {
		assert.True(t, v >= cm.MinClass && v <= cm.MaxClass)
	}
}

func TestClassifyNaNIsInvalid(t *testing.T) {
	grid := testGrid(1, 1)
	r := NewRaster(grid, "x", day("2020-01-01T00:00")).withBand("v", &MaskedBand{Data: []float64{math.NaN()}, Valid: []bool{true}})

	c, err := NewClassifier(SeverityTable())
	require.NoError(t, err)
	cm, err := c.Classify(r, "v")
	require.NoError(t, err)
	assert.False(t, cm.Valid[0])
	assert.Empty(t, cm.ValueSet())
}

func TestClassifyMissingBand(t *testing.T) {
	c, err := NewClassifier(SeverityTable())
	require.NoError(t, err)
	_, err = c.Classify(NewRaster(testGrid(1, 1), "x", day("2020-01-01T00:00")), "dnbr")
	assert.ErrorIs(t, err, ErrMissingBand)
}

func TestValidateRejectsGapsAndOverlaps(t *testing.T) {
	inf := math.Inf(1)
	base := func(rules ...ClassRule) *ClassTable {
		return &ClassTable{Name: "t", Rules: rules, Default: 1, MinClass: 1, MaxClass: 3}
	}

	gap := base(
		ClassRule{Lower: -inf, Upper: 0, Class: 1},
		ClassRule{Lower: 0.1, Upper: inf, LowerInclusive: true, Class: 2},
	)
	assert.ErrorIs(t, gap.Validate(), ErrRangeGap)

	bothOpen := base(
		ClassRule{Lower: -inf, Upper: 0, Class: 1},
		ClassRule{Lower: 0, Upper: inf, Class: 2},
	)
	assert.ErrorIs(t, bothOpen.Validate(), ErrRangeGap)

	overlap := base(
		ClassRule{Lower: -inf, Upper: 0.2, Class: 1},
		ClassRule{Lower: 0.1, Upper: inf, LowerInclusive: true, Class: 2},
	)
	assert.ErrorIs(t, overlap.Validate(), ErrRangeOverlap)

	bothClosed := base(
		ClassRule{Lower: -inf, Upper: 0, UpperInclusive: true, Class: 1},
		ClassRule{Lower: 0, Upper: inf, LowerInclusive: true, Class: 2},
	)
	assert.ErrorIs(t, bothClosed.Validate(), ErrRangeOverlap)

	bounded := base(
		ClassRule{Lower: 0, Upper: 1, LowerInclusive: true, Class: 1},
		ClassRule{Lower: 1, Upper: inf, LowerInclusive: true, Class: 2},
	)
	assert.ErrorIs(t, bounded.Validate(), ErrRangeGap)

	outside := base(
		ClassRule{Lower: -inf, Upper: 0, Class: 1},
		ClassRule{Lower: 0, Upper: inf, LowerInclusive: true, Class: 7},
	)
	assert.ErrorIs(t, outside.Validate(), ErrClassOutOfDomain)

	zeroDomain := base(ClassRule{Lower: -inf, Upper: inf, Class: 1})
	zeroDomain.MinClass = 0
	assert.ErrorIs(t, zeroDomain.Validate(), ErrClassOutOfDomain)

	assert.NoError(t, SeverityTable().Validate())
	assert.NoError(t, FrequencyTable().Validate())
}

func TestLastMatchPolicyMatchesFirstMatchOnValidTables(t *testing.T) {
	first, err := NewClassifier(SeverityTable())
	require.NoError(t, err)
	table := SeverityTable()
	table.Policy = LastMatch
	last, err := NewClassifier(table)
	require.NoError(t, err)

	for _, v := range []float64{-1, 0, 0.05, 0.1, 0.27, 0.3, 0.44, 0.66, 2} {
		a, _ := first.ClassOf(v)
		b, _ := last.ClassOf(v)
		assert.Equal(t, a, b, "value %v", v)
	}
}

func TestClassTableFromConfig(t *testing.T) {
	zero, two := 0.0, 2.0
	cfg := &utils.ClassTableConfig{
		Name:     "custom",
		Policy:   "last",
		Default:  1,
		MinClass: 1,
		MaxClass: 3,
		Rules: []utils.ClassRuleConfig{
			{Upper: &zero, UpperInclusive: true, Class: 1, Label: "none"},
			{Lower: &zero, Upper: &two, UpperInclusive: true, Class: 2, Label: "some"},
			{Lower: &two, Class: 3, Label: "many"},
		},
	}
	table, err := ClassTableFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, LastMatch, table.Policy)
	assert.True(t, math.IsInf(table.Rules[0].Lower, -1))
	assert.True(t, math.IsInf(table.Rules[2].Upper, 1))
	assert.Equal(t, "many", table.Labels()[3])

	cfg.Rules[2].Lower = nil
	cfg.Rules[1].Upper = nil
	_, err = ClassTableFromConfig(cfg)
	assert.ErrorIs(t, err, ErrRangeOverlap)
}

func TestRescaleTruncates(t *testing.T) {
	grid := testGrid(3, 1)
	r := raster(grid, "freq", day("2020-01-01T00:00"), map[string]*MaskedBand{
		"fire_frequency": band(250, 1599, nan),
	})
	out, err := Rescale(r, "fire_frequency", 100, true)
	require.NoError(t, err)
	b, err := out.Band("fire_frequency")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 2, 1: 15}, validData(b))

	_, err = Rescale(r, "fire_frequency", 0, true)
	assert.Error(t, err)
}

func TestFillDefaultInsideMaskOnly(t *testing.T) {
	c, err := NewClassifier(FrequencyTable())
	require.NoError(t, err)
	r := raster(testGrid(4, 1), "freq", day("2020-01-01T00:00"), map[string]*MaskedBand{
		"fire_frequency": band(3, nan, nan, 20),
	})
	cm, err := c.Classify(r, "fire_frequency")
	require.NoError(t, err)

	require.NoError(t, c.FillDefault(cm, []bool{true, true, false, true}))
	assert.Equal(t, []bool{true, true, false, true}, cm.Valid)
	assert.Equal(t, []uint8{3, 1, NoDataClass, 6}, cm.Classes)

	assert.ErrorIs(t, c.FillDefault(cm, []bool{true}), ErrGridMismatch)
}
