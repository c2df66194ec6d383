package processor

import (
	"fmt"
)

// Reducer folds valid samples of one pixel.
type Reducer int

const (
	ReduceMax Reducer = iota
	ReduceMin
)

func (r Reducer) better(candidate, current float64) bool {
	if r == ReduceMin {
		return candidate < current
	}
	return candidate > current
}

// ExtremalPair holds the pre-fire and post-fire composites.
type ExtremalPair struct {
	Before *Raster
	After  *Raster
}

// SelectExtremes takes the per-pixel maximum of band across composites as
// "before" and the per-pixel minimum as "after". Each pixel is reduced on
// its own, so before and after may come from different buckets. The pair
// reads as pre-fire/post-fire only when a single burn event dominates the
// period.
func SelectExtremes(composites []*Composite, band string) (*ExtremalPair, error) {
	before, err := ReduceComposites(composites, ReduceMax, band)
	if err != nil {
		return nil, err
	}
	after, err := ReduceComposites(composites, ReduceMin, band)
	if err != nil {
		return nil, err
	}
	before.ID = "before"
	after.ID = "after"
	return &ExtremalPair{Before: before, After: after}, nil
}

// ReduceComposites reduces the named bands across composites. A pixel that
// is invalid everywhere stays invalid.
func ReduceComposites(composites []*Composite, reducer Reducer, bands ...string) (*Raster, error) {
	if len(composites) == 0 {
		return nil, fmt.Errorf("reduce: empty composite series")
	}
	grid := composites[0].Raster.Grid
	for _, c := range composites[1:] {
		if !c.Raster.Grid.Equal(grid) {
			return nil, fmt.Errorf("reduce %s: %w", c.Bucket, ErrGridMismatch)
		}
	}

	size := grid.Size()
	out := NewRaster(grid, "", composites[0].Raster.TimeStamp)
	for _, ns := range bands {
		dst := NewMaskedBand(size)
		for _, c := range composites {
			src, err := c.Raster.Band(ns)
			if err != nil {
				return nil, fmt.Errorf("reduce %s: %w", c.Bucket, err)
			}
			for i, valid := range src.Valid {
				if !valid {
					continue
				}
				if !dst.Valid[i] || reducer.better(src.Data[i], dst.Data[i]) {
					dst.Data[i] = src.Data[i]
					dst.Valid[i] = true
				}
			}
		}
		out.withBand(ns, dst)
	}
	return out, nil
}

// Difference returns before - after for band as a new single band raster
// named name. Pixels invalid in either input are invalid.
func Difference(before, after *Raster, band, name string) (*Raster, error) {
	if !before.Grid.Equal(after.Grid) {
		return nil, fmt.Errorf("difference: %w", ErrGridMismatch)
	}
	b, err := before.Band(band)
	if err != nil {
		return nil, err
	}
	a, err := after.Band(band)
	if err != nil {
		return nil, err
	}

	diff := NewMaskedBand(before.Grid.Size())
	for i := range diff.Data {
		if b.Valid[i] && a.Valid[i] {
			diff.Data[i] = b.Data[i] - a.Data[i]
			diff.Valid[i] = true
		}
	}
	return NewRaster(before.Grid, name, after.TimeStamp).withBand(name, diff), nil
}
