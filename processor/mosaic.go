package processor

import (
	"fmt"
	"sort"
	"time"
)

const dateLayout = "2006-01-02"

// DateKey is the UTC calendar date an acquisition belongs to.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// MosaicByDate merges acquisitions sharing a calendar date into one raster.
// Inside a date, acquisitions are visited by ascending ID and the first valid
// sample of each pixel wins, so a pixel is valid in the mosaic whenever any
// acquisition of that date had it valid.
func MosaicByDate(c *Collection) (*TimeSeries, error) {
	if c == nil {
		return nil, fmt.Errorf("mosaic: nil collection")
	}

	groups := map[string][]*Acquisition{}
	for _, acq := range c.Acquisitions {
		if acq == nil || acq.Raster == nil {
			continue
		}
		if !acq.Raster.Grid.Equal(c.Grid) {
			return nil, fmt.Errorf("mosaic %s: %w", acq.ID, ErrGridMismatch)
		}
		key := DateKey(acq.Raster.TimeStamp)
		groups[key] = append(groups[key], acq)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ts := &TimeSeries{Grid: c.Grid}
	for _, key := range keys {
		r, err := mergeDate(c.Grid, key, groups[key])
		if err != nil {
			return nil, err
		}
		ts.Rasters = append(ts.Rasters, r)
	}
	return ts, nil
}

func mergeDate(grid Grid, key string, group []*Acquisition) (*Raster, error) {
	day, err := time.Parse(dateLayout, key)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(group, func(i, j int) bool { return group[i].ID < group[j].ID })

	canvas := NewRaster(grid, key, day)
	size := grid.Size()
	for _, acq := range group {
		for _, ns := range acq.Raster.NameSpaces {
			src := acq.Raster.Bands[ns]
			if len(src.Data) != size || len(src.Valid) != size {
				return nil, fmt.Errorf("mosaic %s band %s: %w", acq.ID, ns, ErrGridMismatch)
			}
			dst, ok := canvas.Bands[ns]
			if !ok {
				dst = NewMaskedBand(size)
				canvas.withBand(ns, dst)
			}
			for i, valid := range src.Valid {
				if valid && !dst.Valid[i] {
					dst.Data[i] = src.Data[i]
					dst.Valid[i] = true
				}
			}
		}
	}
	return canvas, nil
}

// DateMosaicker collects every acquisition of a request and emits the
// per-date mosaics in ascending date order once its input is closed.
type DateMosaicker struct {
	In    chan *Acquisition
	Out   chan *Raster
	Error chan error
	Grid  Grid
}

func NewDateMosaicker(grid Grid, errChan chan error) *DateMosaicker {
	return &DateMosaicker{
		In:    make(chan *Acquisition, 100),
		Out:   make(chan *Raster, 100),
		Error: errChan,
		Grid:  grid,
	}
}

func (m *DateMosaicker) Run() {
	defer close(m.Out)
	c := &Collection{Grid: m.Grid}
	for acq := range m.In {
		c.Acquisitions = append(c.Acquisitions, acq)
	}

	ts, err := MosaicByDate(c)
	if err != nil {
		sendError(m.Error, err)
		return
	}
	for _, r := range ts.Rasters {
		m.Out <- r
	}
}
