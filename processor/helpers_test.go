package processor

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// testGrid is a north-up w x h grid of unit pixels anchored at (0, h).
func testGrid(w, h int) Grid {
	return Grid{
		Width:        w,
		Height:       h,
		GeoTransform: GeoTransform{0, 1, 0, float64(h), 0, -1},
		CRS:          DefaultRegionCRS,
	}
}

// band builds a MaskedBand where NaN marks an invalid sample.
func band(values ...float64) *MaskedBand {
	b := NewMaskedBand(len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		b.Data[i] = v
		b.Valid[i] = true
	}
	return b
}

var nan = math.NaN()

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func raster(grid Grid, id string, ts time.Time, bands map[string]*MaskedBand) *Raster {
	r := NewRaster(grid, id, ts)
	for _, name := range sortedKeys(bands) {
		r.withBand(name, bands[name])
	}
	return r
}

func sortedKeys(m map[string]*MaskedBand) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validData returns the valid samples of b keyed by pixel index.
func validData(b *MaskedBand) map[int]float64 {
	out := map[int]float64{}
	for i, v := range b.Data {
		if b.Valid[i] {
			out[i] = v
		}
	}
	return out
}

// fakeSource serves canned acquisitions and products, counting calls.
type fakeSource struct {
	mu           sync.Mutex
	acquisitions []*Acquisition
	product      *Raster
	err          error
	calls        int
}

func (f *fakeSource) Acquisitions(ctx context.Context, q *AcquisitionQuery) (*Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	coll := &Collection{Grid: q.Grid}
	for _, acq := range f.acquisitions {
		ts := acq.Raster.TimeStamp
		if ts.Before(q.StartTime) || ts.After(q.EndTime) {
			continue
		}
		coll.Acquisitions = append(coll.Acquisitions, acq)
	}
	return coll, nil
}

func (f *fakeSource) Product(ctx context.Context, q *ProductQuery) (*Raster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}
