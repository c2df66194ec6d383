package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrMissingBand              = errors.New("missing band")
	ErrGridMismatch             = errors.New("raster grids do not match")
	ErrRangeGap                 = errors.New("class ranges leave a gap")
	ErrRangeOverlap             = errors.New("class ranges overlap")
	ErrClassOutOfDomain         = errors.New("class id outside class domain")
	ErrExportConstraintExceeded = errors.New("export exceeds maximum pixel count")
	ErrMalformedRegion          = errors.New("malformed region")
)

// GeoTransform follows the GDAL affine convention.
type GeoTransform [6]float64

// Grid is the spatial support shared by every band of a raster.
type Grid struct {
	Width        int          `msgpack:"width"`
	Height       int          `msgpack:"height"`
	GeoTransform GeoTransform `msgpack:"geot"`
	CRS          string       `msgpack:"crs"`
}

func (g Grid) Size() int {
	return g.Width * g.Height
}

// PixelCentre returns the georeferenced centre of pixel (x, y).
func (g Grid) PixelCentre(x, y int) (float64, float64) {
	gt := g.GeoTransform
	fx := float64(x) + 0.5
	fy := float64(y) + 0.5
	return gt[0] + fx*gt[1] + fy*gt[2], gt[3] + fx*gt[4] + fy*gt[5]
}

// Bounds returns xMin, yMin, xMax, yMax of a north-up grid.
func (g Grid) Bounds() [4]float64 {
	gt := g.GeoTransform
	x0, y0 := gt[0], gt[3]
	x1 := gt[0] + float64(g.Width)*gt[1] + float64(g.Height)*gt[2]
	y1 := gt[3] + float64(g.Width)*gt[4] + float64(g.Height)*gt[5]
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return [4]float64{x0, y0, x1, y1}
}

func (g Grid) Equal(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.GeoTransform == o.GeoTransform && g.CRS == o.CRS
}

// NewGridFromBBox builds a north-up grid covering bbox (xMin, yMin, xMax,
// yMax) with square pixels of size res.
func NewGridFromBBox(bbox [4]float64, res float64, crs string) (Grid, error) {
	if res <= 0 {
		return Grid{}, fmt.Errorf("invalid resolution %v", res)
	}
	if bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return Grid{}, fmt.Errorf("invalid bbox %v", bbox)
	}
	width := int((bbox[2]-bbox[0])/res + 0.5)
	height := int((bbox[3]-bbox[1])/res + 0.5)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return Grid{
		Width:        width,
		Height:       height,
		GeoTransform: GeoTransform{bbox[0], res, 0, bbox[3], 0, -res},
		CRS:          crs,
	}, nil
}

// MaskedBand holds samples and their validity. Invalid samples carry no
// meaning and are skipped by every reduction.
type MaskedBand struct {
	Data  []float64 `msgpack:"data"`
	Valid []bool    `msgpack:"valid"`
}

func NewMaskedBand(size int) *MaskedBand {
	return &MaskedBand{Data: make([]float64, size), Valid: make([]bool, size)}
}

// NewMaskedBandFromData marks every sample valid except those equal to
// noData.
func NewMaskedBandFromData(data []float64, noData float64, hasNoData bool) *MaskedBand {
	b := &MaskedBand{Data: data, Valid: make([]bool, len(data))}
	for i, v := range data {
		b.Valid[i] = !hasNoData || v != noData
	}
	return b
}

func (b *MaskedBand) Clone() *MaskedBand {
	out := &MaskedBand{Data: make([]float64, len(b.Data)), Valid: make([]bool, len(b.Valid))}
	copy(out.Data, b.Data)
	copy(out.Valid, b.Valid)
	return out
}

func (b *MaskedBand) ValidCount() int {
	n := 0
	for _, v := range b.Valid {
		if v {
			n++
		}
	}
	return n
}

// Raster is an immutable stack of named bands over one grid.
type Raster struct {
	Grid       Grid                   `msgpack:"grid"`
	ID         string                 `msgpack:"id"`
	TimeStamp  time.Time              `msgpack:"timestamp"`
	NameSpaces []string               `msgpack:"namespaces"`
	Bands      map[string]*MaskedBand `msgpack:"bands"`
}

func NewRaster(grid Grid, id string, ts time.Time) *Raster {
	return &Raster{Grid: grid, ID: id, TimeStamp: ts, Bands: map[string]*MaskedBand{}}
}

// Band returns the named band or ErrMissingBand.
func (r *Raster) Band(name string) (*MaskedBand, error) {
	b, ok := r.Bands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in raster %s", ErrMissingBand, name, r.ID)
	}
	return b, nil
}

// withBand adds a band while the raster is still being built.
func (r *Raster) withBand(name string, b *MaskedBand) *Raster {
	if _, ok := r.Bands[name]; !ok {
		r.NameSpaces = append(r.NameSpaces, name)
	}
	r.Bands[name] = b
	return r
}

// SelectPrefix keeps the bands whose name starts with prefix, preserving
// band order.
func (r *Raster) SelectPrefix(prefix string) *Raster {
	out := NewRaster(r.Grid, r.ID, r.TimeStamp)
	for _, name := range r.NameSpaces {
		if strings.HasPrefix(name, prefix) {
			out.withBand(name, r.Bands[name])
		}
	}
	return out
}

// Acquisition is one scene capture as returned by the imagery source.
type Acquisition struct {
	ID         string  `msgpack:"id"`
	Tile       string  `msgpack:"tile"`
	CloudCover float64 `msgpack:"cloud_cover"`
	Raster     *Raster `msgpack:"raster"`
}

// Collection is the result of one source query. Grid is always set so that
// downstream stages can build empty composites when nothing matched.
type Collection struct {
	Grid         Grid           `msgpack:"grid"`
	Acquisitions []*Acquisition `msgpack:"acquisitions"`
}

// TimeSeries is a list of rasters ordered by timestamp.
type TimeSeries struct {
	Grid    Grid
	Rasters []*Raster
}

func (ts *TimeSeries) Sort() {
	sort.SliceStable(ts.Rasters, func(i, j int) bool {
		return ts.Rasters[i].TimeStamp.Before(ts.Rasters[j].TimeStamp)
	})
}

// BandNames returns the union of band names in series order.
func (ts *TimeSeries) BandNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range ts.Rasters {
		for _, ns := range r.NameSpaces {
			if !seen[ns] {
				seen[ns] = true
				names = append(names, ns)
			}
		}
	}
	return names
}
