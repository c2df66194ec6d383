package processor

import (
	"encoding/json"
	"fmt"
	"os"

	geo "github.com/nci/geometry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// GeoJSON coordinates are WGS84 unless a region says otherwise.
const DefaultRegionCRS = "EPSG:4326"

// Region is a named area of interest.
type Region struct {
	ID       string
	Name     string
	CRS      string
	Geometry orb.Geometry
}

// Contains reports whether the point lies inside the region.
func (r *Region) Contains(p orb.Point) bool {
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	default:
		return false
	}
}

func (r *Region) Bound() orb.Bound {
	return r.Geometry.Bound()
}

// WKT renders the region the way the imagery index expects it.
func (r *Region) WKT() (string, error) {
	body, err := json.Marshal(geojson.NewFeature(r.Geometry))
	if err != nil {
		return "", err
	}
	var feat geo.Feature
	if err := json.Unmarshal(body, &feat); err != nil {
		return "", fmt.Errorf("region %s: %w: %v", r.ID, ErrMalformedRegion, err)
	}
	return feat.Geometry.MarshalWKT(), nil
}

// RegionsBound returns the bound enclosing every region.
func RegionsBound(regions []*Region) orb.Bound {
	if len(regions) == 0 {
		return orb.Bound{}
	}
	b := regions[0].Bound()
	for _, r := range regions[1:] {
		b = b.Union(r.Bound())
	}
	return b
}

// LoadRegions reads a GeoJSON FeatureCollection. idProperty and
// nameProperty select the feature properties used as region id and name;
// the feature index is used when the id is absent.
func LoadRegions(path, idProperty, nameProperty, crs string) ([]*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRegions(data, idProperty, nameProperty, crs)
}

func ParseRegions(data []byte, idProperty, nameProperty, crs string) ([]*Region, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRegion, err)
	}
	if crs == "" {
		crs = DefaultRegionCRS
	}

	var regions []*Region
	for i, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, fmt.Errorf("%w: feature %d has geometry %T", ErrMalformedRegion, i, f.Geometry)
		}

		id := fmt.Sprintf("%d", i)
		if idProperty != "" {
			if v, ok := f.Properties[idProperty]; ok && v != nil {
				id = fmt.Sprintf("%v", v)
			}
		}
		name := id
		if nameProperty != "" {
			if v, ok := f.Properties[nameProperty]; ok && v != nil {
				name = fmt.Sprintf("%v", v)
			}
		}
		regions = append(regions, &Region{ID: id, Name: name, CRS: crs, Geometry: f.Geometry})
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: no features", ErrMalformedRegion)
	}
	return regions, nil
}

// RegionMask returns true for pixels whose centre lies inside any region.
func RegionMask(grid Grid, regions ...*Region) ([]bool, error) {
	for _, rg := range regions {
		if rg.CRS != grid.CRS {
			return nil, fmt.Errorf("region %s in %s, raster in %s: %w", rg.ID, rg.CRS, grid.CRS, ErrGridMismatch)
		}
	}

	bound := RegionsBound(regions)
	mask := make([]bool, grid.Size())
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			px, py := grid.PixelCentre(x, y)
			p := orb.Point{px, py}
			if !bound.Contains(p) {
				continue
			}
			for _, rg := range regions {
				if rg.Contains(p) {
					mask[y*grid.Width+x] = true
					break
				}
			}
		}
	}
	return mask, nil
}

// Clip invalidates every pixel outside the union of regions. Clipping an
// already clipped raster leaves it unchanged.
func Clip(r *Raster, regions ...*Region) (*Raster, error) {
	if len(regions) == 0 {
		return nil, fmt.Errorf("clip %s: %w: no region", r.ID, ErrMalformedRegion)
	}
	mask, err := RegionMask(r.Grid, regions...)
	if err != nil {
		return nil, err
	}
	return applyMask(r, mask), nil
}

func applyMask(r *Raster, mask []bool) *Raster {
	out := NewRaster(r.Grid, r.ID, r.TimeStamp)
	for _, ns := range r.NameSpaces {
		src := r.Bands[ns]
		dst := &MaskedBand{Data: src.Data, Valid: make([]bool, len(src.Valid))}
		for i, v := range src.Valid {
			dst.Valid[i] = v && mask[i]
		}
		out.withBand(ns, dst)
	}
	return out
}

// RegionClipper clips every raster passing through to the same regions.
type RegionClipper struct {
	In      chan *Raster
	Out     chan *Raster
	Error   chan error
	Regions []*Region
}

func NewRegionClipper(regions []*Region, errChan chan error) *RegionClipper {
	return &RegionClipper{
		In:      make(chan *Raster, 100),
		Out:     make(chan *Raster, 100),
		Error:   errChan,
		Regions: regions,
	}
}

func (rc *RegionClipper) Run() {
	defer close(rc.Out)
	var mask []bool
	var maskGrid Grid
	for r := range rc.In {
		if mask == nil || !maskGrid.Equal(r.Grid) {
			m, err := RegionMask(r.Grid, rc.Regions...)
			if err != nil {
				sendError(rc.Error, err)
				continue
			}
			mask, maskGrid = m, r.Grid
		}
		rc.Out <- applyMask(r, mask)
	}
}
