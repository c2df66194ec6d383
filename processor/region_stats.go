package processor

import (
	"fmt"

	"github.com/bimalab/fireregime/utils"
	"gonum.org/v1/gonum/stat"
)

// RegionSeries summarises band inside each region for every composite.
// Composites with no valid pixel in a region produce no point.
func RegionSeries(composites []*Composite, regions []*Region, band string) ([]utils.SeriesPoint, error) {
	if len(composites) == 0 {
		return nil, nil
	}
	grid := composites[0].Raster.Grid

	masks := make([][]bool, len(regions))
	for ir, rg := range regions {
		m, err := RegionMask(grid, rg)
		if err != nil {
			return nil, err
		}
		masks[ir] = m
	}

	var points []utils.SeriesPoint
	var values []float64
	for _, c := range composites {
		if !c.Raster.Grid.Equal(grid) {
			return nil, fmt.Errorf("region series %s: %w", c.Bucket, ErrGridMismatch)
		}
		b, err := c.Raster.Band(band)
		if err != nil {
			return nil, err
		}
		for ir, rg := range regions {
			values = values[:0]
			for i, valid := range b.Valid {
				if valid && masks[ir][i] {
					values = append(values, b.Data[i])
				}
			}
			if len(values) == 0 {
				continue
			}
			mean := stat.Mean(values, nil)
			points = append(points, utils.SeriesPoint{
				RegionID:   rg.ID,
				RegionName: rg.Name,
				Band:       band,
				TimeStamp:  c.Raster.TimeStamp,
				Median:     Median(values),
				Mean:       mean,
				Count:      len(values),
			})
		}
	}
	return points, nil
}
