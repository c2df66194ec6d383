package rasterprocess

import (
	"context"
	"fmt"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/bimalab/fireregime/worker/rasterservice"
	"go.uber.org/zap"
)

// GDALReader warps a window of a dataset onto the requested grid in memory.
type GDALReader struct {
	log *zap.SugaredLogger
}

func NewGDALReader(log *zap.SugaredLogger) *GDALReader {
	godal.RegisterAll()
	return &GDALReader{log: log}
}

// WarpSwitches returns the gdalwarp arguments producing req's grid.
func WarpSwitches(req *rasterservice.ReadRequest) []string {
	gt := req.GeoTransform
	xMin := gt[0]
	yMax := gt[3]
	xMax := gt[0] + float64(req.Width)*gt[1]
	yMin := gt[3] + float64(req.Height)*gt[5]
	resampling := req.Resampling
	if resampling == "" {
		resampling = "near"
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		"-of", "MEM",
		"-t_srs", req.CRS,
		"-te", f(xMin), f(yMin), f(xMax), f(yMax),
		"-ts", strconv.Itoa(req.Width), strconv.Itoa(req.Height),
		"-r", resampling,
		"-ot", "Float64",
		"-dstalpha",
	}
}

func (r *GDALReader) Read(ctx context.Context, req *rasterservice.ReadRequest) (*rasterservice.ReadResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	src, err := godal.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v", req.Path, err)
	}
	defer src.Close()

	bands := req.Bands
	nBands := src.Structure().NBands
	if len(bands) == 0 {
		for i := 1; i <= nBands; i++ {
			bands = append(bands, i)
		}
	}
	for _, b := range bands {
		if b < 1 || b > nBands {
			return nil, fmt.Errorf("%s has %d bands, band %d requested", req.Path, nBands, b)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	warped, err := src.Warp("", WarpSwitches(req))
	if err != nil {
		return nil, fmt.Errorf("warping %s: %v", req.Path, err)
	}
	defer warped.Close()

	res := &rasterservice.ReadResult{}
	srcBands := src.Bands()
	if nd, ok := srcBands[bands[0]-1].NoData(); ok {
		res.NoData = nd
		res.HasNoData = true
	}

	dstBands := warped.Bands()
	size := req.Width * req.Height
	if len(dstBands) != nBands+1 {
		return nil, fmt.Errorf("warping %s: expected %d bands plus alpha, got %d", req.Path, nBands, len(dstBands))
	}
	alpha := make([]float64, size)
	if err := dstBands[nBands].Read(0, 0, alpha, req.Width, req.Height); err != nil {
		return nil, fmt.Errorf("reading alpha of %s: %v", req.Path, err)
	}
	res.Mask = make([]bool, size)
	for i, a := range alpha {
		res.Mask[i] = a > 0
	}
	for _, b := range bands {
		buf := make([]float64, size)
		if err := dstBands[b-1].Read(0, 0, buf, req.Width, req.Height); err != nil {
			return nil, fmt.Errorf("reading band %d of %s: %v", b, req.Path, err)
		}
		res.Bands = append(res.Bands, buf)
		res.BytesRead += int64(size * 8)
	}

	r.log.Debugf("read %s bands %v %dx%d", req.Path, bands, req.Width, req.Height)
	return res, nil
}
