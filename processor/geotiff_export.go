package processor

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/utils"
	"go.uber.org/zap"
)

const metresPerDegree = 111320.0

// FloatNoData is written to float exports in place of invalid pixels.
const FloatNoData = -9999.0

// ExportParams constrain a GeoTIFF export. Scale is the output pixel size
// in metres; geographic targets convert it to degrees at the equator.
type ExportParams struct {
	FileNamePrefix string
	Scale          float64
	CRS            string
	MaxPixels      float64
	FileDimensions int
}

func ExportParamsFromConfig(cfg utils.ExportConfig) ExportParams {
	return ExportParams{
		FileNamePrefix: cfg.FileNamePrefix,
		Scale:          cfg.Scale,
		CRS:            cfg.CRS,
		MaxPixels:      cfg.MaxPixels,
		FileDimensions: cfg.FileDimensions,
	}
}

func (p ExportParams) Resolution(geographic bool) float64 {
	if geographic {
		return p.Scale / metresPerDegree
	}
	return p.Scale
}

// CheckSize refuses outputs above MaxPixels.
func (p ExportParams) CheckSize(width, height int) error {
	if p.MaxPixels > 0 && float64(width)*float64(height) > p.MaxPixels {
		return fmt.Errorf("%w: %dx%d > %g", ErrExportConstraintExceeded, width, height, p.MaxPixels)
	}
	return nil
}

// TargetSize estimates the pixel size of bounds (xMin, yMin, xMax, yMax)
// sampled at res.
func TargetSize(bounds [4]float64, res float64) (int, int) {
	w := int(math.Ceil((bounds[2]-bounds[0])/res - 1e-9))
	h := int(math.Ceil((bounds[3]-bounds[1])/res - 1e-9))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// CheckBounds applies CheckSize to bounds expressed in the export CRS.
func (p ExportParams) CheckBounds(bounds [4]float64, geographic bool) error {
	w, h := TargetSize(bounds, p.Resolution(geographic))
	return p.CheckSize(w, h)
}

// TileWindows splits a width x height image into windows of at most dim
// pixels per side. Each window is xOff, yOff, width, height.
func TileWindows(width, height, dim int) [][4]int {
	if dim <= 0 {
		return [][4]int{{0, 0, width, height}}
	}
	var out [][4]int
	for y := 0; y < height; y += dim {
		for x := 0; x < width; x += dim {
			w := int(math.Min(float64(dim), float64(width-x)))
			h := int(math.Min(float64(dim), float64(height-y)))
			out = append(out, [4]int{x, y, w, h})
		}
	}
	return out
}

// TileFileName names the file holding the window at (xOff, yOff). A single
// window keeps the bare prefix.
func TileFileName(prefix, suffix string, xOff, yOff int, single bool) string {
	if single {
		return fmt.Sprintf("%s_%s.tif", prefix, suffix)
	}
	return fmt.Sprintf("%s_%s-%010d-%010d.tif", prefix, suffix, yOff, xOff)
}

// GeoTIFFExporter writes rasters and class maps as tiled GeoTIFFs.
type GeoTIFFExporter struct {
	Dir    string
	Params ExportParams
	Log    *zap.SugaredLogger
}

func NewGeoTIFFExporter(dir string, params ExportParams, log *zap.SugaredLogger) *GeoTIFFExporter {
	godal.RegisterAll()
	return &GeoTIFFExporter{Dir: dir, Params: params, Log: log}
}

func spatialRef(crs string) (*godal.SpatialRef, error) {
	code, err := extractEPSGCode(crs)
	if err != nil {
		return nil, err
	}
	return godal.NewSpatialRefFromEPSG(code)
}

func memDataset(grid Grid, dtype godal.DataType) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.Memory, "", 1, dtype, grid.Width, grid.Height)
	if err != nil {
		return nil, err
	}
	if err := ds.SetGeoTransform(grid.GeoTransform); err != nil {
		ds.Close()
		return nil, err
	}
	sr, err := spatialRef(grid.CRS)
	if err != nil {
		ds.Close()
		return nil, err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

// targetBounds returns the grid extent in the export CRS. Corners and edge
// midpoints are transformed when the CRSs differ.
func (e *GeoTIFFExporter) targetBounds(grid Grid, dst *godal.SpatialRef) ([4]float64, error) {
	b := grid.Bounds()
	if grid.CRS == e.Params.CRS {
		return b, nil
	}
	src, err := spatialRef(grid.CRS)
	if err != nil {
		return b, err
	}
	defer src.Close()
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		return b, err
	}
	defer trn.Close()

	midX, midY := (b[0]+b[2])/2, (b[1]+b[3])/2
	xs := []float64{b[0], b[2], b[0], b[2], midX, midX, b[0], b[2]}
	ys := []float64{b[1], b[1], b[3], b[3], b[1], b[3], midY, midY}
	// EPSG geographic CRSs take and return lat, lon
	if src.Geographic() {
		xs, ys = ys, xs
	}
	zs := make([]float64, len(xs))
	ok := make([]bool, len(xs))
	if err := trn.TransformEx(xs, ys, zs, ok); err != nil {
		return b, fmt.Errorf("transforming export bounds: %v", err)
	}
	if dst.Geographic() {
		xs, ys = ys, xs
	}
	out := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for i := range xs {
		if !ok[i] {
			continue
		}
		out[0] = math.Min(out[0], xs[i])
		out[1] = math.Min(out[1], ys[i])
		out[2] = math.Max(out[2], xs[i])
		out[3] = math.Max(out[3], ys[i])
	}
	if math.IsInf(out[0], 1) {
		return b, fmt.Errorf("export bounds of %s fall outside %s", grid.CRS, e.Params.CRS)
	}
	return out, nil
}

// checkTarget estimates the output size before any export buffer exists.
func (e *GeoTIFFExporter) checkTarget(grid Grid) error {
	dst, err := spatialRef(e.Params.CRS)
	if err != nil {
		return err
	}
	defer dst.Close()
	bounds, err := e.targetBounds(grid, dst)
	if err != nil {
		return err
	}
	return e.Params.CheckBounds(bounds, dst.Geographic())
}

// ExportClassMap writes cm as Byte GeoTIFFs with class 0 as no-data.
func (e *GeoTIFFExporter) ExportClassMap(cm *ClassMap, suffix string, mc *metrics.MetricsCollector) ([]string, error) {
	if err := e.checkTarget(cm.Grid); err != nil {
		return nil, err
	}
	ds, err := memDataset(cm.Grid, godal.Byte)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	buf := make([]uint8, len(cm.Classes))
	for i, c := range cm.Classes {
		if cm.Valid[i] {
			buf[i] = c
		} else {
			buf[i] = NoDataClass
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(float64(NoDataClass)); err != nil {
		return nil, err
	}
	if err := band.Write(0, 0, buf, cm.Grid.Width, cm.Grid.Height); err != nil {
		return nil, err
	}
	return e.export(ds, suffix, "Byte", float64(NoDataClass), mc)
}

// ExportBand writes one band of r as Float32 GeoTIFFs.
func (e *GeoTIFFExporter) ExportBand(r *Raster, bandName, suffix string, mc *metrics.MetricsCollector) ([]string, error) {
	b, err := r.Band(bandName)
	if err != nil {
		return nil, err
	}
	if err := e.checkTarget(r.Grid); err != nil {
		return nil, err
	}
	ds, err := memDataset(r.Grid, godal.Float32)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	buf := make([]float32, len(b.Data))
	for i, v := range b.Data {
		if b.Valid[i] {
			buf[i] = float32(v)
		} else {
			buf[i] = FloatNoData
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(FloatNoData); err != nil {
		return nil, err
	}
	if err := band.Write(0, 0, buf, r.Grid.Width, r.Grid.Height); err != nil {
		return nil, err
	}
	return e.export(ds, suffix, "Float32", FloatNoData, mc)
}

func (e *GeoTIFFExporter) export(src *godal.Dataset, suffix, dtype string, noData float64, mc *metrics.MetricsCollector) ([]string, error) {
	t0 := time.Now()
	sr, err := spatialRef(e.Params.CRS)
	if err != nil {
		return nil, err
	}
	geographic := sr.Geographic()
	sr.Close()

	res := strconv.FormatFloat(e.Params.Resolution(geographic), 'g', -1, 64)
	nd := strconv.FormatFloat(noData, 'g', -1, 64)
	warped, err := src.Warp("", []string{
		"-of", "MEM",
		"-t_srs", e.Params.CRS,
		"-tr", res, res,
		"-r", "near",
		"-ot", dtype,
		"-srcnodata", nd,
		"-dstnodata", nd,
	})
	if err != nil {
		return nil, fmt.Errorf("reprojecting export: %v", err)
	}
	defer warped.Close()

	st := warped.Structure()
	if err := e.Params.CheckSize(st.SizeX, st.SizeY); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return nil, err
	}

	windows := TileWindows(st.SizeX, st.SizeY, e.Params.FileDimensions)
	var files []string
	for _, w := range windows {
		name := TileFileName(e.Params.FileNamePrefix, suffix, w[0], w[1], len(windows) == 1)
		path := filepath.Join(e.Dir, name)
		out, err := warped.Translate(path, []string{
			"-of", "GTiff",
			"-srcwin", strconv.Itoa(w[0]), strconv.Itoa(w[1]), strconv.Itoa(w[2]), strconv.Itoa(w[3]),
			"-co", "COMPRESS=DEFLATE",
			"-co", "TILED=YES",
		})
		if err != nil {
			return files, fmt.Errorf("writing %s: %v", path, err)
		}
		if err := out.Close(); err != nil {
			return files, fmt.Errorf("closing %s: %v", path, err)
		}
		files = append(files, path)
	}

	e.Log.Infof("exported %s: %dx%d in %d file(s)", suffix, st.SizeX, st.SizeY, len(files))
	mc.Update(func(info *metrics.MetricsInfo) {
		info.Export.Duration += time.Since(t0)
		info.Export.Files = append(info.Export.Files, files...)
		info.Export.Pixels += int64(st.SizeX) * int64(st.SizeY)
	})
	return files, nil
}
