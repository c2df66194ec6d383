package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/utils"
	"go.uber.org/zap"
)

// Exporter writes georeferenced outputs. GeoTIFFExporter is the GDAL
// implementation.
type Exporter interface {
	ExportClassMap(cm *ClassMap, suffix string, mc *metrics.MetricsCollector) ([]string, error)
	ExportBand(r *Raster, band, suffix string, mc *metrics.MetricsCollector) ([]string, error)
}

// PipelineEnv carries what every job pipeline shares. A nil Exporter skips
// GeoTIFF output; a nil Series skips series persistence.
type PipelineEnv struct {
	Source      RasterSource
	Exporter    Exporter
	Series      utils.SeriesStore
	OutputDir   string
	TemplateDir string
	ConcLimit   int
	Log         *zap.SugaredLogger
}

// jobRegions loads the job regions and the grid covering them.
func jobRegions(job *utils.Job) ([]*Region, Grid, error) {
	crs := job.Region.CRS
	if crs == "" {
		crs = DefaultRegionCRS
	}
	regions, err := LoadRegions(job.Region.Path, job.Region.IDProperty, job.Region.NameProperty, crs)
	if err != nil {
		return nil, Grid{}, err
	}
	b := RegionsBound(regions)
	grid, err := NewGridFromBBox([4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}, job.Resolution, crs)
	if err != nil {
		return nil, Grid{}, fmt.Errorf("job %s grid: %v", job.Name, err)
	}
	return regions, grid, nil
}

func jobClassTable(job *utils.Job, builtin func() *ClassTable) (*ClassTable, error) {
	if job.ClassTable == nil {
		return builtin(), nil
	}
	return ClassTableFromConfig(job.ClassTable)
}

func jobPalette(job *utils.Job, builtin func() *utils.Palette) *utils.Palette {
	if job.Palette != nil {
		return job.Palette
	}
	return builtin()
}

// firstError returns a pending pipeline error, if any.
func firstError(errChan chan error) error {
	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

func recordHistogram(mc *metrics.MetricsCollector, cm *ClassMap) {
	hist := cm.Histogram()
	mc.Update(func(info *metrics.MetricsInfo) {
		for class, n := range hist {
			label := cm.Labels[class]
			if label == "" {
				label = strconv.Itoa(int(class))
			}
			info.ClassHistogram[label] += n
		}
	})
}

func (env *PipelineEnv) outputPath(job *utils.Job, suffix, ext string) string {
	return filepath.Join(env.OutputDir, fmt.Sprintf("%s_%s.%s", job.Export.FileNamePrefix, suffix, ext))
}

func (env *PipelineEnv) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// publishClassMap exports cm as GeoTIFF, PNG quicklook and sidecar. It
// returns every file written.
func (env *PipelineEnv) publishClassMap(ctx context.Context, job *utils.Job, cm *ClassMap, suffix string, palette *utils.Palette, mc *metrics.MetricsCollector) ([]string, error) {
	var files []string
	if env.Exporter != nil {
		tiffs, err := env.Exporter.ExportClassMap(cm, suffix, mc)
		if err != nil {
			return nil, err
		}
		files = append(files, tiffs...)
	}
	if err := ctx.Err(); err != nil {
		return files, err
	}

	if job.Export.Quicklook {
		img, err := EncodeClassPNG(cm, palette)
		if err != nil {
			return files, err
		}
		path := env.outputPath(job, suffix, "png")
		if err := env.writeFile(path, img); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	sw, err := NewSidecarWriter(env.TemplateDir)
	if err != nil {
		return files, err
	}
	data, err := NewSidecarData(job, suffix, files, cm, palette)
	if err != nil {
		return files, err
	}
	path := env.outputPath(job, suffix, "json")
	if err := os.MkdirAll(env.OutputDir, 0755); err != nil {
		return files, err
	}
	if err := sw.Write(path, data); err != nil {
		return files, err
	}
	return append(files, path), nil
}
