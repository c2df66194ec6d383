package processor

import (
	"context"
	"fmt"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/utils"
)

// FrequencyResult is the outcome of a fire frequency job.
type FrequencyResult struct {
	Job     string
	Product *Raster
	Classes *ClassMap
	Files   []string
}

// FrequencyPipeline classifies a pre-built burn frequency product inside
// the job regions.
type FrequencyPipeline struct {
	Env     *PipelineEnv
	Metrics *metrics.MetricsCollector
}

func InitFrequencyPipeline(env *PipelineEnv, mc *metrics.MetricsCollector) *FrequencyPipeline {
	return &FrequencyPipeline{Env: env, Metrics: mc}
}

func (fp *FrequencyPipeline) Process(ctx context.Context, job *utils.Job) (*FrequencyResult, error) {
	if job.Type != utils.JobFrequency {
		return nil, fmt.Errorf("job %s is not a frequency job", job.Name)
	}
	table, err := jobClassTable(job, FrequencyTable)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(table)
	if err != nil {
		return nil, err
	}
	regions, grid, err := jobRegions(job)
	if err != nil {
		return nil, err
	}

	product, err := fp.Env.Source.Product(ctx, &ProductQuery{
		Collection: job.Collection,
		Band:       job.Band,
		Grid:       grid,
		Regions:    regions,
		Metrics:    fp.Metrics,
	})
	if err != nil {
		return nil, err
	}

	mask, err := RegionMask(product.Grid, regions...)
	if err != nil {
		return nil, err
	}
	clipped := applyMask(product, mask)
	counts, err := Rescale(clipped, job.Band, job.RescaleBy, true)
	if err != nil {
		return nil, err
	}
	cm, err := classifier.Classify(counts, job.Band)
	if err != nil {
		return nil, err
	}
	// pixels the product leaves masked inside a region have no record
	if err := classifier.FillDefault(cm, mask); err != nil {
		return nil, err
	}
	recordHistogram(fp.Metrics, cm)
	fp.Env.Log.Infof("job %s: classified %d pixels into %v", job.Name, len(cm.Valid), cm.ValueSet())

	files, err := fp.Env.publishClassMap(ctx, job, cm, "FREQUENCY", jobPalette(job, utils.FrequencyPalette), fp.Metrics)
	if err != nil {
		return nil, err
	}

	return &FrequencyResult{Job: job.Name, Product: counts, Classes: cm, Files: files}, nil
}
