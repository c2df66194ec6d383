package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/utils"
)

// Sentinel-2 bands read by a severity job besides the quality bands.
var DefaultSeverityBands = []string{"B2", "B3", "B4", "B8", "B11", "B12"}

// Bands kept in the periodic composites besides the index.
var compositeBands = []string{"B11", "B8", "B4", "B3", "B2"}

var rgbBands = []string{"B4", "B3", "B2"}

const ChangeBand = "dnbr"

// SeverityResult is the outcome of a burn severity job.
type SeverityResult struct {
	Job        string
	Composites []*Composite
	Series     []utils.SeriesPoint
	Extremes   *ExtremalPair
	Change     *Raster
	Classes    *ClassMap
	Files      []string
}

// SeverityPipeline builds periodic NBR composites over the job regions and
// classifies the difference between their per-pixel extremes.
type SeverityPipeline struct {
	Context context.Context
	Error   chan error
	Env     *PipelineEnv
	Metrics *metrics.MetricsCollector
}

func InitSeverityPipeline(ctx context.Context, env *PipelineEnv, mc *metrics.MetricsCollector, errChan chan error) *SeverityPipeline {
	if errChan == nil {
		errChan = make(chan error, 100)
	}
	return &SeverityPipeline{
		Context: ctx,
		Error:   errChan,
		Env:     env,
		Metrics: mc,
	}
}

func jobQualityMask(job *utils.Job) QualityMask {
	mask := DefaultQualityMask()
	if job.Mask == nil {
		return mask
	}
	if job.Mask.CloudBand != "" {
		mask.CloudBand = job.Mask.CloudBand
	}
	if job.Mask.SnowBand != "" {
		mask.SnowBand = job.Mask.SnowBand
	}
	if job.Mask.SCLBand != "" {
		mask.SCLBand = job.Mask.SCLBand
	}
	if job.Mask.MaxCloudProb > 0 {
		mask.MaxCloudProb = job.Mask.MaxCloudProb
	}
	if job.Mask.MaxSnowProb > 0 {
		mask.MaxSnowProb = job.Mask.MaxSnowProb
	}
	if job.Mask.ExcludedSCL != nil {
		mask.ExcludedSCL = job.Mask.ExcludedSCL
	}
	return mask
}

// observations streams the masked, mosaicked, index-enriched and clipped
// acquisitions of the job into a time series.
func (sp *SeverityPipeline) observations(q *AcquisitionQuery, g Granularity, mask QualityMask, calc *IndexCalculator, regions []*Region) (*TimeSeries, error) {
	bs := NewBucketSplitter(g, sp.Error)
	f := NewAcquisitionFetcher(sp.Context, sp.Env.Source, sp.Env.ConcLimit, sp.Error)
	m := NewAcquisitionMasker(mask, sp.Error)
	m.KeepPrefix = SpectralBandPrefix
	dm := NewDateMosaicker(q.Grid, sp.Error)
	is := NewIndexStage(calc, sp.Error)
	rc := NewRegionClipper(regions, sp.Error)

	f.In = bs.Out
	m.In = f.Out
	dm.In = m.Out
	is.In = dm.Out
	rc.In = is.Out

	go func() {
		bs.In <- q
		close(bs.In)
	}()

	go bs.Run()
	go f.Run()
	go m.Run()
	go dm.Run()
	go is.Run()
	go rc.Run()

	ts := &TimeSeries{Grid: q.Grid}
	for r := range rc.Out {
		ts.Rasters = append(ts.Rasters, r)
	}
	if err := firstError(sp.Error); err != nil {
		return nil, err
	}
	if err := sp.Context.Err(); err != nil {
		return nil, err
	}
	ts.Sort()
	return ts, nil
}

func (sp *SeverityPipeline) Process(ctx context.Context, job *utils.Job) (*SeverityResult, error) {
	if job.Type != utils.JobSeverity {
		return nil, fmt.Errorf("job %s is not a severity job", job.Name)
	}
	sp.Context = ctx

	table, err := jobClassTable(job, SeverityTable)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(table)
	if err != nil {
		return nil, err
	}
	granularity, err := ParseGranularity(job.TimeGen)
	if err != nil {
		return nil, err
	}
	calc, err := NBR()
	if err != nil {
		return nil, err
	}
	calc.Name = job.Band
	regions, grid, err := jobRegions(job)
	if err != nil {
		return nil, err
	}

	mask := jobQualityMask(job)
	bands := job.Bands
	if len(bands) == 0 {
		bands = DefaultSeverityBands
	}
	bands = append(append([]string{}, bands...), mask.QualityBands()...)

	q := &AcquisitionQuery{
		Collection:    job.Collection,
		Regions:       regions,
		Grid:          grid,
		Bands:         bands,
		StartTime:     job.StartTime,
		EndTime:       job.EndTime,
		MaxCloudCover: job.MaxCloudCover,
		Metrics:       sp.Metrics,
	}

	ts, err := sp.observations(q, granularity, mask, calc, regions)
	if err != nil {
		return nil, err
	}
	sp.Env.Log.Infof("job %s: %d dated mosaics", job.Name, len(ts.Rasters))

	t0 := time.Now()
	agg := &PeriodicAggregator{
		Granularity: granularity,
		StartYear:   job.StartYear,
		EndYear:     job.EndYear,
		Bands:       append([]string{job.Band}, compositeBands...),
		ConcLimit:   sp.Env.ConcLimit,
		From:        job.StartTime,
		Until:       job.EndTime,
	}
	composites, err := agg.Aggregate(sp.Context, ts)
	if err != nil {
		return nil, err
	}
	empty := 0
	for _, c := range composites {
		if c.Count == 0 {
			empty++
		}
	}
	sp.Metrics.Update(func(info *metrics.MetricsInfo) {
		info.Aggregator.Duration += time.Since(t0)
		info.Aggregator.NumDates += len(ts.Rasters)
		info.Aggregator.NumBuckets += len(composites)
		info.Aggregator.EmptyBuckets += empty
	})

	series, err := RegionSeries(composites, regions, job.Band)
	if err != nil {
		return nil, err
	}
	if sp.Env.Series != nil {
		if err := sp.Env.Series.WriteSeries(sp.Context, job.Name, series); err != nil {
			return nil, fmt.Errorf("job %s series: %v", job.Name, err)
		}
	}

	pair, err := SelectExtremes(composites, job.Band)
	if err != nil {
		return nil, err
	}
	change, err := Difference(pair.Before, pair.After, job.Band, ChangeBand)
	if err != nil {
		return nil, err
	}
	cm, err := classifier.Classify(change, ChangeBand)
	if err != nil {
		return nil, err
	}
	recordHistogram(sp.Metrics, cm)

	res := &SeverityResult{
		Job:        job.Name,
		Composites: composites,
		Series:     series,
		Extremes:   pair,
		Change:     change,
		Classes:    cm,
	}

	files, err := sp.Env.publishClassMap(sp.Context, job, cm, "SEVERITY", jobPalette(job, utils.SeverityPalette), sp.Metrics)
	res.Files = append(res.Files, files...)
	if err != nil {
		return res, err
	}
	if sp.Env.Exporter != nil {
		tiffs, err := sp.Env.Exporter.ExportBand(change, ChangeBand, "CHANGE", sp.Metrics)
		res.Files = append(res.Files, tiffs...)
		if err != nil {
			return res, err
		}
	}
	if job.Export.Quicklook {
		quicklooks, err := sp.quicklooks(job, composites, pair)
		res.Files = append(res.Files, quicklooks...)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// quicklooks renders the pre- and post-fire NBR and true colour previews.
func (sp *SeverityPipeline) quicklooks(job *utils.Job, composites []*Composite, pair *ExtremalPair) ([]string, error) {
	var files []string
	nbrPalette := utils.NBRPalette()
	nbrViews := []struct {
		suffix string
		raster *Raster
	}{{"PREFIRE_NBR", pair.Before}, {"POSTFIRE_NBR", pair.After}}
	for _, v := range nbrViews {
		img, err := EncodePNG(v.raster, nbrPalette, NBRStretch, job.Band)
		if err != nil {
			return files, err
		}
		path := sp.Env.outputPath(job, v.suffix, "png")
		if err := sp.Env.writeFile(path, img); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	rgbViews := []struct {
		suffix  string
		reducer Reducer
	}{{"PREFIRE_RGB", ReduceMax}, {"POSTFIRE_RGB", ReduceMin}}
	for _, v := range rgbViews {
		r, err := ReduceComposites(composites, v.reducer, rgbBands...)
		if err != nil {
			return files, err
		}
		img, err := EncodePNG(r, nil, RGBStretch, rgbBands...)
		if err != nil {
			return files, err
		}
		path := sp.Env.outputPath(job, v.suffix, "png")
		if err := sp.Env.writeFile(path, img); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}
