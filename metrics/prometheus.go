package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusLogger turns job metrics into Prometheus series.
type PrometheusLogger struct {
	JobsTotal       *prometheus.CounterVec   // labels: type, status
	JobDuration     *prometheus.HistogramVec // labels: type
	StageDuration   *prometheus.HistogramVec // labels: stage
	Acquisitions    prometheus.Counter
	CacheHits       prometheus.Counter
	CacheOversize   prometheus.Counter
	EmptyBuckets    prometheus.Counter
	ExportedPixels  prometheus.Counter
	ClassifiedPixel *prometheus.CounterVec // labels: job, class
}

// NewPrometheusLogger creates the collectors and registers them with reg.
func NewPrometheusLogger(reg prometheus.Registerer) *PrometheusLogger {
	l := &PrometheusLogger{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "jobs_total",
			Help:      "Jobs run, by type and outcome",
		}, []string{"type", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fireregime",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a job",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"type"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fireregime",
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"stage"}),
		Acquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "acquisitions_total",
			Help:      "Acquisitions returned by the imagery index",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "source_cache_hits_total",
			Help:      "Source queries served from cache",
		}),
		CacheOversize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "source_cache_oversize_total",
			Help:      "Source results too large to cache",
		}),
		EmptyBuckets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "empty_buckets_total",
			Help:      "Calendar buckets without any observation",
		}),
		ExportedPixels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "exported_pixels_total",
			Help:      "Pixels written to GeoTIFF exports",
		}),
		ClassifiedPixel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fireregime",
			Name:      "classified_pixels_total",
			Help:      "Classified pixels by job and class label",
		}, []string{"job", "class"}),
	}

	reg.MustRegister(
		l.JobsTotal,
		l.JobDuration,
		l.StageDuration,
		l.Acquisitions,
		l.CacheHits,
		l.CacheOversize,
		l.EmptyBuckets,
		l.ExportedPixels,
		l.ClassifiedPixel,
	)
	return l
}

func (l *PrometheusLogger) Log(info *MetricsInfo) {
	l.JobsTotal.WithLabelValues(info.JobType, info.Status).Inc()
	l.JobDuration.WithLabelValues(info.JobType).Observe(info.ReqDuration.Seconds())

	if info.Indexer != nil {
		l.StageDuration.WithLabelValues("indexer").Observe(info.Indexer.Duration.Seconds())
		l.Acquisitions.Add(float64(info.Indexer.NumAcquisitions))
		l.CacheHits.Add(float64(info.Indexer.CacheHits))
		l.CacheOversize.Add(float64(info.Indexer.CacheOversize))
	}
	if info.RPC != nil {
		l.StageDuration.WithLabelValues("rpc").Observe(info.RPC.Duration.Seconds())
	}
	if info.Aggregator != nil {
		l.StageDuration.WithLabelValues("aggregator").Observe(info.Aggregator.Duration.Seconds())
		l.EmptyBuckets.Add(float64(info.Aggregator.EmptyBuckets))
	}
	if info.Export != nil {
		l.StageDuration.WithLabelValues("export").Observe(info.Export.Duration.Seconds())
		l.ExportedPixels.Add(float64(info.Export.Pixels))
	}
	for class, n := range info.ClassHistogram {
		l.ClassifiedPixel.WithLabelValues(info.JobName, class).Add(float64(n))
	}
}
