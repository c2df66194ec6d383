package processor

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bimalab/fireregime/metrics"
)

const ISOFormat = "2006-01-02T15:04:05.000Z"

// AcquisitionQuery selects the acquisitions of a collection intersecting a
// region within a closed date range.
type AcquisitionQuery struct {
	Collection string
	Regions    []*Region
	Grid       Grid
	Bands      []string
	StartTime  time.Time
	EndTime    time.Time

	// MaxCloudCover filters scenes by their cloud percentage. Zero or less
	// disables the filter.
	MaxCloudCover float64

	Metrics *metrics.MetricsCollector
}

// Key identifies the query result for caching purposes.
func (q *AcquisitionQuery) Key() string {
	bands := append([]string(nil), q.Bands...)
	sort.Strings(bands)
	var regions []string
	for _, r := range q.Regions {
		regions = append(regions, r.ID)
	}
	sort.Strings(regions)
	raw := fmt.Sprintf("acq|%s|%s|%s|%s|%s|%v|%v|%s|%g", q.Collection, strings.Join(regions, ","),
		q.StartTime.UTC().Format(ISOFormat), q.EndTime.UTC().Format(ISOFormat), strings.Join(bands, ","),
		q.Grid.GeoTransform, []int{q.Grid.Width, q.Grid.Height}, q.Grid.CRS, q.MaxCloudCover)
	return fmt.Sprintf("%x", sha1.Sum([]byte(raw)))
}

// ProductQuery reads one band of a pre-built product onto a grid.
type ProductQuery struct {
	Collection string
	Band       string
	Grid       Grid
	Regions    []*Region

	Metrics *metrics.MetricsCollector
}

func (q *ProductQuery) Key() string {
	var regions []string
	for _, r := range q.Regions {
		regions = append(regions, r.ID)
	}
	sort.Strings(regions)
	raw := fmt.Sprintf("prod|%s|%s|%s|%v|%v|%s", q.Collection, q.Band, strings.Join(regions, ","),
		q.Grid.GeoTransform, []int{q.Grid.Width, q.Grid.Height}, q.Grid.CRS)
	return fmt.Sprintf("%x", sha1.Sum([]byte(raw)))
}

// RasterSource is the imagery backend. Returned rasters are shared and must
// not be modified.
type RasterSource interface {
	Acquisitions(ctx context.Context, q *AcquisitionQuery) (*Collection, error)
	Product(ctx context.Context, q *ProductQuery) (*Raster, error)
}

// BucketSplitter cuts an acquisition query into one query per calendar
// bucket so that large date ranges are fetched in independent pieces.
type BucketSplitter struct {
	In          chan *AcquisitionQuery
	Out         chan *AcquisitionQuery
	Error       chan error
	Granularity Granularity
}

func NewBucketSplitter(g Granularity, errChan chan error) *BucketSplitter {
	return &BucketSplitter{
		In:          make(chan *AcquisitionQuery, 100),
		Out:         make(chan *AcquisitionQuery, 100),
		Error:       errChan,
		Granularity: g,
	}
}

func (bs *BucketSplitter) Run() {
	defer close(bs.Out)
	for q := range bs.In {
		if q.EndTime.Before(q.StartTime) {
			sendError(bs.Error, fmt.Errorf("query end %v before start %v", q.EndTime, q.StartTime))
			continue
		}
		for _, sub := range SplitQuery(q, bs.Granularity) {
			bs.Out <- sub
		}
	}
}

// SplitQuery returns the sub-queries covering [q.StartTime, q.EndTime], one
// per calendar bucket, clamped to the original range.
func SplitQuery(q *AcquisitionQuery, g Granularity) []*AcquisitionQuery {
	start, end := q.StartTime.UTC(), q.EndTime.UTC()
	var out []*AcquisitionQuery
	for _, b := range Buckets(g, start.Year(), end.Year()) {
		bStart, bEnd := b.Start(), b.End().Add(-time.Nanosecond)
		if bEnd.Before(start) || bStart.After(end) {
			continue
		}
		if bStart.Before(start) {
			bStart = start
		}
		if bEnd.After(end) {
			bEnd = end
		}
		sub := *q
		sub.StartTime = bStart
		sub.EndTime = bEnd
		out = append(out, &sub)
	}
	return out
}

// AcquisitionFetcher resolves queries against a RasterSource and streams
// the acquisitions found. Up to ConcLimit queries are in flight.
type AcquisitionFetcher struct {
	Context   context.Context
	In        chan *AcquisitionQuery
	Out       chan *Acquisition
	Error     chan error
	Source    RasterSource
	ConcLimit int
}

func NewAcquisitionFetcher(ctx context.Context, src RasterSource, concLimit int, errChan chan error) *AcquisitionFetcher {
	return &AcquisitionFetcher{
		Context:   ctx,
		In:        make(chan *AcquisitionQuery, 100),
		Out:       make(chan *Acquisition, 100),
		Error:     errChan,
		Source:    src,
		ConcLimit: concLimit,
	}
}

func (f *AcquisitionFetcher) Run() {
	defer close(f.Out)
	limiter := NewConcLimiter(f.ConcLimit)
	for q := range f.In {
		if err := limiter.Increase(f.Context); err != nil {
			sendError(f.Error, err)
			for range f.In {
			}
			break
		}
		go func(q *AcquisitionQuery) {
			defer limiter.Decrease()
			coll, err := f.Source.Acquisitions(f.Context, q)
			if err != nil {
				sendError(f.Error, err)
				return
			}
			for _, acq := range coll.Acquisitions {
				select {
				case f.Out <- acq:
				case <-f.Context.Done():
					return
				}
			}
		}(q)
	}
	limiter.Wait()
}
