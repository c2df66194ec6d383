package processor

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

type Granularity int

const (
	Monthly Granularity = iota
	Yearly
)

func (g Granularity) String() string {
	switch g {
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// ParseGranularity accepts "monthly" and "yearly".
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "monthly", "":
		return Monthly, nil
	case "yearly":
		return Yearly, nil
	default:
		return Monthly, fmt.Errorf("unknown granularity %q", s)
	}
}

// CalendarBucket is a calendar month or year. Month is zero for yearly
// buckets.
type CalendarBucket struct {
	Year        int
	Month       time.Month
	Granularity Granularity
}

func (b CalendarBucket) Start() time.Time {
	if b.Granularity == Yearly {
		return time.Date(b.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(b.Year, b.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is exclusive.
func (b CalendarBucket) End() time.Time {
	if b.Granularity == Yearly {
		return b.Start().AddDate(1, 0, 0)
	}
	return b.Start().AddDate(0, 1, 0)
}

func (b CalendarBucket) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(b.Start()) && t.Before(b.End())
}

func (b CalendarBucket) String() string {
	if b.Granularity == Yearly {
		return fmt.Sprintf("%04d", b.Year)
	}
	return fmt.Sprintf("%04d-%02d", b.Year, int(b.Month))
}

// Buckets enumerates every bucket of [startYear, endYear] in calendar order.
func Buckets(g Granularity, startYear, endYear int) []CalendarBucket {
	var out []CalendarBucket
	for y := startYear; y <= endYear; y++ {
		if g == Yearly {
			out = append(out, CalendarBucket{Year: y, Granularity: Yearly})
			continue
		}
		for m := time.January; m <= time.December; m++ {
			out = append(out, CalendarBucket{Year: y, Month: m, Granularity: Monthly})
		}
	}
	return out
}

// Composite is a per-bucket reduction. Its raster timestamp is the first day
// of the bucket and Count holds the number of contributing rasters.
type Composite struct {
	Bucket CalendarBucket
	Raster *Raster
	Count  int
}

// PeriodicAggregator reduces a time series to one median composite per
// calendar bucket. Every bucket of the configured year range yields exactly
// one composite, all invalid when it has no observation.
type PeriodicAggregator struct {
	Granularity Granularity
	StartYear   int
	EndYear     int
	Bands       []string
	ConcLimit   int

	// Optional closed date filter applied before bucketing.
	From  time.Time
	Until time.Time
}

func (pa *PeriodicAggregator) Buckets() []CalendarBucket {
	return Buckets(pa.Granularity, pa.StartYear, pa.EndYear)
}

func (pa *PeriodicAggregator) inRange(t time.Time) bool {
	if !pa.From.IsZero() && t.Before(pa.From) {
		return false
	}
	if !pa.Until.IsZero() && t.After(pa.Until) {
		return false
	}
	return true
}

func (pa *PeriodicAggregator) Aggregate(ctx context.Context, ts *TimeSeries) ([]*Composite, error) {
	if ts == nil {
		return nil, fmt.Errorf("aggregate: nil time series")
	}
	if pa.EndYear < pa.StartYear {
		return nil, fmt.Errorf("aggregate: end year %d before start year %d", pa.EndYear, pa.StartYear)
	}

	bands := pa.Bands
	if len(bands) == 0 {
		bands = ts.BandNames()
	}

	var members []*Raster
	for _, r := range ts.Rasters {
		if !r.Grid.Equal(ts.Grid) {
			return nil, fmt.Errorf("aggregate %s: %w", r.ID, ErrGridMismatch)
		}
		if pa.inRange(r.TimeStamp) {
			members = append(members, r)
		}
	}

	buckets := pa.Buckets()
	out := make([]*Composite, len(buckets))

	limit := pa.ConcLimit
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for ib, bucket := range buckets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var inBucket []*Raster
			for _, r := range members {
				if bucket.Contains(r.TimeStamp) {
					inBucket = append(inBucket, r)
				}
			}
			composite, err := medianComposite(ts.Grid, bucket, bands, inBucket)
			if err != nil {
				return err
			}
			out[ib] = composite
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func medianComposite(grid Grid, bucket CalendarBucket, bands []string, members []*Raster) (*Composite, error) {
	size := grid.Size()
	r := NewRaster(grid, bucket.String(), bucket.Start())
	samples := make([]float64, 0, len(members))
	for _, ns := range bands {
		dst := NewMaskedBand(size)
		srcs := make([]*MaskedBand, 0, len(members))
		for _, m := range members {
			if b, ok := m.Bands[ns]; ok {
				srcs = append(srcs, b)
			}
		}
		for i := 0; i < size; i++ {
			samples = samples[:0]
			for _, b := range srcs {
				if b.Valid[i] {
					samples = append(samples, b.Data[i])
				}
			}
			if len(samples) == 0 {
				continue
			}
			dst.Data[i] = Median(samples)
			dst.Valid[i] = true
		}
		r.withBand(ns, dst)
	}
	return &Composite{Bucket: bucket, Raster: r, Count: len(members)}, nil
}

// Median sorts values in place. An even count yields the mean of the two
// middle values.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sort.Float64s(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
