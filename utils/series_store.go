package utils

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	_ "github.com/lib/pq"
)

// SeriesPoint is the summary of one band inside one region at one time.
type SeriesPoint struct {
	RegionID   string    `csv:"region_id"`
	RegionName string    `csv:"region_name"`
	Band       string    `csv:"band"`
	TimeStamp  time.Time `csv:"timestamp"`
	Median     float64   `csv:"median"`
	Mean       float64   `csv:"mean"`
	Count      int       `csv:"count"`
}

// SeriesStore persists region series.
type SeriesStore interface {
	WriteSeries(ctx context.Context, job string, points []SeriesPoint) error
	Close() error
}

// CSVSeriesStore writes one <job>_series.csv file per job into Dir.
type CSVSeriesStore struct {
	Dir string
}

func (s *CSVSeriesStore) Path(job string) string {
	return fmt.Sprintf("%s/%s_series.csv", s.Dir, job)
}

func (s *CSVSeriesStore) WriteSeries(ctx context.Context, job string, points []SeriesPoint) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}
	file, err := os.Create(s.Path(job))
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&points, file); err != nil {
		return fmt.Errorf("writing series for %s: %v", job, err)
	}
	return nil
}

func (s *CSVSeriesStore) Close() error {
	return nil
}

// ReadSeriesCSV loads a file written by CSVSeriesStore.
func ReadSeriesCSV(path string) ([]SeriesPoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var points []SeriesPoint
	if err := gocsv.UnmarshalFile(file, &points); err != nil {
		return nil, err
	}
	return points, nil
}

const seriesSchema = `create table if not exists region_series (
	job text not null,
	region_id text not null,
	region_name text,
	band text not null,
	ts timestamptz not null,
	median double precision,
	mean double precision,
	pixel_count integer,
	primary key (job, region_id, band, ts)
)`

const seriesUpsert = `insert into region_series
	(job, region_id, region_name, band, ts, median, mean, pixel_count)
	values ($1, $2, $3, $4, $5, $6, $7, $8)
	on conflict (job, region_id, band, ts) do update set
	region_name = excluded.region_name, median = excluded.median,
	mean = excluded.mean, pixel_count = excluded.pixel_count`

// PostgresSeriesStore upserts points into the region_series table.
type PostgresSeriesStore struct {
	db *sql.DB
}

func NewPostgresSeriesStore(ctx context.Context, dsn string) (*PostgresSeriesStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("series database: %v", err)
	}
	if _, err := db.ExecContext(ctx, seriesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("series schema: %v", err)
	}
	return &PostgresSeriesStore{db: db}, nil
}

func (s *PostgresSeriesStore) WriteSeries(ctx context.Context, job string, points []SeriesPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, seriesUpsert)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		_, err := stmt.ExecContext(ctx, job, p.RegionID, p.RegionName, p.Band, p.TimeStamp, p.Median, p.Mean, p.Count)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("series insert %s/%s: %v", p.RegionID, p.TimeStamp.Format(ISOFormat), err)
		}
	}
	return tx.Commit()
}

func (s *PostgresSeriesStore) Close() error {
	return s.db.Close()
}

// MultiSeriesStore writes to every store in order.
type MultiSeriesStore []SeriesStore

func (m MultiSeriesStore) WriteSeries(ctx context.Context, job string, points []SeriesPoint) error {
	for _, s := range m {
		if err := s.WriteSeries(ctx, job, points); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSeriesStore) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
