package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

type IndexerInfo struct {
	Duration        time.Duration `json:"duration"`
	URL             URLInfo       `json:"url"`
	Geometry        string        `json:"geometry"`
	NumAcquisitions int           `json:"num_acquisitions"`
	CacheHits       int           `json:"cache_hits"`
	CacheOversize   int           `json:"cache_oversize"`
}

type RPCInfo struct {
	Duration  time.Duration `json:"duration"`
	NumReads  int           `json:"num_reads"`
	BytesRead int64         `json:"bytes_read"`
}

type AggregatorInfo struct {
	Duration     time.Duration `json:"duration"`
	NumDates     int           `json:"num_dates"`
	NumBuckets   int           `json:"num_buckets"`
	EmptyBuckets int           `json:"empty_buckets"`
}

type ExportInfo struct {
	Duration time.Duration `json:"duration"`
	Files    []string      `json:"files"`
	Pixels   int64         `json:"pixels"`
}

// MetricsInfo describes one job run.
type MetricsInfo struct {
	JobName        string          `json:"job_name"`
	JobType        string          `json:"job_type"`
	ReqTime        string          `json:"req_time"`
	ReqDuration    time.Duration   `json:"req_duration"`
	Status         string          `json:"status"`
	Error          string          `json:"error,omitempty"`
	Indexer        *IndexerInfo    `json:"indexer"`
	RPC            *RPCInfo        `json:"rpc"`
	Aggregator     *AggregatorInfo `json:"aggregator"`
	Export         *ExportInfo     `json:"export"`
	ClassHistogram map[string]int  `json:"class_histogram"`
}

// MetricsCollector is shared by the stages of one job. Stages running
// concurrently update it through Update.
type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	mu     sync.Mutex
	start  time.Time
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info: &MetricsInfo{
			ReqTime:        now.UTC().Format(time.RFC3339),
			Indexer:        &IndexerInfo{},
			RPC:            &RPCInfo{},
			Aggregator:     &AggregatorInfo{},
			Export:         &ExportInfo{},
			ClassHistogram: map[string]int{},
		},
		logger: logger,
		start:  now,
	}
}

// Update runs fn with exclusive access to the collected info.
func (m *MetricsCollector) Update(fn func(info *MetricsInfo)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.Info)
}

// Finish records the outcome and hands the info to the logger.
func (m *MetricsCollector) Finish(err error) {
	if m == nil {
		return
	}
	m.Update(func(info *MetricsInfo) {
		info.ReqDuration = time.Since(m.start)
		if err != nil {
			info.Status = "error"
			info.Error = err.Error()
		} else {
			info.Status = "ok"
		}
	})
	m.Log()
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

// ToJSON encodes the info as one JSON line. URL normalisation failures are
// reported on log and leave the raw URL in place.
func (i *MetricsInfo) ToJSON(log *zap.SugaredLogger) (string, error) {
	i.normaliseURLs(log)

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}

func (i *MetricsInfo) normaliseURLs(log *zap.SugaredLogger) {
	if i.Indexer != nil && len(i.Indexer.URL.RawURL) > 0 {
		err := normaliseURL(&i.Indexer.URL)
		if err != nil {
			log.Warnf("metrics: indexer: normaliseURL() error: %v", err)
		}
	}
	if i.Indexer != nil && len(i.Indexer.Geometry) == 0 {
		i.Indexer.Geometry = "POLYGON EMPTY"
	}
}

func normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}
