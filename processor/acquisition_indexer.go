package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bimalab/fireregime/metrics"
	"go.uber.org/zap"
)

const DefaultMaxLogLength = 1000

type GDALDataset struct {
	DSName     string      `json:"ds_name"`
	NameSpace  string      `json:"namespace"`
	ArrayType  string      `json:"array_type"`
	TimeStamps []time.Time `json:"timestamps"`
	Polygon    string      `json:"polygon"`
	CloudCover *float64    `json:"cloud_cover"`
	Tile       string      `json:"tile"`
	ID         string      `json:"id"`
}

type MetadataResponse struct {
	Error        string        `json:"error"`
	GDALDatasets []GDALDataset `json:"gdal"`
}

// Granule is one band of one acquisition as stored in a dataset.
type Granule struct {
	AcquisitionID string
	Tile          string
	CloudCover    float64
	NameSpace     string
	Path          string
	Band          int
	TimeStamp     time.Time
}

// AcquisitionIndexer queries a MAS-style metadata API for the datasets
// intersecting a set of regions.
type AcquisitionIndexer struct {
	APIAddress string
	Client     *http.Client
	Log        *zap.SugaredLogger
}

func NewAcquisitionIndexer(apiAddr string, log *zap.SugaredLogger) *AcquisitionIndexer {
	return &AcquisitionIndexer{
		APIAddress: apiAddr,
		Client:     &http.Client{Timeout: 5 * time.Minute},
		Log:        log,
	}
}

// regionsWKT joins the regions into one WKT geometry collection.
func regionsWKT(regions []*Region) (string, error) {
	if len(regions) == 0 {
		return "", fmt.Errorf("%w: query without region", ErrMalformedRegion)
	}
	if len(regions) == 1 {
		return regions[0].WKT()
	}
	parts := make([]string, len(regions))
	for i, r := range regions {
		wkt, err := r.WKT()
		if err != nil {
			return "", err
		}
		parts[i] = wkt
	}
	return fmt.Sprintf("GEOMETRYCOLLECTION (%s)", strings.Join(parts, ", ")), nil
}

func (p *AcquisitionIndexer) queryURL(collection, crs string, start, end time.Time, namespaces []string) string {
	var timeParams string
	if !start.IsZero() {
		timeParams = fmt.Sprintf("&time=%s&until=%s", start.UTC().Format(ISOFormat), end.UTC().Format(ISOFormat))
	}
	return strings.Replace(fmt.Sprintf("http://%s%s?intersects&metadata=gdal%s&srs=%s&namespace=%s",
		p.APIAddress, collection, timeParams, crs, strings.Join(namespaces, ",")), " ", "%20", -1)
}

func (p *AcquisitionIndexer) post(ctx context.Context, reqURL, wkt string) (*MetadataResponse, error) {
	postBody := url.Values{"wkt": {wkt}}
	postBodyStr := postBody.Encode()
	maxLogLen := DefaultMaxLogLength
	if len(postBodyStr) < DefaultMaxLogLength {
		maxLogLen = len(postBodyStr)
	}
	p.Log.Debugf("mas_url:%s\tpost_body:%s", reqURL, postBodyStr[:maxLogLen])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(postBodyStr))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST request to %s failed. Error: %v", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Error parsing response body from %s. Error: %v", reqURL, err)
	}

	var metadata MetadataResponse
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("Problem parsing JSON response from %s. Error: %v", reqURL, err)
	}
	if len(metadata.Error) > 0 {
		return nil, fmt.Errorf("Indexer returned error: %v", metadata.Error)
	}
	return &metadata, nil
}

// Query returns the granules of every acquisition matching q, one per band
// and timestamp, sorted by acquisition id and band name.
func (p *AcquisitionIndexer) Query(ctx context.Context, q *AcquisitionQuery) ([]*Granule, error) {
	t0 := time.Now()
	wkt, err := regionsWKT(q.Regions)
	if err != nil {
		return nil, err
	}
	reqURL := p.queryURL(q.Collection, q.Grid.CRS, q.StartTime, q.EndTime, q.Bands)

	metadata, err := p.post(ctx, reqURL, wkt)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{}
	for _, b := range q.Bands {
		wanted[b] = true
	}

	var grans []*Granule
	for _, ds := range metadata.GDALDatasets {
		if len(wanted) > 0 && !wanted[ds.NameSpace] {
			continue
		}
		cloud := 0.0
		if ds.CloudCover != nil {
			cloud = *ds.CloudCover
		}
		if q.MaxCloudCover > 0 && cloud > q.MaxCloudCover {
			continue
		}
		for it, t := range ds.TimeStamps {
			if t.Before(q.StartTime) || t.After(q.EndTime) {
				continue
			}
			id := ds.ID
			if id == "" {
				id = fmt.Sprintf("%s_%s", ds.Tile, t.UTC().Format("20060102T150405"))
			}
			grans = append(grans, &Granule{
				AcquisitionID: id,
				Tile:          ds.Tile,
				CloudCover:    cloud,
				NameSpace:     ds.NameSpace,
				Path:          ds.DSName,
				Band:          it + 1,
				TimeStamp:     t,
			})
		}
	}

	sort.SliceStable(grans, func(i, j int) bool {
		if grans[i].AcquisitionID != grans[j].AcquisitionID {
			return grans[i].AcquisitionID < grans[j].AcquisitionID
		}
		return grans[i].NameSpace < grans[j].NameSpace
	})

	q.Metrics.Update(func(info *metrics.MetricsInfo) {
		info.Indexer.Duration += time.Since(t0)
		if len(info.Indexer.URL.RawURL) == 0 {
			info.Indexer.URL.RawURL = reqURL
			info.Indexer.Geometry = wkt
		}
	})
	p.Log.Debugf("Indexer time: %v, granules: %v", time.Since(t0), len(grans))
	return grans, nil
}

// ProductGranule locates the dataset holding a pre-built product band.
func (p *AcquisitionIndexer) ProductGranule(ctx context.Context, q *ProductQuery) (*Granule, error) {
	t0 := time.Now()
	wkt, err := regionsWKT(q.Regions)
	if err != nil {
		return nil, err
	}
	reqURL := p.queryURL(q.Collection, q.Grid.CRS, time.Time{}, time.Time{}, []string{q.Band})
	metadata, err := p.post(ctx, reqURL, wkt)
	if err != nil {
		return nil, err
	}

	q.Metrics.Update(func(info *metrics.MetricsInfo) {
		info.Indexer.Duration += time.Since(t0)
		info.Indexer.URL.RawURL = reqURL
		info.Indexer.Geometry = wkt
	})

	for _, ds := range metadata.GDALDatasets {
		if ds.NameSpace != q.Band && ds.NameSpace != "" {
			continue
		}
		g := &Granule{AcquisitionID: ds.ID, Tile: ds.Tile, NameSpace: q.Band, Path: ds.DSName, Band: 1}
		if len(ds.TimeStamps) > 0 {
			g.TimeStamp = ds.TimeStamps[len(ds.TimeStamps)-1]
			g.Band = len(ds.TimeStamps)
		}
		return g, nil
	}
	return nil, fmt.Errorf("product %s: %w: %s", q.Collection, ErrMissingBand, q.Band)
}
