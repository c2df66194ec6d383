package processor

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/worker/rasterservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// pathReader returns, for every pixel, a value derived from the dataset
// path so tests can tell granules apart.
type pathReader map[string]float64

func (r pathReader) Read(ctx context.Context, req *rasterservice.ReadRequest) (*rasterservice.ReadResult, error) {
	band := make([]float64, req.Width*req.Height)
	for i := range band {
		band[i] = r[req.Path]
	}
	band[0] = -9999
	return &rasterservice.ReadResult{Bands: [][]float64{band}, NoData: -9999, HasNoData: true, BytesRead: 10}, nil
}

// footprintReader fills pixels outside a granule's footprint with zero
// and reports them in the result mask, as a warp without source no-data
// does.
type footprintReader map[string][]bool

func (r footprintReader) Read(ctx context.Context, req *rasterservice.ReadRequest) (*rasterservice.ReadResult, error) {
	inside := r[req.Path]
	band := make([]float64, req.Width*req.Height)
	for i := range band {
		if inside[i] {
			band[i] = 2000
		}
	}
	return &rasterservice.ReadResult{Bands: [][]float64{band}, Mask: inside}, nil
}

func grpcSource(t *testing.T, reader rasterservice.RasterReader, masBody string) *GRPCRasterSource {
	lis := bufconn.Listen(1 << 20)
	log := zap.NewNop().Sugar()
	pool := rasterservice.NewReaderPool(2, reader, log)
	s := grpc.NewServer()
	rasterservice.RegisterRasterWorkerServer(s, &rasterservice.Server{Pool: pool})
	go s.Serve(lis)
	t.Cleanup(func() {
		s.Stop()
		pool.Close()
	})

	var req http.Request
	srv := masServer(t, masBody, &req)
	src := NewGRPCRasterSource(NewAcquisitionIndexer(strings.TrimPrefix(srv.URL, "http://"), log),
		[]string{"passthrough:///bufnet"}, 1<<20, 2, log)
	src.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	}
	return src
}

func TestGRPCRasterSourceAcquisitions(t *testing.T) {
	src := grpcSource(t, pathReader{
		"/data/T22LHH/20210310/B8.tif":  3000,
		"/data/T22LHH/20210310/B12.tif": 1000,
		"/data/T22LHH/stack/SCL.nc":     4,
	}, masResponse)
	regions, err := ParseRegions([]byte(twoRegions), "", "", "")
	require.NoError(t, err)

	mc := metrics.NewMetricsCollector(nil)
	q := &AcquisitionQuery{
		Collection:    "/s2/l2a",
		Regions:       regions,
		Grid:          testGrid(3, 1),
		Bands:         []string{"B8", "B12", "SCL"},
		StartTime:     day("2021-03-01T00:00"),
		EndTime:       day("2021-03-31T23:59"),
		MaxCloudCover: 20,
		Metrics:       mc,
	}
	coll, err := src.Acquisitions(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, coll.Acquisitions, 2)

	acq := coll.Acquisitions[1]
	assert.Equal(t, "S2A_T22LHH_20210310", acq.ID)
	assert.Equal(t, "22LHH", acq.Tile)
	assert.True(t, acq.Raster.TimeStamp.Equal(day("2021-03-10T13:20")))
	assert.ElementsMatch(t, []string{"B8", "B12"}, acq.Raster.NameSpaces)
	assert.Equal(t, map[int]float64{1: 3000, 2: 3000}, validData(acq.Raster.Bands["B8"]))

	assert.Equal(t, 3, mc.Info.RPC.NumReads)
	assert.Equal(t, int64(30), mc.Info.RPC.BytesRead)
	assert.Equal(t, 2, mc.Info.Indexer.NumAcquisitions)
}

func TestGRPCRasterSourceMissingBand(t *testing.T) {
	src := grpcSource(t, pathReader{}, masResponse)
	regions, err := ParseRegions([]byte(twoRegions), "", "", "")
	require.NoError(t, err)

	_, err = src.Acquisitions(context.Background(), &AcquisitionQuery{
		Collection: "/s2/l2a",
		Regions:    regions,
		Grid:       testGrid(3, 1),
		Bands:      []string{"B8", "B5"},
		StartTime:  day("2021-03-01T00:00"),
		EndTime:    day("2021-03-31T23:59"),
	})
	assert.ErrorIs(t, err, ErrMissingBand)
}

func TestGRPCRasterSourceProduct(t *testing.T) {
	src := grpcSource(t, pathReader{"/data/frequency.tif": 700}, `{"gdal": [{"ds_name": "/data/frequency.tif",
	  "namespace": "frequency", "timestamps": ["2020-01-01T00:00:00Z"]}]}`)
	regions, err := ParseRegions([]byte(twoRegions), "", "", "")
	require.NoError(t, err)

	r, err := src.Product(context.Background(), &ProductQuery{Collection: "/fire", Band: "frequency", Grid: testGrid(3, 1), Regions: regions})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: 700, 2: 700}, validData(r.Bands["frequency"]))
}

func TestGRPCRasterSourceFootprintFillIsInvalid(t *testing.T) {
	src := grpcSource(t, footprintReader{
		"/data/T22LHH/B8.tif": {true, false, false},
		"/data/T23LKC/B8.tif": {false, true, true},
	}, `{"gdal": [
	  {"ds_name": "/data/T22LHH/B8.tif", "namespace": "B8", "id": "A_T22LHH", "tile": "22LHH",
	   "timestamps": ["2021-03-10T13:20:00Z"]},
	  {"ds_name": "/data/T23LKC/B8.tif", "namespace": "B8", "id": "B_T23LKC", "tile": "23LKC",
	   "timestamps": ["2021-03-10T13:21:00Z"]}]}`)
	regions, err := ParseRegions([]byte(twoRegions), "", "", "")
	require.NoError(t, err)

	coll, err := src.Acquisitions(context.Background(), &AcquisitionQuery{
		Collection: "/s2/l2a",
		Regions:    regions,
		Grid:       testGrid(3, 1),
		Bands:      []string{"B8"},
		StartTime:  day("2021-03-01T00:00"),
		EndTime:    day("2021-03-31T23:59"),
	})
	require.NoError(t, err)
	require.Len(t, coll.Acquisitions, 2)
	want := map[string]map[int]float64{
		"22LHH": {0: 2000},
		"23LKC": {1: 2000, 2: 2000},
	}
	for _, acq := range coll.Acquisitions {
		assert.Equal(t, want[acq.Tile], validData(acq.Raster.Bands["B8"]))
	}

	ts, err := MosaicByDate(coll)
	require.NoError(t, err)
	require.Len(t, ts.Rasters, 1)
	assert.Equal(t, map[int]float64{0: 2000, 1: 2000, 2: 2000}, validData(ts.Rasters[0].Bands["B8"]))
}

func TestGRPCRasterSourceOffline(t *testing.T) {
	src := &GRPCRasterSource{Log: zap.NewNop().Sugar()}
	_, _, err := src.dial(1)
	assert.Error(t, err)
}

func TestExtractEPSGCode(t *testing.T) {
	code, err := extractEPSGCode("EPSG:4674")
	require.NoError(t, err)
	assert.Equal(t, 4674, code)
	_, err = extractEPSGCode("+proj=longlat")
	assert.Error(t, err)
}
