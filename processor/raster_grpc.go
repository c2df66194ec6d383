package processor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/worker/rasterservice"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCRasterSource resolves granules through the indexer and reads them
// from a pool of raster workers.
type GRPCRasterSource struct {
	Indexer            *AcquisitionIndexer
	Clients            []string
	MaxGrpcRecvMsgSize int
	GrpcConcLimit      int
	DialOptions        []grpc.DialOption
	Log                *zap.SugaredLogger
}

func NewGRPCRasterSource(indexer *AcquisitionIndexer, clients []string, maxGrpcRecvMsgSize, grpcConcLimit int, log *zap.SugaredLogger) *GRPCRasterSource {
	return &GRPCRasterSource{
		Indexer:            indexer,
		Clients:            clients,
		MaxGrpcRecvMsgSize: maxGrpcRecvMsgSize,
		GrpcConcLimit:      grpcConcLimit,
		Log:                log,
	}
}

func (gs *GRPCRasterSource) dial(nGrans int) ([]*rasterservice.Client, func(), error) {
	concLimit := gs.GrpcConcLimit
	if concLimit < 1 {
		concLimit = 1
	}
	effectivePoolSize := int(math.Ceil(float64(nGrans) / float64(concLimit)))
	if effectivePoolSize < 1 {
		effectivePoolSize = 1
	} else if effectivePoolSize > len(gs.Clients) {
		effectivePoolSize = len(gs.Clients)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(gs.MaxGrpcRecvMsgSize)),
	}
	opts = append(opts, gs.DialOptions...)

	clientIdx := rand.Perm(len(gs.Clients))

	var conns []*grpc.ClientConn
	var clients []*rasterservice.Client
	for i := 0; i < effectivePoolSize; i++ {
		conn, err := grpc.NewClient(gs.Clients[clientIdx[i]], opts...)
		if err != nil {
			gs.Log.Warnf("gRPC connection problem: %v", err)
			continue
		}
		conns = append(conns, conn)
		clients = append(clients, rasterservice.NewClient(conn))
	}
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}
	if len(clients) == 0 {
		return nil, closeAll, fmt.Errorf("All gRPC servers offline")
	}
	return clients, closeAll, nil
}

// readAll reads every granule onto grid. Results are indexed like grans.
func (gs *GRPCRasterSource) readAll(ctx context.Context, grans []*Granule, grid Grid, mc *metrics.MetricsCollector) ([]*rasterservice.ReadResult, error) {
	clients, closeAll, err := gs.dial(len(grans))
	defer closeAll()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t0 := time.Now()
	results := make([]*rasterservice.ReadResult, len(grans))
	limiter := NewConcLimiter(gs.GrpcConcLimit * len(clients))

	var errOnce sync.Once
	var readErr error
	fail := func(err error) {
		errOnce.Do(func() {
			readErr = err
			cancel()
		})
	}

	for i, g := range grans {
		if err := limiter.Increase(ctx); err != nil {
			fail(err)
			break
		}
		go func(i int, g *Granule) {
			defer limiter.Decrease()
			res, err := clients[i%len(clients)].Read(ctx, &rasterservice.ReadRequest{
				Path:         g.Path,
				Bands:        []int{g.Band},
				Width:        grid.Width,
				Height:       grid.Height,
				GeoTransform: grid.GeoTransform,
				CRS:          grid.CRS,
			})
			if err != nil {
				fail(fmt.Errorf("reading %s band %d: %v", g.Path, g.Band, err))
				return
			}
			if len(res.Bands) != 1 || len(res.Bands[0]) != grid.Size() {
				fail(fmt.Errorf("%w: worker returned %d bands for %s", ErrGridMismatch, len(res.Bands), g.Path))
				return
			}
			results[i] = res
		}(i, g)
	}
	limiter.Wait()

	if readErr != nil {
		return nil, readErr
	}

	mc.Update(func(info *metrics.MetricsInfo) {
		info.RPC.Duration += time.Since(t0)
		info.RPC.NumReads += len(grans)
		for _, r := range results {
			info.RPC.BytesRead += r.BytesRead
		}
	})
	return results, nil
}

func (gs *GRPCRasterSource) Acquisitions(ctx context.Context, q *AcquisitionQuery) (*Collection, error) {
	grans, err := gs.Indexer.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	coll := &Collection{Grid: q.Grid}
	if len(grans) == 0 {
		return coll, nil
	}

	found := map[string]bool{}
	for _, g := range grans {
		found[g.NameSpace] = true
	}
	for _, b := range q.Bands {
		if !found[b] {
			return nil, fmt.Errorf("%w: band '%v' not found in %s", ErrMissingBand, b, q.Collection)
		}
	}

	results, err := gs.readAll(ctx, grans, q.Grid, q.Metrics)
	if err != nil {
		return nil, err
	}

	byID := map[string]*Acquisition{}
	for i, g := range grans {
		acq, ok := byID[g.AcquisitionID]
		if !ok {
			acq = &Acquisition{
				ID:         g.AcquisitionID,
				Tile:       g.Tile,
				CloudCover: g.CloudCover,
				Raster:     NewRaster(q.Grid, g.AcquisitionID, g.TimeStamp),
			}
			byID[g.AcquisitionID] = acq
			coll.Acquisitions = append(coll.Acquisitions, acq)
		}
		res := results[i]
		acq.Raster.withBand(g.NameSpace, resultBand(res))
	}

	q.Metrics.Update(func(info *metrics.MetricsInfo) {
		info.Indexer.NumAcquisitions += len(coll.Acquisitions)
	})
	return coll, nil
}

func (gs *GRPCRasterSource) Product(ctx context.Context, q *ProductQuery) (*Raster, error) {
	gran, err := gs.Indexer.ProductGranule(ctx, q)
	if err != nil {
		return nil, err
	}
	results, err := gs.readAll(ctx, []*Granule{gran}, q.Grid, q.Metrics)
	if err != nil {
		return nil, err
	}
	r := NewRaster(q.Grid, q.Collection, gran.TimeStamp)
	r.withBand(q.Band, resultBand(results[0]))
	return r, nil
}

// resultBand combines the no-data value with the worker's footprint mask.
func resultBand(res *rasterservice.ReadResult) *MaskedBand {
	b := NewMaskedBandFromData(res.Bands[0], res.NoData, res.HasNoData)
	if len(res.Mask) == len(b.Valid) {
		for i, inside := range res.Mask {
			b.Valid[i] = b.Valid[i] && inside
		}
	}
	return b
}

var epsgRe = regexp.MustCompile(`(?i)^EPSG:(\d+)$`)

func extractEPSGCode(srs string) (int, error) {
	m := epsgRe.FindStringSubmatch(srs)
	if m == nil {
		return 0, fmt.Errorf("invalid EPSG code: %s", srs)
	}
	return strconv.Atoi(m[1])
}
