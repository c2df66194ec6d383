package processor

import (
	"context"
	"errors"

	"github.com/bimalab/fireregime/metrics"
	"github.com/bimalab/fireregime/utils"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// CachedSource memoises a RasterSource by query key. Cache failures degrade
// to a direct read.
type CachedSource struct {
	Source RasterSource
	Cache  utils.Cache
	Log    *zap.SugaredLogger
}

func NewCachedSource(src RasterSource, cache utils.Cache, log *zap.SugaredLogger) *CachedSource {
	return &CachedSource{Source: src, Cache: cache, Log: log}
}

func (cs *CachedSource) lookup(key string, v interface{}) bool {
	payload, err := cs.Cache.Get(key)
	if err != nil {
		if err != utils.ErrCacheMiss {
			cs.Log.Warnf("cache get %s: %v", key, err)
		}
		return false
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		cs.Log.Warnf("cache decode %s: %v", key, err)
		return false
	}
	return true
}

func (cs *CachedSource) store(key string, v interface{}, mc *metrics.MetricsCollector) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		cs.Log.Warnf("cache encode %s: %v", key, err)
		return
	}
	err = cs.Cache.Set(key, payload)
	switch {
	case errors.Is(err, utils.ErrCacheItemTooLarge):
		cs.Log.Warnf("cache set %s skipped: %v", key, err)
		mc.Update(func(info *metrics.MetricsInfo) {
			info.Indexer.CacheOversize++
		})
	case err != nil:
		cs.Log.Warnf("cache set %s: %v", key, err)
	}
}

func (cs *CachedSource) Acquisitions(ctx context.Context, q *AcquisitionQuery) (*Collection, error) {
	key := q.Key()
	var coll Collection
	if cs.lookup(key, &coll) {
		q.Metrics.Update(func(info *metrics.MetricsInfo) {
			info.Indexer.CacheHits++
			info.Indexer.NumAcquisitions += len(coll.Acquisitions)
		})
		return &coll, nil
	}
	res, err := cs.Source.Acquisitions(ctx, q)
	if err != nil {
		return nil, err
	}
	cs.store(key, res, q.Metrics)
	return res, nil
}

func (cs *CachedSource) Product(ctx context.Context, q *ProductQuery) (*Raster, error) {
	key := q.Key()
	var r Raster
	if cs.lookup(key, &r) {
		q.Metrics.Update(func(info *metrics.MetricsInfo) {
			info.Indexer.CacheHits++
		})
		return &r, nil
	}
	res, err := cs.Source.Product(ctx, q)
	if err != nil {
		return nil, err
	}
	cs.store(key, res, q.Metrics)
	return res, nil
}
