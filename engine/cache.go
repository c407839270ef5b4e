package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/internal/cache"
)

// ResultCache stores finished results keyed by query.
type ResultCache interface {
	Get(ctx context.Context, query string) (*Result, bool)
	Set(ctx context.Context, query string, r *Result)
}

// CacheMetrics receives cache hit/miss counts. *metrics.Collector implements it.
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const resultNamespace = "result"

// RedisResultCache is a ResultCache over the Redis cache manager. Lookup
// failures other than a miss are logged and treated as a miss.
type RedisResultCache struct {
	manager *cache.Manager
	ttl     time.Duration
	metrics CacheMetrics
	logger  *zap.Logger
}

// NewRedisResultCache wraps manager. metrics may be nil.
func NewRedisResultCache(manager *cache.Manager, ttl time.Duration, metrics CacheMetrics, logger *zap.Logger) *RedisResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisResultCache{
		manager: manager,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "result_cache")),
	}
}

func (c *RedisResultCache) Get(ctx context.Context, query string) (*Result, bool) {
	var r Result
	err := c.manager.GetJSON(ctx, cache.QueryKey(resultNamespace, query), &r)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("result cache lookup failed", zap.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(resultNamespace)
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(resultNamespace)
	}
	return &r, true
}

func (c *RedisResultCache) Set(ctx context.Context, query string, r *Result) {
	if err := c.manager.SetJSON(ctx, cache.QueryKey(resultNamespace, query), r, c.ttl); err != nil {
		c.logger.Warn("result cache store failed", zap.Error(err))
	}
}

// Purge drops every cached result. Called when the pattern catalog changes,
// since cached results were produced by the old patterns.
func (c *RedisResultCache) Purge(ctx context.Context) (int64, error) {
	return c.manager.DeletePrefix(ctx, resultNamespace+":")
}
