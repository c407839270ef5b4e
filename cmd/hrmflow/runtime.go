package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/hrmflow/api/handlers"
	"github.com/BaSui01/hrmflow/complexity"
	"github.com/BaSui01/hrmflow/config"
	"github.com/BaSui01/hrmflow/convergence"
	"github.com/BaSui01/hrmflow/engine"
	"github.com/BaSui01/hrmflow/history"
	"github.com/BaSui01/hrmflow/internal/cache"
	"github.com/BaSui01/hrmflow/internal/circuitbreaker"
	"github.com/BaSui01/hrmflow/internal/database"
	"github.com/BaSui01/hrmflow/internal/metrics"
	"github.com/BaSui01/hrmflow/internal/tokenizer"
	"github.com/BaSui01/hrmflow/knowledge"
	"github.com/BaSui01/hrmflow/mcp"
	"github.com/BaSui01/hrmflow/pattern"
	"github.com/BaSui01/hrmflow/tools"
)

// =============================================================================
// 🧩 运行时组件装配
// =============================================================================

// runtime owns every long-lived component behind the engine. serve and the
// one-shot query commands build the same runtime.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector // nil when metrics are disabled
	pool      *database.PoolManager
	cache     *cache.Manager
	mcp       *mcp.Manager

	selector  *pattern.Selector
	knowledge knowledge.Store
	history   history.Store
	invoker   *tools.Invoker
	results   *engine.RedisResultCache // nil without a result cache
	events    *engine.EventBus
	engine    *engine.Engine

	checks  []handlers.HealthCheck
	closers []func() error
}

type runtimeOptions struct {
	metrics bool
	events  bool
}

func (r *runtime) onClose(fn func() error) { r.closers = append(r.closers, fn) }

// Close releases components in reverse order of creation.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// buildRuntime wires storage, tools and the engine from cfg. On error every
// component created so far is closed.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (_ *runtime, err error) {
	r := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if opts.metrics && cfg.Metrics.Enabled {
		r.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}
	if err := r.initDatabase(); err != nil {
		return nil, err
	}
	if err := r.initRedis(); err != nil {
		return nil, err
	}
	if err := r.initStores(ctx); err != nil {
		return nil, err
	}
	if err := r.initPatterns(); err != nil {
		return nil, err
	}
	if err := r.initTools(ctx); err != nil {
		return nil, err
	}
	if opts.events {
		r.events = engine.NewEventBus(cfg.Engine.EventBuffer, logger)
		r.onClose(func() error { r.events.Stop(); return nil })
	}
	if err := r.initEngine(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *runtime) initDatabase() error {
	if !r.cfg.UsesDatabase() {
		return nil
	}
	db, err := database.Open(r.cfg.Database, r.logger)
	if err != nil {
		return err
	}
	popts := []database.PoolOption{database.WithPoolName(r.cfg.Database.Driver)}
	if r.collector != nil {
		popts = append(popts, database.WithStatsRecorder(r.collector))
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(r.cfg.Database), r.logger, popts...)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return err
	}
	r.pool = pool
	r.onClose(pool.Close)
	r.checks = append(r.checks, handlers.NewCheck("database", pool.Ping))
	return nil
}

func (r *runtime) initRedis() error {
	if !r.cfg.UsesRedis() {
		return nil
	}
	rc := r.cfg.Redis
	cc := cache.DefaultConfig()
	cc.Addr = rc.Addr
	cc.Password = rc.Password
	cc.DB = rc.DB
	cc.PoolSize = rc.PoolSize
	cc.MinIdleConns = rc.MinIdleConns
	cc.TLSEnabled = rc.TLSEnabled
	cc.CAFile = rc.CAFile
	cc.KeyPrefix = rc.KeyPrefix
	if r.cfg.Cache.TTL > 0 {
		cc.DefaultTTL = r.cfg.Cache.TTL
	}
	m, err := cache.NewManager(cc, r.logger)
	if err != nil {
		return err
	}
	r.cache = m
	r.onClose(m.Close)
	r.checks = append(r.checks, handlers.NewCheck("redis", m.Ping))
	return nil
}

func (r *runtime) gormDB() *gorm.DB {
	if r.pool == nil {
		return nil
	}
	return r.pool.DB()
}

func (r *runtime) initStores(ctx context.Context) error {
	kc := r.cfg.Knowledge
	switch kc.Backend {
	case "gorm":
		s, err := knowledge.NewGormStore(r.gormDB(), r.cfg.Database.AutoMigrate, r.logger)
		if err != nil {
			return err
		}
		r.knowledge = s
	case "redis":
		r.knowledge = knowledge.NewRedisStore(r.cache.Client(), kc.RedisPrefix, kc.RedisTTL)
	case "mongo":
		mc := r.cfg.Mongo
		timeout := mc.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		s, err := knowledge.NewMongoStore(cctx, mc.URI, mc.Database, mc.Collection)
		if err != nil {
			return err
		}
		r.knowledge = s
		r.checks = append(r.checks, handlers.NewCheck("mongo", func(ctx context.Context) error {
			_, err := s.Count(ctx)
			return err
		}))
	default:
		r.knowledge = knowledge.NewMemoryStore()
	}
	r.onClose(r.knowledge.Close)

	hc := r.cfg.History
	switch hc.Backend {
	case "gorm":
		s, err := history.NewGormStore(r.gormDB(), r.cfg.Database.AutoMigrate, r.logger)
		if err != nil {
			return err
		}
		r.history = s
	default:
		r.history = history.NewMemoryStore(hc.Capacity)
	}
	r.onClose(r.history.Close)

	r.logger.Info("stores initialized",
		zap.String("knowledge", kc.Backend),
		zap.String("history", hc.Backend))
	return nil
}

func (r *runtime) initPatterns() error {
	cat := pattern.DefaultCatalog()
	if f := r.cfg.Patterns.File; f != "" {
		loaded, err := pattern.LoadCatalog(f)
		if err != nil {
			return fmt.Errorf("load pattern catalog: %w", err)
		}
		cat = loaded
	}
	r.selector = pattern.NewSelector(cat, r.logger)
	return nil
}

func (r *runtime) initTools(ctx context.Context) error {
	tc := r.cfg.Tools
	registry := tools.NewRegistry(r.logger)
	for name, qualified := range tc.Aliases {
		registry.SetAlias(name, qualified)
	}
	tools.RegisterBuiltins(registry, r.knowledge)

	if len(tc.MCPServers) > 0 {
		r.mcp = mcp.NewManager(r.logger)
		r.onClose(r.mcp.Close)
		if err := r.mcp.Connect(ctx, tc.MCPServers); err != nil {
			// 不可用的服务器回退到内置工具
			r.logger.Warn("some MCP servers are unavailable", zap.Error(err))
		}
		callers := make(map[string]tools.RemoteCaller)
		for _, name := range r.mcp.Servers() {
			if c, ok := r.mcp.Client(name); ok {
				callers[name] = c
			}
		}
		bound := registry.BindRemote(callers)
		r.logger.Info("remote tools bound", zap.Strings("tools", bound))
	}

	breaker := circuitbreaker.DefaultConfig()
	if tc.BreakerThreshold > 0 {
		breaker.Threshold = tc.BreakerThreshold
	}
	if tc.BreakerResetTimeout > 0 {
		breaker.ResetTimeout = tc.BreakerResetTimeout
	}
	icfg := tools.InvokerConfig{
		MaxAttempts:    tc.MaxAttempts,
		RetryBaseDelay: tc.RetryBaseDelay,
		CallTimeout:    tc.CallTimeout,
		RateLimit:      tc.RateLimit,
		RateBurst:      tc.RateBurst,
		Breaker:        breaker,
	}
	var iopts []tools.InvokerOption
	if r.collector != nil {
		iopts = append(iopts, tools.WithRecorder(r.collector))
	}
	r.invoker = tools.NewInvoker(registry, icfg, r.logger, iopts...)
	return nil
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := cfg.Engine
	return engine.Config{
		MaxQueryLength:       ec.MaxQueryLength,
		MaxIterations:        ec.MaxIterations,
		ConvergenceThreshold: cfg.Convergence.Threshold,
		AdvancedConvergence:  ec.AdvancedConvergence,
		MaxContextTokens:     ec.MaxContextTokens,
		MaxConcurrent:        ec.MaxConcurrent,
		BatchParallelism:     ec.BatchParallelism,
		MaxBatchSize:         ec.MaxBatchSize,
		CacheTTL:             cfg.Cache.TTL,
		SlowExecution:        ec.SlowExecution,
	}
}

func (r *runtime) initEngine() error {
	cfg := r.cfg
	ecfg := engineConfig(cfg)

	assessor := complexity.New(cfg.Engine.Assessor)
	if cfg.Engine.AssessorCacheSize > 0 {
		assessor = complexity.NewCachingAssessor(assessor, cfg.Engine.AssessorCacheSize)
	}
	opts := []engine.Option{
		engine.WithAssessor(assessor),
		engine.WithSelector(r.selector),
		engine.WithHistory(r.history),
	}
	if cfg.Engine.MaxContextTokens > 0 {
		opts = append(opts, engine.WithTokenCounter(
			tokenizer.New(cfg.Engine.Tokenizer, cfg.Engine.TokenEncoding, r.logger)))
	}
	if ecfg.AdvancedConvergence {
		var store convergence.PerformanceStore = convergence.NewMemoryStore()
		if cfg.Convergence.PerformanceStore == "redis" {
			store = convergence.NewRedisStore(r.cache.Client(), cfg.Convergence.RedisKey)
		}
		opts = append(opts, engine.WithAdvancedAnalyzer(
			convergence.NewAdvancedAnalyzer(ecfg.ConvergenceThreshold, store, r.logger)))
	}
	if cfg.Cache.Enabled && r.cache != nil {
		var cm engine.CacheMetrics
		if r.collector != nil {
			cm = r.collector
		}
		r.results = engine.NewRedisResultCache(r.cache, cfg.Cache.TTL, cm, r.logger)
		opts = append(opts, engine.WithResultCache(r.results))
	}
	if r.events != nil {
		opts = append(opts, engine.WithEventBus(r.events))
	}
	if r.collector != nil {
		opts = append(opts, engine.WithRecorder(r.collector))
	}

	e, err := engine.New(ecfg, r.invoker, r.logger, opts...)
	if err != nil {
		return err
	}
	r.engine = e
	return nil
}

// reportBreakers publishes circuit breaker states until ctx is done.
func (r *runtime) reportBreakers(ctx context.Context, interval time.Duration) {
	if r.collector == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, st := range r.invoker.Breakers().States() {
				r.collector.RecordBreakerState(name, int(st))
			}
		}
	}
}
