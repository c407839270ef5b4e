package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/api/handlers"
	"github.com/BaSui01/hrmflow/config"
	"github.com/BaSui01/hrmflow/internal/server"
	"github.com/BaSui01/hrmflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 是 hrmflow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	rt        *runtime
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	health  *handlers.HealthHandler
	events  *handlers.EventsHandler
	limiter *RateLimiter

	hotReload      *config.HotReloadManager
	patternWatcher *config.FileWatcher

	bgCancel context.CancelFunc
}

// NewServer 创建服务器实例。level 由热更新调整。
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{cfg: cfg, configPath: configPath, logger: logger, level: level}
}

// Run starts every component, blocks until ctx is done or a server fails,
// then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		s.Shutdown()
		return err
	}

	var metricsErrs <-chan error
	if s.metricsManager != nil {
		metricsErrs = s.metricsManager.Errors()
	}
	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case runErr = <-s.httpManager.Errors():
	case runErr = <-metricsErrs:
	}
	s.Shutdown()
	return runErr
}

// Start 按顺序初始化：遥测 → 运行时 → 热更新 → HTTP → Metrics
func (s *Server) Start(ctx context.Context) error {
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		s.logger.Warn("telemetry disabled", zap.Error(err))
	}
	s.telemetry = providers

	rt, err := buildRuntime(ctx, s.cfg, s.logger, runtimeOptions{metrics: true, events: true})
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	s.rt = rt

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.bgCancel = cancel
	go rt.reportBreakers(bg, 15*time.Second)

	s.limiter = NewRateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger)
	go s.limiter.Cleanup(bg, time.Minute, 3*time.Minute)

	if err := s.startWatchers(bg); err != nil {
		return err
	}
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("hrmflow started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload", s.hotReload != nil))
	return nil
}

// =============================================================================
// 🔄 热更新
// =============================================================================

func (s *Server) startWatchers(ctx context.Context) error {
	if s.cfg.Patterns.Watch && s.cfg.Patterns.File != "" {
		w, err := s.rt.selector.Watch(ctx, s.cfg.Patterns.File)
		if err != nil {
			return fmt.Errorf("failed to watch pattern catalog: %w", err)
		}
		s.patternWatcher = w
	}

	if s.configPath == "" {
		return nil
	}
	s.hotReload = config.NewHotReloadManager(s.cfg, s.configPath, config.WithHotReloadLogger(s.logger))
	s.hotReload.OnReload(s.applyReload)
	if err := s.hotReload.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload: %w", err)
	}
	return nil
}

// applyReload pushes hot-reloadable fields into running components.
func (s *Server) applyReload(_, next *config.Config, changes []config.ConfigChange) {
	limitsChanged := false
	for _, c := range changes {
		switch c.Path {
		case "log.level":
			s.level.SetLevel(parseLevel(next.Log.Level))
		case "server.rate_limit_rps", "server.rate_limit_burst":
			limitsChanged = true
		case "engine.slow_execution":
			s.rt.engine.SetSlowExecution(next.Engine.SlowExecution)
		case "patterns.file":
			if next.Patterns.File == "" {
				continue
			}
			if err := s.rt.selector.ReloadFile(next.Patterns.File); err != nil {
				s.logger.Error("pattern catalog reload failed", zap.Error(err))
				continue
			}
			s.purgeResults()
		}
	}
	if limitsChanged {
		s.limiter.SetLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
	}
}

// purgeResults 清空结果缓存，旧模式产生的结果不再有效
func (s *Server) purgeResults() {
	if s.rt.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := s.rt.results.Purge(ctx)
	if err != nil {
		s.logger.Warn("result cache purge failed", zap.Error(err))
		return
	}
	s.logger.Info("result cache purged", zap.Int64("keys", n))
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册 API 路由
func (s *Server) routes() *http.ServeMux {
	rt := s.rt
	s.health = handlers.NewHealthHandler(s.logger)
	for _, c := range rt.checks {
		s.health.RegisterCheck(c)
	}
	query := handlers.NewQueryHandler(rt.engine, s.logger)
	hist := handlers.NewHistoryHandler(rt.history, s.logger)
	know := handlers.NewKnowledgeHandler(rt.knowledge, s.logger)

	ecfg := handlers.DefaultEventsConfig()
	ecfg.OriginPatterns = s.cfg.Server.CORSOrigins
	s.events = handlers.NewEventsHandler(rt.events, ecfg, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(buildInfo()))

	mux.HandleFunc("POST /api/v1/query", query.HandleQuery)
	mux.HandleFunc("POST /api/v1/query/batch", query.HandleBatch)
	mux.HandleFunc("POST /api/v1/analyze", query.HandleAnalyze)
	mux.HandleFunc("GET /api/v1/status", query.HandleStatus)
	mux.HandleFunc("GET /api/v1/history", hist.HandleRecent)
	mux.HandleFunc("GET /api/v1/knowledge", know.HandleRecall)
	mux.HandleFunc("GET /api/v1/knowledge/{key}", know.HandleGet)
	mux.HandleFunc("GET /api/v1/events", s.events.HandleEvents)
	return mux
}

// handler 构建中间件链
func (s *Server) handler() http.Handler {
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	mws := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.rt.collector != nil {
		mws = append(mws, MetricsMiddleware(s.rt.collector))
	}
	if s.telemetry.Enabled() {
		mws = append(mws, OTelTracing())
	}
	mws = append(mws,
		CORS(s.cfg.Server.CORSOrigins),
		s.limiter.Middleware(),
		Auth(s.cfg.Server.APIKeys, s.cfg.Server.JWT, skipAuthPaths, s.logger),
	)
	return Chain(s.routes(), mws...)
}

func (s *Server) startHTTPServer() error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager("api", s.handler(), server.Config{
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
		MaxConnections:  sc.MaxConnections,
		TLSCertFile:     sc.TLSCertFile,
		TLSKeyFile:      sc.TLSKeyFile,
	}, s.logger)
	// 事件流连接已被劫持，Shutdown 不会等待它们
	s.httpManager.OnShutdown(s.events.Close)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.rt.collector == nil || s.cfg.Server.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：HTTP（含事件流） → Metrics → 后台任务 → 运行时 → 遥测
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()
	var errs []error

	if s.httpManager != nil {
		errs = append(errs, s.httpManager.Shutdown(ctx))
	}
	if s.metricsManager != nil {
		errs = append(errs, s.metricsManager.Shutdown(ctx))
	}
	if s.hotReload != nil {
		errs = append(errs, s.hotReload.Stop())
	}
	if s.patternWatcher != nil {
		errs = append(errs, s.patternWatcher.Stop())
	}
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.rt != nil {
		errs = append(errs, s.rt.Close())
	}
	if s.telemetry != nil {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, s.telemetry.Shutdown(tctx))
		cancel()
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("graceful shutdown completed")
}
