package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/BaSui01/hrmflow/internal/tlsutil"
)

// =============================================================================
// 🌐 HTTP 服务器管理器
// =============================================================================

// Config 服务器配置
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
	// MaxConnections 限制并发连接数，0 表示不限制
	MaxConnections int
	// 同时设置时以 TLS 提供服务
	TLSCertFile string
	TLSKeyFile  string
}

// TLSEnabled reports whether both certificate and key are configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager runs one http.Server (API or metrics) with graceful shutdown.
type Manager struct {
	name     string
	server   *http.Server
	config   Config
	logger   *zap.Logger
	errCh    chan error
	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// NewManager 创建服务器管理器，name 仅用于日志
func NewManager(name string, handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		name: name,
		server: &http.Server{
			Addr:           config.Addr,
			Handler:        handler,
			ReadTimeout:    config.ReadTimeout,
			WriteTimeout:   config.WriteTimeout,
			IdleTimeout:    config.IdleTimeout,
			MaxHeaderBytes: config.MaxHeaderBytes,
		},
		config: config,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		errCh:  make(chan error, 1),
	}
}

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.config.MaxConnections)
	}
	m.listener = ln
	useTLS := m.config.TLSEnabled()
	if useTLS {
		m.server.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	m.logger.Info("starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", useTLS),
		zap.Int("max_connections", m.config.MaxConnections))

	go func() {
		var err error
		if useTLS {
			err = m.server.ServeTLS(ln, m.config.TLSCertFile, m.config.TLSKeyFile)
		} else {
			err = m.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Run starts the server and blocks until ctx is done or serving fails,
// then shuts down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
	}
	return errors.Join(serveErr, m.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown 在 ShutdownTimeout 内排空请求
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// OnShutdown registers fn to run when Shutdown begins. Use it for hijacked
// connections such as WebSocket streams, which Shutdown does not track.
func (m *Manager) OnShutdown(fn func()) {
	m.server.RegisterOnShutdown(fn)
}

// Errors returns asynchronous serve errors.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the bound address once started, else the configured one.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 检查服务器是否已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
