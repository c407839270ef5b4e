package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Transport   string            `yaml:"transport" json:"transport"` // stdio | sse | websocket
	Command     string            `yaml:"command" json:"command,omitempty"`
	Args        []string          `yaml:"args" json:"args,omitempty"`
	Env         map[string]string `yaml:"env" json:"env,omitempty"`
	URL         string            `yaml:"url" json:"url,omitempty"`
	Framing     Framing           `yaml:"framing" json:"framing,omitempty"`
	CallTimeout time.Duration     `yaml:"call_timeout" json:"call_timeout,omitempty"`
	WebSocket   WSTransportConfig `yaml:"websocket" json:"websocket,omitempty"`
}

// Validate 校验服务器配置
func (c ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server name is required")
	}
	switch c.Transport {
	case "", "stdio":
		if c.Command == "" {
			return fmt.Errorf("mcp server %s: command is required for stdio", c.Name)
		}
	case "sse", "websocket":
		if c.URL == "" {
			return fmt.Errorf("mcp server %s: url is required for %s", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("mcp server %s: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// Dial opens the transport described by cfg.
func Dial(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case "sse":
		t := NewSSETransport(cfg.URL, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	case "websocket":
		wsCfg := cfg.WebSocket
		if len(wsCfg.Subprotocols) == 0 {
			wsCfg.Subprotocols = DefaultWSTransportConfig().Subprotocols
		}
		t := NewWebSocketTransport(cfg.URL, wsCfg, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	default:
		return StartProcess(ctx, cfg.Command, cfg.Args, cfg.Env, cfg.Framing, logger)
	}
}

// Manager owns one client per configured server.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
	dial    func(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (Transport, error)
}

// NewManager 创建 MCP 连接管理器
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		clients: make(map[string]*Client),
		logger:  logger.With(zap.String("component", "mcp_manager")),
		dial:    Dial,
	}
}

// Connect starts a client for every server. A server that fails to connect
// is logged and skipped; the joined errors are returned alongside.
func (m *Manager) Connect(ctx context.Context, servers []ServerConfig) error {
	var errs []error
	for _, cfg := range servers {
		t, err := m.dial(ctx, cfg, m.logger)
		if err != nil {
			m.logger.Warn("MCP server unavailable", zap.String("server", cfg.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
			continue
		}
		opts := []ClientOption{WithClientLogger(m.logger)}
		if cfg.CallTimeout > 0 {
			opts = append(opts, WithCallTimeout(cfg.CallTimeout))
		}
		c := NewClient(cfg.Name, t, opts...)
		if err := c.Start(ctx); err != nil {
			m.logger.Warn("MCP handshake failed", zap.String("server", cfg.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
			continue
		}
		m.mu.Lock()
		if old, ok := m.clients[cfg.Name]; ok {
			_ = old.Close()
		}
		m.clients[cfg.Name] = c
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Client returns the client for a server name.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Servers lists connected server names.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for n := range m.clients {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Close closes every client.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
