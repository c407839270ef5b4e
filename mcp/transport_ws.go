package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WSState represents the connection state of a WebSocket transport.
type WSState string

const (
	WSStateDisconnected WSState = "disconnected"
	WSStateConnecting   WSState = "connecting"
	WSStateConnected    WSState = "connected"
	WSStateReconnecting WSState = "reconnecting"
	WSStateFailed       WSState = "failed"
	WSStateClosed       WSState = "closed"
)

// WSTransportConfig configures the WebSocket transport.
type WSTransportConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"` // 0 disables heartbeat
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
	MaxReconnects     int           `yaml:"max_reconnects" json:"max_reconnects"` // 0 disables reconnect
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxBackoff        time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Subprotocols      []string      `yaml:"subprotocols" json:"subprotocols"`
	ReadLimit         int64         `yaml:"read_limit" json:"read_limit"`
}

// DefaultWSTransportConfig returns the defaults used for configured servers.
func DefaultWSTransportConfig() WSTransportConfig {
	return WSTransportConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxReconnects:     5,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		Subprotocols:      []string{"mcp"},
		ReadLimit:         4 << 20,
	}
}

// WebSocketTransport implements Transport over a WebSocket with ping
// heartbeats and exponential-backoff reconnection.
type WebSocketTransport struct {
	url    string
	config WSTransportConfig
	logger *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	state         WSState
	onStateChange func(WSState)
	reconnectMu   sync.Mutex
	done          chan struct{}
	closed        bool
	wg            sync.WaitGroup
}

// NewWebSocketTransport creates a WebSocket transport. Zero config fields
// take their defaults.
func NewWebSocketTransport(url string, config WSTransportConfig, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultWSTransportConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = def.ReconnectDelay
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = def.ReadLimit
	}
	return &WebSocketTransport{
		url:    url,
		config: config,
		logger: logger.With(zap.String("component", "mcp_ws_transport")),
		state:  WSStateDisconnected,
		done:   make(chan struct{}),
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (t *WebSocketTransport) OnStateChange(fn func(WSState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

func (t *WebSocketTransport) setState(s WSState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	fn := t.onStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// State returns the current connection state.
func (t *WebSocketTransport) State() WSState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the server and starts the heartbeat.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.setState(WSStateConnecting)
	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(WSStateDisconnected)
		return fmt.Errorf("websocket connect: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(WSStateConnected)

	if t.config.HeartbeatInterval > 0 {
		t.wg.Add(1)
		go t.heartbeat()
	}
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		Subprotocols: t.config.Subprotocols,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(t.config.ReadLimit)
	return conn, nil
}

func (t *WebSocketTransport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.conn == nil {
		return nil, fmt.Errorf("websocket: not connected")
	}
	return t.conn, nil
}

// Send writes one message. A failed write triggers one reconnect and retry.
func (t *WebSocketTransport) Send(ctx context.Context, msg *MCPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn, err := t.current()
	if err != nil {
		return err
	}
	writeErr := conn.Write(ctx, websocket.MessageText, body)
	if writeErr == nil || ctx.Err() != nil || t.config.MaxReconnects == 0 {
		return writeErr
	}

	t.logger.Warn("send failed, reconnecting", zap.Error(writeErr))
	if err := t.reconnect(ctx, conn); err != nil {
		return fmt.Errorf("send failed and reconnect failed: %w", errors.Join(writeErr, err))
	}
	if conn, err = t.current(); err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, body)
}

// Receive reads the next message, reconnecting on read errors when enabled.
func (t *WebSocketTransport) Receive(ctx context.Context) (*MCPMessage, error) {
	for {
		conn, err := t.current()
		if err != nil {
			return nil, err
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.done:
				return nil, ErrTransportClosed
			default:
			}
			if t.config.MaxReconnects == 0 {
				return nil, err
			}
			t.logger.Warn("receive failed, reconnecting", zap.Error(err))
			if rerr := t.reconnect(ctx, conn); rerr != nil {
				return nil, fmt.Errorf("receive failed and reconnect failed: %w", errors.Join(err, rerr))
			}
			continue
		}

		var msg MCPMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		return &msg, nil
	}
}

// reconnect replaces stale with a fresh connection. Concurrent callers that
// observe the same stale connection share one reconnect.
func (t *WebSocketTransport) reconnect(ctx context.Context, stale *websocket.Conn) error {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if t.conn != stale && t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.conn = nil
	t.mu.Unlock()
	if stale != nil {
		_ = stale.Close(websocket.StatusGoingAway, "reconnecting")
	}

	t.setState(WSStateReconnecting)
	delay := t.config.ReconnectDelay
	for attempt := 1; attempt <= t.config.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrTransportClosed
		case <-time.After(delay):
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.logger.Warn("reconnect dial failed", zap.Int("attempt", attempt), zap.Error(err))
			delay *= 2
			if delay > t.config.MaxBackoff {
				delay = t.config.MaxBackoff
			}
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(WSStateConnected)
		t.logger.Info("reconnected", zap.Int("attempt", attempt))
		return nil
	}

	t.setState(WSStateFailed)
	return fmt.Errorf("max reconnect attempts (%d) reached", t.config.MaxReconnects)
}

func (t *WebSocketTransport) heartbeat() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		conn, err := t.current()
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.config.HeartbeatTimeout)
		err = conn.Ping(ctx)
		cancel()
		if err != nil {
			t.logger.Warn("heartbeat failed", zap.Error(err))
			// 读循环会在连接关闭后触发重连
			_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
		}
	}
}

// Close stops the heartbeat and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.wg.Wait()
	t.setState(WSStateClosed)
	if conn != nil {
		// 读循环取消时库可能已关闭连接
		_ = conn.CloseNow()
	}
	return nil
}
