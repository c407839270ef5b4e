package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// ErrClientClosed is returned for calls pending when the client shuts down.
var ErrClientClosed = errors.New("mcp: client closed")

// ClientInfo is sent to the server during initialize.
var ClientInfo = ServerInfo{Name: "hrmflow", Version: "1.0.0"}

// Client MCP 客户端：单一接收循环 + 按 id 分发的挂起请求表
type Client struct {
	name        string
	transport   Transport
	callTimeout time.Duration
	logger      *zap.Logger

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *MCPMessage

	mu         sync.RWMutex
	serverInfo *ServerInfo
	started    bool
	closed     bool
	loopErr    error
	cancel     context.CancelFunc
	done       chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout bounds each request when the caller's context has no deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient 创建 MCP 客户端。name 用于日志与错误标记。
func NewClient(name string, transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		name:        name,
		transport:   transport,
		callTimeout: 30 * time.Second,
		logger:      zap.NewNop(),
		pending:     make(map[int64]chan *MCPMessage),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "mcp_client"), zap.String("server", name))
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Start launches the receive loop and performs the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("mcp client %s already started", c.name)
	}
	c.started = true
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.receiveLoop(loopCtx)

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": MCPVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      ClientInfo,
	}
	result, err := c.request(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}
	var init InitializeResult
	if err := decodeResult(result, &init); err != nil {
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}

	c.mu.Lock()
	c.serverInfo = &init.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Send(ctx, NewMCPNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	c.logger.Info("connected to MCP server",
		zap.String("server_name", init.ServerInfo.Name),
		zap.String("server_version", init.ServerInfo.Version),
		zap.String("protocol", init.ProtocolVersion))
	return nil
}

// ServerInfo returns what the server reported during initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ListTools 列出服务端工具
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.request(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := decodeResult(result, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CallTool invokes a remote tool and flattens its result. An isError result
// is a retryable tool error; unknown methods and bad params are caller errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		var rpcErr *MCPError
		if errors.As(err, &rpcErr) {
			code, retryable := types.ErrUpstreamError, true
			switch rpcErr.Code {
			case ErrorCodeMethodNotFound, ErrorCodeInvalidParams, ErrorCodeInvalidRequest:
				code, retryable = types.ErrInvalidRequest, false
			}
			return nil, types.NewError(code, rpcErr.Message).
				WithCause(err).
				WithProvider(c.name + ":" + name).
				WithRetryable(retryable)
		}
		return nil, err
	}

	var res CallToolResult
	if err := decodeResult(result, &res); err != nil {
		return nil, err
	}
	if res.IsError {
		msg := res.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, types.NewError(types.ErrToolExecution, msg).
			WithProvider(c.name + ":" + name).
			WithHTTPStatus(502).
			WithRetryable(true)
	}
	return res.Data(), nil
}

// request sends a request and waits for the matching response.
func (c *Client) request(ctx context.Context, method string, params map[string]any) (any, error) {
	c.mu.RLock()
	closed, started := c.closed, c.started
	c.mu.RUnlock()
	if closed {
		return nil, ErrClientClosed
	}
	if !started {
		return nil, fmt.Errorf("mcp client %s not started", c.name)
	}

	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan *MCPMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, NewMCPRequest(id, method, params)); err != nil {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return nil, ErrClientClosed
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closeErr()
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

func (c *Client) closeErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loopErr != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, c.loopErr)
	}
	return ErrClientClosed
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer close(c.done)
	defer c.failPending()

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.loopErr = err
				c.logger.Warn("receive loop stopped", zap.Error(err))
			}
			c.mu.Unlock()
			return
		}

		switch {
		case msg.IsResponse():
			c.dispatch(msg)
		case msg.Method == "ping" && msg.ID != nil:
			if err := c.transport.Send(ctx, NewMCPResponse(msg.ID, map[string]any{})); err != nil {
				c.logger.Debug("pong failed", zap.Error(err))
			}
		case msg.ID != nil:
			_ = c.transport.Send(ctx, NewMCPError(msg.ID, ErrorCodeMethodNotFound, "method not supported by client", msg.Method))
		default:
			c.logger.Debug("notification", zap.String("method", msg.Method))
		}
	}
}

func (c *Client) dispatch(msg *MCPMessage) {
	id, ok := idKey(msg.ID)
	if !ok {
		c.logger.Warn("response with unexpected id", zap.Any("id", msg.ID))
		return
	}
	c.pendingMu.Lock()
	ch, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !exists {
		c.logger.Debug("response for unknown request", zap.Int64("id", id))
		return
	}
	ch <- msg
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Close shuts down the transport and waits for the receive loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.transport.Close()
	if started {
		<-c.done
	}
	c.logger.Info("MCP client closed")
	return err
}
