package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/engine"
	"github.com/BaSui01/hrmflow/types"
)

// =============================================================================
// 📡 引擎事件 WebSocket 流
// =============================================================================

// EventsConfig 事件流配置
type EventsConfig struct {
	// OriginPatterns 允许的跨域来源，空表示仅同源
	OriginPatterns []string
	MaxClients     int
	ClientBuffer   int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultEventsConfig 返回默认配置
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		MaxClients:   100,
		ClientBuffer: 64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// EventsHandler streams engine events to WebSocket clients.
// GET /api/v1/events?types=execution_completed,execution_failed
type EventsHandler struct {
	bus     *engine.EventBus
	config  EventsConfig
	logger  *zap.Logger
	clients atomic.Int64
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewEventsHandler 创建事件流处理器
func NewEventsHandler(bus *engine.EventBus, cfg EventsConfig, logger *zap.Logger) *EventsHandler {
	def := DefaultEventsConfig()
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &EventsHandler{
		bus:    bus,
		config: cfg,
		logger: logger.With(zap.String("handler", "events")),
		done:   make(chan struct{}),
	}
}

// Clients returns the number of connected streams.
func (h *EventsHandler) Clients() int64 { return h.clients.Load() }

// Dropped counts events skipped because a client fell behind.
func (h *EventsHandler) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client. http.Server.Shutdown does not touch
// hijacked connections, so the server calls this before shutting down.
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// HandleEvents 升级为 WebSocket 并推送事件
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrUnavailable, "server is shutting down", h.logger)
		return
	default:
	}
	if n := h.clients.Add(1); h.config.MaxClients > 0 && n > int64(h.config.MaxClients) {
		h.clients.Add(-1)
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrUnavailable, "too many event stream clients", h.logger)
		return
	}
	defer h.clients.Add(-1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.config.OriginPatterns})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据，CloseRead 负责处理控制帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	ch := make(chan engine.Event, h.config.ClientBuffer)
	id := h.bus.Subscribe(func(ev engine.Event) {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}, parseEventTypes(r.URL.Query().Get("types"))...)
	defer h.bus.Unsubscribe(id)

	h.logger.Debug("event stream connected", zap.String("remote_addr", r.RemoteAddr))

	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-ch:
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, ev engine.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.config.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

func parseEventTypes(raw string) []engine.EventType {
	if raw == "" {
		return nil
	}
	var out []engine.EventType
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, engine.EventType(p))
		}
	}
	return out
}
