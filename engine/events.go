package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// EventType 事件类型
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventTierAssessed       EventType = "tier_assessed"
	EventStepCompleted      EventType = "step_completed"
	EventIterationCompleted EventType = "iteration_completed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
)

// Event is one pipeline notification. Fields irrelevant to Type are zero.
type Event struct {
	Type       EventType  `json:"type"`
	RunID      string     `json:"run_id"`
	Query      string     `json:"query,omitempty"`
	Tier       types.Tier `json:"complexity,omitempty"`
	Pattern    string     `json:"pattern,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Step       int        `json:"step,omitempty"`
	Iteration  int        `json:"iteration,omitempty"`
	Success    bool       `json:"success"`
	Converged  bool       `json:"converged,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Message    string     `json:"message,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// EventHandler 事件处理器
type EventHandler func(Event)

type subscription struct {
	types   map[EventType]struct{} // 空表示订阅全部
	handler EventHandler
}

func (s subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// EventBus delivers events to subscribers from a single dispatch goroutine.
// Publish never blocks; events are dropped when the buffer is full.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string]subscription
	nextID   atomic.Int64
	events   chan Event
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewEventBus 创建事件总线，buffer <= 0 时使用 256
func NewEventBus(buffer int, logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	b := &EventBus{
		subs:    make(map[string]subscription),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.With(zap.String("component", "event_bus")),
	}
	go b.run()
	return b
}

// Publish 发布事件
func (b *EventBus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.events <- ev:
	case <-b.done:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers handler for the given types, or for all events when
// none are given. It returns the subscription id.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...EventType) string {
	set := make(map[EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		set[t] = struct{}{}
	}
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = subscription{types: set, handler: handler}
	return id
}

// Unsubscribe 取消订阅
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

func (b *EventBus) run() {
	defer close(b.stopped)
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ev)
		case <-b.done:
			return
		}
	}
}

func (b *EventBus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(ev.Type) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, ev)
	}
}

func (b *EventBus) call(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("recover", r))
		}
	}()
	h(ev)
}

// Stop halts dispatch and waits for the dispatch goroutine to exit.
// Events still buffered are discarded.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	<-b.stopped
}
