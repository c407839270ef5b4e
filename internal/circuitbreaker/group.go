package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Group lazily creates one breaker per name with a shared config.
type Group struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewGroup creates an empty group.
func NewGroup(config Config, logger *zap.Logger) *Group {
	return &Group{config: config, logger: logger, breakers: make(map[string]*breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[name]
	if !ok {
		b = newBreaker(name, g.config, g.logger)
		g.breakers[name] = b
	}
	return b
}

// States snapshots every known breaker's state.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	names := make([]string, 0, len(g.breakers))
	for n := range g.breakers {
		names = append(names, n)
	}
	g.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]State, len(names))
	for _, n := range names {
		out[n] = g.Get(n).State()
	}
	return out
}

// CallWithResultTyped is a type-safe generic wrapper around CircuitBreaker.CallWithResult.
func CallWithResultTyped[T any](cb CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := cb.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
