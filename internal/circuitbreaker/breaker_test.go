package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

func testConfig() Config {
	return Config{Threshold: 2, Timeout: time.Second, ResetTimeout: time.Minute, HalfOpenMaxCalls: 1}
}

func failing(context.Context) error { return errors.New("boom") }
func ok(context.Context) error      { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker("web_search", testConfig(), zap.NewNop())
	ctx := context.Background()

	assert.Error(t, b.Call(ctx, failing))
	assert.Equal(t, StateClosed, b.State())
	assert.Error(t, b.Call(ctx, failing))
	assert.Equal(t, StateOpen, b.State())

	err := b.Call(ctx, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsOpen(err))
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cfg := testConfig()
	cfg.OnStateChange = func(name string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}
	b := newBreaker("recall", cfg, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Call(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"recall:Closed->Open",
		"recall:Open->HalfOpen",
		"recall:HalfOpen->Closed",
	}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("x", testConfig(), nil)
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	now = now.Add(2 * time.Minute)
	assert.Error(t, b.Call(ctx, failing))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	b := NewCircuitBreaker("x", testConfig(), nil)
	bad := types.NewError(types.ErrInvalidRequest, "bad params")
	for i := 0; i < 5; i++ {
		err := b.Call(context.Background(), func(context.Context) error { return bad })
		assert.ErrorIs(t, err, bad)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	b := NewCircuitBreaker("slow", cfg, nil)

	err := b.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrToolTimeout))
}

func TestBreaker_CallerCancelDoesNotCount(t *testing.T) {
	b := NewCircuitBreaker("x", Config{Threshold: 1, Timeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Call(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := NewCircuitBreaker("x", testConfig(), nil)
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestGroup(t *testing.T) {
	g := NewGroup(testConfig(), zap.NewNop())
	assert.Same(t, g.Get("a"), g.Get("a"))

	_ = g.Get("b").Call(context.Background(), failing)
	_ = g.Get("b").Call(context.Background(), failing)

	states := g.States()
	assert.Equal(t, StateClosed, states["a"])
	assert.Equal(t, StateOpen, states["b"])

	v, err := CallWithResultTyped(g.Get("a"), context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
