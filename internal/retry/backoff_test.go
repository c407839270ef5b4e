package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Backoff:      BackoffLinear,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_RetryThenSuccess(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy()
	p.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }
	r := NewBackoffRetryer(p, nil)

	calls := 0
	v, err := DoWithResultTyped(r, context.Background(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, delays)
}

func TestBackoffRetryer_Exhausted(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(), zap.NewNop())
	root := errors.New("down")

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return root
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, root)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
}

func TestBackoffRetryer_NonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := fastPolicy()
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }
	r := NewBackoffRetryer(p, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_ContextCancelled(t *testing.T) {
	p := fastPolicy()
	p.InitialDelay = time.Second
	r := NewBackoffRetryer(p, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func() error {
		calls++
		cancel()
		return errors.New("x")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestCalculateDelay(t *testing.T) {
	lin := NewBackoffRetryer(&RetryPolicy{InitialDelay: 500 * time.Millisecond}, nil).(*backoffRetryer)
	assert.Equal(t, 500*time.Millisecond, lin.calculateDelay(1))
	assert.Equal(t, time.Second, lin.calculateDelay(2))

	exp := NewBackoffRetryer(&RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Backoff:      BackoffExponential,
		Multiplier:   2,
	}, nil).(*backoffRetryer)
	assert.Equal(t, 100*time.Millisecond, exp.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, exp.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, exp.calculateDelay(3))

	jit := NewBackoffRetryer(&RetryPolicy{InitialDelay: 100 * time.Millisecond, Jitter: true}, nil).(*backoffRetryer)
	for i := 0; i < 20; i++ {
		d := jit.calculateDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
