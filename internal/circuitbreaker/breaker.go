package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int `yaml:"threshold" json:"threshold" env:"THRESHOLD"`

	// Timeout 单次调用超时时间
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`

	// ResetTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout" env:"RESET_TIMEOUT"`

	// HalfOpenMaxCalls 半开状态下允许的最大请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS"`

	// OnStateChange 状态变更回调，在锁外同步调用
	OnStateChange func(name string, from, to State) `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker 熔断器接口
type CircuitBreaker interface {
	// Call 执行调用，如果熔断器打开则返回 ErrCircuitOpen
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// CallWithResult 执行调用并返回结果
	CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// State 获取当前状态
	State() State

	// Reset 重置熔断器（手动恢复）
	Reset()
}

type breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) CircuitBreaker {
	return newBreaker(name, config, logger)
}

func newBreaker(name string, config Config, logger *zap.Logger) *breaker {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{
		name:   name,
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", name)),
		now:    time.Now,
		state:  StateClosed,
	}
}

func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.CallWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// CallWithResult runs fn under the per-call timeout. The context passed to
// fn is cancelled when the timeout fires.
func (b *breaker) CallWithResult(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn(callCtx)
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		// 调用方主动取消不计入失败
		if ctx.Err() != nil {
			b.release()
			return nil, ctx.Err()
		}
		b.afterCall(false)
		return nil, types.NewError(types.ErrToolTimeout, "调用超时").
			WithProvider(b.name).
			WithCause(callCtx.Err()).
			WithRetryable(true)

	case res := <-resultCh:
		if res.err != nil && ctx.Err() != nil {
			b.release()
			return nil, res.err
		}
		success := res.err == nil || isClientError(res.err)
		b.afterCall(success)
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	}
}

type callResult struct {
	result any
	err    error
}

// isClientError 判断错误是否为调用方错误（不计入熔断失败）。
func isClientError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrInvalidQuery, types.ErrUnauthorized, types.ErrForbidden, types.ErrToolNotFound:
		return true
	}
	return false
}

func (b *breaker) beforeCall() error {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.config.ResetTimeout {
			change = b.setState(StateHalfOpen)
			b.halfOpenCallCount = 1
			b.logger.Info("熔断器进入半开状态")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("未知的熔断器状态: %v", b.state)
	}
}

// release returns a half-open slot without recording an outcome.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.halfOpenCallCount > 0 {
		b.halfOpenCallCount--
	}
}

func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	var change func()
	if success {
		change = b.onSuccess()
	} else {
		change = b.onFailure()
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

func (b *breaker) onSuccess() func() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("熔断器恢复正常", zap.Int("half_open_calls", b.halfOpenCallCount))
		b.failureCount = 0
		b.halfOpenCallCount = 0
		return b.setState(StateClosed)
	}
	return nil
}

func (b *breaker) onFailure() func() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			return b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态失败，重新打开", zap.Int("half_open_calls", b.halfOpenCallCount))
		b.halfOpenCallCount = 0
		return b.setState(StateOpen)
	}
	return nil
}

// setState must be called with mu held; the returned func fires the callback.
func (b *breaker) setState(newState State) func() {
	oldState := b.state
	b.state = newState
	if b.config.OnStateChange == nil || oldState == newState {
		return nil
	}
	cb, name := b.config.OnStateChange, b.name
	return func() { cb(name, oldState, newState) }
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	oldState := b.state
	change := b.setState(StateClosed)
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.mu.Unlock()

	b.logger.Info("熔断器已重置", zap.String("from_state", oldState.String()))
	if change != nil {
		change()
	}
}

// 错误定义
var (
	ErrCircuitOpen            = errors.New("熔断器已打开")
	ErrTooManyCallsInHalfOpen = errors.New("半开状态下调用次数过多")
)

// IsOpen reports whether err was produced by a breaker rejecting a call.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyCallsInHalfOpen)
}
