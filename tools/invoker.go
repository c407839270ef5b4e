package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/hrmflow/internal/circuitbreaker"
	"github.com/BaSui01/hrmflow/internal/retry"
	"github.com/BaSui01/hrmflow/types"
)

// InvokerConfig 工具调用策略
type InvokerConfig struct {
	MaxAttempts    int                   `yaml:"max_attempts" json:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBaseDelay time.Duration         `yaml:"retry_base_delay" json:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	CallTimeout    time.Duration         `yaml:"call_timeout" json:"call_timeout" env:"CALL_TIMEOUT"`
	RateLimit      float64               `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"` // 每个工具每秒调用数，0 不限速
	RateBurst      int                   `yaml:"rate_burst" json:"rate_burst" env:"RATE_BURST"`
	Breaker        circuitbreaker.Config `yaml:"breaker" json:"breaker" env:"BREAKER"`
}

// DefaultInvokerConfig returns 3 attempts with 0.5 s linear backoff.
func DefaultInvokerConfig() InvokerConfig {
	b := circuitbreaker.DefaultConfig()
	return InvokerConfig{
		MaxAttempts:    3,
		RetryBaseDelay: 500 * time.Millisecond,
		CallTimeout:    b.Timeout,
		RateBurst:      5,
		Breaker:        b,
	}
}

// Recorder receives per-call telemetry.
type Recorder interface {
	RecordToolCall(tool string, success bool, attempts int, duration time.Duration)
}

// ErrorRecord is one recent tool failure.
type ErrorRecord struct {
	Tool      string    `json:"tool"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarises tool invocations.
type Stats struct {
	TotalCalls      int64                     `json:"total_calls"`
	SuccessfulCalls int64                     `json:"successful_calls"`
	SuccessRate     float64                   `json:"success_rate"`
	ErrorCount      int64                     `json:"error_count"`
	RecentErrors    []ErrorRecord             `json:"recent_errors"`
	Breakers        map[string]string         `json:"breakers,omitempty"`
	PerTool         map[string]ToolCallCounts `json:"per_tool"`
}

// ToolCallCounts are per-tool counters.
type ToolCallCounts struct {
	Calls     int64 `json:"calls"`
	Successes int64 `json:"successes"`
	Retries   int64 `json:"retries"`
}

const recentErrorCount = 5

// Invoker runs tool calls through rate limiting, circuit breaking and retries.
type Invoker struct {
	registry *Registry
	config   InvokerConfig
	breakers *circuitbreaker.Group
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	statsMu sync.Mutex
	stats   Stats
	errs    []ErrorRecord
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) InvokerOption {
	return func(i *Invoker) { i.recorder = r }
}

// WithBreakerGroup shares a breaker group, e.g. one whose state changes feed metrics.
func WithBreakerGroup(g *circuitbreaker.Group) InvokerOption {
	return func(i *Invoker) { i.breakers = g }
}

// NewInvoker creates an invoker over registry.
func NewInvoker(registry *Registry, cfg InvokerConfig, logger *zap.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.CallTimeout > 0 {
		cfg.Breaker.Timeout = cfg.CallTimeout
	}
	inv := &Invoker{
		registry: registry,
		config:   cfg,
		logger:   logger.With(zap.String("component", "tool_invoker")),
		tracer:   otel.Tracer("github.com/BaSui01/hrmflow/tools"),
		limiters: make(map[string]*rate.Limiter),
		stats:    Stats{PerTool: make(map[string]ToolCallCounts)},
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.breakers == nil {
		inv.breakers = circuitbreaker.NewGroup(cfg.Breaker, logger)
	}
	return inv
}

// Config returns the invocation policy.
func (i *Invoker) Config() InvokerConfig { return i.config }

// Breakers exposes the invoker's breaker group.
func (i *Invoker) Breakers() *circuitbreaker.Group { return i.breakers }

func (i *Invoker) limiter(tool string) *rate.Limiter {
	if i.config.RateLimit <= 0 {
		return nil
	}
	i.limMu.Lock()
	defer i.limMu.Unlock()
	l, ok := i.limiters[tool]
	if !ok {
		burst := i.config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(i.config.RateLimit), burst)
		i.limiters[tool] = l
	}
	return l
}

// Invoke executes one pattern step. Failures are reported in the result,
// never as an error; only context cancellation aborts with ctx.Err().
func (i *Invoker) Invoke(ctx context.Context, step types.Step, params map[string]any) (types.ToolResult, error) {
	start := time.Now()
	res := types.ToolResult{Tool: step.Tool, Phase: PhaseFor(step.Tool)}

	ctx, span := i.tracer.Start(ctx, "tool."+step.Tool, trace.WithAttributes(
		attribute.String("hrm.tool", step.Tool),
		attribute.String("hrm.level", string(step.Level)),
	))
	defer span.End()

	tool, err := i.registry.Resolve(step.Tool)
	if err != nil {
		res.Error = err.Error()
		res.ExecutionTime = time.Since(start)
		i.record(step.Tool, false, 1, res.ExecutionTime, err)
		span.SetStatus(codes.Error, err.Error())
		return res, nil
	}

	attempts := 0
	retryer := retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   i.config.MaxAttempts - 1,
		InitialDelay: i.config.RetryBaseDelay,
		MaxDelay:     time.Duration(i.config.MaxAttempts) * i.config.RetryBaseDelay,
		Backoff:      retry.BackoffLinear,
		ShouldRetry:  retryableFor(ctx),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			i.logger.Warn("tool attempt failed, retrying",
				zap.String("tool", step.Tool),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}, i.logger)

	breaker := i.breakers.Get(step.Tool)
	data, err := retry.DoWithResultTyped(retryer, ctx, func() (map[string]any, error) {
		attempts++
		if l := i.limiter(step.Tool); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return circuitbreaker.CallWithResultTyped(breaker, ctx, func(ctx context.Context) (map[string]any, error) {
			return tool.Execute(ctx, params)
		})
	})

	res.RetryCount = attempts - 1
	res.ExecutionTime = time.Since(start)
	span.SetAttributes(attribute.Int("hrm.attempts", attempts))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			return res, ctxErr
		}
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.record(step.Tool, false, attempts, res.ExecutionTime, err)
		return res, nil
	}

	res.Success = true
	res.Data = data
	res.Confidence = ExtractConfidence(step.Tool, data)
	span.SetAttributes(attribute.Float64("hrm.confidence", res.Confidence))
	i.record(step.Tool, true, attempts, res.ExecutionTime, nil)
	return res, nil
}

// retryableFor retries every tool failure except open circuits, caller
// errors and cancellation. A per-call timeout is retried while ctx lives.
func retryableFor(ctx context.Context) func(error) bool {
	return func(err error) bool {
		if ctx.Err() != nil || circuitbreaker.IsOpen(err) || errors.Is(err, context.Canceled) {
			return false
		}
		switch types.GetErrorCode(err) {
		case types.ErrToolNotFound, types.ErrInvalidRequest, types.ErrCircuitOpen:
			return false
		}
		return true
	}
}

func (i *Invoker) record(tool string, success bool, attempts int, d time.Duration, err error) {
	if i.recorder != nil {
		i.recorder.RecordToolCall(tool, success, attempts, d)
	}

	i.statsMu.Lock()
	defer i.statsMu.Unlock()
	i.stats.TotalCalls++
	c := i.stats.PerTool[tool]
	c.Calls++
	c.Retries += int64(attempts - 1)
	if success {
		i.stats.SuccessfulCalls++
		c.Successes++
	} else {
		i.stats.ErrorCount++
		i.errs = append(i.errs, ErrorRecord{Tool: tool, Error: err.Error(), Timestamp: time.Now()})
		if len(i.errs) > recentErrorCount {
			i.errs = i.errs[len(i.errs)-recentErrorCount:]
		}
	}
	i.stats.PerTool[tool] = c
}

// Stats returns a snapshot of invocation counters.
func (i *Invoker) Stats() Stats {
	i.statsMu.Lock()
	out := Stats{
		TotalCalls:      i.stats.TotalCalls,
		SuccessfulCalls: i.stats.SuccessfulCalls,
		ErrorCount:      i.stats.ErrorCount,
		RecentErrors:    append([]ErrorRecord{}, i.errs...),
		PerTool:         make(map[string]ToolCallCounts, len(i.stats.PerTool)),
	}
	for k, v := range i.stats.PerTool {
		out.PerTool[k] = v
	}
	i.statsMu.Unlock()

	if out.TotalCalls > 0 {
		out.SuccessRate = float64(out.SuccessfulCalls) / float64(out.TotalCalls)
	}
	states := i.breakers.States()
	out.Breakers = make(map[string]string, len(states))
	for k, v := range states {
		out.Breakers[k] = v.String()
	}
	return out
}
