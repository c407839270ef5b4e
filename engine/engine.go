package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/hrmflow/complexity"
	"github.com/BaSui01/hrmflow/convergence"
	"github.com/BaSui01/hrmflow/history"
	"github.com/BaSui01/hrmflow/internal/tokenizer"
	"github.com/BaSui01/hrmflow/pattern"
	"github.com/BaSui01/hrmflow/tools"
	"github.com/BaSui01/hrmflow/types"
)

// ExecutionRecorder receives per-execution telemetry. *metrics.Collector implements it.
type ExecutionRecorder interface {
	RecordExecution(tier string, success, converged bool, iterations int, score float64, duration time.Duration)
}

// Engine HRM 执行引擎
type Engine struct {
	config   Config
	invoker  *tools.Invoker
	assessor complexity.Assessor
	selector *pattern.Selector
	detector *convergence.Detector
	analyzer *convergence.Analyzer
	advanced *convergence.AdvancedAnalyzer
	slowExec atomic.Int64 // time.Duration
	history  history.Store
	cache    ResultCache
	events   *EventBus
	recorder ExecutionRecorder
	counter  tokenizer.Counter
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	flight     singleflight.Group
	sem        *semaphore.Weighted
	executions atomic.Int64
	inFlight   atomic.Int64
	started    time.Time
}

// Option 引擎选项
type Option func(*Engine)

// WithAssessor replaces the default regex assessor.
func WithAssessor(a complexity.Assessor) Option {
	return func(e *Engine) { e.assessor = a }
}

// WithSelector replaces the default pattern selector.
func WithSelector(s *pattern.Selector) Option {
	return func(e *Engine) { e.selector = s }
}

// WithHistory replaces the in-memory history ring.
func WithHistory(h history.Store) Option {
	return func(e *Engine) { e.history = h }
}

// WithAdvancedAnalyzer sets the multi-strategy analyzer, e.g. one backed by Redis.
func WithAdvancedAnalyzer(a *convergence.AdvancedAnalyzer) Option {
	return func(e *Engine) { e.advanced = a }
}

// WithResultCache enables result caching.
func WithResultCache(c ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithEventBus publishes pipeline events to bus.
func WithEventBus(bus *EventBus) Option {
	return func(e *Engine) { e.events = bus }
}

// WithRecorder attaches an execution metrics recorder.
func WithRecorder(r ExecutionRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTokenCounter sets the counter used for the context token budget.
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(e *Engine) { e.counter = c }
}

// New 创建引擎
func New(cfg Config, invoker *tools.Invoker, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if invoker == nil {
		return nil, errors.New("engine requires a tool invoker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:   cfg,
		invoker:  invoker,
		logger:   logger.With(zap.String("component", "hrm_engine")),
		tracer:   otel.Tracer("github.com/BaSui01/hrmflow/engine"),
		now:      time.Now,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		started:  time.Now(),
	}
	e.slowExec.Store(int64(cfg.SlowExecution))
	for _, opt := range opts {
		opt(e)
	}

	if e.assessor == nil {
		e.assessor = complexity.New(string(complexity.MethodRegex))
	}
	if e.selector == nil {
		e.selector = pattern.NewSelector(pattern.DefaultCatalog(), logger)
	}
	if e.history == nil {
		e.history = history.NewMemoryStore(history.DefaultCapacity)
	}
	if e.advanced == nil && cfg.AdvancedConvergence {
		e.advanced = convergence.NewAdvancedAnalyzer(cfg.ConvergenceThreshold, nil, logger)
	}
	if e.counter == nil && cfg.MaxContextTokens > 0 {
		e.counter = tokenizer.New("tiktoken", tokenizer.DefaultEncoding, logger)
	}

	e.detector = convergence.NewDetector()
	e.detector.Threshold = cfg.ConvergenceThreshold
	e.detector.MaxIterations = cfg.MaxIterations
	e.analyzer = convergence.NewAnalyzer(cfg.ConvergenceThreshold)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	c := e.config
	c.SlowExecution = time.Duration(e.slowExec.Load())
	return c
}

// SetSlowExecution changes the slow-execution insight threshold at runtime.
func (e *Engine) SetSlowExecution(d time.Duration) {
	e.slowExec.Store(int64(d))
}

// Events returns the event bus, or nil.
func (e *Engine) Events() *EventBus { return e.events }

// History returns the history store.
func (e *Engine) History() history.Store { return e.history }

// Analyze assesses query and selects its pattern without executing anything.
func (e *Engine) Analyze(query string) (pattern.Analysis, error) {
	query = strings.TrimSpace(query)
	if err := e.validate(query); err != nil {
		return pattern.Analysis{}, err
	}
	return pattern.Analyze(e.assessor, e.selector, query), nil
}

func (e *Engine) validate(query string) error {
	if query == "" {
		return types.NewInvalidQueryError("query must not be empty")
	}
	if n := utf8.RuneCountInString(query); n > e.config.MaxQueryLength {
		return types.NewInvalidQueryError(fmt.Sprintf("query too long: %d > %d characters", n, e.config.MaxQueryLength))
	}
	return nil
}

// =============================================================================
// 🚀 执行
// =============================================================================

// Execute runs the pipeline for query. Tool failures and engine failures
// are reported in the result; an error is returned only for an invalid
// query or a cancelled context.
func (e *Engine) Execute(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if err := e.validate(query); err != nil {
		return nil, err
	}

	if e.cache != nil {
		if r, ok := e.cache.Get(ctx, query); ok {
			r.Cached = true
			e.logger.Debug("result served from cache", zap.String("run_id", r.RunID))
			return r, nil
		}
	}

	for {
		res, err := e.shared(ctx, query)
		// 共享执行被发起者取消，而本调用方仍存活时重新执行
		if err != nil && ctx.Err() == nil && isContextError(err) {
			e.logger.Debug("shared execution cancelled by its initiator, re-running")
			continue
		}
		return res, err
	}
}

// shared joins or starts the single in-flight run for query.
func (e *Engine) shared(ctx context.Context, query string) (*Result, error) {
	ch := e.flight.DoChan(flightKey(query), func() (any, error) {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.sem.Release(1)
		return e.run(ctx, query)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r := res.Val.(*Result)
		if res.Shared {
			return r.clone(), nil
		}
		return r, nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func flightKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func (e *Engine) run(ctx context.Context, query string) (*Result, error) {
	start := e.now()
	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	ctx, span := e.tracer.Start(ctx, "hrm.execute", trace.WithAttributes(
		attribute.String("hrm.run_id", runID),
	))
	defer span.End()

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	logger := e.logger.With(zap.String("run_id", runID))
	if traceID, ok := types.TraceID(ctx); ok {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	logger.Info("execution started", zap.Int("query_length", len(query)))
	e.publish(Event{Type: EventExecutionStarted, RunID: runID, Query: query})

	result, err := e.orchestrate(ctx, runID, query, start, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			logger.Warn("execution cancelled", zap.Error(ctxErr))
			e.publish(Event{Type: EventExecutionFailed, RunID: runID, Query: query, Message: ctxErr.Error()})
			return nil, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("execution failed", zap.Error(err))
		result = e.failure(runID, query, err, start)
	}

	e.executions.Add(1)
	e.finish(ctx, result, logger)

	span.SetAttributes(
		attribute.String("hrm.tier", string(result.Complexity)),
		attribute.Bool("hrm.success", result.Success),
		attribute.Bool("hrm.converged", result.Convergence.Converged),
		attribute.Int("hrm.iterations", result.Iterations),
	)
	return result, nil
}

// orchestrate runs assessment, the iteration loop and analysis.
func (e *Engine) orchestrate(ctx context.Context, runID, query string, start time.Time, logger *zap.Logger) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("HRM execution failed: panic: %v", r)
		}
	}()

	assessment := e.assessor.Assess(query)
	tier := assessment.Tier
	pat := e.selector.Select(tier)
	if len(pat.Steps) == 0 {
		return nil, fmt.Errorf("HRM execution failed: no pattern steps for tier %s", tier)
	}
	ctx = types.WithTier(ctx, tier)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("hrm.tier", string(tier)),
		attribute.String("hrm.pattern", pat.Summary()),
	)
	logger.Info("pattern selected",
		zap.String("tier", string(tier)),
		zap.String("method", string(assessment.Method)),
		zap.String("pattern", pat.Summary()),
		zap.String("levels", pat.Levels()))
	e.publish(Event{Type: EventTierAssessed, RunID: runID, Tier: tier, Pattern: pat.Summary()})

	chain := newContextChain(query, e.counter, e.config.MaxContextTokens)
	histLen := int(e.executions.Load())
	var (
		results   []types.ToolResult
		decision  convergence.Decision
		step      int
		iteration int
	)
	for iteration < e.config.MaxIterations {
		iteration++
		for _, s := range pat.Steps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			params := tools.BuildParams(s.Tool, tools.ParamContext{
				Query:      query,
				Context:    chain.String(),
				HistoryLen: histLen,
				StepIndex:  step,
				Now:        e.now(),
			})
			tr, err := e.invoker.Invoke(ctx, s, params)
			if err != nil {
				return nil, err
			}
			tr.Iteration = iteration
			tr.Step = step
			if tr.Success {
				chain.Add(tools.ChainSegment(tr.Data))
			}
			results = append(results, tr)

			logger.Debug("step completed",
				zap.Int("step", step+1),
				zap.String("tool", s.Tool),
				zap.Bool("success", tr.Success),
				zap.Float64("confidence", tr.Confidence),
				zap.Int("retries", tr.RetryCount))
			e.publish(Event{
				Type: EventStepCompleted, RunID: runID, Tool: s.Tool, Step: step + 1,
				Iteration: iteration, Success: tr.Success, Confidence: tr.Confidence, Message: tr.Error,
			})
			step++
		}

		decision = e.detector.Check(results, iteration)
		logger.Debug("iteration completed",
			zap.Int("iteration", iteration),
			zap.Bool("converged", decision.Converged),
			zap.String("reason", decision.Reason))
		e.publish(Event{
			Type: EventIterationCompleted, RunID: runID, Iteration: iteration,
			Converged: decision.Converged, Confidence: decision.Confidence, Message: decision.Reason,
		})
		if decision.Converged {
			break
		}
	}

	analysis := e.analyzer.Analyze(results)
	conv := Convergence{Analysis: analysis, Loop: decision}
	if e.advanced != nil {
		report := e.advanced.Analyze(ctx, results, &pat, tier)
		conv.Advanced = &report
	}

	total := e.now().Sub(start)
	gen := InsightGenerator{SlowExecution: time.Duration(e.slowExec.Load())}
	insights, actions := gen.Generate(analysis, total)
	return &Result{
		RunID:              runID,
		Query:              query,
		Complexity:         tier,
		Assessment:         assessment,
		Pattern:            pat.ToolNames(),
		HierarchicalLevels: pat.Levels(),
		Results:            stepResults(results),
		Convergence:        conv,
		TotalExecutionTime: total,
		Success:            len(results) > 0 && types.SuccessRate(results) == 1,
		Insights:           insights,
		NextActions:        actions,
		Iterations:         iteration,
		ContextTokens:      chain.Tokens(),
		CreatedAt:          start,
	}, nil
}

// failure builds the result reported when the engine itself fails.
func (e *Engine) failure(runID, query string, err error, start time.Time) *Result {
	msg := err.Error()
	if !strings.HasPrefix(msg, "HRM execution failed") {
		msg = "HRM execution failed: " + msg
	}
	return &Result{
		RunID:              runID,
		Query:              query,
		Complexity:         types.TierUnknown,
		Pattern:            []string{},
		Results:            []StepResult{},
		Convergence:        Convergence{Analysis: convergence.Analysis{Reason: msg, SuccessfulTools: []string{}, FailedTools: []string{}}},
		TotalExecutionTime: e.now().Sub(start),
		Insights:           []string{"Execution failed: " + msg},
		NextActions:        []string{"Debug execution error", "Retry with different approach"},
		Error:              msg,
		CreatedAt:          start,
	}
}

// finish records history, metrics, cache and the completion event.
func (e *Engine) finish(ctx context.Context, r *Result, logger *zap.Logger) {
	rec := history.Record{
		RunID:      r.RunID,
		Query:      r.Query,
		Tier:       r.Complexity,
		Pattern:    strings.Join(r.Pattern, " → "),
		Success:    r.Success,
		Converged:  r.Convergence.Converged,
		Confidence: r.Convergence.Confidence,
		Iterations: r.Iterations,
		ToolCalls:  len(r.Results),
		TotalTime:  r.TotalExecutionTime,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
	// 历史写入不应被请求取消打断
	if err := e.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record execution history", zap.Error(err))
	}

	if e.recorder != nil {
		e.recorder.RecordExecution(string(r.Complexity), r.Success, r.Convergence.Converged,
			r.Iterations, r.Convergence.Loop.Confidence, r.TotalExecutionTime)
	}
	if e.cache != nil && r.Error == "" {
		e.cache.Set(context.WithoutCancel(ctx), r.Query, r)
	}

	ev := Event{
		Type: EventExecutionCompleted, RunID: r.RunID, Query: r.Query, Tier: r.Complexity,
		Iteration: r.Iterations, Success: r.Success, Converged: r.Convergence.Converged,
		Confidence: r.Convergence.Confidence,
	}
	if r.Error != "" {
		ev.Type = EventExecutionFailed
		ev.Message = r.Error
	}
	e.publish(ev)

	logger.Info("execution finished",
		zap.String("tier", string(r.Complexity)),
		zap.Bool("success", r.Success),
		zap.Bool("converged", r.Convergence.Converged),
		zap.Int("iterations", r.Iterations),
		zap.Int("tool_calls", len(r.Results)),
		zap.Duration("duration", r.TotalExecutionTime))
}

func (e *Engine) publish(ev Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
