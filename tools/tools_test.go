package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/internal/circuitbreaker"
	"github.com/BaSui01/hrmflow/knowledge"
	"github.com/BaSui01/hrmflow/types"
)

func TestRegistry_ResolveAndFallback(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	_, err := r.Resolve("anything")
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))

	RegisterBuiltins(r, knowledge.NewMemoryStore())
	tool, err := r.Resolve("mystery_tool")
	require.NoError(t, err)
	assert.Equal(t, BrainRecall, tool.Name())

	tool, err = r.Resolve(WebSearch)
	require.NoError(t, err)
	assert.Equal(t, WebSearch, tool.Name())
	assert.Len(t, r.Names(), 5)
}

func TestRegistry_Aliases(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, "brain:brain_recall", r.Alias(BrainRecall))
	assert.Equal(t, "reasoning-tools:systematic_verify", r.Alias(ReasoningTools))
	assert.Equal(t, WebSearch, r.Alias(WebSearch))

	r.SetAlias(WebSearch, "search:web_search")
	server, tool, ok := SplitQualified(r.Alias(WebSearch))
	assert.True(t, ok)
	assert.Equal(t, "search", server)
	assert.Equal(t, "web_search", tool)

	_, name, ok := SplitQualified("plain")
	assert.False(t, ok)
	assert.Equal(t, "plain", name)
}

func TestPhaseFor(t *testing.T) {
	assert.Equal(t, types.PhaseAnalysis, PhaseFor(BrainRecall))
	assert.Equal(t, types.PhaseOrchestration, PhaseFor(WebSearch))
	assert.Equal(t, types.PhaseOrchestration, PhaseFor(SequentialThinking))
	assert.Equal(t, types.PhaseConvergence, PhaseFor(ReasoningTools))
	assert.Equal(t, types.PhaseSynthesis, PhaseFor(BrainRemember))
	assert.Equal(t, types.PhaseOrchestration, PhaseFor("custom"))
}

func TestBuildParams(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pc := ParamContext{Query: "q", Context: strings.Repeat("x", 600), HistoryLen: 4, StepIndex: 2, Now: now}

	assert.Equal(t, map[string]any{"query": pc.Context, "limit": 10}, BuildParams(BrainRecall, pc))
	assert.Equal(t, map[string]any{"query": pc.Context}, BuildParams(WebSearch, pc))
	assert.Equal(t, "analysis", BuildParams(SequentialThinking, pc)["problem_type"])
	assert.Equal(t, "systematic", BuildParams(ReasoningTools, pc)["problem_type"])
	assert.Equal(t, map[string]any{"query": pc.Context}, BuildParams("custom", pc))

	rem := BuildParams(BrainRemember, pc)
	assert.Equal(t, "hrm_synthesis_4_2_brain_remember", rem["key"])
	assert.Equal(t, "hrm_synthesis", rem["memory_type"])
	value := rem["value"].(map[string]any)
	assert.Len(t, value["context"], 500)
	assert.Equal(t, 3, value["step"])
	assert.Equal(t, "2026-01-02T03:04:05Z", value["timestamp"])
}

func TestExtractConfidence(t *testing.T) {
	assert.Equal(t, 0.7, ExtractConfidence("x", map[string]any{"confidence": 0.7}))
	assert.Equal(t, 0.6, ExtractConfidence("x", map[string]any{"thinking_confidence": 0.6}))
	assert.Equal(t, 1.0, ExtractConfidence("x", map[string]any{"final_confidence": 3.0}))
	assert.Equal(t, 0.9, ExtractConfidence(WebSearch, map[string]any{"results": []any{map[string]any{}}}))
	assert.Equal(t, 0.3, ExtractConfidence(WebSearch, map[string]any{}))
	assert.Equal(t, 0.95, ExtractConfidence(BrainRemember, map[string]any{"stored": true}))
	assert.Equal(t, 0.1, ExtractConfidence(BrainRemember, map[string]any{"stored": false}))
	assert.Equal(t, 0.8, ExtractConfidence("custom", map[string]any{"ok": 1}))
}

func TestChainSegmentAndPreview(t *testing.T) {
	thinking := map[string]any{"final_answer": "the answer"}
	assert.Equal(t, " | Analysis: the answer", ChainSegment(thinking))
	assert.Equal(t, "Analysis: the answer...", Preview(thinking))

	verify := map[string]any{"verification_result": "verified"}
	assert.Equal(t, " | Verification: verified", ChainSegment(verify))
	assert.Equal(t, "Verification: verified...", Preview(verify))

	recall := map[string]any{"memories": []map[string]any{{"content": "remembered", "relevance": 0.8}}}
	assert.Equal(t, " | Memory: remembered", ChainSegment(recall))
	assert.Equal(t, "Memories: 1 found, top relevance: 0.80", Preview(recall))

	search := map[string]any{"results": []any{map[string]any{"snippet": "snip", "title": "Title"}}}
	assert.Equal(t, " | Search: snip", ChainSegment(search))
	assert.Equal(t, "Search: 1 results, top: Title...", Preview(search))

	other := map[string]any{"blob": strings.Repeat("y", 400)}
	seg := ChainSegment(other)
	assert.True(t, strings.HasPrefix(seg, " | Output: "))
	assert.Len(t, []rune(strings.TrimPrefix(seg, " | Output: ")), 150)
	assert.True(t, strings.HasSuffix(Preview(other), "..."))

	noMemories := map[string]any{"memories": []any{}, "results": []any{map[string]any{"title": "T"}}}
	assert.Equal(t, "Search: 1 results, top: T...", Preview(noMemories))
	assert.Equal(t, `{"memories":[]}`, Preview(map[string]any{"memories": []any{}}))
}

func TestBuiltins_RecallRemember(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewMemoryStore()
	recall, remember := NewBrainRecall(store), NewBrainRemember(store)

	out, err := recall.Execute(ctx, map[string]any{"query": "quantum computing", "limit": 10})
	require.NoError(t, err)
	assert.Equal(t, 0, out["memories_found"])
	assert.Equal(t, 0.45, out["search_confidence"])

	out, err = remember.Execute(ctx, map[string]any{
		"key":         "k1",
		"memory_type": "hrm_synthesis",
		"value":       map[string]any{"query": "quantum computing basics", "context": "qubits"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["stored"])

	out, err = recall.Execute(ctx, map[string]any{"query": "quantum computing", "limit": 10})
	require.NoError(t, err)
	assert.Equal(t, 1, out["memories_found"])
	assert.Equal(t, 0.95, out["search_confidence"])

	_, err = remember.Execute(ctx, map[string]any{})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestBuiltins_Simulated(t *testing.T) {
	ctx := context.Background()

	ws, err := NewSimulatedWebSearch().Execute(ctx, map[string]any{"query": "Quantum Computing"})
	require.NoError(t, err)
	assert.Equal(t, 8, ws["results_count"])
	assert.Len(t, ws["results"], 3)
	assert.Equal(t, 0.85, ExtractConfidence(WebSearch, ws))
	assert.Contains(t, ws["results"].([]map[string]any)[0]["url"], "quantum-computing")

	st, err := NewSimulatedSequentialThinking().Execute(ctx, map[string]any{"thought": "x"})
	require.NoError(t, err)
	assert.Equal(t, 7, st["thoughts_generated"])
	assert.Equal(t, 0.83, ExtractConfidence(SequentialThinking, st))

	rt, err := NewSimulatedReasoningTools().Execute(ctx, map[string]any{"problem": "x"})
	require.NoError(t, err)
	assert.Equal(t, 4, rt["perspectives_analyzed"])
	assert.Equal(t, 0.79, ExtractConfidence(ReasoningTools, rt))
}

// --- Invoker ---

type flakyTool struct {
	name     string
	failures int32
	calls    atomic.Int32
}

func (f *flakyTool) Name() string { return f.name }

func (f *flakyTool) Execute(context.Context, map[string]any) (map[string]any, error) {
	if n := f.calls.Add(1); n <= f.failures {
		return nil, errors.New("transient")
	}
	return map[string]any{"confidence": 0.9}, nil
}

type recorder struct{ calls atomic.Int32 }

func (r *recorder) RecordToolCall(string, bool, int, time.Duration) { r.calls.Add(1) }

func fastInvokerConfig() InvokerConfig {
	cfg := DefaultInvokerConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func TestInvoker_RetriesThenSucceeds(t *testing.T) {
	r := NewRegistry(nil)
	ft := &flakyTool{name: "flaky", failures: 2}
	r.Register(ft)
	rec := &recorder{}
	inv := NewInvoker(r, fastInvokerConfig(), zap.NewNop(), WithRecorder(rec))

	res, err := inv.Invoke(context.Background(), types.Step{Tool: "flaky", Level: types.LevelLow}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, types.PhaseOrchestration, res.Phase)
	assert.EqualValues(t, 1, rec.calls.Load())

	st := inv.Stats()
	assert.EqualValues(t, 1, st.TotalCalls)
	assert.EqualValues(t, 2, st.PerTool["flaky"].Retries)
}

func TestInvoker_ExhaustedReportsFailure(t *testing.T) {
	r := NewRegistry(nil)
	ft := &flakyTool{name: "broken", failures: 100}
	r.Register(ft)
	inv := NewInvoker(r, fastInvokerConfig(), nil)

	res, err := inv.Invoke(context.Background(), types.Step{Tool: "broken"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.Contains(t, res.Error, "transient")
	assert.EqualValues(t, 3, ft.calls.Load())

	st := inv.Stats()
	assert.EqualValues(t, 1, st.ErrorCount)
	require.Len(t, st.RecentErrors, 1)
	assert.Equal(t, "broken", st.RecentErrors[0].Tool)
}

func TestInvoker_RetriesToolReportedErrors(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(nil)
	r.Register(Func{ToolName: "remote", Fn: func(context.Context, map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, types.NewError(types.ErrToolExecution, "tool reported an error")
	}})
	cfg := fastInvokerConfig()
	cfg.Breaker.Threshold = 100
	inv := NewInvoker(r, cfg, nil)

	res, err := inv.Invoke(context.Background(), types.Step{Tool: "remote"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.RetryCount)
	assert.EqualValues(t, 3, calls.Load())
}

func TestInvoker_CallerErrorsNotRetried(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrToolNotFound, types.ErrInvalidRequest} {
		t.Run(string(code), func(t *testing.T) {
			var calls atomic.Int32
			r := NewRegistry(nil)
			r.Register(Func{ToolName: "strict", Fn: func(context.Context, map[string]any) (map[string]any, error) {
				calls.Add(1)
				return nil, types.NewError(code, "bad call")
			}})
			inv := NewInvoker(r, fastInvokerConfig(), nil)

			res, err := inv.Invoke(context.Background(), types.Step{Tool: "strict"}, nil)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Zero(t, res.RetryCount)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestInvoker_OpenCircuitNotRetried(t *testing.T) {
	r := NewRegistry(nil)
	ft := &flakyTool{name: "down", failures: 100}
	r.Register(ft)
	cfg := fastInvokerConfig()
	cfg.MaxAttempts = 1
	cfg.Breaker = circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour}
	inv := NewInvoker(r, cfg, nil)

	_, _ = inv.Invoke(context.Background(), types.Step{Tool: "down"}, nil)
	assert.Equal(t, "Open", inv.Stats().Breakers["down"])

	cfg.MaxAttempts = 3
	inv.config = cfg
	res, err := inv.Invoke(context.Background(), types.Step{Tool: "down"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.RetryCount)
	assert.EqualValues(t, 1, ft.calls.Load())
}

func TestInvoker_RecentErrorsCapped(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&flakyTool{name: "bad", failures: 1000})
	cfg := fastInvokerConfig()
	cfg.MaxAttempts = 1
	cfg.Breaker.Threshold = 1000
	inv := NewInvoker(r, cfg, nil)

	for i := 0; i < 8; i++ {
		_, _ = inv.Invoke(context.Background(), types.Step{Tool: "bad"}, nil)
	}
	st := inv.Stats()
	assert.EqualValues(t, 8, st.ErrorCount)
	assert.Len(t, st.RecentErrors, recentErrorCount)
	assert.Zero(t, st.SuccessRate)
}

func TestInvoker_UnknownToolWithoutFallback(t *testing.T) {
	inv := NewInvoker(NewRegistry(nil), fastInvokerConfig(), nil)
	res, err := inv.Invoke(context.Background(), types.Step{Tool: "nope"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "TOOL_NOT_FOUND")
}

func TestInvoker_CancelledContext(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&flakyTool{name: "slow", failures: 1000})
	cfg := fastInvokerConfig()
	cfg.RetryBaseDelay = time.Second
	inv := NewInvoker(r, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := inv.Invoke(ctx, types.Step{Tool: "slow"}, nil)
	assert.Error(t, err)
}

func TestInvoker_RateLimited(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Func{ToolName: "fast", Fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}})
	cfg := fastInvokerConfig()
	cfg.RateLimit = 20
	cfg.RateBurst = 1
	inv := NewInvoker(r, cfg, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		res, err := inv.Invoke(context.Background(), types.Step{Tool: "fast"}, nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
