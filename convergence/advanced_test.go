package convergence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

func mediumPattern() *types.Pattern {
	return &types.Pattern{Tier: types.TierMedium, Steps: []types.Step{
		{Tool: "brain_recall", Level: types.LevelHigh},
		{Tool: "web_search", Level: types.LevelLow},
		{Tool: "brain_remember", Level: types.LevelHigh},
	}}
}

func mediumResults() []types.ToolResult {
	return []types.ToolResult{
		{Tool: "brain_recall", Success: true, Confidence: 0.82},
		{Tool: "web_search", Success: true, Confidence: 0.85},
		{Tool: "brain_remember", Success: true, Confidence: 0.96},
	}
}

func strategy(r Report, s Strategy) StrategyResult {
	for _, sr := range r.Strategies {
		if sr.Strategy == s {
			return sr
		}
	}
	return StrategyResult{}
}

func TestAdvancedAnalyzer_EarlyExits(t *testing.T) {
	a := NewAdvancedAnalyzer(0.75, nil, zap.NewNop())
	ctx := context.Background()

	r := a.Analyze(ctx, nil, nil, types.TierSimple)
	assert.False(t, r.Converged)
	assert.Equal(t, "No results to analyze", r.Reason)
	assert.Equal(t, needsAttention, r.Recommendation)

	r = a.Analyze(ctx, []types.ToolResult{{Tool: "x", Success: false}}, nil, types.TierSimple)
	assert.Equal(t, "No successful results with confidence", r.Reason)
	assert.Equal(t, needsAttention, r.Recommendation)
	assert.Len(t, a.History(), 2)

	empty := combine(nil)
	assert.Equal(t, "No strategy produced a score", empty.Reason)
	assert.Equal(t, needsAttention, empty.Recommendation)
}

func TestAdvancedAnalyzer_ZeroConfidenceSuccessCounts(t *testing.T) {
	a := NewAdvancedAnalyzer(0.75, nil, zap.NewNop())
	r := a.Analyze(context.Background(), []types.ToolResult{{Tool: "x", Success: true, Confidence: 0}}, nil, types.TierSimple)

	assert.Equal(t, "No strategy produced a score", r.Reason)
	assert.Equal(t, needsAttention, r.Recommendation)
	assert.False(t, r.Converged)
	assert.NotEmpty(t, r.Strategies)
}

func TestAdvancedAnalyzer_CombinedVote(t *testing.T) {
	store := NewMemoryStore()
	a := NewAdvancedAnalyzer(0.75, store, zap.NewNop())
	ctx := context.Background()

	first := a.Analyze(ctx, mediumResults(), mediumPattern(), types.TierMedium)
	assert.True(t, first.Converged)
	assert.InDelta(t, 0.8, first.VoteWeight, 1e-9)
	assert.Equal(t, StrategyAdaptiveLearning, first.Primary)
	assert.Equal(t, "Combined analysis: 0.8/1.0 vote weight, primary: adaptive_learning", first.Reason)
	assert.True(t, strategy(first, StrategyConfidenceThreshold).Converged)
	assert.True(t, strategy(first, StrategyConsensus).Converged)
	assert.False(t, strategy(first, StrategyDiminishingReturns).Converged)
	assert.InDelta(t, 0.6675, first.Score, 1e-3)
	assert.Equal(t, "Convergence achieved but with room for improvement - consider pattern refinement", first.Recommendation)

	second := a.Analyze(ctx, mediumResults(), mediumPattern(), types.TierMedium)
	al := strategy(second, StrategyAdaptiveLearning)
	assert.False(t, al.Converged)
	assert.InDelta(t, 0.9, al.Metrics["threshold"], 1e-9)
	assert.InDelta(t, 0.65, second.VoteWeight, 1e-9)
	assert.True(t, second.Converged)

	perf, ok, err := store.Get(ctx, mediumPattern().Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, perf.Executions)
	assert.Len(t, perf.History, 2)
}

func TestDiminishingReturns_Plateau(t *testing.T) {
	r := diminishingReturns([]float64{0.80, 0.82, 0.83, 0.83})
	assert.True(t, r.Converged)
	assert.InDelta(t, 1-0.01, r.Score, 1e-9)

	r = diminishingReturns([]float64{0.8, 0.9})
	assert.Zero(t, r.Score)
	assert.False(t, r.Converged)
}

func TestConsensus_Disagreement(t *testing.T) {
	rs := []types.ToolResult{
		{Tool: "a", Success: true, Confidence: 0.95},
		{Tool: "b", Success: true, Confidence: 0.30},
	}
	r := consensus(rs, mediumPattern())
	assert.False(t, r.Converged)
	assert.Less(t, r.Metrics["agreement"], 0.8)

	assert.Zero(t, consensus(rs, nil).Score)
}

func TestConfidenceThreshold_TierSensitive(t *testing.T) {
	confs := []float64{0.82, 0.82}
	assert.True(t, confidenceThreshold(confs, 1, types.TierMedium).Converged)
	assert.False(t, confidenceThreshold(confs, 1, types.TierExpert).Converged)
	assert.InDelta(t, 1.0, confidenceThreshold([]float64{0.7}, 1, types.TierSimple).Metrics["stability"], 1e-9)
}

func TestRecommendation(t *testing.T) {
	assert.Contains(t, Recommendation(true, 0.95), "Excellent")
	assert.Contains(t, Recommendation(true, 0.85), "Good convergence")
	assert.Contains(t, Recommendation(true, 0.5), "room for improvement")
	assert.Contains(t, Recommendation(false, 0.65), "Near convergence")
	assert.Contains(t, Recommendation(false, 0.45), "Moderate progress")
	assert.Contains(t, Recommendation(false, 0.1), "Low convergence")
}

func TestPatternPerformance_HistoryCapped(t *testing.T) {
	var p PatternPerformance
	for i := 0; i < 60; i++ {
		p.Record(float64(i%2), p.UpdatedAt)
	}
	assert.Equal(t, 60, p.Executions)
	assert.Len(t, p.History, maxPerformanceHistory)
	assert.InDelta(t, 0.5, p.AverageConfidence, 1e-9)
}

func TestAdvancedAnalyzer_Insights(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "simple:brain_recall", PatternPerformance{Executions: 4, AverageConfidence: 0.7}))
	require.NoError(t, store.Put(ctx, "medium:a-b", PatternPerformance{Executions: 2, AverageConfidence: 0.9}))
	require.NoError(t, store.Put(ctx, "expert:x", PatternPerformance{Executions: 1, AverageConfidence: 0.8}))
	require.NoError(t, store.Put(ctx, "complex:y", PatternPerformance{Executions: 1, AverageConfidence: 0.6}))

	in, err := NewAdvancedAnalyzer(0.75, store, nil).Insights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, in.TotalPatternsLearned)
	assert.Equal(t, 8, in.TotalExecutions)
	require.Len(t, in.BestPatterns, 3)
	assert.Equal(t, "medium:a-b", in.BestPatterns[0].Key)
	assert.Equal(t, "High-performing pattern for medium: a-b (avg confidence: 0.90, 2 executions)", in.Insights[0])
	assert.Len(t, in.Recommendations, 2)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "")
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "medium:a")
	require.NoError(t, err)
	assert.False(t, ok)

	a := NewAdvancedAnalyzer(0.75, store, zap.NewNop())
	a.Analyze(ctx, mediumResults(), mediumPattern(), types.TierMedium)

	perf, ok, err := store.Get(ctx, mediumPattern().Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, perf.Executions)
	assert.True(t, mr.Exists(DefaultRedisKey))

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAdvancedAnalyzer_StoreFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	a := NewAdvancedAnalyzer(0.75, NewRedisStore(client, ""), zap.NewNop())
	r := a.Analyze(context.Background(), mediumResults(), mediumPattern(), types.TierMedium)
	assert.False(t, r.Converged)
	assert.Equal(t, needsAttention, r.Recommendation)
}
