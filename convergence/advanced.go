package convergence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// Strategy names a convergence strategy.
type Strategy string

const (
	StrategyConfidenceThreshold Strategy = "confidence_threshold"
	StrategyDiminishingReturns  Strategy = "diminishing_returns"
	StrategyConsensus           Strategy = "consensus"
	StrategyAdaptiveLearning    Strategy = "adaptive_learning"
	StrategyCombined            Strategy = "combined"
	StrategyNone                Strategy = "none"
)

var strategyWeights = map[Strategy]float64{
	StrategyConfidenceThreshold: 0.4,
	StrategyDiminishingReturns:  0.2,
	StrategyConsensus:           0.25,
	StrategyAdaptiveLearning:    0.15,
}

var strategyOrder = []Strategy{
	StrategyConfidenceThreshold,
	StrategyDiminishingReturns,
	StrategyConsensus,
	StrategyAdaptiveLearning,
}

// TierThresholds are the per-tier confidence thresholds.
var TierThresholds = map[types.Tier]float64{
	types.TierSimple:  0.65,
	types.TierMedium:  0.75,
	types.TierComplex: 0.80,
	types.TierExpert:  0.85,
}

// StrategyResult is one strategy's verdict.
type StrategyResult struct {
	Strategy  Strategy           `json:"strategy"`
	Converged bool               `json:"converged"`
	Score     float64            `json:"score"`
	Reason    string             `json:"reason"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Report is the combined verdict of every applicable strategy.
type Report struct {
	Converged      bool             `json:"converged"`
	Score          float64          `json:"score"`
	VoteWeight     float64          `json:"vote_weight"`
	Primary        Strategy         `json:"primary_strategy"`
	Reason         string           `json:"reason"`
	Recommendation string           `json:"recommendation"`
	Strategies     []StrategyResult `json:"strategies"`
	Timestamp      time.Time        `json:"timestamp"`
}

// AdvancedAnalyzer combines four convergence strategies and learns per-pattern
// performance over time.
type AdvancedAnalyzer struct {
	base   float64
	store  PerformanceStore
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	history []Report
}

// maxConvergenceHistory bounds the retained reports.
const maxConvergenceHistory = 100

// NewAdvancedAnalyzer creates an analyzer with base threshold base. A nil
// store keeps performance in memory.
func NewAdvancedAnalyzer(base float64, store PerformanceStore, logger *zap.Logger) *AdvancedAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if base <= 0 {
		base = 0.75
	}
	return &AdvancedAnalyzer{
		base:   base,
		store:  store,
		logger: logger.With(zap.String("component", "convergence_analyzer")),
		now:    time.Now,
	}
}

// Analyze evaluates results for pattern and records the observation for
// adaptive learning. A nil pattern disables consensus and learning.
func (a *AdvancedAnalyzer) Analyze(ctx context.Context, results []types.ToolResult, pattern *types.Pattern, tier types.Tier) Report {
	if len(results) == 0 {
		return a.finish(Report{Primary: StrategyNone, Reason: "No results to analyze", Recommendation: needsAttention})
	}

	var confs []float64
	for _, r := range results {
		if r.Success {
			confs = append(confs, r.Confidence)
		}
	}
	if len(confs) == 0 {
		return a.finish(Report{Primary: StrategyNone, Reason: "No successful results with confidence", Recommendation: needsAttention})
	}

	success := types.SuccessRate(results)
	strategies := []StrategyResult{
		confidenceThreshold(confs, success, tier),
		diminishingReturns(confs),
		consensus(results, pattern),
	}

	var key string
	if pattern != nil {
		key = pattern.Key()
		al, err := a.adaptiveLearning(ctx, key, mean(confs))
		if err != nil {
			a.logger.Warn("adaptive learning unavailable", zap.String("pattern", key), zap.Error(err))
			return a.finish(Report{
				Primary:        StrategyNone,
				Reason:         fmt.Sprintf("Analysis error: %v", err),
				Recommendation: needsAttention,
			})
		}
		strategies = append(strategies, al)
	}

	report := combine(strategies)
	if key != "" {
		if err := a.recordPerformance(ctx, key, mean(confs)); err != nil {
			a.logger.Warn("failed to record pattern performance", zap.String("pattern", key), zap.Error(err))
		}
	}
	return a.finish(report)
}

func (a *AdvancedAnalyzer) finish(r Report) Report {
	if r.Recommendation == "" {
		r.Recommendation = Recommendation(r.Converged, r.Score)
	}
	if r.Strategies == nil {
		r.Strategies = []StrategyResult{}
	}
	r.Timestamp = a.now()

	a.mu.Lock()
	a.history = append(a.history, r)
	if len(a.history) > maxConvergenceHistory {
		a.history = a.history[len(a.history)-maxConvergenceHistory:]
	}
	a.mu.Unlock()
	return r
}

// History returns the retained reports, oldest first.
func (a *AdvancedAnalyzer) History() []Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Report(nil), a.history...)
}

// =============================================================================
// 🎯 策略实现
// =============================================================================

func confidenceThreshold(confs []float64, success float64, tier types.Tier) StrategyResult {
	threshold, ok := TierThresholds[tier]
	if !ok {
		threshold = TierThresholds[types.TierMedium]
	}
	avg := mean(confs)
	stability := 0.0
	if avg > 0 {
		cv := sampleStdDev(confs) / avg
		if cv > 1 {
			cv = 1
		}
		stability = 1 - cv
	}
	converged := avg >= threshold && success >= 0.8 && stability >= 0.7
	return StrategyResult{
		Strategy:  StrategyConfidenceThreshold,
		Converged: converged,
		Score:     avg * success * stability,
		Reason:    fmt.Sprintf("avg confidence %.2f vs %s threshold %.2f", avg, tier, threshold),
		Metrics: map[string]float64{
			"average_confidence": avg,
			"threshold":          threshold,
			"success_rate":       success,
			"stability":          stability,
		},
	}
}

func diminishingReturns(confs []float64) StrategyResult {
	if len(confs) < 3 {
		return StrategyResult{
			Strategy: StrategyDiminishingReturns,
			Reason:   "Insufficient data for diminishing returns analysis",
		}
	}
	gains := make([]float64, 0, len(confs)-1)
	for i := 1; i < len(confs); i++ {
		g := confs[i] - confs[i-1]
		if g < 0 {
			g = 0
		}
		gains = append(gains, g)
	}
	recent := gains
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}
	plateau := true
	for _, g := range recent {
		if g > 0.05 {
			plateau = false
			break
		}
	}
	avgGain := mean(gains)
	converged := plateau && avgGain < 0.1

	score := avgGain
	if converged {
		score = 1 - avgGain
	}
	return StrategyResult{
		Strategy:  StrategyDiminishingReturns,
		Converged: converged,
		Score:     score,
		Reason:    fmt.Sprintf("average improvement %.3f", avgGain),
		Metrics:   map[string]float64{"average_gain": avgGain},
	}
}

func consensus(results []types.ToolResult, pattern *types.Pattern) StrategyResult {
	if pattern == nil || len(results) < 2 {
		return StrategyResult{Strategy: StrategyConsensus, Reason: "Insufficient data for consensus analysis"}
	}

	byTool := make(map[string][]float64)
	var order []string
	for _, r := range results {
		if !r.Success {
			continue
		}
		if _, seen := byTool[r.Tool]; !seen {
			order = append(order, r.Tool)
		}
		byTool[r.Tool] = append(byTool[r.Tool], r.Confidence)
	}
	if len(order) == 0 {
		return StrategyResult{Strategy: StrategyConsensus, Reason: "No successful tools"}
	}

	toolMeans := make([]float64, 0, len(order))
	for _, t := range order {
		toolMeans = append(toolMeans, mean(byTool[t]))
	}
	overall := mean(toolMeans)
	agreement := 1.0
	if len(toolMeans) > 1 && overall > 0 {
		agreement = 1 - sampleStdDev(toolMeans)/overall
		if agreement < 0 {
			agreement = 0
		}
	}
	return StrategyResult{
		Strategy:  StrategyConsensus,
		Converged: overall >= 0.75 && agreement >= 0.8,
		Score:     overall * agreement,
		Reason:    fmt.Sprintf("%d tools agree at %.2f", len(order), agreement),
		Metrics:   map[string]float64{"overall_confidence": overall, "agreement": agreement},
	}
}

func (a *AdvancedAnalyzer) adaptiveLearning(ctx context.Context, key string, current float64) (StrategyResult, error) {
	perf, ok, err := a.store.Get(ctx, key)
	if err != nil {
		return StrategyResult{}, err
	}
	if ok && perf.Executions > 0 {
		threshold := perf.AverageConfidence + 0.1
		if threshold > 0.9 {
			threshold = 0.9
		}
		return StrategyResult{
			Strategy:  StrategyAdaptiveLearning,
			Converged: current >= threshold,
			Score:     current / threshold,
			Reason:    fmt.Sprintf("learned threshold %.2f from %d executions", threshold, perf.Executions),
			Metrics: map[string]float64{
				"historical_confidence": perf.AverageConfidence,
				"threshold":             threshold,
				"current_confidence":    current,
			},
		}, nil
	}
	return StrategyResult{
		Strategy:  StrategyAdaptiveLearning,
		Converged: current >= a.base,
		Score:     current,
		Reason:    "no history, using base threshold",
		Metrics:   map[string]float64{"threshold": a.base, "current_confidence": current},
	}, nil
}

func (a *AdvancedAnalyzer) recordPerformance(ctx context.Context, key string, current float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	perf, _, err := a.store.Get(ctx, key)
	if err != nil {
		return err
	}
	perf.Record(current, a.now())
	return a.store.Put(ctx, key, perf)
}

func combine(strategies []StrategyResult) Report {
	var (
		score, votes float64
		primary      = StrategyNone
		best         = -1.0
		used         []StrategyResult
	)
	for _, s := range strategies {
		if s.Score <= 0 {
			continue
		}
		used = append(used, s)
		w := strategyWeights[s.Strategy]
		score += s.Score * w
		if s.Converged {
			votes += w
		}
		if s.Score > best {
			best = s.Score
			primary = s.Strategy
		}
	}
	if len(used) == 0 {
		return Report{Primary: StrategyNone, Reason: "No strategy produced a score", Strategies: strategies, Recommendation: needsAttention}
	}
	return Report{
		Converged:  votes >= 0.5,
		Score:      score,
		VoteWeight: votes,
		Primary:    primary,
		Reason:     fmt.Sprintf("Combined analysis: %.1f/1.0 vote weight, primary: %s", votes, primary),
		Strategies: strategies,
	}
}

// needsAttention is the guidance for analyses that could not score anything.
const needsAttention = "System needs attention - review input data and tool configuration"

// Recommendation maps a verdict and score to operator guidance.
func Recommendation(converged bool, score float64) string {
	if converged {
		switch {
		case score >= 0.9:
			return "Excellent convergence achieved - consider reducing future pattern complexity for efficiency"
		case score >= 0.8:
			return "Good convergence achieved - pattern is well-optimized"
		default:
			return "Convergence achieved but with room for improvement - consider pattern refinement"
		}
	}
	switch {
	case score >= 0.6:
		return "Near convergence - one additional iteration may achieve convergence"
	case score >= 0.4:
		return "Moderate progress - continue with current pattern or consider tool adjustment"
	default:
		return "Low convergence - consider alternative reasoning pattern or tool selection"
	}
}

// =============================================================================
// 📈 学习洞察
// =============================================================================

// PatternInsight is one learned pattern's summary.
type PatternInsight struct {
	Key               string  `json:"key"`
	Tier              string  `json:"tier"`
	Pattern           string  `json:"pattern"`
	AverageConfidence float64 `json:"average_confidence"`
	Executions        int     `json:"executions"`
}

// LearningInsights summarises what the analyzer has learned.
type LearningInsights struct {
	TotalPatternsLearned int              `json:"total_patterns_learned"`
	TotalExecutions      int              `json:"total_executions"`
	BestPatterns         []PatternInsight `json:"best_patterns"`
	Insights             []string         `json:"insights"`
	Recommendations      []string         `json:"recommendations"`
}

// Insights ranks learned patterns by average confidence.
func (a *AdvancedAnalyzer) Insights(ctx context.Context) (LearningInsights, error) {
	all, err := a.store.All(ctx)
	if err != nil {
		return LearningInsights{}, err
	}

	out := LearningInsights{
		TotalPatternsLearned: len(all),
		BestPatterns:         []PatternInsight{},
		Insights:             []string{},
		Recommendations:      []string{},
	}
	ranked := make([]PatternInsight, 0, len(all))
	for key, p := range all {
		out.TotalExecutions += p.Executions
		tier, pat, _ := strings.Cut(key, ":")
		ranked = append(ranked, PatternInsight{
			Key:               key,
			Tier:              tier,
			Pattern:           pat,
			AverageConfidence: p.AverageConfidence,
			Executions:        p.Executions,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AverageConfidence != ranked[j].AverageConfidence {
			return ranked[i].AverageConfidence > ranked[j].AverageConfidence
		}
		return ranked[i].Key < ranked[j].Key
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	out.BestPatterns = ranked
	for _, p := range ranked {
		out.Insights = append(out.Insights, fmt.Sprintf(
			"High-performing pattern for %s: %s (avg confidence: %.2f, %d executions)",
			p.Tier, p.Pattern, p.AverageConfidence, p.Executions))
	}
	if len(all) >= 3 {
		out.Recommendations = append(out.Recommendations,
			"Sufficient pattern data collected for optimization",
			"Consider A/B testing alternative patterns for underperforming queries")
	}
	return out, nil
}
