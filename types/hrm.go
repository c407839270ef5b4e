package types

import (
	"strings"
	"time"
)

// Tier 查询复杂度等级
type Tier string

const (
	TierSimple  Tier = "simple"
	TierMedium  Tier = "medium"
	TierComplex Tier = "complex"
	TierExpert  Tier = "expert"
	// TierUnknown is only reported for executions that failed before assessment.
	TierUnknown Tier = "unknown"
)

// Tiers lists the assessable tiers from least to most complex.
func Tiers() []Tier {
	return []Tier{TierSimple, TierMedium, TierComplex, TierExpert}
}

// ParseTier parses a tier name. Unknown names map to TierMedium.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierSimple:
		return TierSimple
	case TierComplex:
		return TierComplex
	case TierExpert:
		return TierExpert
	default:
		return TierMedium
	}
}

// Valid reports whether t is one of the four assessable tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierSimple, TierMedium, TierComplex, TierExpert:
		return true
	}
	return false
}

// Level 步骤层级：H 为策略/上下文，L 为细节处理
type Level string

const (
	LevelHigh Level = "HIGH"
	LevelLow  Level = "LOW"
)

// Short returns the single-letter form used in pattern level strings.
func (l Level) Short() string {
	if l == "" {
		return "?"
	}
	return string(l[0])
}

// Phase 流水线阶段
type Phase string

const (
	PhaseAnalysis      Phase = "analysis"
	PhaseOrchestration Phase = "orchestration"
	PhaseConvergence   Phase = "convergence"
	PhaseSynthesis     Phase = "synthesis"
)

// Step is one tool call in a pattern.
type Step struct {
	Tool    string `json:"tool" yaml:"tool"`
	Level   Level  `json:"level" yaml:"level"`
	Purpose string `json:"purpose" yaml:"purpose"`
}

// Pattern is the ordered H-L-H sequence of tool calls for a tier.
type Pattern struct {
	Tier  Tier   `json:"tier" yaml:"tier"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// ToolNames returns the tool names in step order.
func (p Pattern) ToolNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Tool
	}
	return names
}

// Summary joins tool names with arrows, e.g. "brain_recall → web_search".
func (p Pattern) Summary() string {
	return strings.Join(p.ToolNames(), " → ")
}

// Levels returns the hierarchical level string, e.g. "HLH".
func (p Pattern) Levels() string {
	var b strings.Builder
	for _, s := range p.Steps {
		b.WriteString(s.Level.Short())
	}
	return b.String()
}

// Key identifies a tier+pattern combination, e.g. "medium:brain_recall-web_search".
func (p Pattern) Key() string {
	return string(p.Tier) + ":" + strings.Join(p.ToolNames(), "-")
}

// ToolResult 单次工具调用结果
type ToolResult struct {
	Tool          string         `json:"tool"`
	Phase         Phase          `json:"phase"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Confidence    float64        `json:"confidence"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Error         string         `json:"error,omitempty"`
	RetryCount    int            `json:"retry_count"`
	Iteration     int            `json:"iteration"`
	Step          int            `json:"step"`
}

// Confidences returns the confidence of every result in order.
func Confidences(results []ToolResult) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Confidence
	}
	return out
}

// SuccessRate is the fraction of successful results; 0 for no results.
func SuccessRate(results []ToolResult) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return float64(n) / float64(len(results))
}
