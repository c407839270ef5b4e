package tools

import (
	"fmt"
	"time"
)

// ParamContext carries what BuildParams needs about the current step.
type ParamContext struct {
	Query   string
	Context string
	// HistoryLen is the number of executions completed before this one.
	HistoryLen int
	// StepIndex is the 0-based position of the call within the execution.
	StepIndex int
	Now       time.Time
}

// BuildParams returns the call parameters for a logical tool.
func BuildParams(tool string, pc ParamContext) map[string]any {
	switch tool {
	case BrainRecall:
		return map[string]any{"query": pc.Context, "limit": 10}
	case WebSearch:
		return map[string]any{"query": pc.Context}
	case BrainRemember:
		return map[string]any{
			"key": fmt.Sprintf("hrm_synthesis_%d_%d_%s", pc.HistoryLen, pc.StepIndex, tool),
			"value": map[string]any{
				"query":     pc.Query,
				"context":   truncate(pc.Context, 500),
				"step":      pc.StepIndex + 1,
				"tool":      tool,
				"timestamp": pc.Now.UTC().Format(time.RFC3339),
			},
			"memory_type": "hrm_synthesis",
		}
	case SequentialThinking:
		return map[string]any{"thought": pc.Context, "problem_type": "analysis"}
	case ReasoningTools:
		return map[string]any{"problem": pc.Context, "problem_type": "systematic"}
	default:
		return map[string]any{"query": pc.Context}
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
