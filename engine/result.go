package engine

import (
	"time"

	"github.com/BaSui01/hrmflow/complexity"
	"github.com/BaSui01/hrmflow/convergence"
	"github.com/BaSui01/hrmflow/tools"
	"github.com/BaSui01/hrmflow/types"
)

// StepResult is a tool result with a short preview of its output.
type StepResult struct {
	types.ToolResult
	DataPreview string `json:"data_preview,omitempty"`
}

// Convergence bundles every convergence verdict of an execution.
type Convergence struct {
	convergence.Analysis
	// Loop is the loop detector's last decision.
	Loop     convergence.Decision `json:"loop"`
	Advanced *convergence.Report  `json:"advanced,omitempty"`
}

// Result 一次执行的完整结果
type Result struct {
	RunID              string                `json:"run_id"`
	Query              string                `json:"query"`
	Complexity         types.Tier            `json:"complexity"`
	Assessment         complexity.Assessment `json:"assessment"`
	Pattern            []string              `json:"pattern"`
	HierarchicalLevels string                `json:"hierarchical_levels,omitempty"`
	Results            []StepResult          `json:"results"`
	Convergence        Convergence           `json:"convergence"`
	TotalExecutionTime time.Duration         `json:"total_execution_time"`
	Success            bool                  `json:"success"`
	Insights           []string              `json:"insights"`
	NextActions        []string              `json:"next_actions"`
	Iterations         int                   `json:"iterations"`
	ContextTokens      int                   `json:"context_tokens"`
	Error              string                `json:"error,omitempty"`
	Cached             bool                  `json:"cached,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
}

func stepResults(results []types.ToolResult) []StepResult {
	out := make([]StepResult, len(results))
	for i, r := range results {
		out[i] = StepResult{ToolResult: r}
		if r.Data != nil {
			out[i].DataPreview = tools.Preview(r.Data)
		}
	}
	return out
}

// clone copies r so callers sharing a deduplicated result cannot affect each other.
func (r *Result) clone() *Result {
	c := *r
	c.Results = append([]StepResult(nil), r.Results...)
	c.Insights = append([]string(nil), r.Insights...)
	c.NextActions = append([]string(nil), r.NextActions...)
	c.Pattern = append([]string(nil), r.Pattern...)
	return &c
}
