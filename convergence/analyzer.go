package convergence

import (
	"fmt"
	"time"

	"github.com/BaSui01/hrmflow/types"
)

// Analysis summarises a finished execution's results.
type Analysis struct {
	Converged          bool          `json:"converged"`
	Confidence         float64       `json:"confidence"`
	SuccessRate        float64       `json:"success_rate"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	SuccessfulTools    []string      `json:"successful_tools"`
	FailedTools        []string      `json:"failed_tools"`
	Reason             string        `json:"reason"`
}

// Analyzer applies the success-rate and confidence gate to a result set.
type Analyzer struct {
	Threshold      float64
	MinSuccessRate float64
}

// NewAnalyzer returns an analyzer with the given confidence threshold and an 0.8 success gate.
func NewAnalyzer(threshold float64) *Analyzer {
	return &Analyzer{Threshold: threshold, MinSuccessRate: 0.8}
}

// Analyze implements the gate: converged iff successRate ≥ 0.8 and the mean
// confidence of successful results ≥ Threshold.
func (a *Analyzer) Analyze(results []types.ToolResult) Analysis {
	if len(results) == 0 {
		return Analysis{Reason: "No results to analyze", SuccessfulTools: []string{}, FailedTools: []string{}}
	}

	out := Analysis{SuccessfulTools: []string{}, FailedTools: []string{}}
	var confSum float64
	for _, r := range results {
		out.TotalExecutionTime += r.ExecutionTime
		if r.Success {
			out.SuccessfulTools = append(out.SuccessfulTools, r.Tool)
			confSum += r.Confidence
		} else {
			out.FailedTools = append(out.FailedTools, r.Tool)
		}
	}
	n := len(out.SuccessfulTools)
	if n == 0 {
		n = 1
	}
	out.Confidence = confSum / float64(n)
	out.SuccessRate = float64(len(out.SuccessfulTools)) / float64(len(results))
	out.Converged = out.SuccessRate >= a.MinSuccessRate && out.Confidence >= a.Threshold

	if out.Converged {
		out.Reason = "Convergence achieved"
	} else {
		out.Reason = fmt.Sprintf("Low confidence: %.2f < %v", out.Confidence, a.Threshold)
	}
	return out
}
