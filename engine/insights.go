package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/hrmflow/convergence"
)

// InsightGenerator turns a convergence analysis into insights and next actions.
type InsightGenerator struct {
	// SlowExecution adds a performance insight when exceeded; 0 disables it.
	SlowExecution time.Duration
}

// Generate 生成洞察与后续动作
func (g InsightGenerator) Generate(a convergence.Analysis, total time.Duration) (insights, actions []string) {
	insights = []string{}
	actions = []string{}

	if a.Converged {
		insights = append(insights,
			fmt.Sprintf("✅ Query successfully processed with %.1f%% tool success rate", a.SuccessRate*100),
			fmt.Sprintf("🎯 High confidence results achieved: %.2f", a.Confidence),
		)
		if tools := uniq(a.SuccessfulTools); len(tools) > 0 {
			insights = append(insights, "🔧 Effective tools: "+strings.Join(tools, ", "))
		}
		actions = append(actions,
			"Review synthesis results for actionable insights",
			"Consider expanding analysis to related areas",
		)
	} else {
		insights = append(insights, "⚠️ Convergence not achieved: "+a.Reason)
		if failed := uniq(a.FailedTools); len(failed) > 0 {
			insights = append(insights, "❌ Failed tools need attention: "+strings.Join(failed, ", "))
			actions = append(actions, "Debug failed tool executions", "Consider alternative tool combinations")
		}
		actions = append(actions, "Retry with adjusted parameters", "Investigate root causes of low confidence")
	}

	if g.SlowExecution > 0 && total > g.SlowExecution {
		insights = append(insights, fmt.Sprintf("⏱️ Long execution time: %.1fs", total.Seconds()))
		actions = append(actions, "Optimize tool selection for better performance")
	}
	return insights, actions
}

// uniq keeps the first occurrence of each name.
func uniq(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
