package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/hrmflow/convergence"
	"github.com/BaSui01/hrmflow/internal/tokenizer"
)

func TestInsightGenerator_SlowExecution(t *testing.T) {
	g := InsightGenerator{SlowExecution: 10 * time.Second}
	a := convergence.Analysis{Converged: true, SuccessRate: 1, Confidence: 0.8, SuccessfulTools: []string{"web_search", "web_search"}}

	insights, actions := g.Generate(a, 12500*time.Millisecond)
	assert.Contains(t, insights, "🔧 Effective tools: web_search")
	assert.Equal(t, "⏱️ Long execution time: 12.5s", insights[len(insights)-1])
	assert.Equal(t, "Optimize tool selection for better performance", actions[len(actions)-1])

	insights, _ = g.Generate(a, time.Second)
	assert.Len(t, insights, 3)
}

func TestInsightGenerator_FractionalSuccessRate(t *testing.T) {
	a := convergence.Analysis{Converged: true, SuccessRate: 2.0 / 3.0, Confidence: 0.8}
	insights, _ := InsightGenerator{}.Generate(a, time.Second)
	assert.Equal(t, "✅ Query successfully processed with 66.7% tool success rate", insights[0])
}

func TestInsightGenerator_NotConvergedWithoutFailures(t *testing.T) {
	insights, actions := InsightGenerator{}.Generate(convergence.Analysis{Reason: "No results to analyze"}, time.Hour)
	assert.Equal(t, []string{"⚠️ Convergence not achieved: No results to analyze"}, insights)
	assert.Equal(t, []string{"Retry with adjusted parameters", "Investigate root causes of low confidence"}, actions)
}

func TestContextChain(t *testing.T) {
	c := newContextChain("query", nil, 0)
	assert.Equal(t, "query", c.String())
	c.Add(" | Search: a")
	c.Add("")
	c.Add(" | Memory: b")
	assert.Equal(t, "query | Search: a | Memory: b", c.String())
	assert.Equal(t, 0, c.Tokens())

	// 估算器：40 个 ASCII 字符约 10 个 token
	b := newContextChain("q", tokenizer.NewEstimator(), 12)
	b.Add(" | Output: " + string(make([]byte, 29)))
	b.Add(" | Output: " + string(make([]byte, 29)))
	assert.LessOrEqual(t, b.Tokens(), 12)
	assert.Equal(t, 1, b.dropped)
	assert.True(t, len(b.segments) == 1)
}
