package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/hrmflow/knowledge"
	"github.com/BaSui01/hrmflow/types"
)

// =============================================================================
// 🧠 知识库工具
// =============================================================================

// NewBrainRecall returns brain_recall backed by store.
func NewBrainRecall(store knowledge.Store) Tool {
	return Func{ToolName: BrainRecall, Fn: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		query, _ := params["query"].(string)
		limit := knowledge.DefaultRecallLimit
		if n, ok := number(params["limit"]); ok && n > 0 {
			limit = int(n)
		}
		matches, err := store.Recall(ctx, query, limit)
		if err != nil {
			return nil, types.NewStorageError("recall", err).WithRetryable(true)
		}

		memories := make([]map[string]any, len(matches))
		for i, m := range matches {
			memories[i] = map[string]any{
				"key":       m.Key,
				"relevance": m.Relevance,
				"content":   m.Content,
				"timestamp": m.UpdatedAt.UTC().Format(time.RFC3339),
			}
		}
		confidence := 0.45
		if len(matches) > 0 {
			confidence = 0.5 + 0.5*matches[0].Relevance
			if confidence > 0.95 {
				confidence = 0.95
			}
		}
		return map[string]any{
			"memories_found":    len(matches),
			"memories":          memories,
			"search_confidence": confidence,
		}, nil
	}}
}

// NewBrainRemember returns brain_remember backed by store.
func NewBrainRemember(store knowledge.Store) Tool {
	return Func{ToolName: BrainRemember, Fn: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		key, _ := params["key"].(string)
		if key == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "brain_remember requires a key").WithProvider(BrainRemember)
		}
		memType, _ := params["memory_type"].(string)
		value, _ := params["value"].(map[string]any)

		content := rememberContent(value)
		err := store.Remember(ctx, knowledge.Entry{
			Key:        key,
			MemoryType: memType,
			Content:    content,
			Value:      value,
		})
		if err != nil {
			return nil, types.NewStorageError("remember", err).WithRetryable(true)
		}
		return map[string]any{
			"stored":             true,
			"key":                key,
			"memory_type":        memType,
			"content_length":     len(content),
			"storage_confidence": 0.96,
		}, nil
	}}
}

func rememberContent(value map[string]any) string {
	var parts []string
	for _, k := range []string{"query", "context"} {
		if s, ok := value[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && value != nil {
		return stringify(value)
	}
	return strings.Join(parts, "\n")
}

// =============================================================================
// 🔬 模拟工具（无外部 MCP 服务时使用）
// =============================================================================

// NewSimulatedWebSearch returns a deterministic web_search.
func NewSimulatedWebSearch() Tool {
	return Func{ToolName: WebSearch, Fn: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		query, _ := params["query"].(string)
		topic := truncate(strings.TrimSpace(query), 60)
		slug := slugify(topic)

		results := make([]map[string]any, 3)
		for i := range results {
			results[i] = map[string]any{
				"url":       fmt.Sprintf("https://research.example.org/%s/%d", slug, i+1),
				"title":     fmt.Sprintf("%s: source %d", topic, i+1),
				"snippet":   fmt.Sprintf("Key findings on %s from source %d.", topic, i+1),
				"relevance": 0.95 - 0.07*float64(i),
			}
		}
		return map[string]any{
			"query":             query,
			"results_count":     8,
			"results":           results,
			"search_confidence": 0.85,
		}, nil
	}}
}

var thinkingSteps = []string{
	"Clarify the problem",
	"Identify key components",
	"Map relationships between components",
	"Generate hypotheses",
	"Evaluate evidence",
	"Resolve contradictions",
	"Synthesize conclusion",
}

// NewSimulatedSequentialThinking returns a deterministic sequential_thinking.
func NewSimulatedSequentialThinking() Tool {
	return Func{ToolName: SequentialThinking, Fn: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		thought, _ := params["thought"].(string)
		subject := truncate(thought, 80)

		chain := make([]string, len(thinkingSteps))
		for i, s := range thinkingSteps {
			chain[i] = fmt.Sprintf("Step %d: %s", i+1, s)
		}
		return map[string]any{
			"thoughts_generated":  len(chain),
			"reasoning_chain":     chain,
			"final_answer":        fmt.Sprintf("Structured analysis of %q across %d reasoning steps", subject, len(chain)),
			"thinking_confidence": 0.83,
		}, nil
	}}
}

// NewSimulatedReasoningTools returns a deterministic reasoning_tools.
func NewSimulatedReasoningTools() Tool {
	return Func{ToolName: ReasoningTools, Fn: func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		problem, _ := params["problem"].(string)
		perspectives := []string{"technical", "practical", "theoretical", "systemic"}
		return map[string]any{
			"verification_steps":    5,
			"perspectives_analyzed": len(perspectives),
			"perspectives":          perspectives,
			"verification_result":   fmt.Sprintf("Reasoning on %q is consistent across %d perspectives", truncate(problem, 80), len(perspectives)),
			"final_confidence":      0.79,
			"recommendations": []string{
				"Validate assumptions against primary sources",
				"Test conclusions on edge cases",
				"Revisit the analysis as new evidence appears",
			},
		}, nil
	}}
}

// RegisterBuiltins registers the knowledge-backed brain tools and the simulated tools.
func RegisterBuiltins(r *Registry, store knowledge.Store) {
	r.Register(NewBrainRecall(store))
	r.Register(NewBrainRemember(store))
	r.Register(NewSimulatedWebSearch())
	r.Register(NewSimulatedSequentialThinking())
	r.Register(NewSimulatedReasoningTools())
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
