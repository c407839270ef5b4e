package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

var confidenceKeys = []string{
	"confidence",
	"search_confidence",
	"thinking_confidence",
	"final_confidence",
	"storage_confidence",
}

// ExtractConfidence derives a confidence in [0,1] from a tool's output.
func ExtractConfidence(tool string, data map[string]any) float64 {
	for _, k := range confidenceKeys {
		if f, ok := number(data[k]); ok {
			return clamp01(f)
		}
	}
	switch tool {
	case WebSearch:
		if n := length(data["results"]); n > 0 {
			return 0.9
		}
		return 0.3
	case BrainRemember:
		if truthy(data["stored"]) || truthy(data["success"]) {
			return 0.95
		}
		return 0.1
	}
	return 0.8
}

// ChainSegment is the text appended to the running context after a successful call.
func ChainSegment(data map[string]any) string {
	if s, ok := data["final_answer"].(string); ok && s != "" {
		return " | Analysis: " + truncate(s, 150)
	}
	if s, ok := data["verification_result"].(string); ok && s != "" {
		return " | Verification: " + truncate(s, 150)
	}
	if m, ok := firstItem(data["memories"]); ok {
		if s, ok := m["content"].(string); ok && s != "" {
			return " | Memory: " + truncate(s, 150)
		}
	}
	if m, ok := firstItem(data["results"]); ok {
		if s, ok := m["snippet"].(string); ok && s != "" {
			return " | Search: " + truncate(s, 150)
		}
	}
	return " | Output: " + truncate(stringify(data), 150)
}

// Preview renders a short human-readable summary of a tool's output.
func Preview(data map[string]any) string {
	if s, ok := data["final_answer"].(string); ok && s != "" {
		return "Analysis: " + truncate(s, 200) + "..."
	}
	if s, ok := data["verification_result"].(string); ok && s != "" {
		return "Verification: " + truncate(s, 200) + "..."
	}
	// 空列表落入下一分支
	if n := length(data["memories"]); n > 0 {
		top := 0.0
		if m, ok := firstItem(data["memories"]); ok {
			top, _ = number(m["relevance"])
		}
		return fmt.Sprintf("Memories: %d found, top relevance: %.2f", n, top)
	}
	if n := length(data["results"]); n > 0 {
		title := ""
		if m, ok := firstItem(data["results"]); ok {
			title, _ = m["title"].(string)
		}
		return fmt.Sprintf("Search: %d results, top: %s...", n, truncate(title, 100))
	}
	s := stringify(data)
	if len([]rune(s)) > 200 {
		return truncate(s, 200) + "..."
	}
	return s
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	}
	return false
}

func length(v any) int {
	switch s := v.(type) {
	case []any:
		return len(s)
	case []map[string]any:
		return len(s)
	}
	return 0
}

func firstItem(v any) (map[string]any, bool) {
	switch s := v.(type) {
	case []any:
		if len(s) > 0 {
			m, ok := s[0].(map[string]any)
			return m, ok
		}
	case []map[string]any:
		if len(s) > 0 {
			return s[0], true
		}
	}
	return nil, false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
