package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/types"
)

// Logical tool names.
const (
	BrainRecall        = "brain_recall"
	BrainRemember      = "brain_remember"
	WebSearch          = "web_search"
	SequentialThinking = "sequential_thinking"
	ReasoningTools     = "reasoning_tools"
)

// Tool executes one logical tool call.
type Tool interface {
	Name() string
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Func adapts a function to Tool.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, params map[string]any) (map[string]any, error)
}

func (f Func) Name() string { return f.ToolName }

func (f Func) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f.Fn(ctx, params)
}

// DefaultAliases map logical names to "server:tool" names on MCP servers.
func DefaultAliases() map[string]string {
	return map[string]string{
		BrainRecall:        "brain:brain_recall",
		BrainRemember:      "brain:brain_remember",
		SequentialThinking: "sequential-thinking:sequentialthinking",
		ReasoningTools:     "reasoning-tools:systematic_verify",
	}
}

// SplitQualified splits "server:tool". Names without a server return ok=false.
func SplitQualified(qualified string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(qualified, ":")
	if !ok || server == "" || tool == "" {
		return "", qualified, false
	}
	return server, tool, true
}

// PhaseFor returns the pipeline phase a tool belongs to.
func PhaseFor(tool string) types.Phase {
	switch tool {
	case BrainRecall:
		return types.PhaseAnalysis
	case WebSearch, SequentialThinking:
		return types.PhaseOrchestration
	case ReasoningTools:
		return types.PhaseConvergence
	case BrainRemember:
		return types.PhaseSynthesis
	default:
		return types.PhaseOrchestration
	}
}

// =============================================================================
// 🧰 工具注册表
// =============================================================================

// Registry holds the tools available to patterns.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	aliases  map[string]string
	fallback string
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. Unknown tools resolve to brain_recall.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		aliases:  DefaultAliases(),
		fallback: BrainRecall,
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds or replaces a tool under its Name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// SetAlias overrides the qualified name of a logical tool.
func (r *Registry) SetAlias(name, qualified string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[name] = qualified
}

// Alias returns the qualified name for a logical tool, or the name itself.
func (r *Registry) Alias(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.aliases[name]; ok {
		return q
	}
	return name
}

// Resolve returns the tool for name, falling back to brain_recall for unknown names.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	fb, fbOK := r.tools[r.fallback]
	r.mu.RUnlock()

	if ok {
		return t, nil
	}
	if fbOK {
		r.logger.Warn("unknown tool, using fallback", zap.String("tool", name), zap.String("fallback", r.fallback))
		return fb, nil
	}
	return nil, types.NewError(types.ErrToolNotFound, fmt.Sprintf("tool %q is not registered", name)).WithProvider(name)
}

// Names lists registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
