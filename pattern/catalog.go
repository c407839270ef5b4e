package pattern

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/hrmflow/types"
)

// Catalog maps each tier to its tool pattern.
type Catalog map[types.Tier][]types.Step

// Tool names used by the default catalog.
const (
	ToolBrainRecall        = "brain_recall"
	ToolBrainRemember      = "brain_remember"
	ToolWebSearch          = "web_search"
	ToolSequentialThinking = "sequential_thinking"
	ToolReasoningTools     = "reasoning_tools"
)

func h(tool, purpose string) types.Step {
	return types.Step{Tool: tool, Level: types.LevelHigh, Purpose: purpose}
}

func l(tool, purpose string) types.Step {
	return types.Step{Tool: tool, Level: types.LevelLow, Purpose: purpose}
}

// DefaultCatalog returns the built-in H-L-H patterns.
func DefaultCatalog() Catalog {
	return Catalog{
		types.TierSimple: {
			h(ToolBrainRecall, "Retrieve existing knowledge"),
		},
		types.TierMedium: {
			h(ToolBrainRecall, "Load context"),
			l(ToolWebSearch, "Gather information"),
			h(ToolBrainRemember, "Store synthesis"),
		},
		types.TierComplex: {
			h(ToolBrainRecall, "Deep context loading"),
			l(ToolSequentialThinking, "Problem decomposition"),
			h(ToolWebSearch, "Research validation"),
			l(ToolReasoningTools, "Multi-perspective analysis"),
			h(ToolBrainRemember, "Comprehensive storage"),
		},
		types.TierExpert: {
			h(ToolBrainRecall, "Context + breakthroughs"),
			l(ToolSequentialThinking, "Initial analysis"),
			h(ToolWebSearch, "Current state research"),
			l(ToolReasoningTools, "Deep reasoning"),
			l(ToolSequentialThinking, "Synthesis validation"),
			h(ToolBrainRemember, "Breakthrough storage"),
		},
	}
}

// fileCatalog is the on-disk layout:
//
//	patterns:
//	  medium:
//	    - {tool: brain_recall, level: HIGH, purpose: Load context}
type fileCatalog struct {
	Patterns map[string][]types.Step `yaml:"patterns"`
}

// ParseCatalog decodes YAML and merges it over the defaults per tier.
func ParseCatalog(data []byte) (Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, types.NewError(types.ErrPattern, "parse pattern catalog").WithCause(err)
	}

	cat := DefaultCatalog()
	for name, steps := range fc.Patterns {
		tier := types.Tier(name)
		if !tier.Valid() {
			return nil, types.NewError(types.ErrPattern, fmt.Sprintf("unknown tier %q in pattern catalog", name))
		}
		if err := validateSteps(steps); err != nil {
			return nil, types.NewError(types.ErrPattern, "tier "+name).WithCause(err)
		}
		cat[tier] = steps
	}
	return cat, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func validateSteps(steps []types.Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("pattern must have at least one step")
	}
	for i, s := range steps {
		if s.Tool == "" {
			return fmt.Errorf("step %d: tool is required", i)
		}
		if s.Level != types.LevelHigh && s.Level != types.LevelLow {
			return fmt.Errorf("step %d: level must be HIGH or LOW, got %q", i, s.Level)
		}
	}
	return nil
}
