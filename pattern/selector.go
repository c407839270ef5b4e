package pattern

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/hrmflow/complexity"
	"github.com/BaSui01/hrmflow/config"
	"github.com/BaSui01/hrmflow/types"
)

// Selector maps tiers to patterns. The catalog can be swapped at runtime.
type Selector struct {
	catalog atomic.Pointer[Catalog]
	logger  *zap.Logger
}

// NewSelector creates a selector over cat. A nil catalog selects the defaults.
func NewSelector(cat Catalog, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cat == nil {
		cat = DefaultCatalog()
	}
	s := &Selector{logger: logger.With(zap.String("component", "pattern_selector"))}
	s.catalog.Store(&cat)
	return s
}

// Select returns the pattern for tier; tiers without a pattern fall back to medium.
func (s *Selector) Select(tier types.Tier) types.Pattern {
	cat := *s.catalog.Load()
	steps, ok := cat[tier]
	if !ok || len(steps) == 0 {
		tier = types.TierMedium
		steps = cat[tier]
	}
	out := make([]types.Step, len(steps))
	copy(out, steps)
	return types.Pattern{Tier: tier, Steps: out}
}

// Catalog returns the active catalog.
func (s *Selector) Catalog() Catalog {
	return *s.catalog.Load()
}

// Replace swaps the active catalog.
func (s *Selector) Replace(cat Catalog) {
	s.catalog.Store(&cat)
	s.logger.Info("pattern catalog replaced", zap.Int("tiers", len(cat)))
}

// ReloadFile loads path and swaps the catalog. On error the active catalog is kept.
func (s *Selector) ReloadFile(path string) error {
	cat, err := LoadCatalog(path)
	if err != nil {
		s.logger.Warn("pattern catalog reload failed, keeping previous catalog",
			zap.String("path", path), zap.Error(err))
		return err
	}
	s.Replace(cat)
	return nil
}

// Watch reloads the catalog whenever path changes. The returned watcher
// must be stopped by the caller.
func (s *Selector) Watch(ctx context.Context, path string) (*config.FileWatcher, error) {
	w, err := config.NewFileWatcher([]string{path}, config.WithWatcherLogger(s.logger))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(ev config.FileEvent) {
		if ev.Op == config.FileOpRemove || ev.Op == config.FileOpRename {
			return
		}
		_ = s.ReloadFile(ev.Path)
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Analysis describes how a query would be executed without running it.
type Analysis struct {
	Query              string                `json:"query"`
	Complexity         types.Tier            `json:"complexity"`
	Assessment         complexity.Assessment `json:"assessment"`
	Pattern            types.Pattern         `json:"pattern"`
	PatternSummary     string                `json:"pattern_summary"`
	HierarchicalLevels string                `json:"hierarchical_levels"`
}

// Analyze assesses query and selects its pattern.
func Analyze(a complexity.Assessor, s *Selector, query string) Analysis {
	res := a.Assess(query)
	p := s.Select(res.Tier)
	return Analysis{
		Query:              query,
		Complexity:         res.Tier,
		Assessment:         res,
		Pattern:            p,
		PatternSummary:     p.Summary(),
		HierarchicalLevels: p.Levels(),
	}
}
