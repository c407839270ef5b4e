package complexity

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BaSui01/hrmflow/types"
)

// Method names the rule set that produced an assessment.
type Method string

const (
	MethodRegex   Method = "regex"
	MethodKeyword Method = "keyword"
	MethodHybrid  Method = "hybrid"
	// MethodDefault marks a query no rule matched.
	MethodDefault Method = "default"
)

// Assessment 复杂度评估结果
type Assessment struct {
	Tier    types.Tier `json:"tier"`
	Method  Method     `json:"method"`
	Matched string     `json:"matched,omitempty"`
}

// Assessor classifies a query into a complexity tier.
type Assessor interface {
	Assess(query string) Assessment
}

// tierOrder is the precedence used by every rule set: the first matching tier wins.
var tierOrder = []types.Tier{types.TierExpert, types.TierComplex, types.TierMedium, types.TierSimple}

var defaultRegexRules = map[types.Tier][]string{
	types.TierExpert: {
		`consciousness|emergent|recursive|paradigm.*shift|bootstrap|self.*modifying`,
		`meta.*cognition|artificial.*general|superintelligence|singularity`,
		`recursive.*improvement|intelligence.*explosion|cognitive.*architecture`,
	},
	types.TierComplex: {
		`design.*system|multi.*step.*process|causal.*reasoning|emergent.*properties`,
		`synthesize.*from.*multiple|cross.*domain.*analysis|systematic.*approach`,
		`optimize.*across.*dimensions|hierarchical.*structure|feedback.*loop`,
	},
	types.TierMedium: {
		`compare.*and.*contrast|analyze.*relationship|evaluate.*trade.*offs`,
		`pros.*and.*cons|advantages.*disadvantages|correlation.*between`,
		`investigate.*connection|examine.*impact|assess.*implications`,
	},
	types.TierSimple: {
		`what.*is|define|explain.*simply|basic.*concept|fundamental`,
		`how.*to.*do|step.*by.*step|guide.*for|tutorial`,
		`list.*of|enumerate|show.*me.*examples|tell.*me.*about`,
	},
}

var defaultKeywords = map[types.Tier][]string{
	types.TierExpert:  {"consciousness", "emergent", "recursive", "bootstrap", "agi", "superintelligence", "singularity", "self-modification"},
	types.TierComplex: {"design system", "architecture", "framework", "multi-step", "systematic approach", "hierarchical", "feedback loop"},
	types.TierMedium:  {"compare", "contrast", "analyze", "evaluate", "relationship", "trade-offs", "pros and cons", "differences"},
	types.TierSimple:  {"what is", "define", "explain", "basic", "fundamental", "how to", "list of", "tell me about"},
}

// =============================================================================
// 🔍 正则评估器
// =============================================================================

// RegexAssessor matches case-insensitive regular expressions per tier.
type RegexAssessor struct {
	rules map[types.Tier][]*regexp.Regexp
}

// NewRegexAssessor compiles the built-in rule set.
func NewRegexAssessor() *RegexAssessor {
	a, err := NewRegexAssessorWithRules(defaultRegexRules)
	if err != nil {
		panic(err)
	}
	return a
}

// NewRegexAssessorWithRules compiles custom rules. Tiers absent from rules never match.
func NewRegexAssessorWithRules(rules map[types.Tier][]string) (*RegexAssessor, error) {
	compiled := make(map[types.Tier][]*regexp.Regexp, len(rules))
	for tier, exprs := range rules {
		for _, expr := range exprs {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("compile %s rule %q: %w", tier, expr, err)
			}
			compiled[tier] = append(compiled[tier], re)
		}
	}
	return &RegexAssessor{rules: compiled}, nil
}

// Assess implements Assessor.
func (a *RegexAssessor) Assess(query string) Assessment {
	for _, tier := range tierOrder {
		for _, re := range a.rules[tier] {
			if m := re.FindString(query); m != "" {
				return Assessment{Tier: tier, Method: MethodRegex, Matched: m}
			}
		}
	}
	return Assessment{Tier: types.TierMedium, Method: MethodDefault}
}

// =============================================================================
// 🔑 关键词评估器
// =============================================================================

// KeywordAssessor matches lower-cased substrings per tier.
type KeywordAssessor struct {
	keywords map[types.Tier][]string
}

// NewKeywordAssessor uses the built-in keyword sets.
func NewKeywordAssessor() *KeywordAssessor {
	return &KeywordAssessor{keywords: defaultKeywords}
}

// Assess implements Assessor.
func (a *KeywordAssessor) Assess(query string) Assessment {
	q := strings.ToLower(query)
	for _, tier := range tierOrder {
		for _, kw := range a.keywords[tier] {
			if strings.Contains(q, kw) {
				return Assessment{Tier: tier, Method: MethodKeyword, Matched: kw}
			}
		}
	}
	return Assessment{Tier: types.TierMedium, Method: MethodDefault}
}

// =============================================================================
// 🔀 混合评估器
// =============================================================================

// HybridAssessor consults the regex rules first and falls back to keywords
// only when no regex matched.
type HybridAssessor struct {
	regex   *RegexAssessor
	keyword *KeywordAssessor
}

// NewHybridAssessor creates a hybrid assessor over the built-in rule sets.
func NewHybridAssessor() *HybridAssessor {
	return &HybridAssessor{regex: NewRegexAssessor(), keyword: NewKeywordAssessor()}
}

// Assess implements Assessor.
func (a *HybridAssessor) Assess(query string) Assessment {
	if res := a.regex.Assess(query); res.Method != MethodDefault {
		res.Method = MethodHybrid
		return res
	}
	res := a.keyword.Assess(query)
	if res.Method != MethodDefault {
		res.Method = MethodHybrid
	}
	return res
}

// New returns the assessor for a configured method name. Unknown names
// select the regex assessor.
func New(method string) Assessor {
	switch Method(strings.ToLower(method)) {
	case MethodKeyword:
		return NewKeywordAssessor()
	case MethodHybrid:
		return NewHybridAssessor()
	default:
		return NewRegexAssessor()
	}
}

// =============================================================================
// 💾 缓存评估器
// =============================================================================

// Stats 评估统计
type Stats struct {
	Total     int64                `json:"total"`
	CacheHits int64                `json:"cache_hits"`
	ByTier    map[types.Tier]int64 `json:"by_tier"`
}

// CachingAssessor memoises assessments of normalised queries in an LRU.
type CachingAssessor struct {
	inner Assessor
	cache *lru.Cache[string, Assessment]

	mu    sync.Mutex
	stats Stats
}

// NewCachingAssessor wraps inner. size <= 0 defaults to 1000 entries.
func NewCachingAssessor(inner Assessor, size int) *CachingAssessor {
	if size <= 0 {
		size = 1000
	}
	// 仅 size <= 0 时返回错误
	cache, _ := lru.New[string, Assessment](size)
	return &CachingAssessor{
		inner: inner,
		cache: cache,
		stats: Stats{ByTier: make(map[types.Tier]int64)},
	}
}

// Assess implements Assessor.
func (c *CachingAssessor) Assess(query string) Assessment {
	key := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	res, ok := c.cache.Get(key)
	if !ok {
		res = c.inner.Assess(query)
		c.cache.Add(key, res)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Total++
	c.stats.ByTier[res.Tier]++
	if ok {
		c.stats.CacheHits++
	}
	return res
}

// Stats returns a snapshot of the counters.
func (c *CachingAssessor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	by := make(map[types.Tier]int64, len(c.stats.ByTier))
	for k, v := range c.stats.ByTier {
		by[k] = v
	}
	return Stats{Total: c.stats.Total, CacheHits: c.stats.CacheHits, ByTier: by}
}
