// Package knowledge stores synthesized findings and recalls them by relevance.
package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("knowledge entry not found")

// Entry is one stored piece of knowledge.
type Entry struct {
	Key        string         `json:"key"`
	MemoryType string         `json:"memory_type"`
	Content    string         `json:"content"`
	Value      map[string]any `json:"value,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Match is a recalled entry with its relevance to the query in [0,1].
type Match struct {
	Entry
	Relevance float64 `json:"relevance"`
}

// Store is implemented by every knowledge backend.
type Store interface {
	// Remember inserts or replaces the entry with the same key.
	Remember(ctx context.Context, e Entry) error
	// Recall returns at most limit entries with relevance > 0, best first.
	Recall(ctx context.Context, query string, limit int) ([]Match, error)
	Get(ctx context.Context, key string) (Entry, error)
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// DefaultRecallLimit applies when Recall is called with limit <= 0.
const DefaultRecallLimit = 10

// candidateLimit bounds rows fetched from a backend before scoring.
const candidateLimit = 500

// Terms splits text into lower-cased terms longer than two characters.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Relevance is the fraction of query terms present in the entry's key or content.
func Relevance(query string, e Entry) float64 {
	q := Terms(query)
	if len(q) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, t := range Terms(e.Key + " " + e.Content) {
		have[t] = struct{}{}
	}
	hit := 0
	for _, t := range q {
		if _, ok := have[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// rank scores candidates against query and keeps the best limit matches.
func rank(query string, candidates []Entry, limit int) []Match {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	out := make([]Match, 0, len(candidates))
	for _, e := range candidates {
		if r := Relevance(query, e); r > 0 {
			out = append(out, Match{Entry: e, Relevance: r})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func stamp(e Entry, now time.Time) Entry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	return e
}
