package engine

import (
	"strings"

	"github.com/BaSui01/hrmflow/internal/tokenizer"
)

// contextChain is the running context passed to each tool: the query
// followed by one segment per successful step. With a token budget the
// oldest segments are dropped first; the query itself is always kept.
type contextChain struct {
	query    string
	segments []string
	counter  tokenizer.Counter
	budget   int
	dropped  int
}

func newContextChain(query string, counter tokenizer.Counter, budget int) *contextChain {
	return &contextChain{query: query, counter: counter, budget: budget}
}

func (c *contextChain) Add(segment string) {
	if segment == "" {
		return
	}
	c.segments = append(c.segments, segment)
	if c.budget <= 0 || c.counter == nil {
		return
	}
	for len(c.segments) > 0 && c.counter.CountTokens(c.String()) > c.budget {
		c.segments = c.segments[1:]
		c.dropped++
	}
}

func (c *contextChain) String() string {
	if len(c.segments) == 0 {
		return c.query
	}
	var b strings.Builder
	b.WriteString(c.query)
	for _, s := range c.segments {
		b.WriteString(s)
	}
	return b.String()
}

// Tokens counts the current context; 0 without a counter.
func (c *contextChain) Tokens() int {
	if c.counter == nil {
		return 0
	}
	return c.counter.CountTokens(c.String())
}
