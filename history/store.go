// Package history records pipeline executions.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/hrmflow/types"
)

// DefaultCapacity bounds the in-memory ring.
const DefaultCapacity = 1000

// Record is one finished execution.
type Record struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Query      string        `json:"query"`
	Tier       types.Tier    `json:"complexity"`
	Pattern    string        `json:"pattern"`
	Success    bool          `json:"success"`
	Converged  bool          `json:"converged"`
	Confidence float64       `json:"confidence"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	TotalTime  time.Duration `json:"total_time"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Summary aggregates all recorded executions.
type Summary struct {
	Total       int64                `json:"total_executions"`
	Successful  int64                `json:"successful_executions"`
	SuccessRate float64              `json:"success_rate"`
	AverageTime time.Duration        `json:"average_time"`
	ByTier      map[types.Tier]int64 `json:"by_tier"`
}

// Store persists execution records.
type Store interface {
	Record(ctx context.Context, r Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}

func prepare(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return r
}

func newSummary() Summary {
	by := make(map[types.Tier]int64, 4)
	for _, t := range types.Tiers() {
		by[t] = 0
	}
	return Summary{ByTier: by}
}

// =============================================================================
// 内存环形缓冲
// =============================================================================

// MemoryStore keeps the last N records; the summary covers every record ever added.
type MemoryStore struct {
	mu       sync.RWMutex
	ring     []Record
	next     int
	full     bool
	summary  Summary
	totalDur time.Duration
}

// NewMemoryStore 创建内存历史，capacity <= 0 时使用 DefaultCapacity。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{ring: make([]Record, capacity), summary: newSummary()}
}

func (s *MemoryStore) Record(_ context.Context, r Record) error {
	r = prepare(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = r
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}

	s.summary.Total++
	if r.Success {
		s.summary.Successful++
	}
	s.summary.ByTier[r.Tier]++
	s.totalDur += r.TotalTime
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

func (s *MemoryStore) Summary(context.Context) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := newSummary()
	out.Total = s.summary.Total
	out.Successful = s.summary.Successful
	for t, n := range s.summary.ByTier {
		out.ByTier[t] = n
	}
	if out.Total > 0 {
		out.SuccessRate = float64(out.Successful) / float64(out.Total)
		out.AverageTime = s.totalDur / time.Duration(out.Total)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
