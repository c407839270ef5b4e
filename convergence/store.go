package convergence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PatternPerformance is the learned history of one tier+pattern combination.
type PatternPerformance struct {
	Executions        int       `json:"executions"`
	AverageConfidence float64   `json:"average_confidence"`
	History           []float64 `json:"history"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// maxPerformanceHistory bounds PatternPerformance.History.
const maxPerformanceHistory = 50

// Record appends an observation and recomputes the average over the retained history.
func (p *PatternPerformance) Record(confidence float64, now time.Time) {
	p.Executions++
	p.History = append(p.History, confidence)
	if len(p.History) > maxPerformanceHistory {
		p.History = p.History[len(p.History)-maxPerformanceHistory:]
	}
	p.AverageConfidence = mean(p.History)
	p.UpdatedAt = now
}

// PerformanceStore persists learned pattern performance.
type PerformanceStore interface {
	Get(ctx context.Context, key string) (PatternPerformance, bool, error)
	Put(ctx context.Context, key string, perf PatternPerformance) error
	All(ctx context.Context) (map[string]PatternPerformance, error)
}

// =============================================================================
// 内存存储
// =============================================================================

// MemoryStore keeps performance in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]PatternPerformance
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]PatternPerformance)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (PatternPerformance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[key]
	if ok {
		p.History = append([]float64(nil), p.History...)
	}
	return p, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, perf PatternPerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perf.History = append([]float64(nil), perf.History...)
	s.data[key] = perf
	return nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]PatternPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]PatternPerformance, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

// =============================================================================
// Redis 存储
// =============================================================================

// DefaultRedisKey is the hash holding every pattern's performance.
const DefaultRedisKey = "hrm:convergence:performance"

// RedisStore stores performance as JSON fields of one Redis hash so every
// replica learns from the same history.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store on client. An empty key selects DefaultRedisKey.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context, key string) (PatternPerformance, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return PatternPerformance{}, false, nil
	}
	if err != nil {
		return PatternPerformance{}, false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	var p PatternPerformance
	if err := json.Unmarshal(raw, &p); err != nil {
		return PatternPerformance{}, false, fmt.Errorf("decode performance %s: %w", key, err)
	}
	return p, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, perf PatternPerformance) error {
	raw, err := json.Marshal(perf)
	if err != nil {
		return fmt.Errorf("encode performance %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.key, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]PatternPerformance, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string]PatternPerformance, len(fields))
	for k, v := range fields {
		var p PatternPerformance
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode performance %s: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}
