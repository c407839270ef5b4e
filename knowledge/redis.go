package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each entry as a JSON string plus a key index set.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store on client. ttl 0 keeps entries forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "hrm:knowledge:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) entryKey(key string) string { return s.prefix + "entry:" + key }
func (s *RedisStore) indexKey() string           { return s.prefix + "keys" }

func (s *RedisStore) Remember(ctx context.Context, e Entry) error {
	if old, err := s.Get(ctx, e.Key); err == nil {
		e.CreatedAt = old.CreatedAt
	}
	raw, err := json.Marshal(stamp(e, time.Now()))
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.entryKey(e.Key), raw, s.ttl)
		p.SAdd(ctx, s.indexKey(), e.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember %s: %w", e.Key, err)
	}
	return nil
}

func (s *RedisStore) Recall(ctx context.Context, query string, limit int) ([]Match, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("recall index: %w", err)
	}
	if len(keys) == 0 {
		return []Match{}, nil
	}
	if len(keys) > candidateLimit {
		keys = keys[:candidateLimit]
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.entryKey(k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("recall entries: %w", err)
	}

	entries := make([]Entry, 0, len(vals))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, keys[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err == nil {
			entries = append(entries, e)
		}
	}
	if len(expired) > 0 {
		s.client.SRem(ctx, s.indexKey(), expired...)
	}
	return rank(query, entries, limit), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.entryKey(key))
		p.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
