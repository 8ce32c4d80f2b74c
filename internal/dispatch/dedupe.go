package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupeStore backs DedupeStore with a TTL'd Redis key per
// idempotency key, giving every pipeline process the same view of
// what's already been submitted — the cross-process requirement a
// single-file JSONL scan (the teacher's outbox dedupe) can't satisfy
// once more than one process submits orders.
type RedisDedupeStore struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisDedupeStore(rdb *redis.Client, window time.Duration) *RedisDedupeStore {
	return &RedisDedupeStore{rdb: rdb, window: window}
}

func (s *RedisDedupeStore) Seen(ctx context.Context, idempotencyKey string) (bool, error) {
	n, err := s.rdb.Exists(ctx, dedupeKey(idempotencyKey)).Result()
	if err != nil {
		return false, fmt.Errorf("dispatch: dedupe exists check: %w", err)
	}
	return n > 0, nil
}

func (s *RedisDedupeStore) Record(ctx context.Context, idempotencyKey string) error {
	if err := s.rdb.Set(ctx, dedupeKey(idempotencyKey), "1", s.window).Err(); err != nil {
		return fmt.Errorf("dispatch: dedupe record: %w", err)
	}
	return nil
}

func dedupeKey(idempotencyKey string) string {
	return "signalpipe:dispatch:dedupe:" + idempotencyKey
}
