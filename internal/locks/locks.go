// Package locks provides the cross-process single-flight and
// direction locks the basket aggregator and suppression chain need,
// backed by Redis so multiple pipeline processes coordinate correctly
// per spec.md's concurrency model.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager wraps a Redis client with the lock primitives the pipeline
// needs: a TTL'd single-flight lock (for ETF basket routing) and a
// direction lock (for the suppression chain's direction_lock gate).
type Manager struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// TryAcquire attempts to take a TTL'd single-flight lock identified by
// key. Returns true if this caller now holds it.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, lockKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("locks: acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a previously acquired lock. Safe to call even if the
// lock already expired.
func (m *Manager) Release(ctx context.Context, key string) error {
	if err := m.rdb.Del(ctx, lockKey(key)).Err(); err != nil {
		return fmt.Errorf("locks: release %s: %w", key, err)
	}
	return nil
}

func lockKey(key string) string {
	return fmt.Sprintf("signalpipe:lock:%s", key)
}

// DirectionRecord is what the direction lock remembers about the last
// directional entry for a symbol.
type DirectionRecord struct {
	Direction string
	At        time.Time
}

// SetDirection records symbol's latest traded direction with a TTL,
// used by the suppression chain to block re-entry in the same
// direction within the lock window.
func (m *Manager) SetDirection(ctx context.Context, symbol, direction string, ttl time.Duration) error {
	key := directionKey(symbol)
	if err := m.rdb.HSet(ctx, key, "direction", direction, "at", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("locks: set direction %s: %w", symbol, err)
	}
	return m.rdb.Expire(ctx, key, ttl).Err()
}

// GetDirection returns the last recorded direction for symbol, if the
// lock has not yet expired.
func (m *Manager) GetDirection(ctx context.Context, symbol string) (DirectionRecord, bool, error) {
	vals, err := m.rdb.HGetAll(ctx, directionKey(symbol)).Result()
	if err != nil {
		return DirectionRecord{}, false, fmt.Errorf("locks: get direction %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return DirectionRecord{}, false, nil
	}
	at, _ := time.Parse(time.RFC3339Nano, vals["at"])
	return DirectionRecord{Direction: vals["direction"], At: at}, true, nil
}

func directionKey(symbol string) string {
	return fmt.Sprintf("signalpipe:direction:%s", symbol)
}
