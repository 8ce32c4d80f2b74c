// Package counters implements the redis-backed daily counters spec.md
// names in its Daily Counters entity: per-session trade counts, LLM
// call counts, and their resets at session-local midnight.
package counters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/algostack/signalpipe/internal/clock"
)

// Counters increments and reads day-scoped counters, keyed by the
// Eastern-time day key so a reset at session-local midnight is simply
// "the key rolls over," with no explicit reset job required.
type Counters struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

func dayScopedKey(name, dayKey string) string {
	return fmt.Sprintf("signalpipe:counter:%s:%s", name, dayKey)
}

// IncrAndCap atomically increments the named counter for the given
// day and reports whether the increment kept the counter at or below
// max. If it would exceed max, the counter is left unincremented and
// false is returned — the session_daily_cap and llm daily-limit gates
// both rely on this all-or-nothing semantic.
func (c *Counters) IncrAndCap(ctx context.Context, name string, now time.Time, max int64) (int64, bool, error) {
	key := dayScopedKey(name, clock.DayKey(now))
	res, err := c.rdb.Eval(ctx, incrAndCapScript, []string{key}, max, secondsUntilNextDay(now)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("counters: incr %s: %w", name, err)
	}
	val, ok := res.(int64)
	if !ok {
		return 0, false, fmt.Errorf("counters: incr %s: unexpected reply %T", name, res)
	}
	if val < 0 {
		current, _ := c.Get(ctx, name, now)
		return current, false, nil
	}
	return val, true, nil
}

const incrAndCapScript = `
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= max then
  return -1
end

local newVal = redis.call('INCR', key)
redis.call('EXPIRE', key, ttl)
return newVal
`

// Get returns the current value of a day-scoped counter without
// incrementing it.
func (c *Counters) Get(ctx context.Context, name string, now time.Time) (int64, error) {
	key := dayScopedKey(name, clock.DayKey(now))
	val, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counters: get %s: %w", name, err)
	}
	return val, nil
}

func secondsUntilNextDay(now time.Time) int {
	et := now.In(easternOrUTC())
	next := time.Date(et.Year(), et.Month(), et.Day()+1, 0, 0, 0, 0, et.Location())
	return int(next.Sub(et).Seconds()) + 60
}

func easternOrUTC() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}
