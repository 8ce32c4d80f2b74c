// Package ratelimit implements the tiered, cross-process token buckets
// that cap outbound calls to quote, EDGAR, and LLM providers.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/algostack/signalpipe/internal/clock"
)

// Tier names one of the three token pools spec.md §4.2 defines.
type Tier string

const (
	TierA    Tier = "tier_a"
	TierB    Tier = "tier_b"
	Reserve  Tier = "reserve"
	keyPrefix     = "signalpipe:tokens"
)

// Allocations is the per-minute token allocation for each tier.
type Allocations struct {
	TierA   int
	TierB   int
	Reserve int
}

// consumeScript refills the bucket lazily to the tier's allocation
// whenever the wall-clock minute has advanced since the last refill,
// then attempts to consume count tokens, all inside one round trip so
// concurrent pipeline processes never race between a refill and a
// consume. Ported from original_source's rate_limiter.py, which ran
// refill and consume as two separate steps (a check-then-act race
// across processes); folding both into one script closes that gap.
const consumeScript = `
local key = KEYS[1]
local minute = tonumber(ARGV[1])
local allocation = tonumber(ARGV[2])
local count = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local lastMinute = tonumber(redis.call('HGET', key, 'minute'))

if tokens == nil or lastMinute == nil or minute > lastMinute then
  tokens = allocation
  lastMinute = minute
end

if tokens >= count then
  tokens = tokens - count
  redis.call('HSET', key, 'tokens', tokens, 'minute', lastMinute)
  redis.call('EXPIRE', key, ttl)
  return tokens
end

redis.call('HSET', key, 'tokens', tokens, 'minute', lastMinute)
redis.call('EXPIRE', key, ttl)
return -1
`

// Limiter is the distributed token-bucket limiter. One instance is
// shared by every pipeline process talking to a single Redis.
type Limiter struct {
	rdb    *redis.Client
	clock  clock.Clock
	allocs Allocations
	// Whether a tier has already burned its once-per-minute Reserve
	// fallback is not held here: Consume keeps that flag in Redis, keyed
	// by tier and minute bucket, so the rule holds across processes.
}

func New(rdb *redis.Client, c clock.Clock, allocs Allocations) *Limiter {
	return &Limiter{rdb: rdb, clock: c, allocs: allocs}
}

func (l *Limiter) minuteBucket() int64 {
	return l.clock.Now().Unix() / 60
}

func (l *Limiter) allocationFor(t Tier) int {
	switch t {
	case TierA:
		return l.allocs.TierA
	case TierB:
		return l.allocs.TierB
	default:
		return l.allocs.Reserve
	}
}

func (l *Limiter) key(t Tier) string {
	return fmt.Sprintf("%s:%s", keyPrefix, t)
}

// consume attempts to take count tokens from tier's bucket, refilling
// lazily first. Returns whether the consume succeeded.
func (l *Limiter) consume(ctx context.Context, t Tier, count int) (bool, error) {
	res, err := l.rdb.Eval(ctx, consumeScript, []string{l.key(t)},
		l.minuteBucket(), l.allocationFor(t), count, 120).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit consume %s: %w", t, err)
	}
	remaining, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit consume %s: unexpected reply %T", t, res)
	}
	return remaining >= 0, nil
}

// withinFirstTenSeconds reports whether the clock is currently in the
// first ten seconds of the wall-clock minute, the window spec.md §4.2
// permits the Reserve fallback to fire in.
func (l *Limiter) withinFirstTenSeconds() bool {
	return l.clock.Now().Second() < 10
}

// reserveFallbackScript grants the once-per-tier-per-minute Reserve
// fallback atomically: it checks and sets the "already used" flag and
// consumes a Reserve token in the same script, so two processes racing
// for the same tier's fallback in the same minute cannot both succeed.
const reserveFallbackScript = `
local flagKey = KEYS[1]
local bucketKey = KEYS[2]
local minute = tonumber(ARGV[1])
local allocation = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

if redis.call('EXISTS', flagKey) == 1 then
  return -1
end

local tokens = tonumber(redis.call('HGET', bucketKey, 'tokens'))
local lastMinute = tonumber(redis.call('HGET', bucketKey, 'minute'))
if tokens == nil or lastMinute == nil or minute > lastMinute then
  tokens = allocation
  lastMinute = minute
end

if tokens < 1 then
  redis.call('HSET', bucketKey, 'tokens', tokens, 'minute', lastMinute)
  redis.call('EXPIRE', bucketKey, ttl)
  return -1
end

tokens = tokens - 1
redis.call('HSET', bucketKey, 'tokens', tokens, 'minute', lastMinute)
redis.call('EXPIRE', bucketKey, ttl)
redis.call('SET', flagKey, '1', 'EX', 65)
return tokens
`

// Consume attempts a normal consume against tier. If it fails and the
// caller is inside the first ten seconds of the minute, it falls back
// to a single Reserve token, at most once per tier per minute (spec.md
// §4.2's Reserve fallback rule).
func (l *Limiter) Consume(ctx context.Context, t Tier) (bool, Tier, error) {
	ok, err := l.consume(ctx, t, 1)
	if err != nil {
		return false, t, err
	}
	if ok {
		return true, t, nil
	}
	if t == Reserve || !l.withinFirstTenSeconds() {
		return false, t, nil
	}

	flagKey := fmt.Sprintf("%s:reserve_used:%s:%d", keyPrefix, t, l.minuteBucket())
	res, err := l.rdb.Eval(ctx, reserveFallbackScript,
		[]string{flagKey, l.key(Reserve)},
		l.minuteBucket(), l.allocationFor(Reserve), 120).Result()
	if err != nil {
		return false, t, fmt.Errorf("ratelimit reserve fallback: %w", err)
	}
	remaining, ok2 := res.(int64)
	if !ok2 || remaining < 0 {
		return false, t, nil
	}
	return true, Reserve, nil
}

// Status reports the current token count for a tier without consuming,
// for the metrics endpoint.
func (l *Limiter) Status(ctx context.Context, t Tier) (int, error) {
	vals, err := l.rdb.HMGet(ctx, l.key(t), "tokens", "minute").Result()
	if err != nil {
		return 0, err
	}
	if vals[0] == nil {
		return l.allocationFor(t), nil
	}
	var tokens int
	var minute int64
	fmt.Sscanf(fmt.Sprint(vals[0]), "%d", &tokens)
	fmt.Sscanf(fmt.Sprint(vals[1]), "%d", &minute)
	if minute < l.minuteBucket() {
		return l.allocationFor(t), nil
	}
	return tokens, nil
}
