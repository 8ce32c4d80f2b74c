// Package llm implements the LLM Insight Gate: a budget- and
// event-gated call to an LLM sentiment provider, cached across
// processes in Redis.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/algostack/signalpipe/internal/clock"
)

// Insight is the parsed LLM output, per spec.md §4.6's output contract.
type Insight struct {
	Sentiment       float64 `json:"sentiment"` // -1..+1
	Trigger         string  `json:"trigger"`
	HorizonMinutes  int     `json:"horizon_minutes"`
	Summary         string  `json:"summary"`
	Confidence      float64 `json:"confidence"`
}

// Config carries the gate's tunables, all sourced from
// internal/config.LLMGate.
type Config struct {
	Enabled           bool
	DailyCallLimit    int64
	MonthlyCostCapKRW int64
	CallCostKRW       int64
	MinSignalScore    float64
	RequiredEvents    map[string]bool
	CacheDuration     time.Duration
	ProviderURL       string
	Timeout           time.Duration
}

// DailyCounter is the seam the gate needs from the shared Redis-backed
// counters, kept narrow so tests can stub it without pulling in the
// full counters package.
type DailyCounter interface {
	IncrAndCap(ctx context.Context, name string, now time.Time, max int64) (int64, bool, error)
}

// CacheChecker is the narrow seam ShouldCall needs to test for a recent
// cache hit, the same seam-narrowing DailyCounter applies to the daily
// call counter — keeps Gate's own Redis client out of unit tests.
type CacheChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type redisCacheChecker struct{ rdb *redis.Client }

func (r redisCacheChecker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("llm: cache exists: %w", err)
	}
	return n > 0, nil
}

// SpendTracker is the narrow seam for the monthly KRW spend ledger,
// keeping the same Redis client out of ShouldCall's unit tests that
// CacheChecker keeps out of the cache-hit check.
type SpendTracker interface {
	SpentKRW(ctx context.Context, monthKey string) (int64, error)
	AddSpendKRW(ctx context.Context, monthKey string, amount int64) error
}

type redisSpendTracker struct{ rdb *redis.Client }

func (r redisSpendTracker) SpentKRW(ctx context.Context, monthKey string) (int64, error) {
	val, err := r.rdb.Get(ctx, monthKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("llm: get monthly spend: %w", err)
	}
	return val, nil
}

func (r redisSpendTracker) AddSpendKRW(ctx context.Context, monthKey string, amount int64) error {
	if err := r.rdb.IncrBy(ctx, monthKey, amount).Err(); err != nil {
		return fmt.Errorf("llm: incr monthly spend: %w", err)
	}
	return r.rdb.Expire(ctx, monthKey, 32*24*time.Hour).Err()
}

// Gate decides whether a symbol/event pair may consult the LLM, and
// performs the (cached) call when it is allowed.
type Gate struct {
	cfg      Config
	clock    clock.Clock
	rdb      *redis.Client
	counters DailyCounter
	cache    CacheChecker
	spend    SpendTracker
	http     *http.Client
}

func NewGate(cfg Config, c clock.Clock, rdb *redis.Client, counters DailyCounter) *Gate {
	return &Gate{
		cfg: cfg, clock: c, rdb: rdb, counters: counters,
		cache: redisCacheChecker{rdb: rdb},
		spend: redisSpendTracker{rdb: rdb},
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

// ShouldCall reports whether the LLM may be consulted for ticker given
// eventType (empty when the candidate matched no gated event type) and
// its signal score, per spec.md §4.6:
//
//	(event_type is gated OR |signal_score| >= min_signal_score)
//	AND daily call cap not reached
//	AND monthly cost cap not reached
//	AND no recent cache hit for this (event_type, ticker) pair
//
// A high-confidence signal qualifies on score alone even with no
// recognized event type — RTH is not part of this gate at all, unlike
// the reference gate's session-restricted predicate this was ported
// from.
func (g *Gate) ShouldCall(ctx context.Context, eventType, ticker string, signalScore float64) (bool, string, error) {
	if !g.cfg.Enabled {
		return false, "llm_disabled", nil
	}

	absScore := signalScore
	if absScore < 0 {
		absScore = -absScore
	}
	requiredEvent := eventType != "" && g.cfg.RequiredEvents[eventType]
	if !requiredEvent && absScore < g.cfg.MinSignalScore {
		return false, "no_qualifying_event_or_score", nil
	}

	// Checked before the daily counter increments below so a candidate
	// already served from cache doesn't consume budget for a call that
	// won't happen.
	if hit, err := g.cache.Exists(ctx, g.cacheKey(eventType, ticker)); err != nil {
		return false, "", err
	} else if hit {
		return false, "recent_cache_hit", nil
	}

	now := g.clock.Now()
	_, withinDaily, err := g.counters.IncrAndCap(ctx, "llm_calls", now, g.cfg.DailyCallLimit)
	if err != nil {
		return false, "", err
	}
	if !withinDaily {
		return false, "daily_call_limit_reached", nil
	}

	spentKRW, err := g.spend.SpentKRW(ctx, g.monthlySpendKey(now))
	if err != nil {
		return false, "", err
	}
	if spentKRW+g.cfg.CallCostKRW > g.cfg.MonthlyCostCapKRW {
		return false, "monthly_cost_cap_reached", nil
	}

	return true, "", nil
}

// Analyze consults the shared cache first, then calls the provider on
// a cache miss, recording the call's cost against the monthly budget.
func (g *Gate) Analyze(ctx context.Context, eventType, ticker, text string) (*Insight, error) {
	cacheKey := g.cacheKey(eventType, ticker)
	if cached, ok, err := g.getCached(ctx, cacheKey); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	insight, err := g.callProvider(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := g.setCached(ctx, cacheKey, insight); err != nil {
		return nil, err
	}
	if err := g.spend.AddSpendKRW(ctx, g.monthlySpendKey(g.clock.Now()), g.cfg.CallCostKRW); err != nil {
		return nil, err
	}
	return insight, nil
}

func (g *Gate) cacheKey(eventType, ticker string) string {
	return fmt.Sprintf("signalpipe:llm:cache:%s:%s", eventType, ticker)
}

func (g *Gate) getCached(ctx context.Context, key string) (*Insight, bool, error) {
	raw, err := g.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("llm: cache get: %w", err)
	}
	var ins Insight
	if err := json.Unmarshal(raw, &ins); err != nil {
		return nil, false, nil
	}
	return &ins, true, nil
}

func (g *Gate) setCached(ctx context.Context, key string, ins *Insight) error {
	raw, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	return g.rdb.Set(ctx, key, raw, g.cfg.CacheDuration).Err()
}

func (g *Gate) monthlySpendKey(now time.Time) string {
	return fmt.Sprintf("signalpipe:llm:spend:%04d-%02d", now.Year(), now.Month())
}

// callProvider sends the truncated text to the configured HTTP
// provider and parses its JSON response into an Insight.
func (g *Gate) callProvider(ctx context.Context, text string) (*Insight, error) {
	if len(text) > 1000 {
		text = text[:1000]
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.ProviderURL, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: provider call: %w", err)
	}
	defer resp.Body.Close()

	var ins Insight
	if err := json.NewDecoder(resp.Body).Decode(&ins); err != nil {
		return nil, fmt.Errorf("llm: decode provider response: %w", err)
	}
	return &ins, nil
}

// Fingerprint hashes text+source for callers that want a stable cache
// key not tied to (eventType, ticker), e.g. deduping identical news
// snippets across tickers.
func Fingerprint(text, source string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s", source, text)
	return hex.EncodeToString(h.Sum(nil))
}
