package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/clock"
)

// fakeCounter is an in-memory stand-in for counters.Counters, avoiding
// a live Redis dependency in unit tests.
type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCounter() *fakeCounter { return &fakeCounter{counts: map[string]int64{}} }

func (f *fakeCounter) IncrAndCap(ctx context.Context, name string, now time.Time, max int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name]++
	return f.counts[name], f.counts[name] <= max, nil
}

// fakeCache is an in-memory stand-in for the gate's Redis-backed cache
// existence check.
type fakeCache struct {
	keys map[string]bool
}

func newFakeCache() *fakeCache { return &fakeCache{keys: map[string]bool{}} }

func (f *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

// fakeSpend is an in-memory stand-in for the monthly KRW spend ledger.
type fakeSpend struct {
	mu    sync.Mutex
	spent map[string]int64
}

func newFakeSpend() *fakeSpend { return &fakeSpend{spent: map[string]int64{}} }

func (f *fakeSpend) SpentKRW(ctx context.Context, monthKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spent[monthKey], nil
}

func (f *fakeSpend) AddSpendKRW(ctx context.Context, monthKey string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spent[monthKey] += amount
	return nil
}

func newTestGate(cfg Config, counter *fakeCounter, cache *fakeCache) *Gate {
	return &Gate{
		cfg:      cfg,
		clock:    clock.FixedClock{At: time.Date(2026, 8, 4, 15, 0, 0, 0, time.UTC)},
		rdb:      nil,
		counters: counter,
		cache:    cache,
		spend:    newFakeSpend(),
		http:     nil,
	}
}

func baseGateConfig() Config {
	return Config{
		Enabled:           true,
		DailyCallLimit:    5,
		MonthlyCostCapKRW: 100000,
		CallCostKRW:       500,
		MinSignalScore:    0.35,
		RequiredEvents:    map[string]bool{"edgar": true, "vol_spike": true},
	}
}

func TestShouldCall_QualifiesOnGatedEventTypeAloneRegardlessOfScore(t *testing.T) {
	g := newTestGate(baseGateConfig(), newFakeCounter(), newFakeCache())

	ok, reason, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.01)
	require.NoError(t, err)
	assert.True(t, ok, reason)
}

func TestShouldCall_QualifiesOnScoreAloneWithNoRecognizedEventType(t *testing.T) {
	g := newTestGate(baseGateConfig(), newFakeCounter(), newFakeCache())

	ok, reason, err := g.ShouldCall(context.Background(), "", "AAPL", 0.9)
	require.NoError(t, err)
	assert.True(t, ok, reason)
}

func TestShouldCall_RefusesWhenNeitherEventNorScoreQualify(t *testing.T) {
	g := newTestGate(baseGateConfig(), newFakeCounter(), newFakeCache())

	ok, reason, err := g.ShouldCall(context.Background(), "market_news", "AAPL", 0.1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "no_qualifying_event_or_score", reason)
}

func TestShouldCall_BlocksOnRecentCacheHit(t *testing.T) {
	cache := newFakeCache()
	g := newTestGate(baseGateConfig(), newFakeCounter(), cache)
	cache.keys[g.cacheKey("edgar", "AAPL")] = true

	ok, reason, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "recent_cache_hit", reason)
}

func TestShouldCall_CacheHitDoesNotConsumeDailyBudget(t *testing.T) {
	cache := newFakeCache()
	counter := newFakeCounter()
	g := newTestGate(baseGateConfig(), counter, cache)
	cache.keys[g.cacheKey("edgar", "AAPL")] = true

	_, _, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
	require.NoError(t, err)
	assert.Zero(t, counter.counts["llm_calls"])
}

func TestShouldCall_DailyCallLimitReached(t *testing.T) {
	cfg := baseGateConfig()
	cfg.DailyCallLimit = 2
	counter := newFakeCounter()
	g := newTestGate(cfg, counter, newFakeCache())

	for i := 0; i < 2; i++ {
		ok, _, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, reason, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "daily_call_limit_reached", reason)
}

func TestShouldCall_MonthlyCostCapReached(t *testing.T) {
	cfg := baseGateConfig()
	cfg.CallCostKRW = 1000
	cfg.MonthlyCostCapKRW = 1500
	g := newTestGate(cfg, newFakeCounter(), newFakeCache())
	spend := newFakeSpend()
	g.spend = spend
	spend.spent[g.monthlySpendKey(g.clock.Now())] = 1000

	ok, reason, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "monthly_cost_cap_reached", reason)
}

func TestShouldCall_DisabledGateRefusesAllCalls(t *testing.T) {
	cfg := baseGateConfig()
	cfg.Enabled = false
	g := newTestGate(cfg, newFakeCounter(), newFakeCache())

	ok, reason, err := g.ShouldCall(context.Background(), "edgar", "AAPL", 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "llm_disabled", reason)
}
