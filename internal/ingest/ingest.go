// Package ingest polls quote adapters on a tiered cadence, spending a
// fixed per-minute call budget across Tier A (fastest-refreshing core
// watchlist), Tier B (slower secondary watchlist) and a benchmark tier
// used only for regime context, then feeds every observed quote into
// the bar store as a synthetic 1-tick bar.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/algostack/signalpipe/internal/adapters"
	"github.com/algostack/signalpipe/internal/bars"
	"github.com/algostack/signalpipe/internal/observ"
	"github.com/algostack/signalpipe/internal/pipeline"
	"github.com/algostack/signalpipe/internal/ratelimit"
)

// Tiers names the three symbol groups spec.md §4.4 polls at different
// cadences, mirroring internal/config.Tiers without importing config
// (the same decoupling internal/config.RegimeWeights uses against
// internal/regime.Weights).
type Tiers struct {
	TierA []string
	TierB []string
	Bench []string
}

// RateLimiter is the narrow seam ingest needs from the shared token
// bucket limiter, letting tests substitute an in-memory fake instead
// of requiring a live Redis instance — the same seam pattern used for
// basket.Locker and dispatch.Broker elsewhere.
type RateLimiter interface {
	Consume(ctx context.Context, t ratelimit.Tier) (bool, ratelimit.Tier, error)
}

// Ingestor pulls quotes for one tier at a time, gated by the shared
// rate limiter, and records each quote into the bar store.
type Ingestor struct {
	Adapter adapters.QuotesAdapter
	Limiter RateLimiter
	Bars    *bars.Store
	Tiers   Tiers
}

func New(adapter adapters.QuotesAdapter, limiter RateLimiter, store *bars.Store, tiers Tiers) *Ingestor {
	return &Ingestor{Adapter: adapter, Limiter: limiter, Bars: store, Tiers: tiers}
}

// PollTierA fetches every Tier A symbol, spending one rate-limit token
// per symbol against the TierA bucket (falling back to Reserve inside
// its first-ten-seconds window, per the limiter's own rule).
func (i *Ingestor) PollTierA(ctx context.Context) error {
	return i.poll(ctx, ratelimit.TierA, i.Tiers.TierA)
}

// PollTierB fetches every Tier B symbol against the TierB bucket.
func (i *Ingestor) PollTierB(ctx context.Context) error {
	return i.poll(ctx, ratelimit.TierB, i.Tiers.TierB)
}

// PollBench fetches the benchmark symbols used only to feed the regime
// detector's context, spending Reserve tokens directly rather than
// competing with the tradable tiers for TierA/TierB budget.
func (i *Ingestor) PollBench(ctx context.Context) error {
	return i.poll(ctx, ratelimit.Reserve, i.Tiers.Bench)
}

func (i *Ingestor) poll(ctx context.Context, tier ratelimit.Tier, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	granted, grantedTier, err := i.Limiter.Consume(ctx, tier)
	if err != nil {
		return pipeline.Wrap("ingest", tier2symbol(symbols), pipeline.ErrTransient, err)
	}
	if !granted {
		observ.L.Debug().Str("tier", string(tier)).Msg("ingest skipped, rate budget exhausted")
		return pipeline.Wrap("ingest", tier2symbol(symbols), pipeline.ErrRateLimited, nil)
	}
	if grantedTier != tier {
		observ.L.Warn().Str("tier", string(tier)).Str("granted_via", string(grantedTier)).Msg("ingest fell back to reserve tokens")
	}

	quotes, err := i.Adapter.GetQuotes(ctx, symbols)
	if err != nil {
		return pipeline.Wrap("ingest", tier2symbol(symbols), pipeline.ErrTransient, err)
	}

	for _, symbol := range symbols {
		q, ok := quotes[symbol]
		if q == nil || !ok {
			continue
		}
		i.Bars.Append(quoteToBar(q))
	}
	return nil
}

// quoteToBar synthesizes a zero-width OHLCV bar from a single quote
// snapshot, the tick-driven analogue of the reference implementation's
// candle aggregation.
func quoteToBar(q *adapters.Quote) bars.Bar {
	mid := q.Last
	if mid == 0 {
		mid = (q.Bid + q.Ask) / 2
	}
	return bars.Bar{
		Symbol:    q.Symbol,
		Timestamp: q.Timestamp,
		Open:      mid,
		High:      mid,
		Low:       mid,
		Close:     mid,
		Volume:    q.Volume,
	}
}

func tier2symbol(symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	if len(symbols) == 1 {
		return symbols[0]
	}
	return fmt.Sprintf("%s+%d more", symbols[0], len(symbols)-1)
}

// PollInterval returns the configured poll cadence for a tier, used by
// the scheduler to size its tickers.
func PollInterval(tierASeconds, tierBSeconds int) (time.Duration, time.Duration) {
	return time.Duration(tierASeconds) * time.Second, time.Duration(tierBSeconds) * time.Second
}
