// Package basket aggregates short signals across a basket of related
// symbols (e.g. megatech names) into a single inverse-ETF entry
// candidate, so a cluster of independently-suppressed short signals
// can still express a basket-level hedge.
package basket

import (
	"context"
	"sync"
	"time"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/mixer"
)

// Locker is the single-flight primitive the aggregator needs from
// internal/locks.Manager, narrowed so tests can substitute an
// in-memory fake instead of standing up a Redis server.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// PositionChecker exposes just enough of the portfolio book for the
// conflicting-position check: a basket must not fire an inverse-ETF
// buy while a long position is already open in the ETF itself or in
// one of the members whose weakness the ETF is meant to hedge.
type PositionChecker interface {
	HasLongPosition(symbol string) bool
}

// Blocked records a basket that met its firing conditions on this
// evaluation round but could not actually fire, and why. The
// scheduler turns these into suppression records the same way it does
// for individually-gated candidates, since a basket member's signal
// that reaches this point has already cleared every other gate.
type Blocked struct {
	Basket string
	ETF    string
	Reason string // "etf_lock" | "conflicting_position"
	Detail string
}

// Definition names a basket of underlying symbols and the inverse ETF
// that expresses a short view on all of them at once.
type Definition struct {
	Name        string
	Members     []string
	InverseETF  string
}

// Config carries the aggregator's tunables, sourced from
// internal/config.Basket.
type Config struct {
	WindowSeconds int
	MinSignals    int
	NegFraction   float64
	MeanThreshold float64
	LockTTL       time.Duration
}

type tick struct {
	symbol string
	score  float64
	at     time.Time
}

// Aggregator watches short signals for each defined basket's members
// and fires an inverse-ETF entry once enough of them agree, requiring
// two consecutive qualifying ticks to avoid firing on a single noisy
// read — the same "confirm, don't react to one sample" discipline the
// regime detector applies to its own gates.
type Aggregator struct {
	mu          sync.Mutex
	cfg         Config
	clock       clock.Clock
	locks       Locker
	positions   PositionChecker
	definitions []Definition
	windows     map[string][]tick // basket name -> recent ticks
	consecutive map[string]int    // basket name -> consecutive qualifying rounds
}

func NewAggregator(cfg Config, c clock.Clock, l Locker, pc PositionChecker, defs []Definition) *Aggregator {
	return &Aggregator{
		cfg: cfg, clock: c, locks: l, positions: pc, definitions: defs,
		windows:     make(map[string][]tick),
		consecutive: make(map[string]int),
	}
}

// Observe records a short-direction candidate for whichever basket(s)
// contain its symbol. Call this only for candidates that have already
// cleared the suppression chain — a candidate the chain blocked for
// cutoff, cooldown, or any other individual-signal reason never
// reaches basket aggregation.
func (a *Aggregator) Observe(c mixer.Candidate) {
	if c.Direction != mixer.Sell {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	for _, def := range a.definitions {
		if !contains(def.Members, c.Symbol) {
			continue
		}
		a.windows[def.Name] = append(a.windows[def.Name], tick{symbol: c.Symbol, score: c.Score, at: now})
	}
}

// Evaluate checks every basket's current window against the firing
// rule and returns inverse-ETF candidates for any basket that
// qualifies, plus a Blocked entry for any basket that qualified but
// could not fire (lock already held, or a conflicting long position).
func (a *Aggregator) Evaluate(ctx context.Context) ([]mixer.Candidate, []Blocked, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	var fired []mixer.Candidate
	var blocked []Blocked
	for _, def := range a.definitions {
		a.pruneWindow(def.Name, now)
		window := a.windows[def.Name]

		qualifies, mean := a.qualifies(def, window)
		if !qualifies {
			a.consecutive[def.Name] = 0
			continue
		}
		a.consecutive[def.Name]++
		if a.consecutive[def.Name] < 2 {
			continue
		}

		acquired, err := a.locks.TryAcquire(ctx, "basket:"+def.InverseETF, a.cfg.LockTTL)
		if err != nil {
			return nil, nil, err
		}
		if !acquired {
			blocked = append(blocked, Blocked{
				Basket: def.Name, ETF: def.InverseETF,
				Reason: "etf_lock",
				Detail: "inverse ETF single-flight lock already held",
			})
			continue
		}

		if a.hasConflictingPosition(def) {
			blocked = append(blocked, Blocked{
				Basket: def.Name, ETF: def.InverseETF,
				Reason: "conflicting_position",
				Detail: "long position open on the inverse ETF or a basket member",
			})
			a.consecutive[def.Name] = 0
			continue
		}

		fired = append(fired, mixer.Candidate{
			Symbol:    def.InverseETF,
			AsOf:      now,
			Direction: mixer.Buy, // buying the inverse ETF expresses the short view
			Score:     -mean,
			Confidence: 0.6,
			Trigger:   "basket:" + def.Name,
		})
		a.consecutive[def.Name] = 0
	}
	return fired, blocked, nil
}

// hasConflictingPosition reports whether the basket's inverse-ETF buy
// would land on top of an existing long position — either in the ETF
// itself, or in one of the underlying members the ETF is meant to
// hedge against, which would make the basket buy self-defeating.
func (a *Aggregator) hasConflictingPosition(def Definition) bool {
	if a.positions == nil {
		return false
	}
	if a.positions.HasLongPosition(def.InverseETF) {
		return true
	}
	for _, m := range def.Members {
		if a.positions.HasLongPosition(m) {
			return true
		}
	}
	return false
}

func (a *Aggregator) qualifies(def Definition, window []tick) (bool, float64) {
	if len(window) < a.cfg.MinSignals {
		return false, 0
	}
	distinct := map[string]bool{}
	var sum float64
	negCount := 0
	for _, t := range window {
		distinct[t.symbol] = true
		sum += t.score
		if t.score < 0 {
			negCount++
		}
	}
	if len(distinct) < a.cfg.MinSignals {
		return false, 0
	}
	negFraction := float64(negCount) / float64(len(window))
	mean := sum / float64(len(window))
	if negFraction < a.cfg.NegFraction {
		return false, mean
	}
	if mean > a.cfg.MeanThreshold {
		return false, mean
	}
	return true, mean
}

func (a *Aggregator) pruneWindow(name string, now time.Time) {
	cutoff := now.Add(-time.Duration(a.cfg.WindowSeconds) * time.Second)
	window := a.windows[name]
	kept := window[:0]
	for _, t := range window {
		if t.at.After(cutoff) {
			kept = append(kept, t)
		}
	}
	a.windows[name] = kept
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
