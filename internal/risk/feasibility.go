package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/suppress"
)

// PriceLookup resolves the entry price and stop distance a candidate
// would be sized against, decoupling the feasibility gate and the
// scheduler's own sizing call from the bar store directly.
type PriceLookup interface {
	EntryPrice(symbol string) (decimal.Decimal, bool)
	StopDistance(symbol string) (decimal.Decimal, bool)
}

// PositionCounter exposes just enough of the portfolio book for the
// max-positions pre-trade check, spec.md §4.10 (iii).
type PositionCounter interface {
	GetOpenPositionsCount() int
}

// FeasibilityGate is the last link in the suppression chain: it checks
// the kill switch, the open-positions count, sizes the candidate the
// same way submit() will, and provisionally reserves (then immediately
// releases) its risk-ledger fraction to see whether the real
// reservation at submit time would be granted. A candidate that can't
// clear any of those checks is suppressed before it ever reaches the
// dispatcher.
type FeasibilityGate struct {
	Prices     PriceLookup
	Positions  PositionCounter
	Sizing     SizingConfig
	Ledger     *Ledger
	KillSwitch *KillSwitch
	Leveraged  map[string]bool // leveraged/inverse ETF symbols, shrunk by SizingConfig.LeveragedShrinkFactor

	MaxConcurrentRisk float64
	MaxPositions      int
}

func (g *FeasibilityGate) Reason() suppress.Reason {
	return suppress.ReasonRiskFeasibility
}

// Evaluate reports the kill switch's halt as suppress.ReasonKillSwitch,
// distinct from every other rejection in this gate (max positions,
// sizing, or ledger capacity), which are all recorded under
// suppress.ReasonRiskFeasibility — the two causes call for different
// operator responses, so they must not collapse into one dashboard
// bucket.
func (g *FeasibilityGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, suppress.Reason, string, error) {
	if ok, multiplier := g.KillSwitch.CanTrade(); !ok {
		return true, suppress.ReasonKillSwitch, "kill switch halted trading", nil
	} else if multiplier <= 0 {
		return true, suppress.ReasonKillSwitch, "kill switch reduced size multiplier to zero", nil
	}

	openPositions := 0
	if g.Positions != nil {
		openPositions = g.Positions.GetOpenPositionsCount()
		if g.MaxPositions > 0 && openPositions >= g.MaxPositions {
			return true, suppress.ReasonRiskFeasibility, "max open positions reached", nil
		}
	}

	price, ok := g.Prices.EntryPrice(c.Symbol)
	if !ok {
		return true, suppress.ReasonRiskFeasibility, "no entry price available", nil
	}
	stopDistance, ok := g.Prices.StopDistance(c.Symbol)
	if !ok {
		return true, suppress.ReasonRiskFeasibility, "no stop distance available", nil
	}

	sized := PositionSize(g.Sizing, price, stopDistance, decimal.NewFromFloat(c.Confidence), openPositions, g.Leveraged[c.Symbol])
	if sized.Quantity.IsZero() {
		return true, suppress.ReasonRiskFeasibility, "sizing produced zero quantity: " + sized.BindingCap, nil
	}

	fraction := g.Sizing.RiskPerTrade.InexactFloat64() * c.Confidence
	total, err := g.Ledger.Reserve(ctx, fraction, g.MaxConcurrentRisk)
	if err != nil {
		if err == ErrConcurrentRiskExceeded {
			return true, suppress.ReasonRiskFeasibility, "would exceed max concurrent risk", nil
		}
		return false, suppress.ReasonNone, "", err
	}
	if releaseErr := g.Ledger.Release(ctx, fraction); releaseErr != nil {
		return false, suppress.ReasonNone, "", releaseErr
	}
	_ = total

	return false, suppress.ReasonNone, "", nil
}
