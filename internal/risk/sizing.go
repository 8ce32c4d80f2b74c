// Package risk owns position sizing, the cross-process risk ledger,
// the daily-loss kill switch, and the risk-feasibility suppression
// gate.
package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// SizingConfig carries the tunables position sizing needs, sourced
// from internal/config.Sizing.
type SizingConfig struct {
	EquityUSD           decimal.Decimal
	RiskPerTrade        decimal.Decimal // fraction of equity risked per trade
	MaxEquityFraction   decimal.Decimal // max_equity_exposure: fraction of equity split evenly across the remaining slots
	MinSlots            int             // min_slots: floor divisor for remaining_slots, even with zero open positions
	LeveragedShrinkFactor decimal.Decimal // shrink applied to size for leveraged/inverse ETF symbols
	MaxPricePerShare    decimal.Decimal
	// MaxNotionalPerTrade is a supplemental hard ceiling applied on top
	// of the risk/remaining-slots caps below, not a replacement for
	// either — a belt-and-suspenders limit against a single trade
	// consuming an outsized notional regardless of what the risk math
	// alone would allow. Zero disables it.
	MaxNotionalPerTrade decimal.Decimal
	FractionalEnabled   bool
}

// SizeResult explains how a position size was arrived at, so callers
// (and tests) can see which cap bound.
type SizeResult struct {
	Quantity       decimal.Decimal
	SizeByRisk     decimal.Decimal
	SizeByCap      decimal.Decimal
	RemainingSlots int
	BindingCap     string
}

// PositionSize computes order quantity per spec.md's sizing formula:
//
//	risk_amount    = equity * risk_per_trade * confidence
//	size_risk      = floor(risk_amount / |entry - stop|)
//	remaining_slots = max(min_slots - current_open_positions, 1)
//	size_cap       = floor((equity * max_equity_exposure) / remaining_slots / entry)
//	size           = min(size_risk, size_cap)
//
// leveraged applies a configured shrink factor to a leveraged/inverse
// ETF's size on top of that, and MaxNotionalPerTrade/MaxPricePerShare
// apply as supplemental hard ceilings. currentOpenPositions comes from
// portfolio.Manager.GetOpenPositionsCount.
func PositionSize(cfg SizingConfig, entryPrice, stopDistance, confidence decimal.Decimal, currentOpenPositions int, leveraged bool) SizeResult {
	if entryPrice.LessThanOrEqual(decimal.Zero) || stopDistance.LessThanOrEqual(decimal.Zero) {
		return SizeResult{Quantity: decimal.Zero, BindingCap: "invalid_input"}
	}
	if cfg.MaxPricePerShare.GreaterThan(decimal.Zero) && entryPrice.GreaterThan(cfg.MaxPricePerShare) {
		return SizeResult{Quantity: decimal.Zero, BindingCap: "price_exceeds_max_per_share"}
	}

	// Every cap below is carried as an unrounded fraction of a share
	// until the very end, so a candidate whose true entitlement is,
	// say, 0.6 shares isn't floored away to zero before the
	// minimum-quantity floor gets a chance to round it up to 1.
	riskAmount := cfg.EquityUSD.Mul(cfg.RiskPerTrade).Mul(confidence)
	rawSizeByRisk := riskAmount.Div(stopDistance)

	remainingSlots := cfg.MinSlots - currentOpenPositions
	if remainingSlots < 1 {
		remainingSlots = 1
	}
	rawSizeByCap := cfg.EquityUSD.Mul(cfg.MaxEquityFraction).
		Div(decimal.NewFromInt(int64(remainingSlots))).
		Div(entryPrice)

	raw := rawSizeByRisk
	binding := "risk"
	if rawSizeByCap.LessThan(raw) {
		raw = rawSizeByCap
		binding = "remaining_slots_cap"
	}

	if leveraged && cfg.LeveragedShrinkFactor.GreaterThan(decimal.Zero) {
		raw = raw.Mul(cfg.LeveragedShrinkFactor)
		binding = binding + "+leveraged_shrink"
	}

	if cfg.MaxNotionalPerTrade.GreaterThan(decimal.Zero) {
		byNotional := cfg.MaxNotionalPerTrade.Div(entryPrice)
		if byNotional.LessThan(raw) {
			raw = byNotional
			binding = "max_notional_per_trade"
		}
	}

	quantity := raw
	if !cfg.FractionalEnabled {
		quantity = decimal.NewFromInt(int64(math.Floor(raw.InexactFloat64())))
		// Rounding a nonzero fractional result up to the minimum of 1
		// share must not itself breach the max-notional-per-trade cap
		// that motivated shrinking the size in the first place.
		fitsNotionalCap := cfg.MaxNotionalPerTrade.LessThanOrEqual(decimal.Zero) || entryPrice.LessThanOrEqual(cfg.MaxNotionalPerTrade)
		if quantity.IsZero() && raw.GreaterThan(decimal.Zero) && fitsNotionalCap {
			quantity = decimal.NewFromInt(1)
			binding = binding + "+min_quantity_floor"
		}
	}
	if quantity.LessThan(decimal.Zero) {
		quantity = decimal.Zero
	}

	return SizeResult{
		Quantity:       quantity,
		SizeByRisk:     rawSizeByRisk.Floor(),
		SizeByCap:      rawSizeByCap.Floor(),
		RemainingSlots: remainingSlots,
		BindingCap:     binding,
	}
}
