package risk

import (
	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/bars"
)

// StopLossPct is the fixed fractional stop distance applied to the
// current price when no per-symbol stop has been set explicitly,
// ported from the reference risk manager's stop_loss_pct default.
const StopLossPct = 0.015

// BarsPriceLookup resolves entry price and stop distance from the bar
// store's latest close, implementing the PriceLookup seam the
// feasibility gate and scheduler both need without either depending on
// the other's package directly.
type BarsPriceLookup struct {
	Bars *bars.Store
}

func NewBarsPriceLookup(store *bars.Store) *BarsPriceLookup {
	return &BarsPriceLookup{Bars: store}
}

func (b *BarsPriceLookup) EntryPrice(symbol string) (decimal.Decimal, bool) {
	bar, ok := b.Bars.Latest(symbol)
	if !ok || bar.Close <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(bar.Close), true
}

// StopDistance returns StopLossPct of the latest close, the same fixed
// percentage stop the reference risk manager applies when a strategy
// hasn't set an explicit stop price.
func (b *BarsPriceLookup) StopDistance(symbol string) (decimal.Decimal, bool) {
	price, ok := b.EntryPrice(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return price.Mul(decimal.NewFromFloat(StopLossPct)), true
}
