package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func baseSizingConfig() SizingConfig {
	return SizingConfig{
		EquityUSD:             decimal.NewFromFloat(2000),
		RiskPerTrade:          decimal.NewFromFloat(0.008),
		MaxEquityFraction:     decimal.NewFromFloat(0.4),
		MinSlots:              5,
		LeveragedShrinkFactor: decimal.NewFromFloat(0.5),
		MaxNotionalPerTrade:   decimal.NewFromFloat(185),
		MaxPricePerShare:      decimal.NewFromFloat(120),
		FractionalEnabled:     false,
	}
}

func TestPositionSize_RiskCapBindsForWideStop(t *testing.T) {
	cfg := baseSizingConfig()
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(5), decimal.NewFromFloat(1.0), 0, false)
	assert.Equal(t, "risk", result.BindingCap)
	assert.True(t, result.Quantity.GreaterThan(decimal.Zero))
}

func TestPositionSize_RemainingSlotsCapBindsForTightStop(t *testing.T) {
	cfg := baseSizingConfig()
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 0, false)
	assert.Equal(t, "remaining_slots_cap", result.BindingCap)
	// equity(2000) * max_equity_fraction(0.4) / remaining_slots(5) / entry(50) = 3.2 -> floor 3
	assert.True(t, result.Quantity.Equal(decimal.NewFromInt(3)))
}

func TestPositionSize_RemainingSlotsCapGrowsAsSlotsFillUp(t *testing.T) {
	cfg := baseSizingConfig()
	noneOpen := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 0, false)
	fourOpen := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 4, false)
	assert.Equal(t, 5, noneOpen.RemainingSlots)
	assert.Equal(t, 1, fourOpen.RemainingSlots)
	// fewer remaining slots concentrates more of max_equity_exposure into
	// each one, so the per-trade cap rises as the book fills up.
	assert.True(t, fourOpen.SizeByCap.GreaterThan(noneOpen.SizeByCap))
}

func TestPositionSize_RemainingSlotsFloorsAtOneEvenWhenOverbooked(t *testing.T) {
	cfg := baseSizingConfig()
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 9, false)
	assert.Equal(t, 1, result.RemainingSlots)
}

func TestPositionSize_LeveragedShrinksSizeFurther(t *testing.T) {
	cfg := baseSizingConfig()
	plain := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 0, false)
	leveraged := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(0.10), decimal.NewFromFloat(1.0), 0, true)
	assert.True(t, leveraged.Quantity.LessThan(plain.Quantity))
	assert.Contains(t, leveraged.BindingCap, "leveraged_shrink")
}

func TestPositionSize_ZeroWhenPriceExceedsMaxPerShare(t *testing.T) {
	cfg := baseSizingConfig()
	result := PositionSize(cfg, decimal.NewFromFloat(500), decimal.NewFromFloat(5), decimal.NewFromFloat(1.0), 0, false)
	assert.True(t, result.Quantity.IsZero())
	assert.Equal(t, "price_exceeds_max_per_share", result.BindingCap)
}

func TestPositionSize_MaxNotionalCapsRegardlessOfRiskMath(t *testing.T) {
	cfg := baseSizingConfig()
	cfg.MaxNotionalPerTrade = decimal.NewFromFloat(20)
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(5), decimal.NewFromFloat(1.0), 0, false)
	assert.Equal(t, "max_notional_per_trade", result.BindingCap)
	assert.True(t, result.Quantity.LessThanOrEqual(decimal.NewFromFloat(20).Div(decimal.NewFromFloat(50))))
}

func TestPositionSize_LowConfidenceShrinksSize(t *testing.T) {
	cfg := baseSizingConfig()
	full := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(5), decimal.NewFromFloat(1.0), 0, false)
	half := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(5), decimal.NewFromFloat(0.5), 0, false)
	assert.True(t, half.SizeByRisk.LessThan(full.SizeByRisk))
}

func TestPositionSize_FractionalDisabledFloorsToWholeShares(t *testing.T) {
	cfg := baseSizingConfig()
	cfg.FractionalEnabled = false
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(5), decimal.NewFromFloat(1.0), 0, false)
	assert.True(t, result.Quantity.Equal(result.Quantity.Truncate(0)))
}

func TestPositionSize_MinimumQuantityFloorRoundsUpSubOneResult(t *testing.T) {
	cfg := baseSizingConfig()
	cfg.FractionalEnabled = false
	// equity(2000) * risk_per_trade(0.008) * confidence(1.0) / stop(100) = 0.16
	// shares by risk math, which would floor away to zero without the
	// minimum-quantity floor.
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(100), decimal.NewFromFloat(1.0), 0, false)
	assert.True(t, result.Quantity.Equal(decimal.NewFromInt(1)))
	assert.Contains(t, result.BindingCap, "min_quantity_floor")
}

func TestPositionSize_FractionalEnabledSkipsMinimumFloor(t *testing.T) {
	cfg := baseSizingConfig()
	cfg.FractionalEnabled = true
	result := PositionSize(cfg, decimal.NewFromFloat(50), decimal.NewFromFloat(100), decimal.NewFromFloat(1.0), 0, false)
	assert.True(t, result.Quantity.Equal(decimal.NewFromFloat(0.16)))
}
