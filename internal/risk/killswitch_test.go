package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/algostack/signalpipe/internal/clock"
)

func baseThresholds() Thresholds {
	return Thresholds{
		WarningLossFraction:   0.02,
		ReducedLossFraction:   0.035,
		HaltLossFraction:      0.05,
		ReducedSizeMultiplier: 0.5,
		CoolingOffDuration:    30 * time.Minute,
	}
}

func TestKillSwitch_NormalWhenNoLoss(t *testing.T) {
	ks := NewKillSwitch(clock.SystemClock{}, baseThresholds())
	ks.Reset("2026-08-06", 2000)
	state, mult := ks.Update(2000)
	assert.Equal(t, StateNormal, state)
	assert.Equal(t, 1.0, mult)
}

func TestKillSwitch_ReducedSizeAtReducedThreshold(t *testing.T) {
	ks := NewKillSwitch(clock.SystemClock{}, baseThresholds())
	ks.Reset("2026-08-06", 2000)
	state, mult := ks.Update(2000 * (1 - 0.04))
	assert.Equal(t, StateReduced, state)
	assert.Equal(t, 0.5, mult)
}

func TestKillSwitch_HaltsAndEntersCoolingOff(t *testing.T) {
	fc := &clock.FixedClock{At: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	ks := NewKillSwitch(fc, baseThresholds())
	ks.Reset("2026-08-06", 2000)
	state, mult := ks.Update(2000 * (1 - 0.06))
	assert.Equal(t, StateHalted, state)
	assert.Equal(t, 0.0, mult)

	canTrade, _ := ks.CanTrade()
	assert.False(t, canTrade)
}

func TestKillSwitch_ManualHaltOverridesComputedState(t *testing.T) {
	ks := NewKillSwitch(clock.SystemClock{}, baseThresholds())
	ks.Reset("2026-08-06", 2000)
	ks.ManualHalt(true)
	canTrade, _ := ks.CanTrade()
	assert.False(t, canTrade)

	ks.ManualHalt(false)
	canTrade, _ = ks.CanTrade()
	assert.True(t, canTrade)
}

func TestKillSwitch_CoolingOffBlocksUntilExpiry(t *testing.T) {
	fc := &clock.FixedClock{At: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	ks := NewKillSwitch(fc, baseThresholds())
	ks.Reset("2026-08-06", 2000)
	ks.Update(2000 * (1 - 0.06))

	fc.At = fc.At.Add(10 * time.Minute)
	state, _ := ks.Update(2000 * (1 - 0.06))
	assert.Equal(t, StateCoolingOff, state)

	fc.At = fc.At.Add(31 * time.Minute)
	state, _ = ks.Update(2000)
	assert.NotEqual(t, StateCoolingOff, state)
}
