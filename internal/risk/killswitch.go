package risk

import (
	"sync"
	"time"

	"github.com/algostack/signalpipe/internal/clock"
)

// State mirrors the graduated states the reference circuit breaker
// walks through as losses deepen, trimmed to the levels a single
// daily-loss kill switch needs.
type State string

const (
	StateNormal     State = "normal"
	StateWarning    State = "warning"
	StateReduced    State = "reduced"
	StateHalted     State = "halted"
	StateCoolingOff State = "cooling_off"
)

// Thresholds maps drawdown fractions (of starting daily equity) to the
// state that fraction enters, and the size multiplier applied while in
// each non-normal state.
type Thresholds struct {
	WarningLossFraction float64 // e.g. 0.02
	ReducedLossFraction float64 // e.g. 0.035
	HaltLossFraction    float64 // e.g. 0.05
	ReducedSizeMultiplier float64 // e.g. 0.5
	CoolingOffDuration  time.Duration
}

// KillSwitch tracks realized+unrealized daily P&L against the day's
// starting equity and halts new trade intents once losses breach the
// configured threshold, grounded on the reference circuit breaker's
// state machine (internal/risk/circuitbreaker.go in the teacher repo)
// but scoped to the single daily-loss dimension spec.md names.
type KillSwitch struct {
	mu             sync.Mutex
	clock          clock.Clock
	thresholds     Thresholds
	dayStartEquity float64
	dayKey         string
	state          State
	coolingOffUntil time.Time
	manualHalt     bool
}

func NewKillSwitch(c clock.Clock, t Thresholds) *KillSwitch {
	return &KillSwitch{clock: c, thresholds: t, state: StateNormal}
}

// Reset starts a new trading day's loss tracking, called at session
// open.
func (k *KillSwitch) Reset(dayKey string, startEquity float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dayKey = dayKey
	k.dayStartEquity = startEquity
	k.state = StateNormal
	k.coolingOffUntil = time.Time{}
}

// Update recomputes state from the current mark-to-market equity,
// returning the resulting state and its size multiplier.
func (k *KillSwitch) Update(currentEquity float64) (State, float64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.manualHalt {
		return StateHalted, 0
	}
	if k.state == StateHalted && k.clock.Now().Before(k.coolingOffUntil) {
		k.state = StateCoolingOff
	}
	if k.state == StateCoolingOff {
		if k.clock.Now().Before(k.coolingOffUntil) {
			return StateCoolingOff, 0
		}
		k.state = StateWarning
	}
	if k.dayStartEquity <= 0 {
		return k.state, sizeMultiplierFor(k.state, k.thresholds)
	}

	lossFraction := (k.dayStartEquity - currentEquity) / k.dayStartEquity
	switch {
	case lossFraction >= k.thresholds.HaltLossFraction:
		k.state = StateHalted
		k.coolingOffUntil = k.clock.Now().Add(k.thresholds.CoolingOffDuration)
	case lossFraction >= k.thresholds.ReducedLossFraction:
		k.state = StateReduced
	case lossFraction >= k.thresholds.WarningLossFraction:
		k.state = StateWarning
	default:
		k.state = StateNormal
	}
	return k.state, sizeMultiplierFor(k.state, k.thresholds)
}

// ManualHalt lets an operator force a halt independent of computed
// loss, mirroring the reference breaker's manual-override path.
func (k *KillSwitch) ManualHalt(halt bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.manualHalt = halt
	if !halt && k.state == StateHalted {
		k.state = StateWarning
	}
}

// CanTrade reports whether new trade intents are allowed and the size
// multiplier that should be applied if so.
func (k *KillSwitch) CanTrade() (bool, float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.manualHalt || k.state == StateHalted || k.state == StateCoolingOff {
		return false, 0
	}
	return true, sizeMultiplierFor(k.state, k.thresholds)
}

func sizeMultiplierFor(s State, t Thresholds) float64 {
	switch s {
	case StateReduced:
		return t.ReducedSizeMultiplier
	case StateHalted, StateCoolingOff:
		return 0
	default:
		return 1.0
	}
}
