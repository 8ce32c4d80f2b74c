// Package pipeline defines the shared error taxonomy that pipeline
// stages classify failures into.
package pipeline

import (
	"errors"
	"fmt"
)

// The pipeline classifies every stage failure into one of these kinds
// so a caller can tell "log and continue" from "halt and page",
// the same distinction the teacher's QuoteError.Type field draws for
// quote fetch failures, generalized here into sentinel errors any
// stage can wrap with errors.Join/fmt.Errorf("%w").
var (
	// ErrTransient marks a failure a retry is expected to clear:
	// network hiccups, provider 5xxs, Redis timeouts.
	ErrTransient = errors.New("pipeline: transient error")

	// ErrRateLimited marks a stage that could not get a token from its
	// rate limiter, tier or Reserve fallback both exhausted.
	ErrRateLimited = errors.New("pipeline: rate limited")

	// ErrMarketClosed marks a stage that only runs during a session the
	// calendar says is not currently open.
	ErrMarketClosed = errors.New("pipeline: market closed")

	// ErrContractViolation marks malformed or out-of-contract input:
	// unparseable quotes, indicators that never went Ready, config that
	// failed validation.
	ErrContractViolation = errors.New("pipeline: contract violation")

	// ErrRiskViolation marks a stage that was blocked by a risk control:
	// the ledger cap, position sizing refusing a share, a suppression
	// gate.
	ErrRiskViolation = errors.New("pipeline: risk violation")

	// ErrDuplicate marks an intent the dedupe store had already seen.
	ErrDuplicate = errors.New("pipeline: duplicate")

	// ErrKillSwitch marks a stage refused because the kill switch is in
	// a halted or cooling-off state.
	ErrKillSwitch = errors.New("pipeline: kill switch active")
)

// StageError wraps a stage failure with the symbol it occurred against
// and the sentinel kind it classifies as, so a handler can both log a
// human-readable message and errors.Is-check the kind.
type StageError struct {
	Stage  string
	Symbol string
	Kind   error
	Cause  error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %v: %v", e.Stage, e.Symbol, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Stage, e.Symbol, e.Kind)
}

func (e *StageError) Unwrap() error { return e.Kind }

// Wrap builds a StageError, so a caller of a stage that uses it can
// recover the Kind via errors.Is.
func Wrap(stage, symbol string, kind, cause error) *StageError {
	return &StageError{Stage: stage, Symbol: symbol, Kind: kind, Cause: cause}
}
