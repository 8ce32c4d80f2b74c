// Package suppress implements the ordered suppression chain a
// candidate signal passes through before it can become an order
// intent.
package suppress

import (
	"context"
	"time"

	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/observ"
)

// Reason is the typed suppression tag, replacing the free-form string
// reasons the teacher's risk gates used. A dedicated enum avoids the
// class of miscounted-dashboard bugs free-form reason strings caused.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonBelowCutoff    Reason = "below_cutoff"
	ReasonMixerCooldown  Reason = "mixer_cooldown"
	ReasonDirectionLock  Reason = "direction_lock"
	ReasonDupEvent       Reason = "dup_event"
	ReasonSessionDailyCap Reason = "session_daily_cap"
	ReasonLLMGate        Reason = "llm_gate"
	ReasonRiskFeasibility Reason = "risk_feasibility"
	// ReasonKillSwitch is reported by the risk feasibility gate in place
	// of ReasonRiskFeasibility when the kill switch itself is what
	// blocked the candidate, distinct from a sizing or ledger failure.
	ReasonKillSwitch Reason = "kill_switch"

	// ReasonBasketConditions marks an individual short candidate that
	// cleared every other gate but was withheld from direct submission
	// because spec.md's routing rule sends short candidates through
	// basket aggregation instead: "individual-ticker short candidates
	// never submit as direct shorts; they only feed aggregation."
	ReasonBasketConditions Reason = "basket_conditions"
	// ReasonETFLock and ReasonConflictingPosition are recorded by the
	// basket aggregator, not the chain — a basket fire bypasses the
	// per-candidate chain entirely, so these never appear in
	// orderedReasons, but they are valid Suppression Record reasons per
	// spec.md's data model.
	ReasonETFLock             Reason = "etf_lock"
	ReasonConflictingPosition Reason = "conflicting_position"
)

// orderedReasons is the fixed evaluation order spec.md §4.8 mandates.
// The chain stops at the first gate that suppresses.
var orderedReasons = []Reason{
	ReasonBelowCutoff,
	ReasonMixerCooldown,
	ReasonDirectionLock,
	ReasonDupEvent,
	ReasonSessionDailyCap,
	ReasonLLMGate,
	ReasonRiskFeasibility,
}

// Record is the outcome of running a candidate through the chain, per
// the data model's Suppression Record entity.
type Record struct {
	Symbol    string
	AsOf      time.Time
	Candidate mixer.Candidate
	Suppressed bool
	Reason    Reason
	Detail    string
}

// Gate evaluates one suppression rule against a candidate. Gates are
// evaluated in a fixed order defined by the chain, not by a
// per-gate priority, since spec.md pins the exact sequence.
type Gate interface {
	// Reason names the chain slot this gate occupies in orderedReasons.
	Reason() Reason
	// Evaluate returns (blocked, reason, detail, error). blocked=true
	// means the candidate is suppressed. reason is the Record reason to
	// record; most gates always return their own Reason(), but a gate
	// that can fail for more than one underlying cause (e.g. the risk
	// feasibility gate distinguishing a kill-switch halt from a sizing
	// failure) may return a different Reason per call.
	Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error)
}

// Chain runs a candidate through an ordered list of gates, stopping at
// the first one that suppresses it, matching the priority-ordered gate
// evaluation the teacher's RiskGate chain performs, generalized to a
// spec-mandated fixed order instead of a configurable priority number.
type Chain struct {
	gates map[Reason]Gate
}

func NewChain(gates ...Gate) *Chain {
	c := &Chain{gates: make(map[Reason]Gate, len(gates))}
	for _, g := range gates {
		c.gates[g.Reason()] = g
	}
	return c
}

// Run evaluates candidate against every configured gate in the fixed
// spec order, short-circuiting on the first suppression.
func (c *Chain) Run(ctx context.Context, candidate mixer.Candidate) (Record, error) {
	rec := Record{Symbol: candidate.Symbol, AsOf: candidate.AsOf, Candidate: candidate}

	if candidate.Direction == mixer.Hold {
		rec.Suppressed = true
		rec.Reason = ReasonBelowCutoff
		rec.Detail = "mixer produced hold"
		observ.Suppressions.WithLabelValues(string(rec.Reason)).Inc()
		return rec, nil
	}

	for _, reason := range orderedReasons {
		gate, ok := c.gates[reason]
		if !ok {
			continue
		}
		blocked, reportedReason, detail, err := gate.Evaluate(ctx, candidate)
		if err != nil {
			return rec, err
		}
		if blocked {
			if reportedReason == ReasonNone {
				reportedReason = reason
			}
			rec.Suppressed = true
			rec.Reason = reportedReason
			rec.Detail = detail
			observ.Suppressions.WithLabelValues(string(reportedReason)).Inc()
			observ.L.Debug().Str("symbol", candidate.Symbol).Str("reason", string(reportedReason)).Str("detail", detail).Msg("candidate suppressed")
			return rec, nil
		}
	}

	observ.CandidatesFired.WithLabelValues(candidate.Symbol, string(candidate.Direction)).Inc()
	return rec, nil
}
