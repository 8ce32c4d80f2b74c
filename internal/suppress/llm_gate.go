package suppress

import (
	"context"
	"strings"

	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/regime"
)

// LLMChecker is the narrow seam suppress needs from internal/llm.Gate,
// so this package doesn't have to import llm's HTTP/Redis plumbing
// directly into its test doubles.
type LLMChecker interface {
	ShouldCall(ctx context.Context, eventType, ticker string, signalScore float64) (bool, string, error)
}

// LLMGate blocks a candidate when the LLM Insight Gate's budget or
// event/score predicate refuses a call the candidate otherwise
// qualifies for, per spec.md's "candidates that require an LLM read
// but haven't gotten one are suppressed under llm_gate" rule.
type LLMGate struct {
	Checker LLMChecker
}

func (g *LLMGate) Reason() Reason { return ReasonLLMGate }

// Evaluate always consults the checker, even for a candidate that
// matched no recognized event type: ShouldCall's own event-or-score OR
// semantics let a high-score candidate qualify on score alone.
func (g *LLMGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	ok, detail, err := g.Checker.ShouldCall(ctx, eventTypeOf(c), c.Symbol, c.Score)
	if err != nil {
		return false, ReasonNone, "", err
	}
	if !ok {
		return true, ReasonLLMGate, detail, nil
	}
	return false, ReasonNone, "", nil
}

func eventTypeOf(c mixer.Candidate) string {
	if c.EdgarOverride {
		return "edgar"
	}
	if c.Regime == regime.VolSpike {
		return "vol_spike"
	}
	if strings.HasPrefix(c.Trigger, "basket:") {
		return "basket_inverse_entry"
	}
	return ""
}
