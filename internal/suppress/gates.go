package suppress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/counters"
	"github.com/algostack/signalpipe/internal/locks"
	"github.com/algostack/signalpipe/internal/mixer"
)

// BelowCutoffGate blocks candidates whose |score| doesn't clear the
// session-appropriate cutoff (RTH vs extended hours), optionally
// delta-adjusted in test mode per spec.md §4.8 item 1.
type BelowCutoffGate struct {
	Calendar      *clock.SessionCalendar
	CutoffRTH     float64
	CutoffExt     float64
	TestModeDelta float64
}

func (g *BelowCutoffGate) Reason() Reason { return ReasonBelowCutoff }

func (g *BelowCutoffGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	cutoff := g.CutoffExt
	if g.Calendar.IsRTH() {
		cutoff = g.CutoffRTH
	}
	cutoff += g.TestModeDelta

	score := c.Score
	if score < 0 {
		score = -score
	}
	if score < cutoff {
		return true, ReasonBelowCutoff, fmt.Sprintf("score %.4f below cutoff %.4f", score, cutoff), nil
	}
	return false, ReasonNone, "", nil
}

// MixerCooldownGate blocks re-firing the same symbol+direction until
// enough time has passed, unless the new score improved by at least
// ImproveMin over the last fired score — the "improved enough to
// override cooldown" rule.
type MixerCooldownGate struct {
	Locks       *locks.Manager
	Clock       clock.Clock
	CooldownSec int
	ImproveMin  float64
	lastScore   map[string]float64
}

func (g *MixerCooldownGate) Reason() Reason { return ReasonMixerCooldown }

func (g *MixerCooldownGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	rec, ok, err := g.Locks.GetDirection(ctx, cooldownKey(c.Symbol, string(c.Direction)))
	if err != nil {
		return false, ReasonNone, "", err
	}
	if !ok {
		return false, ReasonNone, "", nil
	}
	elapsed := g.Clock.Now().Sub(rec.At)
	if elapsed >= time.Duration(g.CooldownSec)*time.Second {
		return false, ReasonNone, "", nil
	}
	if g.lastScore != nil {
		if prev, hasPrev := g.lastScore[c.Symbol+":"+string(c.Direction)]; hasPrev {
			if absF(c.Score)-absF(prev) >= g.ImproveMin {
				return false, ReasonNone, "", nil
			}
		}
	}
	remaining := time.Duration(g.CooldownSec)*time.Second - elapsed
	return true, ReasonMixerCooldown, fmt.Sprintf("cooldown active, %s remaining", remaining.Round(time.Second)), nil
}

// RecordFire marks that a candidate fired, resetting its cooldown
// clock and remembering its score for the improve-to-override check.
func (g *MixerCooldownGate) RecordFire(ctx context.Context, c mixer.Candidate) error {
	if g.lastScore == nil {
		g.lastScore = map[string]float64{}
	}
	g.lastScore[c.Symbol+":"+string(c.Direction)] = c.Score
	return g.Locks.SetDirection(ctx, cooldownKey(c.Symbol, string(c.Direction)), string(c.Direction),
		time.Duration(g.CooldownSec)*time.Second)
}

func cooldownKey(symbol, direction string) string {
	return "cooldown:" + symbol + ":" + direction
}

// DirectionLockGate blocks a symbol from flipping direction within the
// lock window, distinct from the same-direction cooldown above: this
// gate fires when the new candidate's direction differs from the last
// traded direction and the lock has not expired.
type DirectionLockGate struct {
	Locks         *locks.Manager
	Clock         clock.Clock
	LockSec       int
	InverseLockSec int
	IsInverseETF  func(symbol string) bool
}

func (g *DirectionLockGate) Reason() Reason { return ReasonDirectionLock }

func (g *DirectionLockGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	rec, ok, err := g.Locks.GetDirection(ctx, "flip:"+c.Symbol)
	if err != nil {
		return false, ReasonNone, "", err
	}
	if !ok || rec.Direction == string(c.Direction) {
		return false, ReasonNone, "", nil
	}
	lockSec := g.LockSec
	if g.IsInverseETF != nil && g.IsInverseETF(c.Symbol) {
		lockSec = g.InverseLockSec
	}
	elapsed := g.Clock.Now().Sub(rec.At)
	if elapsed >= time.Duration(lockSec)*time.Second {
		return false, ReasonNone, "", nil
	}
	return true, ReasonDirectionLock, fmt.Sprintf("direction locked to %s", rec.Direction), nil
}

// RecordDirection updates the direction lock after a fire.
func (g *DirectionLockGate) RecordDirection(ctx context.Context, c mixer.Candidate) error {
	lockSec := g.LockSec
	if g.IsInverseETF != nil && g.IsInverseETF(c.Symbol) {
		lockSec = g.InverseLockSec
	}
	return g.Locks.SetDirection(ctx, "flip:"+c.Symbol, string(c.Direction), time.Duration(lockSec)*time.Second)
}

// DupEventGate blocks a candidate that is a byte-for-byte repeat of an
// already-processed trigger, identified by a content hash of the
// symbol, direction, score bucket and trigger source, within a short
// TTL window. This guards against the same upstream event (e.g. one
// EDGAR filing) being re-ingested and re-scored more than once.
type DupEventGate struct {
	Locks *locks.Manager
	TTL   time.Duration
}

func (g *DupEventGate) Reason() Reason { return ReasonDupEvent }

func (g *DupEventGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	key := "dupevent:" + eventFingerprint(c)
	acquired, err := g.Locks.TryAcquire(ctx, key, g.TTL)
	if err != nil {
		return false, ReasonNone, "", err
	}
	if !acquired {
		return true, ReasonDupEvent, "duplicate event fingerprint", nil
	}
	return false, ReasonNone, "", nil
}

func eventFingerprint(c mixer.Candidate) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%.2f|%s", c.Symbol, c.Direction, c.Score, c.Trigger)
	return hex.EncodeToString(h.Sum(nil))
}

// SessionDailyCapGate blocks trades once the symbol's (or the
// session's global) daily trade count reaches its configured limit.
type SessionDailyCapGate struct {
	Counters      *counters.Counters
	Clock         clock.Clock
	MaxPerSymbol  int64
	MaxGlobal     int64
}

func (g *SessionDailyCapGate) Reason() Reason { return ReasonSessionDailyCap }

func (g *SessionDailyCapGate) Evaluate(ctx context.Context, c mixer.Candidate) (bool, Reason, string, error) {
	now := g.Clock.Now()
	if g.MaxGlobal > 0 {
		count, err := g.Counters.Get(ctx, "trades:global", now)
		if err != nil {
			return false, ReasonNone, "", err
		}
		if count >= g.MaxGlobal {
			return true, ReasonSessionDailyCap, "global daily trade cap reached", nil
		}
	}
	if g.MaxPerSymbol > 0 {
		count, err := g.Counters.Get(ctx, "trades:"+c.Symbol, now)
		if err != nil {
			return false, ReasonNone, "", err
		}
		if count >= g.MaxPerSymbol {
			return true, ReasonSessionDailyCap, fmt.Sprintf("%s daily trade cap reached", c.Symbol), nil
		}
	}
	return false, ReasonNone, "", nil
}

// RecordTrade increments both the symbol and global daily counters
// after a trade fires past every gate.
func (g *SessionDailyCapGate) RecordTrade(ctx context.Context, c mixer.Candidate) error {
	now := g.Clock.Now()
	if _, _, err := g.Counters.IncrAndCap(ctx, "trades:"+c.Symbol, now, 1<<30); err != nil {
		return err
	}
	_, _, err := g.Counters.IncrAndCap(ctx, "trades:global", now, 1<<30)
	return err
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
