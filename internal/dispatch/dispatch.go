// Package dispatch submits sized order intents to a broker, guarding
// against duplicate submission with an idempotency key and retrying
// transient failures with exponential backoff, the same retry idiom
// the quote adapters use against upstream rate limits.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/observ"
)

// Side is the order's buy/sell direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Intent is what the pipeline asks the dispatcher to submit, carrying
// everything needed to build an idempotency key that survives process
// restarts.
type Intent struct {
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Trigger        string
	SignalAsOf     time.Time
	IdempotencyKey string
}

// Fill is what the broker reports back once an order executes.
type Fill struct {
	OrderID     string
	Symbol      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Side        Side
	Timestamp   time.Time
	LatencyMs   int
}

// Broker is the narrow seam dispatch needs from a concrete broker
// adapter (paper or live), letting tests substitute a stub without
// pulling in HTTP/SDK plumbing.
type Broker interface {
	SubmitMarketOrder(ctx context.Context, clientOrderID, symbol string, side Side, quantity decimal.Decimal) (Fill, error)
}

// DedupeStore records which idempotency keys have already been
// submitted, generalizing the teacher's JSONL outbox scan into an
// interface so it can be backed by a file, Redis, or memory.
type DedupeStore interface {
	Seen(ctx context.Context, idempotencyKey string) (bool, error)
	Record(ctx context.Context, idempotencyKey string) error
}

// RetryConfig sets the dispatcher's exponential backoff: before retry
// n it sleeps BackoffBaseMs * 2^n milliseconds. Unlike the quote
// adapters' retry loops, no jitter is added.
type RetryConfig struct {
	MaxRetries    int
	BackoffBaseMs int
}

// Dispatcher submits order intents exactly once per idempotency key,
// retrying transient broker errors with backoff.
type Dispatcher struct {
	broker Broker
	dedupe DedupeStore
	clock  clock.Clock
	retry  RetryConfig
	sleep  func(time.Duration)

	// AutoMode gates whether Submit actually calls the broker. With it
	// false, Submit still dedupes and logs the intent, then returns a nil
	// fill and no error without ever reaching SubmitMarketOrder,
	// the manual-approval posture the pipeline runs in until someone
	// flips it on.
	AutoMode bool
}

func NewDispatcher(b Broker, d DedupeStore, c clock.Clock, retry RetryConfig) *Dispatcher {
	return &Dispatcher{broker: b, dedupe: d, clock: c, retry: retry, sleep: time.Sleep}
}

// IdempotencyKey derives a stable key from the intent's signal-or-basket
// trigger, the session-local day it fired on, and the execution symbol,
// so the same signal firing twice within a day (e.g. across a process
// restart, or after the dispatcher resizes the quantity on retry) does
// not double-submit. Quantity is deliberately excluded: a retry that
// recomputes size after a partial fill or a config change must still
// dedupe against the original submission, and a resized order should
// never bypass the dedupe check meant to stop it.
func IdempotencyKey(in Intent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", in.Trigger, clock.DayKey(in.SignalAsOf), in.Symbol)
	return hex.EncodeToString(h.Sum(nil))
}

// Submit dedupes and submits an order intent, retrying transient
// broker failures. Returns the resulting fill, or a nil fill with no
// error if the intent was already submitted (a no-op retry).
func (d *Dispatcher) Submit(ctx context.Context, in Intent) (*Fill, error) {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = IdempotencyKey(in)
	}

	seen, err := d.dedupe.Seen(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("dispatch: dedupe check: %w", err)
	}
	if seen {
		return nil, nil
	}

	if !d.AutoMode {
		observ.L.Info().Str("symbol", in.Symbol).Str("side", string(in.Side)).
			Str("quantity", in.Quantity.String()).Str("trigger", in.Trigger).
			Msg("auto mode disabled, logging order intent without submitting")
		if err := d.dedupe.Record(ctx, in.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("dispatch: record dedupe for dry-run intent: %w", err)
		}
		return nil, nil
	}

	clientOrderID := uuid.NewString()

	var lastErr error
	submitStart := d.clock.Now()
	for attempt := 0; attempt < d.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(d.retry.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			d.sleep(backoff)
		}

		fill, err := d.broker.SubmitMarketOrder(ctx, clientOrderID, in.Symbol, in.Side, in.Quantity)
		if err != nil {
			lastErr = err
			observ.L.Warn().Str("symbol", in.Symbol).Int("attempt", attempt).Err(err).Msg("order submit attempt failed")
			continue
		}

		observ.OrdersSubmitted.WithLabelValues(in.Symbol, string(in.Side)).Inc()
		observ.OrderLatencyMs.WithLabelValues(in.Symbol).Observe(float64(d.clock.Now().Sub(submitStart).Milliseconds()))

		if err := d.dedupe.Record(ctx, in.IdempotencyKey); err != nil {
			return &fill, fmt.Errorf("dispatch: record dedupe after successful submit: %w", err)
		}
		return &fill, nil
	}

	return nil, fmt.Errorf("dispatch: exhausted retries: %w", lastErr)
}
