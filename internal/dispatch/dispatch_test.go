package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/clock"
)

type fakeBroker struct {
	mu        sync.Mutex
	failUntil int
	calls     int
}

func (b *fakeBroker) SubmitMarketOrder(ctx context.Context, clientOrderID, symbol string, side Side, quantity decimal.Decimal) (Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failUntil {
		return Fill{}, errors.New("transient broker error")
	}
	return Fill{OrderID: clientOrderID, Symbol: symbol, Quantity: quantity, Price: decimal.NewFromInt(100), Side: side, Timestamp: time.Now()}, nil
}

type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{seen: map[string]bool{}} }

func (d *fakeDedupe) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *fakeDedupe) Record(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}

func testIntent() Intent {
	return Intent{
		Symbol:     "AAPL",
		Side:       SideBuy,
		Quantity:   decimal.NewFromInt(3),
		Trigger:    "mixer:buy",
		SignalAsOf: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC),
	}
}

func noSleep(time.Duration) {}

func TestDispatcher_SubmitsOnce(t *testing.T) {
	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 3, BackoffBaseMs: 1})
	d.sleep = noSleep
	d.AutoMode = true

	fill, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)
	require.NotNil(t, fill)
	require.Equal(t, 1, broker.calls)
}

func TestDispatcher_DuplicateIntentIsNoOp(t *testing.T) {
	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 3, BackoffBaseMs: 1})
	d.sleep = noSleep
	d.AutoMode = true

	_, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)

	fill, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)
	require.Nil(t, fill)
	require.Equal(t, 1, broker.calls, "second submit of the same intent should not call the broker again")
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	broker := &fakeBroker{failUntil: 2}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 5, BackoffBaseMs: 1})
	d.sleep = noSleep
	d.AutoMode = true

	fill, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)
	require.NotNil(t, fill)
	require.Equal(t, 3, broker.calls)
}

func TestDispatcher_AutoModeDisabledSkipsBroker(t *testing.T) {
	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 3, BackoffBaseMs: 1})
	d.sleep = noSleep

	fill, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)
	require.Nil(t, fill)
	require.Equal(t, 0, broker.calls, "auto mode disabled must never reach the broker")
}

func TestDispatcher_AutoModeDisabledStillDedupes(t *testing.T) {
	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 3, BackoffBaseMs: 1})
	d.sleep = noSleep

	_, err := d.Submit(context.Background(), testIntent())
	require.NoError(t, err)

	seen, err := dedupe.Seen(context.Background(), IdempotencyKey(testIntent()))
	require.NoError(t, err)
	require.True(t, seen, "a logged dry-run intent must still be recorded so it doesn't re-log on the next tick")
}

func TestDispatcher_ExhaustsRetriesAndReturnsError(t *testing.T) {
	broker := &fakeBroker{failUntil: 100}
	dedupe := newFakeDedupe()
	d := NewDispatcher(broker, dedupe, clock.SystemClock{}, RetryConfig{MaxRetries: 3, BackoffBaseMs: 1})
	d.sleep = noSleep
	d.AutoMode = true

	fill, err := d.Submit(context.Background(), testIntent())
	require.Error(t, err)
	require.Nil(t, fill)
}

func TestIdempotencyKey_StableForSameIntent(t *testing.T) {
	in := testIntent()
	require.Equal(t, IdempotencyKey(in), IdempotencyKey(in))
}

func TestIdempotencyKey_SameAcrossQuantityResize(t *testing.T) {
	// A retry that resizes the order after a config change or partial
	// fill must still dedupe against the original submission.
	a := testIntent()
	b := testIntent()
	b.Quantity = decimal.NewFromInt(4)
	require.Equal(t, IdempotencyKey(a), IdempotencyKey(b))
}

func TestIdempotencyKey_DiffersOnTrigger(t *testing.T) {
	a := testIntent()
	b := testIntent()
	b.Trigger = "basket:megatech"
	require.NotEqual(t, IdempotencyKey(a), IdempotencyKey(b))
}

func TestIdempotencyKey_DiffersOnDay(t *testing.T) {
	a := testIntent()
	b := testIntent()
	b.SignalAsOf = a.SignalAsOf.AddDate(0, 0, 1)
	require.NotEqual(t, IdempotencyKey(a), IdempotencyKey(b), "the same trigger recurring on a new day must not dedupe against yesterday's fill")
}

func TestIdempotencyKey_SameWithinDayDespiteIntradayTimestampDrift(t *testing.T) {
	a := testIntent()
	b := testIntent()
	b.SignalAsOf = a.SignalAsOf.Add(90 * time.Minute)
	require.Equal(t, IdempotencyKey(a), IdempotencyKey(b))
}
