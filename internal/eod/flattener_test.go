package eod

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/portfolio"
)

type fakeBroker struct {
	calls int
}

func (b *fakeBroker) SubmitMarketOrder(ctx context.Context, clientOrderID, symbol string, side dispatch.Side, quantity decimal.Decimal) (dispatch.Fill, error) {
	b.calls++
	return dispatch.Fill{OrderID: clientOrderID, Symbol: symbol, Quantity: quantity, Side: side, Timestamp: time.Now()}, nil
}

type fakeDedupe struct {
	seen map[string]bool
}

func newFakeDedupe() *fakeDedupe { return &fakeDedupe{seen: map[string]bool{}} }

func (d *fakeDedupe) Seen(ctx context.Context, key string) (bool, error) { return d.seen[key], nil }
func (d *fakeDedupe) Record(ctx context.Context, key string) error {
	d.seen[key] = true
	return nil
}

func TestFlattener_InWindowWithinFlattenMinutes(t *testing.T) {
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 19, 55, 0, 0, time.UTC)} // 19:55 UTC == 15:55 ET, 5 minutes before the close
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, nil, nil, 10)
	require.True(t, f.InWindow())
}

func TestFlattener_FlattenOnceClosesAllOpenPositions(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))
	require.NoError(t, pm.UpdatePosition("TSLA", -3, 250, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	fills, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 2)
	require.Equal(t, 2, broker.calls)
}

func TestFlattener_SecondCallSameDayIsNoOp(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	_, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)

	fills, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, fills)
	require.Equal(t, 1, broker.calls)
}

func TestFlattener_FlattenResidualPositionsClosesOvernightPositions(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 13, 30, 0, 0, time.UTC)} // 09:30 ET
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	fills, err := f.FlattenResidualPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, 1, broker.calls)
}

func TestFlattener_FlattenResidualPositionsSecondCallSameDayIsNoOp(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 13, 30, 0, 0, time.UTC)}
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	_, err := f.FlattenResidualPositions(context.Background())
	require.NoError(t, err)

	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))
	fills, err := f.FlattenResidualPositions(context.Background())
	require.NoError(t, err)
	require.Empty(t, fills, "the opening-auction sweep runs at most once per day")
	require.Equal(t, 1, broker.calls)
}

func TestFlattener_FlattenOnceAndFlattenResidualTrackSeparateDayMarkers(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	_, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))
	fills, err := f.FlattenResidualPositions(context.Background())
	require.NoError(t, err, "the close-window flatten having already run today must not block the opening-auction sweep")
	require.Len(t, fills, 1)
}

func TestFlattener_ResetsFlattenedSetOnNewDay(t *testing.T) {
	pm := portfolio.NewManager(t.TempDir()+"/state.json", 2000)
	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))

	broker := &fakeBroker{}
	dedupe := newFakeDedupe()
	oc := &clock.OffsetClock{Base: time.Date(2026, 8, 6, 14, 0, 0, 0, time.UTC)}
	d := dispatch.NewDispatcher(broker, dedupe, oc, dispatch.RetryConfig{MaxRetries: 1, BackoffBaseMs: 1})
	d.AutoMode = true
	cal := clock.NewSessionCalendar(oc, nil, nil)
	f := NewFlattener(oc, cal, pm, d, 10)

	_, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, pm.UpdatePosition("AAPL", 5, 150, time.Now()))
	oc.Advance(24 * time.Hour)

	fills, err := f.FlattenOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 1, "a new trading day should allow flattening again")
}
