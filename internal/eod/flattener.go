// Package eod handles end-of-day position flattening and the daily
// summary report, run once per session close.
package eod

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/portfolio"
	"github.com/algostack/signalpipe/internal/risk"
)

// Flattener closes every open position once the session enters its
// close-minus-N-minutes flatten window, and separately sweeps any
// position still open during the opening-auction cleanup window,
// mirroring the reference system's pre-close risk discipline of not
// carrying overnight exposure through the print.
type Flattener struct {
	Clock               clock.Clock
	Calendar            *clock.SessionCalendar
	Portfolio           *portfolio.Manager
	Dispatcher          *dispatch.Dispatcher
	FlattenMinutesBeforeClose int

	// Ledger and EquityUSD are optional. When set, flattening a position
	// releases the risk-ledger fraction the scheduler reserved when it
	// opened that position, approximated from the closing notional over
	// configured equity since the ledger tracks fractions, not per-symbol
	// reservations.
	Ledger    *risk.Ledger
	EquityUSD float64

	flattenedToday      map[string]bool
	lastDayKey          string
	lastOpeningFlushDay string
}

func NewFlattener(c clock.Clock, cal *clock.SessionCalendar, pm *portfolio.Manager, d *dispatch.Dispatcher, flattenMinutesBeforeClose int) *Flattener {
	return &Flattener{
		Clock: c, Calendar: cal, Portfolio: pm, Dispatcher: d,
		FlattenMinutesBeforeClose: flattenMinutesBeforeClose,
		flattenedToday:            map[string]bool{},
	}
}

// InWindow reports whether the current time is inside the flatten
// window: within FlattenMinutesBeforeClose of the regular session's
// close.
func (f *Flattener) InWindow() bool {
	if !f.Calendar.IsRTH() {
		return false
	}
	return f.Calendar.MinutesToClose() <= f.FlattenMinutesBeforeClose
}

// FlattenOnce closes every open position exactly once per session day,
// idempotent against repeated calls within the same flatten window —
// a scheduler tick firing every few seconds during the window must not
// resubmit a flatten order it already placed.
func (f *Flattener) FlattenOnce(ctx context.Context) ([]*dispatch.Fill, error) {
	now := f.Clock.Now()
	dayKey := clock.DayKey(now)
	if dayKey != f.lastDayKey {
		f.flattenedToday = map[string]bool{}
		f.lastDayKey = dayKey
	}

	var fills []*dispatch.Fill
	for symbol, pos := range f.Portfolio.GetAllPositions() {
		if pos.Qty == 0 || f.flattenedToday[symbol] {
			continue
		}
		side := dispatch.SideSell
		qty := pos.Qty
		if qty < 0 {
			side = dispatch.SideBuy
			qty = -qty
		}

		fill, err := f.Dispatcher.Submit(ctx, dispatch.Intent{
			Symbol:     symbol,
			Side:       side,
			Quantity:   decimal.NewFromInt(int64(qty)),
			Trigger:    "eod_flatten",
			SignalAsOf: now,
		})
		if err != nil {
			return fills, fmt.Errorf("eod: flatten %s: %w", symbol, err)
		}
		f.flattenedToday[symbol] = true
		if fill != nil {
			fills = append(fills, fill)
			if f.Ledger != nil && f.EquityUSD > 0 {
				notional, _ := fill.Quantity.Mul(fill.Price).Float64()
				if err := f.Ledger.Release(ctx, notional/f.EquityUSD); err != nil {
					return fills, fmt.Errorf("eod: release ledger for %s: %w", symbol, err)
				}
			}
		}
	}
	return fills, nil
}

// FlattenResidualPositions closes any position still open when the
// opening-auction window fires, tracked with its own per-day marker
// separate from FlattenOnce's since the two windows land on opposite
// ends of the same trading day: this one guards against a fill that
// landed after yesterday's close-window flatten ran, or an overnight
// position that slipped through it entirely.
func (f *Flattener) FlattenResidualPositions(ctx context.Context) ([]*dispatch.Fill, error) {
	now := f.Clock.Now()
	dayKey := clock.DayKey(now)
	if dayKey == f.lastOpeningFlushDay {
		return nil, nil
	}
	f.lastOpeningFlushDay = dayKey

	var fills []*dispatch.Fill
	for symbol, pos := range f.Portfolio.GetAllPositions() {
		if pos.Qty == 0 {
			continue
		}
		side := dispatch.SideSell
		qty := pos.Qty
		if qty < 0 {
			side = dispatch.SideBuy
			qty = -qty
		}

		fill, err := f.Dispatcher.Submit(ctx, dispatch.Intent{
			Symbol:     symbol,
			Side:       side,
			Quantity:   decimal.NewFromInt(int64(qty)),
			Trigger:    "opening_auction_flatten",
			SignalAsOf: now,
		})
		if err != nil {
			return fills, fmt.Errorf("eod: flatten residual %s: %w", symbol, err)
		}
		if fill != nil {
			fills = append(fills, fill)
			if f.Ledger != nil && f.EquityUSD > 0 {
				notional, _ := fill.Quantity.Mul(fill.Price).Float64()
				if err := f.Ledger.Release(ctx, notional/f.EquityUSD); err != nil {
					return fills, fmt.Errorf("eod: release ledger for %s: %w", symbol, err)
				}
			}
		}
	}
	return fills, nil
}
