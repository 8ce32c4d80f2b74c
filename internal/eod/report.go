package eod

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/portfolio"
)

// Summary is the daily report written alongside the journal, ported
// from the reference EOD reporter's window/counts/portfolio shape.
type Summary struct {
	WindowStartET      time.Time          `json:"window_start_et"`
	WindowEndET        time.Time          `json:"window_end_et"`
	GeneratedAt        time.Time          `json:"generated_at"`
	SignalsRaw         int64              `json:"signals_raw"`
	SignalsTradable    int64              `json:"signals_tradable"`
	OrdersSubmitted    int64              `json:"orders_submitted"`
	OrdersFilled       int64              `json:"orders_filled"`
	Equity             float64            `json:"equity"`
	PositionsCount     int                `json:"positions_count"`
	TotalUnrealizedPnL float64            `json:"total_unrealized_pnl"`
	Positions          map[string]float64 `json:"positions"` // symbol -> notional
}

// Reporter builds and persists the daily summary to both a local JSON
// file and Redis, matching the reference reporter's dual-write (so an
// external dashboard can read the latest summary from Redis without
// filesystem access to the pipeline host).
type Reporter struct {
	clock     clock.Clock
	calendar  *clock.SessionCalendar
	portfolio *portfolio.Manager
	rdb       *redis.Client
	outDir    string
}

func NewReporter(c clock.Clock, cal *clock.SessionCalendar, pm *portfolio.Manager, rdb *redis.Client, outDir string) *Reporter {
	return &Reporter{clock: c, calendar: cal, portfolio: pm, rdb: rdb, outDir: outDir}
}

// Build assembles the summary for the 24 hours ending at the clock's
// current instant; the window is not aligned to the regular-session
// close.
func (r *Reporter) Build(signalsRaw, signalsTradable, ordersSubmitted, ordersFilled int64) Summary {
	now := r.clock.Now()
	windowEnd := now
	windowStart := windowEnd.Add(-24 * time.Hour)

	positions := map[string]float64{}
	var totalUnrealized float64
	for symbol, pos := range r.portfolio.GetAllPositions() {
		positions[symbol] = pos.NotionalUSD
		totalUnrealized += pos.UnrealizedPnL
	}

	return Summary{
		WindowStartET:      windowStart,
		WindowEndET:        windowEnd,
		GeneratedAt:        now,
		SignalsRaw:         signalsRaw,
		SignalsTradable:    signalsTradable,
		OrdersSubmitted:    ordersSubmitted,
		OrdersFilled:       ordersFilled,
		Equity:             r.portfolio.GetNAV(),
		PositionsCount:     len(positions),
		TotalUnrealizedPnL: totalUnrealized,
		Positions:          positions,
	}
}

// Write persists the summary to <outDir>/<YYYYMMDD>.json and, if a
// Redis client is configured, to reports:eod:<YYYYMMDD> plus
// reports:eod:last.
func (r *Reporter) Write(ctx context.Context, summary Summary) (string, error) {
	ymd := clock.DayKey(summary.WindowEndET)
	ymdCompact := ymd[:4] + ymd[5:7] + ymd[8:10]

	if err := os.MkdirAll(r.outDir, 0755); err != nil {
		return "", fmt.Errorf("eod: create report dir: %w", err)
	}
	path := filepath.Join(r.outDir, ymdCompact+".json")

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("eod: marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("eod: write summary file: %w", err)
	}

	if r.rdb != nil {
		if err := r.rdb.Set(ctx, "reports:eod:"+ymdCompact, data, 0).Err(); err != nil {
			return path, fmt.Errorf("eod: write summary to redis: %w", err)
		}
		if err := r.rdb.Set(ctx, "reports:eod:last", ymdCompact, 0).Err(); err != nil {
			return path, fmt.Errorf("eod: write last-report pointer: %w", err)
		}
	}
	return path, nil
}
