// Package portfolio owns the open-Position book: spec.md's Position
// entity (ticker, qty, avg_price, stop, target, opened_at), persisted
// to disk with atomic temp-file-then-rename writes so a crash mid-save
// never leaves a half-written state file behind.
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// defaultStopFraction and defaultTargetFraction bracket a position at
// open the same fixed-percentage way internal/risk.StopLossPct brackets
// a signal's stop distance, kept as an independent constant here since
// the portfolio book records the bracket a position opened with, not
// the one a future signal would size against.
const (
	defaultStopFraction   = 0.015
	defaultTargetFraction = 0.045
)

// Position is one open (or just-closed) holding, keyed by ticker in
// State.Positions. Qty is signed: positive for a long, negative for a
// short. Stop and Target sit on the correct side of AvgPrice for the
// position's direction and are fixed when the position opens.
type Position struct {
	Ticker   string    `json:"ticker"`
	Qty      int       `json:"qty"`
	AvgPrice float64   `json:"avg_price"`
	Stop     float64   `json:"stop"`
	Target   float64   `json:"target"`
	OpenedAt time.Time `json:"opened_at"`

	EntryVWAP        float64   `json:"entry_vwap"` // volume-weighted entry, tracked apart from avg_price for stop checks
	NotionalUSD      float64   `json:"notional_usd"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnLToday float64   `json:"realized_pnl_today"`
	LastFillAt       time.Time `json:"last_fill_at"`
	TradeCountToday  int       `json:"trade_count_today"`
}

// DailyStats tracks daily portfolio statistics.
type DailyStats struct {
	Date               string  `json:"date"`
	TotalExposureUSD   float64 `json:"total_exposure_usd"`
	ExposurePctCapital float64 `json:"exposure_pct_capital"`
	NewExposureToday   float64 `json:"new_exposure_today"`
	TradesToday        int     `json:"trades_today"`
	PnLToday           float64 `json:"pnl_today"`
}

// State is the full persisted portfolio book.
type State struct {
	Version     int64               `json:"version"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Positions   map[string]Position `json:"positions"`
	DailyStats  DailyStats          `json:"daily_stats"`
	CapitalBase float64             `json:"capital_base"`
}

// Manager guards the portfolio book behind a mutex and persists every
// mutation to filePath.
type Manager struct {
	filePath string
	state    State
	mu       sync.RWMutex
}

func NewManager(filePath string, capitalBase float64) *Manager {
	return &Manager{
		filePath: filePath,
		state: State{
			Positions:   make(map[string]Position),
			CapitalBase: capitalBase,
			DailyStats: DailyStats{
				Date: time.Now().UTC().Format("2006-01-02"),
			},
		},
	}
}

// Load reads the portfolio book from disk, initializing a fresh one if
// the file doesn't exist yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state.UpdatedAt = time.Now().UTC()
			return m.saveUnsafe()
		}
		return fmt.Errorf("portfolio: read state: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("portfolio: unmarshal state: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	if m.state.DailyStats.Date != today {
		m.resetDailyStats(today)
	}
	return nil
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnsafe()
}

func (m *Manager) saveUnsafe() error {
	m.state.Version++
	m.state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: marshal state: %w", err)
	}

	tempPath := m.filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("portfolio: write temp state: %w", err)
	}
	if err := os.Rename(tempPath, m.filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("portfolio: rename state: %w", err)
	}
	return nil
}

func (m *Manager) GetPosition(ticker string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.state.Positions[ticker]
	return pos, ok
}

func (m *Manager) GetAllPositions() map[string]Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make(map[string]Position, len(m.state.Positions))
	for ticker, pos := range m.state.Positions {
		positions[ticker] = pos
	}
	return positions
}

func (m *Manager) GetDailyStats() DailyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.DailyStats
}

// UpdatePosition applies a fill's signed quantity to the book, opening,
// adding to, reducing, or closing/reversing the ticker's position and
// realizing PnL on the closed portion, then persists the result.
func (m *Manager) UpdatePosition(ticker string, qty int, price float64, timestamp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := timestamp.Format("2006-01-02")
	if m.state.DailyStats.Date != today {
		m.resetDailyStats(today)
	}

	pos := m.state.Positions[ticker]
	pos.Ticker = ticker

	switch {
	case pos.Qty == 0:
		pos.Qty = qty
		pos.AvgPrice = price
		pos.EntryVWAP = price
		pos.OpenedAt = timestamp
		pos.Stop, pos.Target = bracket(qty, price)
		pos.NotionalUSD = float64(qty) * price

	case sameSign(pos.Qty, qty):
		totalCost := pos.AvgPrice*float64(pos.Qty) + price*float64(qty)
		totalQty := pos.Qty + qty
		pos.EntryVWAP = totalCost / float64(totalQty)
		pos.Qty = totalQty
		pos.AvgPrice = totalCost / float64(pos.Qty)
		pos.NotionalUSD = float64(pos.Qty) * pos.AvgPrice

	default:
		if absInt(qty) >= absInt(pos.Qty) {
			realized := float64(pos.Qty) * (price - pos.AvgPrice)
			pos.RealizedPnLToday += realized
			m.state.DailyStats.PnLToday += realized

			pos.Qty += qty
			if pos.Qty != 0 {
				pos.AvgPrice = price
				pos.EntryVWAP = price
				pos.OpenedAt = timestamp
				pos.Stop, pos.Target = bracket(pos.Qty, price)
				pos.NotionalUSD = float64(pos.Qty) * price
			} else {
				pos.NotionalUSD = 0
				pos.Stop, pos.Target = 0, 0
			}
		} else {
			realized := float64(-qty) * (price - pos.AvgPrice)
			pos.RealizedPnLToday += realized
			m.state.DailyStats.PnLToday += realized
			pos.Qty += qty
			pos.NotionalUSD = float64(pos.Qty) * pos.AvgPrice
		}
	}

	pos.LastFillAt = timestamp
	pos.TradeCountToday++
	m.state.Positions[ticker] = pos

	m.state.DailyStats.TradesToday++
	m.recalculateExposureUnsafe()

	return m.saveUnsafe()
}

// bracket returns the stop and target for a position opened at price
// with the given signed quantity, placed on the correct side for a
// long (qty > 0) or short (qty < 0).
func bracket(qty int, price float64) (stop, target float64) {
	if qty > 0 {
		return price * (1 - defaultStopFraction), price * (1 + defaultTargetFraction)
	}
	return price * (1 + defaultStopFraction), price * (1 - defaultTargetFraction)
}

func (m *Manager) UpdateUnrealizedPnL(ticker string, currentPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.state.Positions[ticker]
	if !exists || pos.Qty == 0 {
		return nil
	}

	pos.UnrealizedPnL = float64(pos.Qty) * (currentPrice - pos.AvgPrice)
	pos.NotionalUSD = float64(pos.Qty) * currentPrice
	m.state.Positions[ticker] = pos

	return m.saveUnsafe()
}

// CanTrade reports whether ticker has cleared its post-fill cooldown.
func (m *Manager) CanTrade(ticker string, cooldownMinutes int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, exists := m.state.Positions[ticker]
	if !exists || pos.LastFillAt.IsZero() {
		return true
	}
	return time.Since(pos.LastFillAt) >= time.Duration(cooldownMinutes)*time.Minute
}

func (m *Manager) GetExposureUSD() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.DailyStats.TotalExposureUSD
}

func (m *Manager) GetExposurePercent() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.DailyStats.ExposurePctCapital
}

func (m *Manager) GetTradeCount(ticker string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Positions[ticker].TradeCountToday
}

func (m *Manager) resetDailyStats(date string) {
	for ticker, pos := range m.state.Positions {
		pos.TradeCountToday = 0
		pos.RealizedPnLToday = 0
		m.state.Positions[ticker] = pos
	}
	m.state.DailyStats = DailyStats{
		Date:               date,
		TotalExposureUSD:   m.state.DailyStats.TotalExposureUSD,
		ExposurePctCapital: m.state.DailyStats.ExposurePctCapital,
	}
}

func (m *Manager) recalculateExposureUnsafe() {
	var total float64
	for _, pos := range m.state.Positions {
		total += abs(pos.NotionalUSD)
	}
	m.state.DailyStats.TotalExposureUSD = total
	if m.state.CapitalBase > 0 {
		m.state.DailyStats.ExposurePctCapital = (total / m.state.CapitalBase) * 100
	}
}

// GetNAV returns capital base plus today's realized PnL plus every
// open position's unrealized PnL.
func (m *Manager) GetNAV() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nav := m.state.CapitalBase + m.state.DailyStats.PnLToday
	for _, pos := range m.state.Positions {
		nav += pos.UnrealizedPnL
	}
	return nav
}

// HasLongPosition reports whether ticker currently carries a positive
// (long) quantity, the internal/basket conflicting-position check's
// input.
func (m *Manager) HasLongPosition(ticker string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.state.Positions[ticker]
	return ok && pos.Qty > 0
}

// GetOpenPositionsCount returns the number of tickers currently
// carrying a nonzero position: the current_open_positions input to
// internal/risk's remaining-slots sizing cap.
func (m *Manager) GetOpenPositionsCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, pos := range m.state.Positions {
		if pos.Qty != 0 {
			n++
		}
	}
	return n
}

func (m *Manager) GetPositionNotionals() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	notionals := make(map[string]float64, len(m.state.Positions))
	for ticker, pos := range m.state.Positions {
		notionals[ticker] = pos.NotionalUSD
	}
	return notionals
}

func (m *Manager) GetEntryVWAP(ticker string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, exists := m.state.Positions[ticker]
	if !exists || pos.Qty == 0 {
		return 0, false
	}
	return pos.EntryVWAP, true
}

func sameSign(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
