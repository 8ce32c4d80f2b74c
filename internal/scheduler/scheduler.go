// Package scheduler drives the pipeline's cooperative cadence loops:
// quote ingestion, signal generation, risk checks, and the once-daily
// reset/report jobs, ported from the reference implementation's Celery
// beat schedule into plain time.Ticker-driven goroutines per
// spec.md's Design Notes preference for cooperative tasks over
// callback-driven event streams.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/alerts"
	"github.com/algostack/signalpipe/internal/audit"
	"github.com/algostack/signalpipe/internal/basket"
	"github.com/algostack/signalpipe/internal/bars"
	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/eod"
	"github.com/algostack/signalpipe/internal/ingest"
	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/observ"
	"github.com/algostack/signalpipe/internal/portfolio"
	"github.com/algostack/signalpipe/internal/regime"
	"github.com/algostack/signalpipe/internal/risk"
	"github.com/algostack/signalpipe/internal/suppress"
)

// Cadences is the set of tick intervals and daily-job times the
// scheduler runs at, ported from original_source's Celery beat_schedule
// (pipeline_e2e/generate_signals: 15s, update_quotes: 30s, scan_edgar:
// 60s, check_risk: 300s, daily_reset: 00:00 UTC, daily_report: 21:10
// UTC) into Go durations and UTC clock-times.
type Cadences struct {
	GenerateSignals time.Duration
	QuotesTierA     time.Duration
	QuotesTierB     time.Duration
	CheckRisk       time.Duration

	DailyResetHourUTC   int
	DailyResetMinuteUTC int

	DailyReportHourUTC   int
	DailyReportMinuteUTC int
}

// DefaultCadences matches the reference scheduler's beat_schedule
// verbatim.
func DefaultCadences() Cadences {
	return Cadences{
		GenerateSignals:      15 * time.Second,
		QuotesTierA:          30 * time.Second,
		QuotesTierB:          60 * time.Second,
		CheckRisk:            5 * time.Minute,
		DailyResetHourUTC:    0,
		DailyResetMinuteUTC:  0,
		DailyReportHourUTC:   21,
		DailyReportMinuteUTC: 10,
	}
}

// RiskLedger is the narrow seam the scheduler needs from *risk.Ledger,
// letting tests substitute an in-memory fake instead of a live Redis
// instance, the same seam pattern basket.Locker and dispatch.Broker use.
type RiskLedger interface {
	Reserve(ctx context.Context, fraction, maxConcurrentRisk float64) (float64, error)
	Release(ctx context.Context, fraction float64) error
}

// Notifier is the narrow seam the scheduler needs from *alerts.SlackClient.
// Optional: a nil Notifier means fires/suppressions/kill-switch trips and
// EOD summaries simply aren't pushed anywhere outside the audit journal.
type Notifier interface {
	SendAlert(req alerts.AlertRequest)
}

// Deps bundles every component the scheduler drives. MixerCooldown,
// DirectionLock and DailyCap are only needed when the chain includes
// the matching gate and its post-fire bookkeeping; Notifier,
// Feasibility, Portfolio, KillSwitch, Flattener and Reporter may also
// be nil, and the steps that use them are then skipped.
type Deps struct {
	Clock    clock.Clock
	Calendar *clock.SessionCalendar

	Ingestor *ingest.Ingestor
	Bars     *bars.Store

	Thresholds MixerThresholds

	Chain  *suppress.Chain
	Basket *basket.Aggregator

	Sizing            risk.SizingConfig
	Prices            risk.PriceLookup
	Ledger            RiskLedger
	KillSwitch        *risk.KillSwitch
	MaxConcurrentRisk float64
	// Leveraged marks the inverse/leveraged ETF symbols that get
	// SizingConfig.LeveragedShrinkFactor applied on top of the ordinary
	// risk/remaining-slots sizing, mirroring risk.FeasibilityGate.Leveraged.
	Leveraged map[string]bool

	// Feasibility is the same risk-feasibility gate wired into Chain,
	// held separately so basket-fired candidates — which bypass Chain
	// entirely, since they've already cleared per-candidate gates by
	// construction — still pass a kill-switch/sizing/risk-ledger check
	// before submit.
	Feasibility suppress.Gate

	Dispatcher *dispatch.Dispatcher
	Journal    *audit.Journal
	Portfolio  *portfolio.Manager
	Flattener  *eod.Flattener
	Reporter   *eod.Reporter

	MixerCooldown *suppress.MixerCooldownGate
	DirectionLock *suppress.DirectionLockGate
	DailyCap      *suppress.SessionDailyCapGate

	Notifier Notifier
}

// MixerThresholds is the buy/sell/EDGAR-bonus configuration Fuse needs,
// decoupled from internal/config the same way regime.Weights is.
type MixerThresholds struct {
	BuyThreshold  float64
	SellThreshold float64
	EdgarBonus    float64
}

// Scheduler runs the cooperative cadence loops until its context is
// canceled.
type Scheduler struct {
	deps     Deps
	cadences Cadences

	signalsRaw      int64
	signalsTradable int64
	ordersSubmitted int64
	ordersFilled    int64

	lastResetDay  string
	lastReportDay string
	lastRiskState risk.State
}

func New(deps Deps, cadences Cadences) *Scheduler {
	return &Scheduler{deps: deps, cadences: cadences, lastRiskState: risk.StateNormal}
}

// Run blocks, driving every cadence loop from a single goroutine so
// stages never race each other over shared state like the bar store or
// the suppression chain's cooldown bookkeeping.
func (s *Scheduler) Run(ctx context.Context) {
	signalsTicker := time.NewTicker(s.cadences.GenerateSignals)
	tierATicker := time.NewTicker(s.cadences.QuotesTierA)
	tierBTicker := time.NewTicker(s.cadences.QuotesTierB)
	riskTicker := time.NewTicker(s.cadences.CheckRisk)
	minuteTicker := time.NewTicker(time.Minute)
	defer signalsTicker.Stop()
	defer tierATicker.Stop()
	defer tierBTicker.Stop()
	defer riskTicker.Stop()
	defer minuteTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signalsTicker.C:
			s.tickGenerateSignals(ctx)
			s.tickFlatten(ctx)
			s.tickOpeningAuctionFlatten(ctx)
		case <-tierATicker.C:
			if err := s.deps.Ingestor.PollTierA(ctx); err != nil {
				observ.L.Warn().Err(err).Msg("tier a ingest failed")
			}
		case <-tierBTicker.C:
			if err := s.deps.Ingestor.PollTierB(ctx); err != nil {
				observ.L.Warn().Err(err).Msg("tier b ingest failed")
			}
			if err := s.deps.Ingestor.PollBench(ctx); err != nil {
				observ.L.Debug().Err(err).Msg("bench ingest skipped")
			}
		case <-riskTicker.C:
			s.tickCheckRisk()
		case <-minuteTicker.C:
			s.tickDailyJobs(ctx)
		}
	}
}

func (s *Scheduler) tickGenerateSignals(ctx context.Context) {
	for _, symbol := range s.deps.Bars.Symbols() {
		s.processSymbol(ctx, symbol)
	}

	fired, blocked, err := s.deps.Basket.Evaluate(ctx)
	if err != nil {
		observ.L.Warn().Err(err).Msg("basket evaluate failed")
		return
	}
	for _, b := range blocked {
		reason := suppress.Reason(b.Reason)
		rec := suppress.Record{
			Symbol: b.ETF, AsOf: s.deps.Clock.Now(),
			Candidate:  mixer.Candidate{Symbol: b.ETF, Direction: mixer.Buy, Trigger: "basket:" + b.Basket},
			Suppressed: true, Reason: reason, Detail: b.Detail,
		}
		observ.Suppressions.WithLabelValues(b.Reason).Inc()
		if err := s.deps.Journal.RecordSuppression(ctx, rec); err != nil {
			observ.L.Warn().Err(err).Msg("record basket suppression failed")
		}
	}
	for _, candidate := range fired {
		if s.deps.Feasibility != nil {
			blocked, reason, detail, err := s.deps.Feasibility.Evaluate(ctx, candidate)
			if err != nil {
				observ.L.Warn().Str("symbol", candidate.Symbol).Err(err).Msg("basket feasibility check failed")
				continue
			}
			if blocked {
				if reason == suppress.ReasonNone {
					reason = suppress.ReasonRiskFeasibility
				}
				observ.Suppressions.WithLabelValues(string(reason)).Inc()
				if err := s.deps.Journal.RecordSuppression(ctx, suppress.Record{
					Symbol: candidate.Symbol, AsOf: candidate.AsOf, Candidate: candidate,
					Suppressed: true, Reason: reason, Detail: detail,
				}); err != nil {
					observ.L.Warn().Err(err).Msg("record basket suppression failed")
				}
				continue
			}
		}
		s.submit(ctx, candidate)
	}
}

func (s *Scheduler) processSymbol(ctx context.Context, symbol string) {
	ind := s.deps.Bars.Compute(symbol)
	if !ind.Ready {
		return
	}
	window := s.deps.Bars.Window(symbol, 0)
	regimeResult := regime.Detect(symbol, ind, len(window))

	candidate := mixer.Fuse(mixer.Input{
		Symbol:        symbol,
		AsOf:          ind.AsOf,
		Regime:        regimeResult.Regime,
		RegimeConf:    regimeResult.Confidence,
		TechScore:     regimeResult.TechScore,
		HasSentiment:  false,
		EdgarBonus:    s.deps.Thresholds.EdgarBonus,
		BuyThreshold:  s.deps.Thresholds.BuyThreshold,
		SellThreshold: s.deps.Thresholds.SellThreshold,
	})
	atomic.AddInt64(&s.signalsRaw, 1)

	if candidate.Direction == mixer.Hold {
		return
	}
	if candidate.Trigger == "" {
		candidate.Trigger = "mixer"
	}

	rec, err := s.deps.Chain.Run(ctx, candidate)
	if err != nil {
		observ.L.Warn().Str("symbol", symbol).Err(err).Msg("suppression chain error")
		return
	}
	if rec.Suppressed {
		if err := s.deps.Journal.RecordSuppression(ctx, rec); err != nil {
			observ.L.Warn().Err(err).Msg("record suppression failed")
		}
		if s.deps.Notifier != nil {
			s.deps.Notifier.SendAlert(alerts.AlertRequest{
				Kind:         alerts.EventReject,
				Symbol:       symbol,
				Score:        candidate.Score,
				GatesBlocked: []string{string(rec.Reason)},
				Timestamp:    s.deps.Clock.Now(),
			})
		}
		return
	}

	atomic.AddInt64(&s.signalsTradable, 1)

	// Individual-ticker short candidates never submit as direct shorts —
	// they feed the basket aggregator only once they've cleared
	// suppression, and only trade as an inverse-ETF entry if the basket
	// itself fires.
	if candidate.Direction == mixer.Sell {
		s.deps.Basket.Observe(candidate)

		rec.Suppressed = true
		rec.Reason = suppress.ReasonBasketConditions
		rec.Detail = "individual short candidates route through basket aggregation only"
		observ.Suppressions.WithLabelValues(string(rec.Reason)).Inc()
		if err := s.deps.Journal.RecordSuppression(ctx, rec); err != nil {
			observ.L.Warn().Err(err).Msg("record suppression failed")
		}
		return
	}

	s.submit(ctx, candidate)
}

// submit sizes and dispatches a candidate that has already cleared the
// suppression chain, reserving its risk-ledger fraction for the life of
// the position (released by the EOD Flattener when the position
// closes).
func (s *Scheduler) submit(ctx context.Context, candidate mixer.Candidate) {
	price, ok := s.deps.Prices.EntryPrice(candidate.Symbol)
	if !ok {
		return
	}
	stopDistance, ok := s.deps.Prices.StopDistance(candidate.Symbol)
	if !ok {
		return
	}
	openPositions := 0
	if s.deps.Portfolio != nil {
		openPositions = s.deps.Portfolio.GetOpenPositionsCount()
	}
	sized := risk.PositionSize(s.deps.Sizing, price, stopDistance, decimal.NewFromFloat(candidate.Confidence), openPositions, s.deps.Leveraged[candidate.Symbol])
	if sized.Quantity.IsZero() {
		return
	}

	// Matches the fraction risk.FeasibilityGate reserved (and released)
	// during its own feasibility check, reserved here for real since
	// this is the actual commit.
	fraction := s.deps.Sizing.RiskPerTrade.InexactFloat64() * candidate.Confidence
	if _, err := s.deps.Ledger.Reserve(ctx, fraction, s.deps.MaxConcurrentRisk); err != nil {
		observ.L.Debug().Str("symbol", candidate.Symbol).Err(err).Msg("risk reservation refused at submit")
		return
	}

	side := dispatch.SideBuy
	if candidate.Direction == mixer.Sell {
		side = dispatch.SideSell
	}
	intent := dispatch.Intent{
		Symbol:     candidate.Symbol,
		Side:       side,
		Quantity:   sized.Quantity,
		Trigger:    candidate.Trigger,
		SignalAsOf: candidate.AsOf,
	}

	if err := s.deps.Journal.RecordOrder(ctx, intent); err != nil {
		observ.L.Warn().Err(err).Msg("record order failed")
	}

	fill, err := s.deps.Dispatcher.Submit(ctx, intent)
	if err != nil {
		observ.L.Warn().Str("symbol", candidate.Symbol).Err(err).Msg("dispatch failed")
		_ = s.deps.Ledger.Release(ctx, fraction)
		return
	}
	if fill == nil {
		// Already-submitted duplicate, or auto mode off so nothing reached
		// the broker; nothing else to record.
		_ = s.deps.Ledger.Release(ctx, fraction)
		return
	}

	atomic.AddInt64(&s.ordersSubmitted, 1)
	atomic.AddInt64(&s.ordersFilled, 1)
	if err := s.deps.Journal.RecordFill(ctx, *fill); err != nil {
		observ.L.Warn().Err(err).Msg("record fill failed")
	}

	if s.deps.Portfolio != nil {
		signedQty, _ := fill.Quantity.Float64()
		if side == dispatch.SideSell {
			signedQty = -signedQty
		}
		price, _ := fill.Price.Float64()
		if err := s.deps.Portfolio.UpdatePosition(candidate.Symbol, int(signedQty), price, fill.Timestamp); err != nil {
			observ.L.Warn().Str("symbol", candidate.Symbol).Err(err).Msg("update portfolio position failed")
		}
	}

	if s.deps.Notifier != nil {
		kind := alerts.EventBuy
		if side == dispatch.SideSell {
			kind = alerts.EventSell
		}
		s.deps.Notifier.SendAlert(alerts.AlertRequest{
			Kind:      kind,
			Symbol:    candidate.Symbol,
			Score:     candidate.Score,
			Timestamp: s.deps.Clock.Now(),
		})
	}

	if s.deps.MixerCooldown != nil {
		_ = s.deps.MixerCooldown.RecordFire(ctx, candidate)
	}
	if s.deps.DirectionLock != nil {
		_ = s.deps.DirectionLock.RecordDirection(ctx, candidate)
	}
	if s.deps.DailyCap != nil {
		_ = s.deps.DailyCap.RecordTrade(ctx, candidate)
	}
}

func (s *Scheduler) tickFlatten(ctx context.Context) {
	if s.deps.Flattener == nil || !s.deps.Flattener.InWindow() {
		return
	}
	fills, err := s.deps.Flattener.FlattenOnce(ctx)
	if err != nil {
		observ.L.Warn().Err(err).Msg("eod flatten failed")
		return
	}
	if len(fills) > 0 {
		observ.L.Info().Int("positions_flattened", len(fills)).Msg("eod flatten complete")
	}
}

// tickOpeningAuctionFlatten sweeps any position still open once the
// opening-auction window fires, catching an overnight position that
// the close-window flatten missed or a fill that landed after it ran.
func (s *Scheduler) tickOpeningAuctionFlatten(ctx context.Context) {
	if s.deps.Flattener == nil || !s.deps.Calendar.IsWithinOpeningAuctionWindow() {
		return
	}
	fills, err := s.deps.Flattener.FlattenResidualPositions(ctx)
	if err != nil {
		observ.L.Warn().Err(err).Msg("opening auction flatten failed")
		return
	}
	if len(fills) > 0 {
		observ.L.Info().Int("positions_flattened", len(fills)).Msg("opening auction flatten complete")
	}
}

func (s *Scheduler) tickCheckRisk() {
	if s.deps.Portfolio == nil || s.deps.KillSwitch == nil {
		return
	}
	equity := s.deps.Portfolio.GetNAV()
	state, multiplier := s.deps.KillSwitch.Update(equity)
	observ.L.Info().Str("state", string(state)).Float64("size_multiplier", multiplier).Float64("equity", equity).Msg("risk check")

	if state != s.lastRiskState {
		if s.deps.Notifier != nil {
			s.deps.Notifier.SendAlert(alerts.AlertRequest{
				Kind:      alerts.EventKillSwitch,
				Detail:    fmt.Sprintf("risk state %s -> %s at equity $%.2f (size multiplier %.2f)", s.lastRiskState, state, equity, multiplier),
				Timestamp: s.deps.Clock.Now(),
			})
		}
		s.lastRiskState = state
	}
}

func (s *Scheduler) tickDailyJobs(ctx context.Context) {
	now := s.deps.Clock.Now().UTC()
	dayKey := clock.DayKey(now)

	if now.Hour() == s.cadences.DailyResetHourUTC && now.Minute() == s.cadences.DailyResetMinuteUTC && s.lastResetDay != dayKey {
		s.lastResetDay = dayKey
		if s.deps.KillSwitch != nil && s.deps.Portfolio != nil {
			s.deps.KillSwitch.Reset(dayKey, s.deps.Portfolio.GetNAV())
		}
		observ.L.Info().Str("day", dayKey).Msg("daily reset")
	}

	if now.Hour() == s.cadences.DailyReportHourUTC && now.Minute() == s.cadences.DailyReportMinuteUTC && s.lastReportDay != dayKey {
		s.lastReportDay = dayKey
		s.runDailyReport(ctx)
	}
}

func (s *Scheduler) runDailyReport(ctx context.Context) {
	if s.deps.Reporter == nil {
		return
	}
	summary := s.deps.Reporter.Build(
		atomic.LoadInt64(&s.signalsRaw),
		atomic.LoadInt64(&s.signalsTradable),
		atomic.LoadInt64(&s.ordersSubmitted),
		atomic.LoadInt64(&s.ordersFilled),
	)
	path, err := s.deps.Reporter.Write(ctx, summary)
	if err != nil {
		observ.L.Warn().Err(err).Msg("eod report write failed")
		return
	}
	observ.L.Info().Str("path", path).Msg("eod report written")

	if s.deps.Notifier != nil {
		s.deps.Notifier.SendAlert(alerts.AlertRequest{
			Kind: alerts.EventEODSummary,
			Detail: fmt.Sprintf("signals %d/%d tradable, orders %d/%d filled, equity $%.2f, %d open positions, unrealized $%.2f",
				summary.SignalsTradable, summary.SignalsRaw, summary.OrdersFilled, summary.OrdersSubmitted,
				summary.Equity, summary.PositionsCount, summary.TotalUnrealizedPnL),
			Timestamp: s.deps.Clock.Now(),
		})
	}

	atomic.StoreInt64(&s.signalsRaw, 0)
	atomic.StoreInt64(&s.signalsTradable, 0)
	atomic.StoreInt64(&s.ordersSubmitted, 0)
	atomic.StoreInt64(&s.ordersFilled, 0)
}
