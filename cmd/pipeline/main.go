// Command pipeline is the production composition root: it loads
// configuration, wires every component the cadence scheduler drives,
// and runs until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/algostack/signalpipe/internal/adapters"
	"github.com/algostack/signalpipe/internal/alerts"
	"github.com/algostack/signalpipe/internal/audit"
	"github.com/algostack/signalpipe/internal/bars"
	"github.com/algostack/signalpipe/internal/basket"
	"github.com/algostack/signalpipe/internal/clock"
	"github.com/algostack/signalpipe/internal/config"
	"github.com/algostack/signalpipe/internal/counters"
	"github.com/algostack/signalpipe/internal/dispatch"
	"github.com/algostack/signalpipe/internal/eod"
	"github.com/algostack/signalpipe/internal/ingest"
	"github.com/algostack/signalpipe/internal/llm"
	"github.com/algostack/signalpipe/internal/locks"
	"github.com/algostack/signalpipe/internal/observ"
	"github.com/algostack/signalpipe/internal/portfolio"
	"github.com/algostack/signalpipe/internal/ratelimit"
	"github.com/algostack/signalpipe/internal/regime"
	"github.com/algostack/signalpipe/internal/risk"
	"github.com/algostack/signalpipe/internal/scheduler"
	"github.com/algostack/signalpipe/internal/suppress"
)

func main() {
	var cfgPath string
	var jsonLogs bool
	var metricsAddr string
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console output")
	flag.StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address")
	flag.Parse()

	if jsonLogs {
		observ.SetJSONOutput()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("pipeline: load config: %v", err)
	}

	regime.SetWeights(regimeWeightOverrides(cfg.RegimeWeights))

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	sysClock := clock.SystemClock{}
	calendar := clock.NewSessionCalendar(sysClock, holidaySet(cfg.Holidays), nil)

	quotes, err := buildQuotesAdapter(cfg)
	if err != nil {
		log.Fatalf("pipeline: build quotes adapter: %v", err)
	}
	defer quotes.Close()

	store := bars.NewStore()
	limiter := ratelimit.New(rdb, sysClock, ratelimit.Allocations{
		TierA: cfg.RateLimits.TierAAllocation, TierB: cfg.RateLimits.TierBAllocation, Reserve: cfg.RateLimits.ReserveAlloc,
	})
	ingestor := ingest.New(quotes, limiter, store, ingest.Tiers{
		TierA: cfg.Tiers.TierA, TierB: cfg.Tiers.TierB, Bench: cfg.Tiers.Bench,
	})

	prices := risk.NewBarsPriceLookup(store)
	sizing := risk.SizingConfig{
		EquityUSD:           decimal.NewFromFloat(cfg.Sizing.EquityUSD),
		RiskPerTrade:        decimal.NewFromFloat(cfg.Sizing.RiskPerTrade),
		MaxNotionalPerTrade: decimal.NewFromFloat(cfg.Sizing.MaxNotionalPerTrade),
		MaxPricePerShare:    decimal.NewFromFloat(cfg.Sizing.MaxPricePerShare),
		MaxEquityFraction:   decimal.NewFromFloat(cfg.Sizing.MaxEquityFraction),
		MinSlots:            cfg.Sizing.MinSlots,
		LeveragedShrinkFactor: decimal.NewFromFloat(cfg.Sizing.LeveragedShrinkFactor),
		FractionalEnabled:   cfg.Sizing.FractionalEnabled,
	}
	ledger := risk.NewLedger(rdb)
	killSwitch := risk.NewKillSwitch(sysClock, risk.Thresholds{
		WarningLossFraction:   0.02,
		ReducedLossFraction:   0.035,
		HaltLossFraction:      0.05,
		ReducedSizeMultiplier: 0.5,
		CoolingOffDuration:    time.Hour,
	})
	killSwitch.Reset(clock.DayKey(sysClock.Now()), cfg.Sizing.EquityUSD)

	locksMgr := locks.New(rdb)
	countersMgr := counters.New(rdb)

	llmGate := llm.NewGate(llm.Config{
		Enabled:           cfg.LLM.Enabled,
		DailyCallLimit:    int64(cfg.LLM.DailyCallLimit),
		MonthlyCostCapKRW: int64(cfg.LLM.MonthlyCostCapKRW),
		CallCostKRW:       int64(cfg.LLM.CallCostKRW),
		MinSignalScore:    cfg.LLM.MinSignalScore,
		RequiredEvents:    toSet(cfg.LLM.RequiredEvents),
		CacheDuration:     time.Duration(cfg.LLM.CacheDurationMin) * time.Minute,
		ProviderURL:       cfg.LLM.ProviderURL,
		Timeout:           time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
	}, sysClock, rdb, countersMgr)

	isInverseETF := setMembership(cfg.Basket.InverseETFs)
	isLeveraged := toSet(cfg.Basket.LeveragedETFs)

	portfolioMgr := portfolio.NewManager("data/portfolio_state.json", cfg.Sizing.EquityUSD)
	if err := portfolioMgr.Load(); err != nil {
		log.Fatalf("pipeline: load portfolio state: %v", err)
	}

	feasibility := &risk.FeasibilityGate{
		Prices: prices, Positions: portfolioMgr, Sizing: sizing, Ledger: ledger, KillSwitch: killSwitch,
		Leveraged:         isLeveraged,
		MaxConcurrentRisk: cfg.Sizing.MaxConcurrentRisk,
		MaxPositions:      cfg.Sizing.MaxPositions,
	}
	chain := suppress.NewChain(
		&suppress.BelowCutoffGate{
			Calendar:  calendar,
			CutoffRTH: cfg.Thresholds.SignalCutoffRTH,
			CutoffExt: cfg.Thresholds.SignalCutoffExt,
		},
		&suppress.MixerCooldownGate{
			Locks: locksMgr, Clock: sysClock,
			CooldownSec: cfg.Cooldowns.Seconds, ImproveMin: cfg.Cooldowns.ImproveMin,
		},
		&suppress.DirectionLockGate{
			Locks: locksMgr, Clock: sysClock,
			LockSec: cfg.Cooldowns.DirectionLockSec, InverseLockSec: cfg.Cooldowns.DirectionLockInvSec,
			IsInverseETF: isInverseETF,
		},
		&suppress.DupEventGate{Locks: locksMgr, TTL: 30 * time.Second},
		&suppress.SessionDailyCapGate{Counters: countersMgr, Clock: sysClock, MaxPerSymbol: 3, MaxGlobal: 20},
		&suppress.LLMGate{Checker: llmGate},
		feasibility,
	)

	basketAgg := basket.NewAggregator(basket.Config{
		WindowSeconds: cfg.Basket.WindowSeconds, MinSignals: cfg.Basket.MinSignals,
		NegFraction: cfg.Basket.NegFraction, MeanThreshold: cfg.Basket.MeanThreshold,
		LockTTL: time.Duration(cfg.Cooldowns.Seconds) * time.Second,
	}, sysClock, locksMgr, portfolioMgr, basketDefinitions(cfg.Basket))

	broker := adapters.NewPaperBroker(quotes, int64((cfg.Paper.SlippageBpsMin+cfg.Paper.SlippageBpsMax)/2))
	dedupe := dispatch.NewRedisDedupeStore(rdb, time.Duration(cfg.Paper.DedupeWindowSecs)*time.Second)
	dispatcher := dispatch.NewDispatcher(broker, dedupe, sysClock, dispatch.RetryConfig{MaxRetries: 3, BackoffBaseMs: 200})
	dispatcher.AutoMode = cfg.AutoMode

	var publisher audit.Publisher
	if cfg.Kafka.Enabled {
		kp := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}
	journal, err := audit.NewJournal(cfg.Paper.OutboxPath, publisher)
	if err != nil {
		log.Fatalf("pipeline: open audit journal: %v", err)
	}

	flattener := eod.NewFlattener(sysClock, calendar, portfolioMgr, dispatcher, cfg.EOD.FlattenMinutesBeforeClose)
	flattener.Ledger = ledger
	flattener.EquityUSD = cfg.Sizing.EquityUSD
	reporter := eod.NewReporter(sysClock, calendar, portfolioMgr, rdb, "data/reports")

	slackClient := alerts.NewSlackClient(cfg.Slack)
	defer slackClient.Close()

	sched := scheduler.New(scheduler.Deps{
		Clock:    sysClock,
		Calendar: calendar,
		Ingestor: ingestor,
		Bars:     store,
		Thresholds: scheduler.MixerThresholds{
			BuyThreshold: cfg.Thresholds.BuyThreshold, SellThreshold: cfg.Thresholds.SellThreshold,
			EdgarBonus: cfg.Thresholds.EdgarBonus,
		},
		Chain:             chain,
		Basket:            basketAgg,
		Sizing:            sizing,
		Prices:            prices,
		Ledger:            ledger,
		KillSwitch:        killSwitch,
		MaxConcurrentRisk: cfg.Sizing.MaxConcurrentRisk,
		Leveraged:         isLeveraged,
		Feasibility:       feasibility,
		Dispatcher:        dispatcher,
		Journal:           journal,
		Portfolio:         portfolioMgr,
		Flattener:         flattener,
		Reporter:          reporter,
		Notifier:          slackClient,
	}, scheduler.DefaultCadences())

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.PrometheusHandler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			observ.L.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observ.L.Info().Str("mode", cfg.TradingMode).Msg("pipeline starting")
	sched.Run(ctx)
	observ.L.Info().Msg("pipeline stopped")
}

func buildQuotesAdapter(cfg config.Root) (adapters.QuotesAdapter, error) {
	if cfg.TradingMode != "live" {
		return adapters.NewMockQuotesAdapter(), nil
	}

	provider, err := buildLiveQuoteProvider(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.Quotes.LiveRolloutEnabled {
		return provider, nil
	}

	// LiveQuoteAdapter wraps whichever provider was selected above with
	// a canary allowlist, tiered caching, a request budget, and shadow
	// comparison against the mock adapter, so a live rollout can be
	// staged onto a handful of symbols before it sees the whole tier
	// list.
	return adapters.NewLiveQuoteAdapter(provider, adapters.LiveQuoteConfig{
		LiveEnabled:                true,
		ShadowMode:                 cfg.Quotes.ShadowMode,
		CanarySymbols:              cfg.Quotes.CanarySymbols,
		PrioritySymbols:            cfg.Quotes.PrioritySymbols,
		CanaryDurationMinutes:      60,
		PositionsRefreshMs:         2000,
		WatchlistRefreshMs:         5000,
		OthersRefreshMs:            15000,
		FreshnessCeilingSeconds:    10,
		FreshnessCeilingAHSeconds:  60,
		HysteresisSeconds:          30,
		ConsecutiveBreachToDegrade: 3,
		ConsecutiveOkToRecover:     5,
		CacheMaxEntries:            500,
		CacheTTLSeconds:            10,
		CacheMaxAgeExtendSeconds:   30,
		DailyRequestCap:            450,
		BudgetWarningPct:           0.15,
		ShadowSampleRate:           0.05,
		DegradedErrorRate:          0.2,
		FailedErrorRate:            0.5,
		MaxConsecutiveErrors:       10,
		FreshnessP95ThresholdMs:    5000,
		SuccessRateThreshold:       0.9,
		FallbackToCache:            true,
		FallbackToMock:             true,
	})
}

// buildLiveQuoteProvider picks the upstream vendor for live trading
// mode. Polygon carries a higher rate limit and real-time entitlement
// at a higher cost; Alpha Vantage is the default free-tier fallback.
func buildLiveQuoteProvider(cfg config.Root) (adapters.QuotesAdapter, error) {
	switch cfg.Quotes.Provider {
	case "polygon":
		apiKey := os.Getenv("POLYGON_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("POLYGON_API_KEY not set for live trading mode with polygon provider")
		}
		return adapters.NewPolygonAdapter(adapters.PolygonConfig{
			APIKey: apiKey, RateLimitPerMinute: cfg.RateLimits.CallsPerMinute,
			DailyRequestCap: 50000, CacheTTLSeconds: 10, StaleCeilingSeconds: 60,
			TimeoutSeconds: 5, MaxRetries: 3, BackoffBaseMs: 200,
		})
	default:
		apiKey := os.Getenv("ALPHAVANTAGE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ALPHAVANTAGE_API_KEY not set for live trading mode")
		}
		return adapters.NewAlphaVantageAdapter(adapters.AlphaVantageConfig{
			APIKey: apiKey, RateLimitPerMinute: cfg.RateLimits.CallsPerMinute,
			DailyCap: 500, CacheTTLSeconds: 10, StaleCeilingSeconds: 60,
			TimeoutSeconds: 5, MaxRetries: 3, BackoffBaseMs: 200,
		})
	}
}

func regimeWeightOverrides(cfg map[string]config.RegimeWeights) map[regime.Type]regime.Weights {
	out := make(map[regime.Type]regime.Weights, len(cfg))
	for name, w := range cfg {
		out[regime.Type(name)] = regime.Weights{Tech: w.Tech, Sentiment: w.Sentiment}
	}
	return out
}

func holidaySet(days []string) map[string]bool {
	out := make(map[string]bool, len(days))
	for _, d := range days {
		out[d] = true
	}
	return out
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

func setMembership(items []string) func(string) bool {
	set := toSet(items)
	return func(symbol string) bool { return set[symbol] }
}

// basketDefinitions pairs each configured basket of underlyings with
// its inverse ETF, matching the first two entries of the configured
// inverse-ETF list to the megatech/semis baskets per spec.md's basket
// routing (an Open Question resolved in DESIGN.md since the reference
// config has no explicit basket-to-ETF mapping).
func basketDefinitions(cfg config.Basket) []basket.Definition {
	var defs []basket.Definition
	if len(cfg.MegatechBasket) > 0 && len(cfg.InverseETFs) > 0 {
		defs = append(defs, basket.Definition{Name: "megatech", Members: cfg.MegatechBasket, InverseETF: cfg.InverseETFs[0]})
	}
	if len(cfg.SemisBasket) > 0 && len(cfg.InverseETFs) > 1 {
		defs = append(defs, basket.Definition{Name: "semis", Members: cfg.SemisBasket, InverseETF: cfg.InverseETFs[1]})
	}
	return defs
}
