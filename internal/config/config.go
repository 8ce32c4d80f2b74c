// Package config loads and validates the pipeline's root configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegimeWeights is the tech/sentiment split the mixer applies for one
// regime, mirroring internal/regime.Weights so config stays decoupled
// from the regime package's types.
type RegimeWeights struct {
	Tech      float64 `yaml:"tech"`
	Sentiment float64 `yaml:"sentiment"`
}

// Thresholds carries the mixer/suppression score cutoffs. spec.md §4.5
// states the mixer emits a candidate only if |score| >= BuyThreshold,
// "equal to the session cutoff, which is the single source of truth" —
// so BuyThreshold/SellThreshold are not independently configurable in
// production; validate() enforces they derive from SignalCutoffRTH.
type Thresholds struct {
	SignalCutoffRTH    float64 `yaml:"signal_cutoff_rth"`
	SignalCutoffExt    float64 `yaml:"signal_cutoff_ext"`
	BuyThreshold       float64 `yaml:"buy_threshold"`
	SellThreshold      float64 `yaml:"sell_threshold"`
	InverseEntryMinAbs float64 `yaml:"inverse_entry_min_score"`
	EdgarBonus         float64 `yaml:"edgar_bonus"`
}

type Tiers struct {
	TierA         []string `yaml:"tier_a"`
	TierB         []string `yaml:"tier_b"`
	Bench         []string `yaml:"bench"`
	TierAInterval int      `yaml:"tier_a_interval_seconds"`
	TierBInterval int      `yaml:"tier_b_interval_seconds"`
}

type RateLimits struct {
	CallsPerMinute  int `yaml:"calls_per_minute"`
	TierAAllocation int `yaml:"tier_a_allocation"`
	TierBAllocation int `yaml:"tier_b_allocation"`
	ReserveAlloc    int `yaml:"reserve_allocation"`
}

type Cooldowns struct {
	Seconds             int     `yaml:"seconds"`
	ImproveMin          float64 `yaml:"improve_min"`
	InverseSeconds      int     `yaml:"inverse_seconds"`
	DirectionLockSec    int     `yaml:"direction_lock_seconds"`
	DirectionLockInvSec int     `yaml:"direction_lock_inverse_seconds"`
}

type LLMGate struct {
	Enabled           bool     `yaml:"enabled"`
	DailyCallLimit    int      `yaml:"daily_call_limit"`
	MonthlyCostCapKRW int      `yaml:"monthly_cost_cap_krw"`
	CallCostKRW       int      `yaml:"call_cost_krw"`
	MinSignalScore    float64  `yaml:"min_signal_score"`
	RequiredEvents    []string `yaml:"required_events"`
	CacheDurationMin  int      `yaml:"cache_duration_minutes"`
	ProviderURL       string   `yaml:"provider_url"`
	TimeoutMs         int      `yaml:"timeout_ms"`
}

type Basket struct {
	WindowSeconds  int      `yaml:"window_seconds"`
	MinSignals     int      `yaml:"min_signals"`
	NegFraction    float64  `yaml:"neg_fraction"`
	MeanThreshold  float64  `yaml:"mean_threshold"`
	InverseETFs    []string `yaml:"inverse_etfs"`
	LeveragedETFs  []string `yaml:"leveraged_etfs"`
	MegatechBasket []string `yaml:"megatech_basket"`
	SemisBasket    []string `yaml:"semis_basket"`
}

type Sizing struct {
	EquityUSD           float64 `yaml:"equity_usd"`
	RiskPerTrade        float64 `yaml:"risk_per_trade"`
	MaxConcurrentRisk   float64 `yaml:"max_concurrent_risk"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade_usd"` // supplemental hard ceiling on top of the size_cap formula, not a substitute for it
	MaxPricePerShare    float64 `yaml:"max_price_per_share_usd"`
	FractionalEnabled   bool    `yaml:"fractional_enabled"`
	MaxEquityFraction   float64 `yaml:"max_equity_fraction"` // spec.md's max_equity_exposure: fraction of equity split evenly across the remaining slots
	MinSlots            int     `yaml:"min_slots"`            // spec.md's min_slots: floor divisor for remaining_slots
	LeveragedShrinkFactor float64 `yaml:"leveraged_shrink_factor"`
	MaxPositions        int     `yaml:"max_positions"` // spec.md's max_positions: pre-trade feasibility check (iii)
}

type EOD struct {
	FlattenMinutesBeforeClose int `yaml:"flatten_minutes_before_close"`
}

// Quotes selects the live market-data provider and, optionally, wraps
// it in the canary/shadow rollout adapter instead of handing it
// straight to the ingestor. Only consulted when TradingMode is "live".
type Quotes struct {
	Provider           string   `yaml:"provider"` // alphavantage | polygon
	LiveRolloutEnabled bool     `yaml:"live_rollout_enabled"`
	ShadowMode         bool     `yaml:"shadow_mode"`
	CanarySymbols      []string `yaml:"canary_symbols"`
	PrioritySymbols    []string `yaml:"priority_symbols"`
}

type Paper struct {
	OutboxPath       string `yaml:"outbox_path"`
	LatencyMsMin     int    `yaml:"latency_ms_min"`
	LatencyMsMax     int    `yaml:"latency_ms_max"`
	SlippageBpsMin   int    `yaml:"slippage_bps_min"`
	SlippageBpsMax   int    `yaml:"slippage_bps_max"`
	DedupeWindowSecs int    `yaml:"dedupe_window_seconds"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Slack struct {
	Enabled                  bool   `yaml:"enabled"`
	WebhookURL               string `yaml:"webhook_url"`
	ChannelDefault           string `yaml:"channel_default"`
	AlertOnBuy                bool  `yaml:"alert_on_buy"`
	AlertOnSell               bool  `yaml:"alert_on_sell"`
	AlertOnRejectGates        bool  `yaml:"alert_on_reject_gates"`
	AlertOnKillSwitch         bool  `yaml:"alert_on_kill_switch"`
	AlertOnEOD                bool  `yaml:"alert_on_eod"`
	RateLimitPerMin           int   `yaml:"rate_limit_per_min"`
	RateLimitPerSymbolPerMin  int   `yaml:"rate_limit_per_symbol_per_min"`
}

type Root struct {
	TradingMode   string                   `yaml:"trading_mode"` // paper | live | dry-run
	GlobalPause   bool                     `yaml:"global_pause"`
	Thresholds    Thresholds               `yaml:"thresholds"`
	RegimeWeights map[string]RegimeWeights `yaml:"regime_weights"`
	Tiers         Tiers                    `yaml:"tiers"`
	RateLimits    RateLimits               `yaml:"rate_limits"`
	Cooldowns     Cooldowns                `yaml:"cooldowns"`
	LLM           LLMGate                  `yaml:"llm"`
	Basket        Basket                   `yaml:"basket"`
	Sizing        Sizing                   `yaml:"sizing"`
	EOD           EOD                      `yaml:"eod"`
	Quotes        Quotes                   `yaml:"quotes"`
	// AutoMode gates whether the dispatcher actually calls the broker.
	// False means every sized intent is logged and journaled but never
	// submitted, the manual-approval posture the pipeline starts in.
	AutoMode bool `yaml:"auto_mode"`
	Paper         Paper                    `yaml:"paper"`
	Redis         Redis                    `yaml:"redis"`
	Kafka         Kafka                    `yaml:"kafka"`
	Slack         Slack                    `yaml:"slack"`
	Holidays      []string                 `yaml:"holidays"`
	MaxSpreadBps  float64                  `yaml:"max_spread_bps"`

	// AllowThresholdDriftTestMode is a test-only escape hatch letting
	// BuyThreshold/SellThreshold diverge from SignalCutoffRTH. Never set
	// in production config.
	AllowThresholdDriftTestMode bool `yaml:"allow_threshold_drift_test_mode"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return c, err
	}
	return c, nil
}

func applyDefaults(c *Root) {
	if c.Thresholds.SignalCutoffRTH == 0 {
		c.Thresholds.SignalCutoffRTH = 0.18
	}
	if c.Thresholds.SignalCutoffExt == 0 {
		c.Thresholds.SignalCutoffExt = 0.28
	}
	if c.Thresholds.BuyThreshold == 0 {
		c.Thresholds.BuyThreshold = c.Thresholds.SignalCutoffRTH
	}
	if c.Thresholds.SellThreshold == 0 {
		c.Thresholds.SellThreshold = -c.Thresholds.SignalCutoffRTH
	}
	if c.Thresholds.InverseEntryMinAbs == 0 {
		c.Thresholds.InverseEntryMinAbs = 0.30
	}
	if c.Thresholds.EdgarBonus == 0 {
		c.Thresholds.EdgarBonus = 0.10
	}

	if len(c.RegimeWeights) == 0 {
		c.RegimeWeights = map[string]RegimeWeights{
			"trend":       {Tech: 0.75, Sentiment: 0.25},
			"vol_spike":   {Tech: 0.30, Sentiment: 0.70},
			"mean_revert": {Tech: 0.60, Sentiment: 0.40},
			"sideways":    {Tech: 0.50, Sentiment: 0.50},
		}
	}

	if len(c.Tiers.TierA) == 0 {
		c.Tiers.TierA = []string{"NVDA", "AAPL", "MSFT", "TSLA"}
	}
	if len(c.Tiers.TierB) == 0 {
		c.Tiers.TierB = []string{"AMZN", "GOOGL", "META", "SQQQ"}
	}
	if len(c.Tiers.Bench) == 0 {
		c.Tiers.Bench = []string{"AMD", "AVGO", "NFLX", "SOXS"}
	}
	if c.Tiers.TierAInterval == 0 {
		c.Tiers.TierAInterval = 30
	}
	if c.Tiers.TierBInterval == 0 {
		c.Tiers.TierBInterval = 60
	}

	if c.Quotes.Provider == "" {
		c.Quotes.Provider = "alphavantage"
	}
	if len(c.Quotes.CanarySymbols) == 0 {
		c.Quotes.CanarySymbols = []string{"AAPL"}
	}
	if len(c.Quotes.PrioritySymbols) == 0 {
		c.Quotes.PrioritySymbols = c.Tiers.TierA
	}

	if c.RateLimits.CallsPerMinute == 0 {
		c.RateLimits.CallsPerMinute = 10
	}
	if c.RateLimits.TierAAllocation == 0 {
		c.RateLimits.TierAAllocation = 6
	}
	if c.RateLimits.TierBAllocation == 0 {
		c.RateLimits.TierBAllocation = 3
	}
	if c.RateLimits.ReserveAlloc == 0 {
		c.RateLimits.ReserveAlloc = 1
	}

	if c.Cooldowns.Seconds == 0 {
		c.Cooldowns.Seconds = 180
	}
	if c.Cooldowns.ImproveMin == 0 {
		c.Cooldowns.ImproveMin = 0.10
	}
	if c.Cooldowns.InverseSeconds == 0 {
		c.Cooldowns.InverseSeconds = 300
	}
	if c.Cooldowns.DirectionLockSec == 0 {
		c.Cooldowns.DirectionLockSec = 180
	}
	if c.Cooldowns.DirectionLockInvSec == 0 {
		c.Cooldowns.DirectionLockInvSec = 300
	}

	if c.LLM.DailyCallLimit == 0 {
		c.LLM.DailyCallLimit = 120
	}
	if c.LLM.CallCostKRW == 0 {
		c.LLM.CallCostKRW = 667
	}
	if c.LLM.MonthlyCostCapKRW == 0 {
		c.LLM.MonthlyCostCapKRW = c.LLM.CallCostKRW * c.LLM.DailyCallLimit * 22
	}
	if c.LLM.MinSignalScore == 0 {
		c.LLM.MinSignalScore = 0.25
	}
	if len(c.LLM.RequiredEvents) == 0 {
		c.LLM.RequiredEvents = []string{
			"edgar", "vol_spike", "fed_speech", "rate_decision",
			"market_news", "tech_earnings", "basket_inverse_entry", "macro_risk_on_off",
		}
	}
	if c.LLM.CacheDurationMin == 0 {
		c.LLM.CacheDurationMin = 30
	}
	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = 5000
	}

	if c.Basket.WindowSeconds == 0 {
		c.Basket.WindowSeconds = 300
	}
	if c.Basket.MinSignals == 0 {
		c.Basket.MinSignals = 3
	}
	if c.Basket.NegFraction == 0 {
		c.Basket.NegFraction = 0.45
	}
	if c.Basket.MeanThreshold == 0 {
		c.Basket.MeanThreshold = -0.12
	}
	if len(c.Basket.InverseETFs) == 0 {
		c.Basket.InverseETFs = []string{"SOXS", "SQQQ", "SPXS", "TZA", "SDOW", "TECS", "DRV", "SARK", "UVXY"}
	}
	if len(c.Basket.LeveragedETFs) == 0 {
		c.Basket.LeveragedETFs = []string{"SOXS", "SQQQ", "SPXS", "TZA", "SDOW", "TECS", "DRV"}
	}
	if len(c.Basket.MegatechBasket) == 0 {
		c.Basket.MegatechBasket = []string{"AAPL", "MSFT", "NVDA", "GOOGL", "META", "AMZN"}
	}
	if len(c.Basket.SemisBasket) == 0 {
		c.Basket.SemisBasket = []string{"NVDA", "AMD", "AVGO", "TSM"}
	}

	if c.Sizing.EquityUSD == 0 {
		c.Sizing.EquityUSD = 2000
	}
	if c.Sizing.RiskPerTrade == 0 {
		c.Sizing.RiskPerTrade = 0.008
	}
	if c.Sizing.MaxConcurrentRisk == 0 {
		c.Sizing.MaxConcurrentRisk = 0.04
	}
	if c.Sizing.MaxNotionalPerTrade == 0 {
		c.Sizing.MaxNotionalPerTrade = 185.0 // ~250,000 KRW at a nominal 1350 rate
	}
	if c.Sizing.MaxPricePerShare == 0 {
		c.Sizing.MaxPricePerShare = 120
	}
	if c.Sizing.MaxEquityFraction == 0 {
		c.Sizing.MaxEquityFraction = 0.4
	}
	if c.Sizing.MinSlots == 0 {
		c.Sizing.MinSlots = 5
	}
	if c.Sizing.LeveragedShrinkFactor == 0 {
		c.Sizing.LeveragedShrinkFactor = 0.5
	}
	if c.Sizing.MaxPositions == 0 {
		c.Sizing.MaxPositions = 8
	}

	if c.EOD.FlattenMinutesBeforeClose == 0 {
		c.EOD.FlattenMinutesBeforeClose = 10
	}

	if c.Paper.OutboxPath == "" {
		c.Paper.OutboxPath = "data/outbox.jsonl"
	}
	if c.Paper.LatencyMsMin == 0 {
		c.Paper.LatencyMsMin = 100
	}
	if c.Paper.LatencyMsMax == 0 {
		c.Paper.LatencyMsMax = 2000
	}
	if c.Paper.SlippageBpsMin == 0 {
		c.Paper.SlippageBpsMin = 1
	}
	if c.Paper.SlippageBpsMax == 0 {
		c.Paper.SlippageBpsMax = 5
	}
	if c.Paper.DedupeWindowSecs == 0 {
		c.Paper.DedupeWindowSecs = 90
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.MaxSpreadBps == 0 {
		c.MaxSpreadBps = 200
	}

	if c.Slack.RateLimitPerMin == 0 {
		c.Slack.RateLimitPerMin = 20
	}
	if c.Slack.RateLimitPerSymbolPerMin == 0 {
		c.Slack.RateLimitPerSymbolPerMin = 3
	}
}

// validate enforces the invariants spec.md calls out explicitly,
// notably that BuyThreshold/SellThreshold — the values mixer.Fuse
// actually applies to decide Buy/Sell — equal SignalCutoffRTH, the
// value BelowCutoffGate applies during the regular session (Open
// Question #1, resolved as "kept equal" in DESIGN.md). Without this,
// the mixer's emit threshold and the suppression chain's cutoff gate
// could silently diverge, defeating the "session cutoff is the single
// source of truth" invariant.
func validate(c *Root) error {
	if !c.AllowThresholdDriftTestMode {
		if c.Thresholds.BuyThreshold != c.Thresholds.SignalCutoffRTH {
			return fmt.Errorf("config: buy_threshold (%.4f) must equal signal_cutoff_rth (%.4f)",
				c.Thresholds.BuyThreshold, c.Thresholds.SignalCutoffRTH)
		}
		if c.Thresholds.SellThreshold != -c.Thresholds.SignalCutoffRTH {
			return fmt.Errorf("config: sell_threshold (%.4f) must equal -signal_cutoff_rth (%.4f)",
				c.Thresholds.SellThreshold, -c.Thresholds.SignalCutoffRTH)
		}
	}
	if c.Sizing.RiskPerTrade <= 0 || c.Sizing.RiskPerTrade > c.Sizing.MaxConcurrentRisk {
		return fmt.Errorf("config: risk_per_trade must be positive and <= max_concurrent_risk")
	}
	return nil
}
