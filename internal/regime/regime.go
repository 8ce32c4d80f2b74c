// Package regime classifies a symbol's current market behavior and
// derives the regime-weighted technical score the mixer consumes.
package regime

import (
	"time"

	"github.com/algostack/signalpipe/internal/bars"
)

// Type names one of the four regimes the spec's Regime Detector
// distinguishes.
type Type string

const (
	Trend      Type = "trend"
	VolSpike   Type = "vol_spike"
	MeanRevert Type = "mean_revert"
	Sideways   Type = "sideways"
)

// Weights is the tech/sentiment split the mixer applies once it knows
// the current regime.
type Weights struct {
	Tech      float64
	Sentiment float64
}

var regimeWeights = map[Type]Weights{
	Trend:      {Tech: 0.75, Sentiment: 0.25},
	VolSpike:   {Tech: 0.30, Sentiment: 0.70},
	MeanRevert: {Tech: 0.60, Sentiment: 0.40},
	Sideways:   {Tech: 0.50, Sentiment: 0.50},
}

// WeightsFor returns the mixer weights for a regime, defaulting to
// Sideways for any unrecognized value.
func WeightsFor(t Type) Weights {
	if w, ok := regimeWeights[t]; ok {
		return w
	}
	return regimeWeights[Sideways]
}

// SetWeights overrides the regime/weight table from configuration,
// leaving any regime absent from the override untouched. Called once
// at startup from internal/config.Root.RegimeWeights.
func SetWeights(overrides map[Type]Weights) {
	for t, w := range overrides {
		regimeWeights[t] = w
	}
}

// Result is a single regime classification, holding the confidence and
// per-regime sub-scores that produced it for observability.
type Result struct {
	Symbol     string
	AsOf       time.Time
	Regime     Type
	Confidence float64
	TechScore  float64
	Trend      float64
	VolSpike   float64
	MeanRevert float64
}

const minCandles = 20

// Detect classifies the symbol's regime from its indicator snapshot,
// selecting whichever of trend/vol_spike/mean_revert scores highest and
// falling back to Sideways when none clears its gating threshold.
// Thresholds are ported from the reference regime detector.
func Detect(symbol string, ind bars.Indicators, candleCount int) Result {
	if candleCount < minCandles || !ind.Ready {
		return Result{Symbol: symbol, AsOf: ind.AsOf, Regime: Sideways}
	}

	trendScore := trendScore(ind)
	volScore := volSpikeScore(ind)
	revertScore := meanRevertScore(ind)

	best := Sideways
	bestScore := 0.0
	for regimeType, score := range map[Type]float64{
		Trend:      trendScore,
		VolSpike:   volScore,
		MeanRevert: revertScore,
	} {
		if score > bestScore {
			best = regimeType
			bestScore = score
		}
	}

	return Result{
		Symbol:     symbol,
		AsOf:       ind.AsOf,
		Regime:     best,
		Confidence: bestScore,
		TechScore:  techScore(ind),
		Trend:      trendScore,
		VolSpike:   volScore,
		MeanRevert: revertScore,
	}
}

// trendScore requires ADX > 20 and 20/50 EMA separation above 0.5%
// before contributing any score at all — a gated score, not a
// continuous one, matching the reference's "return 0 if the gate
// fails" structure.
func trendScore(ind bars.Indicators) float64 {
	const adxMin = 20.0
	const emaRatioMin = 0.005

	if ind.ADX <= adxMin {
		return 0
	}
	adxScore := clamp01((ind.ADX - adxMin) / 30.0)

	if ind.EMA50 == 0 {
		return 0
	}
	emaRatio := (ind.EMA20 - ind.EMA50) / ind.EMA50
	if emaRatio <= emaRatioMin {
		return 0
	}
	emaScore := clamp01(emaRatio / 0.02)

	return (adxScore + emaScore) / 2
}

// volSpikeScore requires realized volatility at or above 5% before
// contributing any score, with volume-z as a secondary contributor.
func volSpikeScore(ind bars.Indicators) float64 {
	const volMin = 0.05

	if ind.RealizedVol < volMin {
		return 0
	}
	volScore := clamp01(ind.RealizedVol / 0.10)

	volumeSpike := clamp01(ind.VolumeZ / 3.0)
	if volumeSpike <= 0 {
		return volScore * 0.7
	}
	return volScore*0.7 + volumeSpike*0.3
}

// meanRevertScore requires an RSI extreme (<=25 or >=75) before
// contributing any score, then adds a Bollinger-band-recovery
// component.
func meanRevertScore(ind bars.Indicators) float64 {
	rsi := ind.RSI14
	if rsi > 25 && rsi < 75 {
		return 0
	}
	rsiScore := absF(rsi-50) / 50

	// BollingerZ is in [-1, 1]; map to a 0..1 "band position" the way
	// the reference's bb_position does (0=lower band, 1=upper band).
	bbPosition := (ind.BollingerZ + 1) / 2

	var bbScore float64
	switch {
	case rsi <= 25 && bbPosition > 0.3:
		bbScore = clamp01(bbPosition / 0.5)
	case rsi >= 75 && bbPosition < 0.7:
		bbScore = clamp01((1 - bbPosition) / 0.5)
	}

	if bbScore == 0 {
		return rsiScore * 0.4
	}
	return rsiScore*0.4 + bbScore*0.3
}

// techScore is the regime-agnostic 0..1 technical composite the mixer
// blends with sentiment, distinct from the per-regime classification
// scores above.
func techScore(ind bars.Indicators) float64 {
	emaScore := normalize((ind.EMA20-ind.EMA50)/nonZero(ind.EMA50), -0.05, 0.05)
	macdScore := normalize(ind.MACDHist, -2.0, 2.0)
	rsiScore := rsiToScore(ind.RSI14)
	vwapScore := normalize((lastPrice(ind)-ind.VWAP)/nonZero(ind.VWAP), -0.03, 0.03)

	return emaScore*0.25 + macdScore*0.25 + rsiScore*0.25 + vwapScore*0.25
}

func lastPrice(ind bars.Indicators) float64 {
	// VWAP deviation is measured against the most recent close, which
	// the EMA20 tracks closely at short horizons; used here to avoid
	// threading the raw bar back into the tech scorer.
	return ind.EMA20
}

func rsiToScore(rsi float64) float64 {
	if rsi >= 50 {
		return 0.5 + (rsi-50)/50*0.5
	}
	return clamp01(rsi / 50 * 0.5)
}

func normalize(value, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	return clamp01((value - min) / (max - min))
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
