// Package mixer fuses a symbol's technical score with its sentiment
// score, weighted by the current regime, into a single directional
// candidate signal.
package mixer

import (
	"time"

	"github.com/algostack/signalpipe/internal/regime"
)

// Direction is the candidate signal's proposed action, per the data
// model's Candidate Signal entity.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
	Hold Direction = "hold"
)

// Candidate is a fused, thresholded signal before it enters the
// suppression chain.
type Candidate struct {
	Symbol         string
	AsOf           time.Time
	Direction      Direction
	Score          float64 // -1..+1
	Confidence     float64 // 0..1
	Regime         regime.Type
	TechScore      float64
	SentimentScore float64
	EdgarOverride  bool
	Trigger        string
}

// Filing is the subset of an EDGAR filing the mixer's override logic
// needs.
type Filing struct {
	FormType string
	Items    []string
}

// edgarItemScores gives each 8-K item a base sentiment absent any LLM
// read on it, ported from the reference mixer's per-item table.
var edgarItemScores = map[string]float64{
	"2.02": 0.8, // earnings release
	"1.01": 0.6, // material agreement
	"2.03": 0.3,
	"2.04": 0.2,
	"2.05": 0.1, // restructuring
	"2.06": 0.2, // impairment
}

var importantEdgarItems = map[string]bool{"2.02": true, "1.01": true, "2.05": true}

// EdgarSentiment returns the pre-LLM base sentiment score for a filing,
// used when an EDGAR-triggered candidate has not yet had its sentiment
// resolved by the LLM Insight Gate.
func EdgarSentiment(f Filing) float64 {
	if f.FormType == "8-K" {
		best := 0.0
		for _, item := range f.Items {
			if s, ok := edgarItemScores[item]; ok && s > best {
				best = s
			} else if !ok && best < 0.3 {
				best = 0.3
			}
		}
		return best
	}
	if f.FormType == "4" {
		return 0.5
	}
	return 0.5
}

// IsImportantEdgar reports whether a filing qualifies for the mixer's
// EDGAR override bonus.
func IsImportantEdgar(f Filing) bool {
	if f.FormType == "8-K" {
		for _, item := range f.Items {
			if importantEdgarItems[item] {
				return true
			}
		}
		return false
	}
	return f.FormType == "4"
}

// Input bundles everything Fuse needs for one symbol at one instant.
type Input struct {
	Symbol         string
	AsOf           time.Time
	Regime         regime.Type
	RegimeConf     float64
	TechScore      float64 // 0..1
	SentimentScore float64 // -1..+1, 0 if unavailable
	HasSentiment   bool
	Filing         *Filing
	EdgarBonus     float64
	BuyThreshold   float64
	SellThreshold  float64
}

// Fuse computes the regime-weighted composite score and classifies it
// into a directional candidate. Ported from the reference mixer's
// weighted-average + EDGAR-bonus + threshold structure, generalized to
// take externally supplied buy/sell thresholds (config-driven rather
// than constructor defaults).
func Fuse(in Input) Candidate {
	sentiment := in.SentimentScore
	edgarOverride := false

	if !in.HasSentiment && in.Filing != nil {
		sentiment = signedEdgarSentiment(*in.Filing)
	}

	weights := regime.WeightsFor(in.Regime)
	// techScore arrives normalized 0..1; recenter to -1..+1 so it
	// composes with sentiment's signed range before weighting.
	techSigned := in.TechScore*2 - 1

	score := techSigned*weights.Tech + sentiment*weights.Sentiment

	if in.Filing != nil && IsImportantEdgar(*in.Filing) {
		edgarOverride = true
		if sentiment > 0 {
			score += in.EdgarBonus
		} else {
			score -= in.EdgarBonus
		}
	}
	score = clamp(score, -1, 1)

	direction := Hold
	switch {
	case score >= in.BuyThreshold:
		direction = Buy
	case score <= in.SellThreshold:
		direction = Sell
	}

	confidence := confidenceOf(in.RegimeConf, edgarOverride, in.HasSentiment)

	return Candidate{
		Symbol:         in.Symbol,
		AsOf:           in.AsOf,
		Direction:      direction,
		Score:          score,
		Confidence:     confidence,
		Regime:         in.Regime,
		TechScore:      in.TechScore,
		SentimentScore: sentiment,
		EdgarOverride:  edgarOverride,
	}
}

// signedEdgarSentiment maps the 0..1 base EDGAR sentiment onto a
// signed -1..+1 scale so it can substitute directly for LLM sentiment.
func signedEdgarSentiment(f Filing) float64 {
	return EdgarSentiment(f)*2 - 1
}

func confidenceOf(regimeConf float64, edgarOverride, hasSentiment bool) float64 {
	confidence := regimeConf * 0.5
	weight := 0.5
	if hasSentiment {
		confidence += 0.3
		weight += 0.3
	}
	if edgarOverride {
		confidence += 0.2
		weight += 0.2
	}
	if weight == 0 {
		return 0.5
	}
	return confidence / weight
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
