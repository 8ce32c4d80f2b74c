// Command replay dry-runs the signal pipeline's regime/mixer stage
// against a fixture file of historical bars, without touching Redis,
// the broker, or the audit journal — useful for sanity-checking a
// threshold or regime-weight change against a known bar series before
// pointing it at cmd/pipeline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/algostack/signalpipe/internal/bars"
	"github.com/algostack/signalpipe/internal/mixer"
	"github.com/algostack/signalpipe/internal/regime"
)

type fixtureBar struct {
	Symbol    string  `json:"symbol"`
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

type fixtureFile struct {
	Bars []fixtureBar `json:"bars"`
}

type replayResult struct {
	Symbol     string  `json:"symbol"`
	AsOf       string  `json:"as_of"`
	Regime     string  `json:"regime"`
	Direction  string  `json:"direction"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Trigger    string  `json:"trigger"`
}

func main() {
	log.SetFlags(0)

	var fixturePath string
	var buyThreshold, sellThreshold, edgarBonus float64
	flag.StringVar(&fixturePath, "fixture", "fixtures/bars.json", "path to a JSON file of {\"bars\": [...]}")
	flag.Float64Var(&buyThreshold, "buy-threshold", 0.20, "mixer buy threshold")
	flag.Float64Var(&sellThreshold, "sell-threshold", -0.20, "mixer sell threshold")
	flag.Float64Var(&edgarBonus, "edgar-bonus", 0.10, "mixer EDGAR-override bonus")
	flag.Parse()

	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		log.Fatalf("replay: read fixture: %v", err)
	}
	var fixture fixtureFile
	if err := json.Unmarshal(raw, &fixture); err != nil {
		log.Fatalf("replay: parse fixture: %v", err)
	}

	store := bars.NewStore()
	bySymbol := map[string][]fixtureBar{}
	for _, b := range fixture.Bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}

	for symbol, series := range bySymbol {
		for _, b := range series {
			ts, err := time.Parse(time.RFC3339, b.Timestamp)
			if err != nil {
				log.Fatalf("replay: parse timestamp %q for %s: %v", b.Timestamp, symbol, err)
			}
			store.Append(bars.Bar{
				Symbol: symbol, Timestamp: ts,
				Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
			})

			ind := store.Compute(symbol)
			if !ind.Ready {
				continue
			}
			window := store.Window(symbol, 0)
			regimeResult := regime.Detect(symbol, ind, len(window))

			candidate := mixer.Fuse(mixer.Input{
				Symbol: symbol, AsOf: ind.AsOf,
				Regime: regimeResult.Regime, RegimeConf: regimeResult.Confidence,
				TechScore: regimeResult.TechScore, HasSentiment: false,
				EdgarBonus: edgarBonus, BuyThreshold: buyThreshold, SellThreshold: sellThreshold,
			})
			if candidate.Direction == mixer.Hold {
				continue
			}

			out, err := json.Marshal(replayResult{
				Symbol: symbol, AsOf: candidate.AsOf.Format(time.RFC3339),
				Regime: string(candidate.Regime), Direction: string(candidate.Direction),
				Score: candidate.Score, Confidence: candidate.Confidence, Trigger: candidate.Trigger,
			})
			if err != nil {
				log.Fatalf("replay: marshal result: %v", err)
			}
			fmt.Println(string(out))
		}
	}
}
