// Package bars owns the rolling per-symbol bar history and the
// derived technical indicators computed from it.
package bars

import "time"

// Bar is one OHLCV sample for a symbol, per the data model's Bar entity.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Indicators is the derived-signal snapshot computed from a symbol's
// rolling bar window, per the data model's Indicators entity.
type Indicators struct {
	Symbol      string
	AsOf        time.Time
	EMA20       float64
	EMA50       float64
	MACD        float64
	MACDSignal  float64
	MACDHist    float64
	RSI14       float64
	VWAP        float64
	ATR14       float64
	BollingerZ  float64 // (price - middle band) / (2 * stddev), roughly -1..1 inside the bands
	VolumeZ     float64 // volume z-score against the rolling mean/stddev
	ADX         float64
	RealizedVol float64 // annualized realized volatility over the window
	Ready       bool    // false until the window has enough bars for stable indicators
}
