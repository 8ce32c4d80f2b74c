package bars

import "math"

const (
	minReadyBars = 50
	rsiPeriod    = 14
	atrPeriod    = 14
)

// computeIndicators ports the indicator math the tech scorer needs,
// generalized from a vectorized/pandas style into plain incremental Go
// loops over a fixed window. EMA/MACD/RSI/VWAP formulas match the
// reference implementation exactly; Bollinger-Z, ATR, volume-Z and ADX
// fill in the indicators the data model names that the reference only
// partially implemented.
func computeIndicators(symbol string, window []Bar) Indicators {
	ind := Indicators{Symbol: symbol}
	if len(window) == 0 {
		return ind
	}
	ind.AsOf = window[len(window)-1].Timestamp
	ind.Ready = len(window) >= minReadyBars

	closes := closesOf(window)

	ind.EMA20 = ema(closes, 20)
	ind.EMA50 = ema(closes, 50)
	ind.MACD, ind.MACDSignal, ind.MACDHist = macd(closes, 12, 26, 9)
	ind.RSI14 = rsi(closes, rsiPeriod)
	ind.VWAP = vwap(window)
	ind.ATR14 = atr(window, atrPeriod)
	ind.BollingerZ = bollingerZ(closes, 20)
	ind.VolumeZ = volumeZ(window, 20)
	ind.ADX = adx(window, 14)
	ind.RealizedVol = realizedVolatility(closes)

	return ind
}

func closesOf(window []Bar) []float64 {
	out := make([]float64, len(window))
	for i, b := range window {
		out[i] = b.Close
	}
	return out
}

// ema computes the exponential moving average over prices with the
// standard alpha = 2/(period+1) smoothing, seeded from the first price.
func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	alpha := 2.0 / (float64(period) + 1.0)
	e := prices[0]
	for _, p := range prices[1:] {
		e = alpha*p + (1-alpha)*e
	}
	return e
}

// emaSeries returns the full EMA series, needed to compute MACD's
// signal line (the EMA of the MACD line itself).
func emaSeries(prices []float64, period int) []float64 {
	if len(prices) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out
}

func macd(prices []float64, fast, slow, signal int) (macdLine, signalLine, histogram float64) {
	if len(prices) < slow {
		return 0, 0, 0
	}
	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)

	diffs := make([]float64, len(prices))
	for i := range prices {
		diffs[i] = fastSeries[i] - slowSeries[i]
	}
	signalSeries := emaSeries(diffs, signal)

	macdLine = diffs[len(diffs)-1]
	signalLine = signalSeries[len(signalSeries)-1]
	histogram = macdLine - signalLine
	return
}

// rsi computes the Wilder-style relative strength index over the
// trailing period price changes.
func rsi(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50.0
	}
	var gainSum, lossSum float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgGain == 0 && avgLoss == 0 {
		return 50.0
	}
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// vwap computes the volume-weighted average price over window using
// the typical price (H+L+C)/3 convention.
func vwap(window []Bar) float64 {
	var totalPV, totalV float64
	for _, b := range window {
		typical := (b.High + b.Low + b.Close) / 3
		totalPV += typical * float64(b.Volume)
		totalV += float64(b.Volume)
	}
	if totalV == 0 {
		return window[len(window)-1].Close
	}
	return totalPV / totalV
}

// atr computes the average true range over the trailing period bars.
func atr(window []Bar, period int) float64 {
	if len(window) < 2 {
		return 0
	}
	start := 1
	if len(window)-period > 1 {
		start = len(window) - period
	}
	var sum float64
	count := 0
	for i := start; i < len(window); i++ {
		prevClose := window[i-1].Close
		tr := math.Max(window[i].High-window[i].Low,
			math.Max(math.Abs(window[i].High-prevClose), math.Abs(window[i].Low-prevClose)))
		sum += tr
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// bollingerZ returns how many standard deviations the latest close sits
// from the period-length simple moving average, clamped to [-2, 2] and
// then mapped to [-1, 1] so it composes cleanly with the other
// components' unit ranges.
func bollingerZ(closes []float64, period int) float64 {
	if len(closes) < period {
		period = len(closes)
	}
	if period == 0 {
		return 0
	}
	window := closes[len(closes)-period:]
	mean := meanOf(window)
	std := stddevOf(window, mean)
	if std == 0 {
		return 0
	}
	z := (closes[len(closes)-1] - mean) / std
	return clamp(z/2, -1, 1)
}

// volumeZ returns the z-score of the latest bar's volume against the
// trailing period bars' mean/stddev.
func volumeZ(window []Bar, period int) float64 {
	if len(window) < 2 {
		return 0
	}
	if period > len(window) {
		period = len(window)
	}
	vols := make([]float64, period)
	for i, b := range window[len(window)-period:] {
		vols[i] = float64(b.Volume)
	}
	mean := meanOf(vols)
	std := stddevOf(vols, mean)
	if std == 0 {
		return 0
	}
	return (vols[len(vols)-1] - mean) / std
}

// adx approximates the average directional index using Wilder's
// smoothing over +DM/-DM and true range.
func adx(window []Bar, period int) float64 {
	if len(window) < period+1 {
		return 0
	}
	var plusDM, minusDM, tr []float64
	for i := 1; i < len(window); i++ {
		upMove := window[i].High - window[i-1].High
		downMove := window[i-1].Low - window[i].Low
		pd, md := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			pd = upMove
		}
		if downMove > upMove && downMove > 0 {
			md = downMove
		}
		plusDM = append(plusDM, pd)
		minusDM = append(minusDM, md)
		prevClose := window[i-1].Close
		tr = append(tr, math.Max(window[i].High-window[i].Low,
			math.Max(math.Abs(window[i].High-prevClose), math.Abs(window[i].Low-prevClose))))
	}
	if len(tr) < period {
		return 0
	}
	sumPD := sumTail(plusDM, period)
	sumMD := sumTail(minusDM, period)
	sumTR := sumTail(tr, period)
	if sumTR == 0 {
		return 0
	}
	plusDI := 100 * sumPD / sumTR
	minusDI := 100 * sumMD / sumTR
	if plusDI+minusDI == 0 {
		return 0
	}
	dx := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	return dx
}

// realizedVolatility annualizes the stddev of log returns over the
// window, matching the ≥5% threshold the regime detector checks
// against.
func realizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	std := stddevOf(returns, mean)
	// Annualize assuming ~390 one-minute bars per trading day, 252 days.
	return std * math.Sqrt(390*252)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func sumTail(xs []float64, n int) float64 {
	if n > len(xs) {
		n = len(xs)
	}
	var sum float64
	for _, x := range xs[len(xs)-n:] {
		sum += x
	}
	return sum
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
