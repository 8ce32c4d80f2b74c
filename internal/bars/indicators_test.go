package bars

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeTrendingBars(n int, start float64, step float64) []Bar {
	bars := make([]Bar, n)
	price := start
	base := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price += step
		bars[i] = Bar{
			Symbol:    "TEST",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 0.3,
			Low:       price - 0.1,
			Close:     price + 0.2,
			Volume:    1000,
		}
	}
	return bars
}

func TestComputeIndicators_UptrendScoresHigherThanDowntrend(t *testing.T) {
	up := computeIndicators("TEST", makeTrendingBars(60, 100, 0.3))
	down := computeIndicators("TEST", makeTrendingBars(60, 100, -0.3))

	require.True(t, up.Ready)
	require.True(t, down.Ready)
	require.Greater(t, up.EMA20, up.EMA50)
	require.Less(t, down.EMA20, down.EMA50)
	require.Greater(t, up.RSI14, down.RSI14)
}

func TestComputeIndicators_NotReadyBelowMinBars(t *testing.T) {
	ind := computeIndicators("TEST", makeTrendingBars(10, 100, 0.1))
	require.False(t, ind.Ready)
}

func TestRSI_FlatPricesIsFifty(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100.0
	}
	require.InDelta(t, 50.0, rsi(prices, 14), 0.001)
}

func TestVWAP_UsesTypicalPriceWeightedByVolume(t *testing.T) {
	window := []Bar{
		{High: 10, Low: 8, Close: 9, Volume: 100},
		{High: 12, Low: 10, Close: 11, Volume: 300},
	}
	got := vwap(window)
	require.InDelta(t, 10.5, got, 0.01)
}

func TestStore_WindowEvictsOldestBeyondCapacity(t *testing.T) {
	s := NewStore()
	for i := 0; i < windowSize+10; i++ {
		s.Append(Bar{Symbol: "TEST", Timestamp: time.Now(), Close: float64(i)})
	}
	w := s.Window("TEST", windowSize+50)
	require.Len(t, w, windowSize)
	require.Equal(t, float64(windowSize+9), w[len(w)-1].Close)
}
