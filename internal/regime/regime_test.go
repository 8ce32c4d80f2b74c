package regime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algostack/signalpipe/internal/bars"
)

func TestDetect_SidewaysWhenNotEnoughCandles(t *testing.T) {
	r := Detect("TEST", bars.Indicators{Ready: true}, 5)
	require.Equal(t, Sideways, r.Regime)
}

func TestDetect_TrendRequiresBothADXAndEMASpread(t *testing.T) {
	ind := bars.Indicators{Ready: true, ADX: 25, EMA20: 102, EMA50: 100, RSI14: 50}
	r := Detect("TEST", ind, 60)
	require.Equal(t, Trend, r.Regime)
	require.Greater(t, r.Confidence, 0.0)
}

func TestDetect_TrendGateFailsBelowADXThreshold(t *testing.T) {
	ind := bars.Indicators{Ready: true, ADX: 15, EMA20: 102, EMA50: 100}
	r := Detect("TEST", ind, 60)
	require.NotEqual(t, Trend, r.Regime)
}

func TestDetect_VolSpikeRequiresRealizedVolAboveFivePercent(t *testing.T) {
	ind := bars.Indicators{Ready: true, RealizedVol: 0.08, VolumeZ: 2}
	r := Detect("TEST", ind, 60)
	require.Equal(t, VolSpike, r.Regime)
}

func TestDetect_MeanRevertRequiresRSIExtreme(t *testing.T) {
	ind := bars.Indicators{Ready: true, RSI14: 20, BollingerZ: -0.8}
	r := Detect("TEST", ind, 60)
	require.Equal(t, MeanRevert, r.Regime)
}

func TestWeightsFor_UnknownDefaultsToSideways(t *testing.T) {
	w := WeightsFor(Type("bogus"))
	require.Equal(t, regimeWeights[Sideways], w)
}
