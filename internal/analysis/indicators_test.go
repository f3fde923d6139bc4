package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trade-mentor-server/internal/marketdata"
)

func barsFromCloses(closes []float64) []marketdata.Bar {
	bars := make([]marketdata.Bar, len(closes))
	for i, c := range closes {
		bars[i] = marketdata.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func TestCalculateSMA(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})
	require.InDelta(t, 3, CalculateSMA(bars, 5), 1e-9)
	require.InDelta(t, 4.5, CalculateSMA(bars, 2), 1e-9)

	require.Zero(t, CalculateSMA(bars, 6), "short series yields zero")
	require.Zero(t, CalculateSMA(bars, 0))
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	bars := barsFromCloses([]float64{50, 50, 50, 50, 50, 50, 50, 50})
	require.InDelta(t, 50, CalculateEMA(bars, 5), 1e-9)
	require.Zero(t, CalculateEMA(bars, 9), "short series yields zero")
}

func TestCalculateEMATracksRecentPrices(t *testing.T) {
	rising := barsFromCloses([]float64{10, 10, 10, 10, 10, 20, 20, 20, 20, 20})
	ema := CalculateEMA(rising, 5)
	sma := CalculateSMA(rising, 10)

	// EMA weights recent closes harder than a full-window SMA
	require.Greater(t, ema, sma)
	require.Less(t, ema, 20.0)
}

func TestCalculateVWAP(t *testing.T) {
	bars := []marketdata.Bar{
		{High: 10, Low: 10, Close: 10, Volume: 100},
		{High: 20, Low: 20, Close: 20, Volume: 300},
	}
	require.InDelta(t, 17.5, CalculateVWAP(bars), 1e-9)

	require.Zero(t, CalculateVWAP(nil))
	require.Zero(t, CalculateVWAP([]marketdata.Bar{{Close: 10, Volume: 0}}), "zero volume yields zero")
}

func TestCalculateMomentum(t *testing.T) {
	bars := barsFromCloses([]float64{100, 105, 110})
	require.InDelta(t, 10, CalculateMomentum(bars, 2), 1e-9)

	falling := barsFromCloses([]float64{110, 100})
	require.InDelta(t, -100.0/11.0, CalculateMomentum(falling, 1), 1e-6)

	require.Zero(t, CalculateMomentum(bars, 3), "period longer than series yields zero")
}

func TestCalculateATR(t *testing.T) {
	// Constant 2-point range, no gaps between closes and next opens
	bars := []marketdata.Bar{
		{High: 11, Low: 9, Close: 10},
		{High: 11, Low: 9, Close: 10},
		{High: 11, Low: 9, Close: 10},
		{High: 11, Low: 9, Close: 10},
	}
	require.InDelta(t, 2, CalculateATR(bars, 3), 1e-9)

	// A gap up widens the true range beyond the bar's own span
	gapped := []marketdata.Bar{
		{High: 11, Low: 9, Close: 10},
		{High: 16, Low: 15, Close: 15},
	}
	require.InDelta(t, 6, CalculateATR(gapped, 1), 1e-9)
}
