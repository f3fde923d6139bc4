package analysis

import (
	"trade-mentor-server/internal/marketdata"
)

// CalculateSMA calculates Simple Moving Average over closes
func CalculateSMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average over closes
func CalculateEMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}

	// Seed with SMA of the first period
	ema := CalculateSMA(bars[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// CalculateVWAP calculates the volume-weighted average price across the series
func CalculateVWAP(bars []marketdata.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}

	var cumPV, cumVol float64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3.0
		cumPV += typical * b.Volume
		cumVol += b.Volume
	}

	if cumVol == 0 {
		return 0
	}
	return cumPV / cumVol
}

// CalculateMomentum returns the percent rate of change over the period
func CalculateMomentum(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 0
	}

	past := bars[len(bars)-1-period].Close
	if past == 0 {
		return 0
	}
	current := bars[len(bars)-1].Close

	return (current - past) / past * 100.0
}

// CalculateATR calculates the Average True Range
func CalculateATR(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		tr := bars[i].High - bars[i].Low
		if hc := abs(bars[i].High - bars[i-1].Close); hc > tr {
			tr = hc
		}
		if lc := abs(bars[i].Low - bars[i-1].Close); lc > tr {
			tr = lc
		}
		sum += tr
	}

	return sum / float64(period)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
