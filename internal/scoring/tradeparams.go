package scoring

import (
	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/marketdata"
)

// stop distance as a fraction of the level price when no patience range
// is available to anchor on
const fallbackStopPercent = 0.005

// CalculateTradeParams derives entry, stop, and 1R/2R/3R targets from the
// primary level and the recent consolidation range. Entry sits at the level;
// the stop goes beyond the patience range (or a fixed distance when the
// range is unusable) and targets are whole risk multiples from entry.
func CalculateTradeParams(direction Direction, level *analysis.KeyLevel, bars []marketdata.Bar) *TradeParams {
	if level == nil || level.Price <= 0 {
		return nil
	}

	entry := level.Price

	// Anchor the stop on the tightest recent consolidation range
	var rangeHigh, rangeLow float64
	n := len(bars)
	lookback := 3
	if n < lookback {
		lookback = n
	}
	for i := n - lookback; i < n; i++ {
		if rangeHigh == 0 || bars[i].High > rangeHigh {
			rangeHigh = bars[i].High
		}
		if rangeLow == 0 || bars[i].Low < rangeLow {
			rangeLow = bars[i].Low
		}
	}

	var stop float64
	if direction == DirectionBullish {
		stop = rangeLow
		if stop <= 0 || stop >= entry {
			stop = entry * (1 - fallbackStopPercent)
		}
	} else {
		stop = rangeHigh
		if stop <= 0 || stop <= entry {
			stop = entry * (1 + fallbackStopPercent)
		}
	}

	risk := entry - stop
	if direction == DirectionBearish {
		risk = stop - entry
	}

	params := &TradeParams{Entry: entry, Stop: stop}
	if direction == DirectionBullish {
		params.Target1R = entry + risk
		params.Target2R = entry + 2*risk
		params.Target3R = entry + 3*risk
	} else {
		params.Target1R = entry - risk
		params.Target2R = entry - 2*risk
		params.Target3R = entry - 3*risk
	}

	return params
}
