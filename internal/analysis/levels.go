package analysis

import (
	"sort"

	"trade-mentor-server/internal/marketdata"
)

// ComputeKeyLevels derives the candidate level set for one timeframe:
// clustered swing support/resistance plus VWAP and EMA reference prices.
// Produced fresh each analysis cycle; never persisted as-is.
func ComputeKeyLevels(bars []marketdata.Bar, timeframe marketdata.Timeframe) []KeyLevel {
	if len(bars) == 0 {
		return nil
	}

	levels := make([]KeyLevel, 0, 8)

	swings := DetectSwingPoints(bars, timeframe, DefaultSwingConfig(timeframe))
	for _, s := range swings {
		levelType := LevelSupport
		if s.Type == SwingHigh {
			levelType = LevelResistance
		}
		levels = append(levels, KeyLevel{
			Type:      levelType,
			Price:     s.Price,
			Timeframe: timeframe,
			Strength:  s.Strength,
		})
	}

	if vwap := CalculateVWAP(bars); vwap > 0 {
		levels = append(levels, KeyLevel{
			Type:      LevelVWAP,
			Price:     vwap,
			Timeframe: timeframe,
			Strength:  70,
		})
	}

	if ema := CalculateEMA(bars, 21); ema > 0 {
		levels = append(levels, KeyLevel{
			Type:      LevelEMA,
			Price:     ema,
			Timeframe: timeframe,
			Strength:  60,
		})
	}

	if sma := CalculateSMA(bars, 50); sma > 0 {
		levels = append(levels, KeyLevel{
			Type:      LevelEMA,
			Price:     sma,
			Timeframe: timeframe,
			Strength:  55,
		})
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Strength > levels[j].Strength
	})

	return levels
}

// PriorSessionLevels extracts the prior completed bar's high/low as levels.
// Intended for the daily series, where those are the prior day's extremes.
func PriorSessionLevels(daily []marketdata.Bar) []KeyLevel {
	if len(daily) < 2 {
		return nil
	}

	prior := daily[len(daily)-2]
	return []KeyLevel{
		{Type: LevelPriorHigh, Price: prior.High, Timeframe: marketdata.TF1d, Strength: 80},
		{Type: LevelPriorLow, Price: prior.Low, Timeframe: marketdata.TF1d, Strength: 80},
	}
}
