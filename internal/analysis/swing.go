package analysis

import (
	"sort"

	"trade-mentor-server/internal/marketdata"
)

// SwingConfig controls swing detection and clustering for one timeframe
type SwingConfig struct {
	Lookback         int     // bars required on each side of an extremum
	TolerancePercent float64 // cluster width as percent of price
	MinTouches       int     // clusters below this are dropped
}

// DefaultSwingConfig returns per-timeframe defaults: tighter tolerance on
// short timeframes, wider on daily.
func DefaultSwingConfig(timeframe marketdata.Timeframe) SwingConfig {
	switch timeframe {
	case marketdata.TF1m, marketdata.TF5m:
		return SwingConfig{Lookback: 3, TolerancePercent: 0.15, MinTouches: 2}
	case marketdata.TF15m:
		return SwingConfig{Lookback: 4, TolerancePercent: 0.25, MinTouches: 2}
	case marketdata.TF1h, marketdata.TF4h:
		return SwingConfig{Lookback: 5, TolerancePercent: 0.4, MinTouches: 2}
	case marketdata.TF1d:
		return SwingConfig{Lookback: 5, TolerancePercent: 0.75, MinTouches: 2}
	default:
		return SwingConfig{Lookback: 5, TolerancePercent: 0.3, MinTouches: 2}
	}
}

// swingStrength derives cluster strength from touch count
func swingStrength(touchCount int) float64 {
	strength := 60.0 + 10.0*float64(touchCount)
	if strength > 100 {
		strength = 100
	}
	return strength
}

// DetectSwingPoints finds local extrema in a bar series and clusters them
// into levels. A bar is a swing high iff its high is >= every high within
// lookback bars on both sides; lows are the mirror with <=. Pure and
// deterministic; fewer bars than 2*lookback+1 yields an empty result.
func DetectSwingPoints(bars []marketdata.Bar, timeframe marketdata.Timeframe, cfg SwingConfig) []SwingPoint {
	if cfg.Lookback <= 0 || len(bars) < 2*cfg.Lookback+1 {
		return nil
	}

	raw := make([]SwingPoint, 0)

	for i := cfg.Lookback; i < len(bars)-cfg.Lookback; i++ {
		isHigh := true
		isLow := true
		for j := i - cfg.Lookback; j <= i+cfg.Lookback; j++ {
			if j == i {
				continue
			}
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}

		if isHigh {
			raw = append(raw, SwingPoint{
				Price:      bars[i].High,
				Type:       SwingHigh,
				Timestamp:  bars[i].CloseTime,
				TouchCount: 1,
				Timeframe:  timeframe,
			})
		}
		if isLow {
			raw = append(raw, SwingPoint{
				Price:      bars[i].Low,
				Type:       SwingLow,
				Timestamp:  bars[i].CloseTime,
				TouchCount: 1,
				Timeframe:  timeframe,
			})
		}
	}

	return clusterSwings(raw, cfg)
}

// clusterSwings merges same-type swings whose prices fall within tolerance,
// averaging the price and counting touches. Clusters with fewer than
// MinTouches touches are dropped.
func clusterSwings(raw []SwingPoint, cfg SwingConfig) []SwingPoint {
	clusters := make([]SwingPoint, 0)
	sums := make([]float64, 0)

	for _, swing := range raw {
		merged := false
		for i := range clusters {
			if clusters[i].Type != swing.Type {
				continue
			}
			if withinTolerance(swing.Price, clusters[i].Price, cfg.TolerancePercent) {
				sums[i] += swing.Price
				clusters[i].TouchCount++
				clusters[i].Price = sums[i] / float64(clusters[i].TouchCount)
				if swing.Timestamp > clusters[i].Timestamp {
					clusters[i].Timestamp = swing.Timestamp
				}
				merged = true
				break
			}
		}
		if !merged {
			clusters = append(clusters, swing)
			sums = append(sums, swing.Price)
		}
	}

	result := make([]SwingPoint, 0, len(clusters))
	for _, c := range clusters {
		if c.TouchCount < cfg.MinTouches {
			continue
		}
		c.Strength = swingStrength(c.TouchCount)
		result = append(result, c)
	}

	// Strongest first, most recent breaking ties
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Strength != result[j].Strength {
			return result[i].Strength > result[j].Strength
		}
		return result[i].Timestamp > result[j].Timestamp
	})

	return result
}

// MergeMTFLevels merges a higher-timeframe level list with a lower-timeframe
// one. When prices coincide within tolerance the touch counts are summed,
// strength gets a +15 confluence boost (capped at 100), and the higher
// timeframe's label wins. Output is sorted by strength desc, then touch
// count desc.
func MergeMTFLevels(higher, lower []SwingPoint, tolerancePercent float64) []SwingPoint {
	merged := make([]SwingPoint, len(higher))
	copy(merged, higher)
	consumed := make([]bool, len(lower))

	for i := range merged {
		for j, lo := range lower {
			if consumed[j] || lo.Type != merged[i].Type {
				continue
			}
			if withinTolerance(lo.Price, merged[i].Price, tolerancePercent) {
				merged[i].TouchCount += lo.TouchCount
				merged[i].Strength += 15
				if merged[i].Strength > 100 {
					merged[i].Strength = 100
				}
				consumed[j] = true
			}
		}
	}

	for j, lo := range lower {
		if !consumed[j] {
			merged = append(merged, lo)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Strength != merged[j].Strength {
			return merged[i].Strength > merged[j].Strength
		}
		return merged[i].TouchCount > merged[j].TouchCount
	})

	return merged
}

func withinTolerance(a, b, tolerancePercent float64) bool {
	if b == 0 {
		return false
	}
	return abs(a-b)/b*100.0 <= tolerancePercent
}
