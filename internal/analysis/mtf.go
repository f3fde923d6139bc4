package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade-mentor-server/internal/marketdata"
)

// minTrendBars is the minimum series length for a directional read.
// Shorter series produce a neutral, range-bound analysis instead of an error.
const minTrendBars = 21

// AnalyzeTimeframe computes the per-timeframe directional read from a bar
// series. Degrades to neutral/range on short input.
func AnalyzeTimeframe(bars []marketdata.Bar, timeframe marketdata.Timeframe) MTFAnalysis {
	result := MTFAnalysis{
		Timeframe:   timeframe,
		Trend:       TrendNeutral,
		Structure:   StructureRange,
		EMAPosition: EMAMixed,
	}

	if len(bars) < minTrendBars {
		return result
	}

	price := bars[len(bars)-1].Close
	emaFast := CalculateEMA(bars, 9)
	emaSlow := CalculateEMA(bars, 21)
	result.Momentum = CalculateMomentum(bars, 10)

	switch {
	case price > emaFast && price > emaSlow:
		result.EMAPosition = EMAAbove
	case price < emaFast && price < emaSlow:
		result.EMAPosition = EMABelow
	default:
		result.EMAPosition = EMAMixed
	}

	result.Structure = classifyStructure(bars, timeframe)

	// Trend needs EMA stack and structure to agree; otherwise stay neutral
	if result.EMAPosition == EMAAbove && emaFast > emaSlow && result.Structure != StructureDowntrend {
		result.Trend = TrendBullish
	} else if result.EMAPosition == EMABelow && emaFast < emaSlow && result.Structure != StructureUptrend {
		result.Trend = TrendBearish
	}

	return result
}

// classifyStructure counts higher-highs/lows vs lower-highs/lows among
// recent raw swings
func classifyStructure(bars []marketdata.Bar, timeframe marketdata.Timeframe) Structure {
	cfg := DefaultSwingConfig(timeframe)
	cfg.MinTouches = 1 // raw swings, no cluster filtering for structure
	swings := DetectSwingPoints(bars, timeframe, cfg)
	if len(swings) < 2 {
		return StructureRange
	}

	var highs, lows []SwingPoint
	for _, s := range swings {
		if s.Type == SwingHigh {
			highs = append(highs, s)
		} else {
			lows = append(lows, s)
		}
	}
	// Detection output is strength-ordered; restore chronological order
	sortByTime(highs)
	sortByTime(lows)

	hh, lh := countRising(highs)
	hl, ll := countRising(lows)

	if hh+hl > lh+ll && hh > 0 && hl > 0 {
		return StructureUptrend
	}
	if lh+ll > hh+hl && lh > 0 && ll > 0 {
		return StructureDowntrend
	}
	return StructureRange
}

func sortByTime(swings []SwingPoint) {
	for i := 1; i < len(swings); i++ {
		for j := i; j > 0 && swings[j].Timestamp < swings[j-1].Timestamp; j-- {
			swings[j], swings[j-1] = swings[j-1], swings[j]
		}
	}
}

// countRising returns (rising, falling) transition counts between
// consecutive swings
func countRising(swings []SwingPoint) (int, int) {
	rising, falling := 0, 0
	for i := 1; i < len(swings); i++ {
		if swings[i].Price > swings[i-1].Price {
			rising++
		} else if swings[i].Price < swings[i-1].Price {
			falling++
		}
	}
	return rising, falling
}

// ============================================================================
// Multi-timeframe orchestration
// ============================================================================

// BarCache caches bar series per (symbol, timeframe) with per-timeframe TTLs
type BarCache struct {
	data map[string]*barCacheEntry
	mu   sync.RWMutex
}

type barCacheEntry struct {
	bars      []marketdata.Bar
	expiresAt time.Time
}

// NewBarCache creates an empty cache
func NewBarCache() *BarCache {
	return &BarCache{data: make(map[string]*barCacheEntry)}
}

// Get returns cached bars or nil when absent/expired
func (c *BarCache) Get(key string) []marketdata.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.bars
}

// Set stores bars with an expiration
func (c *BarCache) Set(key string, bars []marketdata.Bar, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = &barCacheEntry{bars: bars, expiresAt: time.Now().Add(ttl)}
}

// Size returns the number of cached series
func (c *BarCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// MTFAnalyzer orchestrates per-timeframe analysis across the configured
// timeframe set, fetching bars from the provider with caching.
type MTFAnalyzer struct {
	provider   marketdata.Provider
	cache      *BarCache
	timeframes []marketdata.Timeframe
	barLimit   int
}

// MTFResult bundles everything one analysis run produced for a symbol
type MTFResult struct {
	Symbol   string
	Analyses []MTFAnalysis
	Bars     map[marketdata.Timeframe][]marketdata.Bar
	Levels   []KeyLevel
}

// NewMTFAnalyzer creates a multi-timeframe analyzer
func NewMTFAnalyzer(provider marketdata.Provider, timeframes []marketdata.Timeframe, barLimit int) *MTFAnalyzer {
	if barLimit <= 0 {
		barLimit = 100
	}
	if len(timeframes) == 0 {
		timeframes = marketdata.AllTimeframes
	}
	return &MTFAnalyzer{
		provider:   provider,
		cache:      NewBarCache(),
		timeframes: timeframes,
		barLimit:   barLimit,
	}
}

// Analyze runs per-timeframe analysis for a symbol. A failed or short fetch
// for one timeframe contributes a neutral analysis, never an error; the
// method only fails when every timeframe is unavailable.
func (a *MTFAnalyzer) Analyze(ctx context.Context, symbol string) (*MTFResult, error) {
	result := &MTFResult{
		Symbol:   symbol,
		Analyses: make([]MTFAnalysis, 0, len(a.timeframes)),
		Bars:     make(map[marketdata.Timeframe][]marketdata.Bar, len(a.timeframes)),
	}

	fetched := 0
	for _, tf := range a.timeframes {
		bars, err := a.getBars(ctx, symbol, tf)
		if err != nil {
			// Missing timeframe degrades to neutral, the cycle continues
			result.Analyses = append(result.Analyses, MTFAnalysis{
				Timeframe:   tf,
				Trend:       TrendNeutral,
				Structure:   StructureRange,
				EMAPosition: EMAMixed,
			})
			continue
		}
		fetched++
		result.Bars[tf] = bars
		result.Analyses = append(result.Analyses, AnalyzeTimeframe(bars, tf))
	}

	if fetched == 0 {
		return nil, fmt.Errorf("no bar data available for %s", symbol)
	}

	result.Levels = a.buildLevels(result.Bars)
	return result, nil
}

// buildLevels computes key levels per timeframe and merges them highest
// timeframe first
func (a *MTFAnalyzer) buildLevels(bars map[marketdata.Timeframe][]marketdata.Bar) []KeyLevel {
	levels := make([]KeyLevel, 0)

	// Highest timeframe first so merged confluence prefers its label
	for i := len(a.timeframes) - 1; i >= 0; i-- {
		tf := a.timeframes[i]
		series, ok := bars[tf]
		if !ok {
			continue
		}
		levels = append(levels, ComputeKeyLevels(series, tf)...)
		if tf == marketdata.TF1d {
			levels = append(levels, PriorSessionLevels(series)...)
		}
	}

	return levels
}

// Timeframes returns the analyzer's configured timeframe set
func (a *MTFAnalyzer) Timeframes() []marketdata.Timeframe {
	return a.timeframes
}

// CachedSeries reports how many bar series are currently cached
func (a *MTFAnalyzer) CachedSeries() int {
	return a.cache.Size()
}

func (a *MTFAnalyzer) getBars(ctx context.Context, symbol string, tf marketdata.Timeframe) ([]marketdata.Bar, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, tf, a.barLimit)
	if cached := a.cache.Get(key); cached != nil {
		return cached, nil
	}

	bars, err := a.provider.GetAggregates(ctx, symbol, tf, a.barLimit)
	if err != nil {
		return nil, err
	}

	a.cache.Set(key, bars, cacheTTL(tf))
	return bars, nil
}

// cacheTTL returns the cache lifetime appropriate for a timeframe
func cacheTTL(tf marketdata.Timeframe) time.Duration {
	switch tf {
	case marketdata.TF1m:
		return 30 * time.Second
	case marketdata.TF5m:
		return 2 * time.Minute
	case marketdata.TF15m:
		return 5 * time.Minute
	case marketdata.TF1h:
		return 30 * time.Minute
	case marketdata.TF4h:
		return 2 * time.Hour
	case marketdata.TF1d:
		return 12 * time.Hour
	default:
		return time.Minute
	}
}
