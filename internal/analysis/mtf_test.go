package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trade-mentor-server/internal/marketdata"
)

// fakeProvider serves canned bar series per timeframe and fails the rest
type fakeProvider struct {
	series map[marketdata.Timeframe][]marketdata.Bar
	calls  int
}

func (f *fakeProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	return &marketdata.Quote{Symbol: symbol, Price: 100}, nil
}

func (f *fakeProvider) GetAggregates(ctx context.Context, symbol string, tf marketdata.Timeframe, limit int) ([]marketdata.Bar, error) {
	f.calls++
	bars, ok := f.series[tf]
	if !ok {
		return nil, errors.New("no data")
	}
	return bars, nil
}

func (f *fakeProvider) IsConfigured() bool { return true }

func trendingBars(n int, start, step float64) []marketdata.Bar {
	bars := make([]marketdata.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = marketdata.Bar{
			OpenTime:  int64(i) * 60_000,
			Open:      price,
			High:      price + step + 0.1,
			Low:       price - 0.1,
			Close:     price + step,
			Volume:    1000,
			CloseTime: int64(i+1)*60_000 - 1,
		}
		price += step
	}
	return bars
}

func TestAnalyzeTimeframeShortSeriesIsNeutral(t *testing.T) {
	result := AnalyzeTimeframe(trendingBars(10, 100, 1), marketdata.TF5m)

	require.Equal(t, TrendNeutral, result.Trend)
	require.Equal(t, StructureRange, result.Structure)
	require.Equal(t, EMAMixed, result.EMAPosition)
	require.Zero(t, result.Momentum)
}

func TestAnalyzeTimeframeBullish(t *testing.T) {
	result := AnalyzeTimeframe(trendingBars(40, 100, 1), marketdata.TF1h)

	require.Equal(t, TrendBullish, result.Trend)
	require.Equal(t, EMAAbove, result.EMAPosition)
	require.Greater(t, result.Momentum, 0.0)
}

func TestAnalyzeTimeframeBearish(t *testing.T) {
	result := AnalyzeTimeframe(trendingBars(40, 200, -1), marketdata.TF1h)

	require.Equal(t, TrendBearish, result.Trend)
	require.Equal(t, EMABelow, result.EMAPosition)
	require.Less(t, result.Momentum, 0.0)
}

func TestAnalyzeDegradesMissingTimeframes(t *testing.T) {
	provider := &fakeProvider{
		series: map[marketdata.Timeframe][]marketdata.Bar{
			marketdata.TF5m: trendingBars(40, 100, 1),
		},
	}
	analyzer := NewMTFAnalyzer(provider, []marketdata.Timeframe{marketdata.TF5m, marketdata.TF1h}, 40)

	result, err := analyzer.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	require.Len(t, result.Analyses, 2)

	// The missing 1h series contributes a neutral read, not an error
	for _, a := range result.Analyses {
		if a.Timeframe == marketdata.TF1h {
			require.Equal(t, TrendNeutral, a.Trend)
			require.Equal(t, StructureRange, a.Structure)
		}
	}
	require.NotEmpty(t, result.Levels)
}

func TestAnalyzeFailsOnlyWhenEverythingMissing(t *testing.T) {
	provider := &fakeProvider{series: map[marketdata.Timeframe][]marketdata.Bar{}}
	analyzer := NewMTFAnalyzer(provider, []marketdata.Timeframe{marketdata.TF5m, marketdata.TF1h}, 40)

	_, err := analyzer.Analyze(context.Background(), "SPY")
	require.Error(t, err)
}

func TestAnalyzeUsesBarCache(t *testing.T) {
	provider := &fakeProvider{
		series: map[marketdata.Timeframe][]marketdata.Bar{
			marketdata.TF1h: trendingBars(40, 100, 1),
		},
	}
	analyzer := NewMTFAnalyzer(provider, []marketdata.Timeframe{marketdata.TF1h}, 40)

	_, err := analyzer.Analyze(context.Background(), "SPY")
	require.NoError(t, err)
	_, err = analyzer.Analyze(context.Background(), "SPY")
	require.NoError(t, err)

	require.Equal(t, 1, provider.calls, "second run should hit the cache")
	require.Equal(t, 1, analyzer.CachedSeries())
}

func TestBarCacheExpiry(t *testing.T) {
	cache := NewBarCache()
	bars := trendingBars(5, 100, 1)

	cache.Set("k", bars, 20*time.Millisecond)
	require.NotNil(t, cache.Get("k"))

	time.Sleep(30 * time.Millisecond)
	require.Nil(t, cache.Get("k"))
}

func TestComputeKeyLevelsIncludesReferencePrices(t *testing.T) {
	levels := ComputeKeyLevels(trendingBars(60, 100, 0.5), marketdata.TF1h)
	require.NotEmpty(t, levels)

	types := make(map[LevelType]bool)
	for _, l := range levels {
		types[l.Type] = true
	}
	require.True(t, types[LevelVWAP])
	require.True(t, types[LevelEMA])
}

func TestPriorSessionLevels(t *testing.T) {
	daily := []marketdata.Bar{
		{High: 110, Low: 90, Close: 100},
		{High: 120, Low: 95, Close: 105},
		{High: 118, Low: 101, Close: 102},
	}

	levels := PriorSessionLevels(daily)
	require.Len(t, levels, 2)
	require.Equal(t, LevelPriorHigh, levels[0].Type)
	require.InDelta(t, 120, levels[0].Price, 1e-9)
	require.Equal(t, LevelPriorLow, levels[1].Type)
	require.InDelta(t, 95, levels[1].Price, 1e-9)

	require.Nil(t, PriorSessionLevels(daily[:1]))
}
