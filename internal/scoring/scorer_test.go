package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/marketdata"
)

func insideBars(base float64, count int) []marketdata.Bar {
	// One wide bar followed by progressively tighter inside bars
	bars := []marketdata.Bar{
		{Open: base, High: base * 1.01, Low: base * 0.99, Close: base, OpenTime: time.Now().Add(-10 * time.Minute).UnixMilli()},
	}
	high, low := base*1.01, base*0.99
	for i := 0; i < count; i++ {
		high = base + (high-base)*0.6
		low = base - (base-low)*0.6
		bars = append(bars, marketdata.Bar{
			Open: base, High: high, Low: low, Close: base,
			OpenTime: time.Now().Add(time.Duration(i-9) * time.Minute).UnixMilli(),
		})
	}
	return bars
}

func TestConfluenceRounding(t *testing.T) {
	s := NewScorer(Config{})

	// 0.35*90 + 0.35*70 + 0.30*90 = 31.5 + 24.5 + 27 = 83
	assert.Equal(t, 83, s.Confluence(90, 70, 90))
	// 0.35*50 + 0.35*50 + 0.30*51 = 17.5 + 17.5 + 15.3 = 50.3 -> 50
	assert.Equal(t, 50, s.Confluence(50, 50, 51))
	assert.Equal(t, 0, s.Confluence(0, 0, 0))
	assert.Equal(t, 100, s.Confluence(100, 100, 100))
}

func TestLevelScoreProximity(t *testing.T) {
	s := NewScorer(Config{LevelTolerancePercent: 0.5})

	levels := []analysis.KeyLevel{
		{Type: analysis.LevelSupport, Price: 100.0, Timeframe: marketdata.TF1h, Strength: 90},
		{Type: analysis.LevelResistance, Price: 110.0, Timeframe: marketdata.TF1h, Strength: 80},
	}

	// Right on the level: full strength
	score, primary := s.LevelScore(100.0, levels)
	require.NotNil(t, primary)
	assert.Equal(t, 100.0, primary.Price)
	assert.InDelta(t, 90, score, 0.01)

	// Near the level scores less but keeps the primary
	nearScore, nearPrimary := s.LevelScore(100.3, levels)
	require.NotNil(t, nearPrimary)
	assert.Less(t, nearScore, score)
	assert.Greater(t, nearScore, 0.0)

	// Far from every level: no primary, near-zero score
	farScore, farPrimary := s.LevelScore(105.0, levels)
	assert.Nil(t, farPrimary)
	assert.Equal(t, 0.0, farScore)

	// No levels at all
	score, primary = s.LevelScore(100.0, nil)
	assert.Nil(t, primary)
	assert.Equal(t, 0.0, score)
}

func TestTrendScoreWeightedAgreement(t *testing.T) {
	s := NewScorer(Config{})

	analyses := []analysis.MTFAnalysis{
		{Timeframe: marketdata.TF1m, Trend: analysis.TrendBullish},
		{Timeframe: marketdata.TF5m, Trend: analysis.TrendBullish},
		{Timeframe: marketdata.TF15m, Trend: analysis.TrendBullish},
		{Timeframe: marketdata.TF1h, Trend: analysis.TrendBullish},
		{Timeframe: marketdata.TF1d, Trend: analysis.TrendNeutral},
	}

	// 4 of 5 bullish with the daily neutral: (1+1.5+2+2.5)/10 = 70
	score := s.TrendScore(analyses, DirectionBullish)
	assert.InDelta(t, 70, score, 0.01)

	// All aligned
	analyses[4].Trend = analysis.TrendBullish
	assert.InDelta(t, 100, s.TrendScore(analyses, DirectionBullish), 0.01)

	// Opposite direction gets zero agreement
	assert.InDelta(t, 0, s.TrendScore(analyses, DirectionBearish), 0.01)

	assert.Equal(t, 0.0, s.TrendScore(nil, DirectionBullish))
}

func TestChooseDirection(t *testing.T) {
	s := NewScorer(Config{})

	bearish := []analysis.MTFAnalysis{
		{Timeframe: marketdata.TF1m, Trend: analysis.TrendBullish},
		{Timeframe: marketdata.TF1h, Trend: analysis.TrendBearish},
		{Timeframe: marketdata.TF1d, Trend: analysis.TrendBearish},
	}
	assert.Equal(t, DirectionBearish, s.ChooseDirection(bearish))

	// Tie broken by momentum sign
	tied := []analysis.MTFAnalysis{
		{Timeframe: marketdata.TF1m, Trend: analysis.TrendBullish, Momentum: -2},
		{Timeframe: marketdata.TF1m, Trend: analysis.TrendBearish, Momentum: 0},
	}
	assert.Equal(t, DirectionBearish, s.ChooseDirection(tied))
}

func TestPatienceScore(t *testing.T) {
	s := NewScorer(Config{LevelTolerancePercent: 0.5})
	level := &analysis.KeyLevel{Type: analysis.LevelSupport, Price: 100.0, Strength: 90}

	// Three consecutive inside bars at the level
	score, count, detected := s.PatienceScore(insideBars(100.0, 3), level)
	assert.True(t, detected)
	assert.Equal(t, 3, count)
	assert.InDelta(t, 90, score, 0.01) // 70 + 10*2

	// A single patience candle scores the base
	score, count, detected = s.PatienceScore(insideBars(100.0, 1), level)
	assert.True(t, detected)
	assert.Equal(t, 1, count)
	assert.InDelta(t, 70, score, 0.01)

	// Capped at 100
	score, _, _ = s.PatienceScore(insideBars(100.0, 8), level)
	assert.Equal(t, 100.0, score)

	// Consolidation far from the level does not count
	_, _, detected = s.PatienceScore(insideBars(100.0, 3), &analysis.KeyLevel{Price: 120.0, Strength: 90})
	assert.False(t, detected)

	// Expanding range breaks the streak
	expanding := []marketdata.Bar{
		{High: 101, Low: 99, Close: 100},
		{High: 102, Low: 98, Close: 100},
	}
	_, count, detected = s.PatienceScore(expanding, level)
	assert.False(t, detected)
	assert.Equal(t, 0, count)

	_, _, detected = s.PatienceScore(nil, level)
	assert.False(t, detected)
}

func TestStageRequiresThresholdAndPatience(t *testing.T) {
	s := NewScorer(Config{ReadyThreshold: 70})
	params := &TradeParams{Entry: 100, Stop: 99}

	// Below threshold stays forming even with patience
	assert.Equal(t, StageForming, s.StageFor(65, true, DirectionBullish, 99.5, params))

	// At threshold without patience stays forming
	assert.Equal(t, StageForming, s.StageFor(80, false, DirectionBullish, 99.5, params))

	// Both satisfied, price below entry: ready
	assert.Equal(t, StageReady, s.StageFor(80, true, DirectionBullish, 99.5, params))

	// Price through the entry: triggered
	assert.Equal(t, StageTriggered, s.StageFor(80, true, DirectionBullish, 100.5, params))
	assert.Equal(t, StageTriggered, s.StageFor(80, true, DirectionBearish, 99.5, params))
}

func TestGradeThresholds(t *testing.T) {
	assert.Equal(t, "A+", Grade(95))
	assert.Equal(t, "A+", Grade(90))
	assert.Equal(t, "A", Grade(85))
	assert.Equal(t, "B+", Grade(75))
	assert.Equal(t, "B", Grade(70))
	assert.Equal(t, "C", Grade(60))
	assert.Equal(t, "D", Grade(50))
	assert.Equal(t, "F", Grade(49))
}

func TestCalculateTradeParams(t *testing.T) {
	level := &analysis.KeyLevel{Type: analysis.LevelSupport, Price: 100.0, Strength: 90}
	bars := []marketdata.Bar{
		{High: 100.6, Low: 99.4, Close: 100},
		{High: 100.4, Low: 99.6, Close: 100},
		{High: 100.3, Low: 99.7, Close: 100},
	}

	params := CalculateTradeParams(DirectionBullish, level, bars)
	require.NotNil(t, params)
	assert.Equal(t, 100.0, params.Entry)
	assert.InDelta(t, 99.4, params.Stop, 0.001)
	risk := params.Entry - params.Stop
	assert.InDelta(t, params.Entry+risk, params.Target1R, 0.001)
	assert.InDelta(t, params.Entry+2*risk, params.Target2R, 0.001)
	assert.InDelta(t, params.Entry+3*risk, params.Target3R, 0.001)

	// Bearish mirrors above the entry
	short := CalculateTradeParams(DirectionBearish, level, bars)
	require.NotNil(t, short)
	assert.Greater(t, short.Stop, short.Entry)
	assert.Less(t, short.Target1R, short.Entry)

	// No usable range falls back to a fixed stop distance
	fallback := CalculateTradeParams(DirectionBullish, level, nil)
	require.NotNil(t, fallback)
	assert.InDelta(t, 99.5, fallback.Stop, 0.001)

	assert.Nil(t, CalculateTradeParams(DirectionBullish, nil, bars))
}

func TestScoreEndToEnd(t *testing.T) {
	s := NewScorer(Config{LevelTolerancePercent: 0.5, ReadyThreshold: 70})

	result := &analysis.MTFResult{
		Symbol: "SPY",
		Analyses: []analysis.MTFAnalysis{
			{Timeframe: marketdata.TF1m, Trend: analysis.TrendBullish},
			{Timeframe: marketdata.TF5m, Trend: analysis.TrendBullish},
			{Timeframe: marketdata.TF15m, Trend: analysis.TrendBullish},
			{Timeframe: marketdata.TF1h, Trend: analysis.TrendBullish},
			{Timeframe: marketdata.TF1d, Trend: analysis.TrendNeutral},
		},
		Levels: []analysis.KeyLevel{
			{Type: analysis.LevelSupport, Price: 100.0, Timeframe: marketdata.TF1h, Strength: 90},
		},
	}

	setup := s.Score("SPY", 100.0, result, insideBars(100.0, 3))
	require.NotNil(t, setup)

	// level 90, trend 70, patience 90 -> confluence 83, ready
	assert.Equal(t, 83, setup.ConfluenceScore)
	assert.Equal(t, DirectionBullish, setup.Direction)
	assert.Equal(t, StageReady, setup.Stage)
	assert.Equal(t, "B+", setup.Grade)
	assert.Equal(t, 3, setup.PatienceCandles)
	require.NotNil(t, setup.PrimaryLevel)
	require.NotNil(t, setup.TradeParams)
	assert.Equal(t, 100.0, setup.TradeParams.Entry)
	assert.NotEmpty(t, setup.CoachNote)
	assert.False(t, setup.DetectedAt.IsZero())
}

func TestScoreNoLevelsStaysForming(t *testing.T) {
	s := NewScorer(Config{})

	result := &analysis.MTFResult{
		Symbol: "QQQ",
		Analyses: []analysis.MTFAnalysis{
			{Timeframe: marketdata.TF5m, Trend: analysis.TrendBullish},
			{Timeframe: marketdata.TF1h, Trend: analysis.TrendBullish},
		},
	}

	setup := s.Score("QQQ", 430.0, result, insideBars(430.0, 2))
	assert.Equal(t, StageForming, setup.Stage)
	assert.Nil(t, setup.PrimaryLevel)
	assert.Nil(t, setup.TradeParams)
	assert.NotEmpty(t, setup.CoachNote)
}
