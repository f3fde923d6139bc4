package pricebridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-mentor-server/internal/analysis"
)

func TestCoachingLevelCross(t *testing.T) {
	e := NewCoachingEngine(0.01)
	e.SetLevels("SPY", []analysis.KeyLevel{
		{Type: analysis.LevelResistance, Price: 510.0, Strength: 85},
	})

	// Establish the previous price well away from the level
	assert.Empty(t, e.Evaluate("SPY", 505.0))

	signals := e.Evaluate("SPY", 510.5)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalLevelCross, signals[0].Kind)
	assert.Contains(t, signals[0].Note, "up through")

	// Same cross inside the cooldown stays quiet
	assert.Empty(t, e.Evaluate("SPY", 509.5))
}

func TestCoachingVWAPCrossKind(t *testing.T) {
	e := NewCoachingEngine(0.01)
	e.SetLevels("QQQ", []analysis.KeyLevel{
		{Type: analysis.LevelVWAP, Price: 430.0, Strength: 70},
	})

	e.Evaluate("QQQ", 432.0)
	signals := e.Evaluate("QQQ", 429.0)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalVWAPCross, signals[0].Kind)
	assert.Contains(t, signals[0].Note, "VWAP")
}

func TestCoachingApproachWithoutCross(t *testing.T) {
	e := NewCoachingEngine(0.5)
	e.SetLevels("AAPL", []analysis.KeyLevel{
		{Type: analysis.LevelSupport, Price: 200.0, Strength: 80},
	})

	signals := e.Evaluate("AAPL", 200.6)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalLevelApproach, signals[0].Kind)

	// Re-approach inside the cooldown is deduped
	assert.Empty(t, e.Evaluate("AAPL", 200.7))
}

func TestCoachingNoLevelsIsQuiet(t *testing.T) {
	e := NewCoachingEngine(0.5)
	assert.Empty(t, e.Evaluate("TSLA", 250.0))
}

func TestCoachingGammaRegimeFlip(t *testing.T) {
	e := NewCoachingEngine(0.01)
	e.SetGammaFlip("spx", 5000.0)

	assert.Empty(t, e.Evaluate("SPX", 5010.0))

	signals := e.Evaluate("SPX", 4990.0)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalGammaFlip, signals[0].Kind)
	assert.Contains(t, signals[0].Note, "negative gamma")

	// Clearing the level stops further flips
	e.SetGammaFlip("SPX", 0)
	assert.Empty(t, e.Evaluate("SPX", 5011.0))
}
