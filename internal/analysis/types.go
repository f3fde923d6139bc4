package analysis

import (
	"trade-mentor-server/internal/marketdata"
)

// LevelType classifies a key price level
type LevelType string

const (
	LevelSupport    LevelType = "support"
	LevelResistance LevelType = "resistance"
	LevelVWAP       LevelType = "vwap"
	LevelEMA        LevelType = "ema"
	LevelPriorHigh  LevelType = "prior_high"
	LevelPriorLow   LevelType = "prior_low"
	LevelGammaFlip  LevelType = "gamma_flip"
)

// KeyLevel is a candidate support/resistance/reference price produced fresh
// on each analysis cycle
type KeyLevel struct {
	Type      LevelType            `json:"type"`
	Price     float64              `json:"price"`
	Timeframe marketdata.Timeframe `json:"timeframe"`
	Strength  float64              `json:"strength"` // 0-100
}

// SwingType marks a swing point as a local high or low
type SwingType string

const (
	SwingHigh SwingType = "high"
	SwingLow  SwingType = "low"
)

// SwingPoint is a clustered local price extremum.
// Strength is min(100, 60 + 10*TouchCount).
type SwingPoint struct {
	Price      float64              `json:"price"`
	Type       SwingType            `json:"type"`
	Timestamp  int64                `json:"timestamp"`
	TouchCount int                  `json:"touch_count"`
	Timeframe  marketdata.Timeframe `json:"timeframe"`
	Strength   float64              `json:"strength"`
}

// TrendDirection represents per-timeframe directional bias
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// Structure classifies the shape of price action on one timeframe
type Structure string

const (
	StructureUptrend   Structure = "uptrend"
	StructureDowntrend Structure = "downtrend"
	StructureRange     Structure = "range"
)

// EMAPosition describes price relative to the fast/slow EMA pair
type EMAPosition string

const (
	EMAAbove EMAPosition = "above"
	EMABelow EMAPosition = "below"
	EMAMixed EMAPosition = "mixed"
)

// MTFAnalysis is the per-timeframe analysis result. Ephemeral; one per
// (symbol, timeframe, analysis run).
type MTFAnalysis struct {
	Timeframe   marketdata.Timeframe `json:"timeframe"`
	Trend       TrendDirection       `json:"trend"`
	Structure   Structure            `json:"structure"`
	EMAPosition EMAPosition          `json:"ema_position"`
	Momentum    float64              `json:"momentum"` // rate of change, percent
}
