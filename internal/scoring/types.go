package scoring

import (
	"time"

	"trade-mentor-server/internal/analysis"
)

// Direction is the candidate trade direction for a setup
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Stage tracks a setup's lifecycle: forming -> ready -> triggered,
// monotonic forward within one detection lifecycle.
type Stage string

const (
	StageForming   Stage = "forming"
	StageReady     Stage = "ready"
	StageTriggered Stage = "triggered"
)

// TradeParams holds derived entry/stop/target prices using fixed
// risk-multiple targets (1R/2R/3R)
type TradeParams struct {
	Entry    float64 `json:"entry"`
	Stop     float64 `json:"stop"`
	Target1R float64 `json:"target_1r"`
	Target2R float64 `json:"target_2r"`
	Target3R float64 `json:"target_3r"`
}

// DetectedSetup is the output of one analysis run for a symbol.
// Never mutated in place; the next run replaces it wholesale.
type DetectedSetup struct {
	Symbol          string             `json:"symbol"`
	Direction       Direction          `json:"direction"`
	Stage           Stage              `json:"stage"`
	ConfluenceScore int                `json:"confluence_score"`
	LevelScore      int                `json:"level_score"`
	TrendScore      int                `json:"trend_score"`
	PatienceScore   int                `json:"patience_score"`
	PrimaryLevel    *analysis.KeyLevel `json:"primary_level,omitempty"`
	PatienceCandles int                `json:"patience_candles"`
	TradeParams     *TradeParams       `json:"trade_params,omitempty"`
	Grade           string             `json:"grade"`
	CoachNote       string             `json:"coach_note"`
	DetectedAt      time.Time          `json:"detected_at"`
}
