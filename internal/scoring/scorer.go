package scoring

import (
	"fmt"
	"math"
	"time"

	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/marketdata"
)

// Confluence weights. The combined score is always
// round(0.35*level + 0.35*trend + 0.30*patience).
const (
	levelWeight    = 0.35
	trendWeight    = 0.35
	patienceWeight = 0.30
)

// timeframe weights for trend agreement; higher timeframes count more
var trendTFWeights = map[marketdata.Timeframe]float64{
	marketdata.TF1m:  1.0,
	marketdata.TF5m:  1.5,
	marketdata.TF15m: 2.0,
	marketdata.TF1h:  2.5,
	marketdata.TF4h:  2.5,
	marketdata.TF1d:  3.0,
}

// Scorer computes Level/Trend/Patience sub-scores and combines them.
// Pure; all methods are deterministic over their inputs.
type Scorer struct {
	levelTolerancePercent float64 // proximity window for the level score
	readyThreshold        int     // confluence needed for stage=ready
	patienceBase          float64 // score for a single patience candle
	patienceBonus         float64 // added per extra consecutive candle
}

// Config holds tunable scorer parameters
type Config struct {
	LevelTolerancePercent float64
	ReadyThreshold        int
}

// NewScorer creates a scorer; zero-valued config fields fall back to defaults
func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		levelTolerancePercent: cfg.LevelTolerancePercent,
		readyThreshold:        cfg.ReadyThreshold,
		patienceBase:          70,
		patienceBonus:         10,
	}
	if s.levelTolerancePercent <= 0 {
		s.levelTolerancePercent = 0.5
	}
	if s.readyThreshold <= 0 {
		s.readyThreshold = 70
	}
	return s
}

// ReadyThreshold returns the confluence threshold for stage=ready
func (s *Scorer) ReadyThreshold() int {
	return s.readyThreshold
}

// LevelScore scores proximity to the nearest high-strength key level.
// Closer and stronger levels score higher; no level within tolerance
// yields a near-zero score. Returns the chosen primary level, if any.
func (s *Scorer) LevelScore(price float64, levels []analysis.KeyLevel) (float64, *analysis.KeyLevel) {
	if price <= 0 || len(levels) == 0 {
		return 0, nil
	}

	best := -1.0
	var primary *analysis.KeyLevel

	for i := range levels {
		lvl := levels[i]
		distPct := math.Abs(price-lvl.Price) / price * 100.0

		var score float64
		if distPct <= s.levelTolerancePercent {
			proximity := 1.0 - distPct/s.levelTolerancePercent
			score = lvl.Strength * (0.4 + 0.6*proximity)
		} else if distPct <= 2*s.levelTolerancePercent {
			// Just outside the window still registers, barely
			score = 10.0 * (1.0 - (distPct-s.levelTolerancePercent)/s.levelTolerancePercent)
		} else {
			continue
		}

		if score > best {
			best = score
			primary = &levels[i]
		}
	}

	if best < 0 {
		return 0, nil
	}
	if best > 100 {
		best = 100
	}

	// Primary only counts when price is actually inside the window
	if primary != nil {
		distPct := math.Abs(price-primary.Price) / price * 100.0
		if distPct > s.levelTolerancePercent {
			primary = nil
		}
	}

	return best, primary
}

// ChooseDirection picks the candidate direction by weighted timeframe vote.
// A tie falls back to the sign of aggregate momentum.
func (s *Scorer) ChooseDirection(analyses []analysis.MTFAnalysis) Direction {
	var bullish, bearish, momentum float64
	for _, a := range analyses {
		w := trendTFWeights[a.Timeframe]
		if w == 0 {
			w = 1
		}
		switch a.Trend {
		case analysis.TrendBullish:
			bullish += w
		case analysis.TrendBearish:
			bearish += w
		}
		momentum += a.Momentum * w
	}

	if bullish > bearish {
		return DirectionBullish
	}
	if bearish > bullish {
		return DirectionBearish
	}
	if momentum < 0 {
		return DirectionBearish
	}
	return DirectionBullish
}

// TrendScore measures weighted timeframe agreement with a direction.
// Neutral or missing timeframes contribute weight to the denominator only,
// degrading the score rather than erroring.
func (s *Scorer) TrendScore(analyses []analysis.MTFAnalysis, direction Direction) float64 {
	if len(analyses) == 0 {
		return 0
	}

	want := analysis.TrendBullish
	if direction == DirectionBearish {
		want = analysis.TrendBearish
	}

	var agree, total float64
	for _, a := range analyses {
		w := trendTFWeights[a.Timeframe]
		if w == 0 {
			w = 1
		}
		total += w
		if a.Trend == want {
			agree += w
		}
	}

	if total == 0 {
		return 0
	}
	return agree / total * 100.0
}

// PatienceScore rewards consolidation at a key level: an inside bar
// ("patience candle") whose range is contained within the prior bar's range,
// with a bonus for multiple consecutive patience candles. Returns the score,
// the consecutive candle count, and whether patience is confirmed.
func (s *Scorer) PatienceScore(bars []marketdata.Bar, level *analysis.KeyLevel) (float64, int, bool) {
	if len(bars) < 2 || level == nil {
		return 0, 0, false
	}

	// Count consecutive inside bars from the end of the series
	count := 0
	for i := len(bars) - 1; i > 0; i-- {
		cur, prev := bars[i], bars[i-1]
		if cur.High <= prev.High && cur.Low >= prev.Low {
			count++
		} else {
			break
		}
	}

	if count == 0 {
		return 0, 0, false
	}

	// Consolidation only counts at the level itself
	last := bars[len(bars)-1]
	distPct := math.Abs(last.Close-level.Price) / last.Close * 100.0
	if distPct > s.levelTolerancePercent*2 {
		return 0, count, false
	}

	score := s.patienceBase + s.patienceBonus*float64(count-1)
	if score > 100 {
		score = 100
	}

	return score, count, true
}

// Confluence combines the sub-scores into the rounded weighted total
func (s *Scorer) Confluence(level, trend, patience float64) int {
	return int(math.Round(levelWeight*level + trendWeight*trend + patienceWeight*patience))
}

// StageFor resolves a setup's stage from its confluence, patience, and price
// position. Ready requires both the threshold and confirmed patience;
// triggered additionally requires price through the entry.
func (s *Scorer) StageFor(confluence int, patienceDetected bool, direction Direction, price float64, params *TradeParams) Stage {
	if confluence < s.readyThreshold || !patienceDetected {
		return StageForming
	}
	if params != nil {
		if direction == DirectionBullish && price > params.Entry {
			return StageTriggered
		}
		if direction == DirectionBearish && price < params.Entry {
			return StageTriggered
		}
	}
	return StageReady
}

// Grade converts a confluence score to the Level/Trend/Patience letter grade
func Grade(confluence int) string {
	switch {
	case confluence >= 90:
		return "A+"
	case confluence >= 85:
		return "A"
	case confluence >= 75:
		return "B+"
	case confluence >= 70:
		return "B"
	case confluence >= 60:
		return "C"
	case confluence >= 50:
		return "D"
	default:
		return "F"
	}
}

// CoachNote renders the deterministic coaching blurb for a setup.
// Templating only; never feeds back into scoring.
func CoachNote(setup *DetectedSetup) string {
	if setup.PrimaryLevel == nil {
		return fmt.Sprintf("%s is setting up %s but has no clean level yet. Wait for price to reach a zone before acting.",
			setup.Symbol, setup.Direction)
	}

	side := "support"
	action := "bounce"
	if setup.Direction == DirectionBearish {
		side = "resistance"
		action = "rejection"
	}

	switch setup.Stage {
	case StageTriggered:
		return fmt.Sprintf("%s triggered %s off %s %.2f (grade %s). Manage the trade: stop %.2f, first target %.2f.",
			setup.Symbol, setup.Direction, side, setup.PrimaryLevel.Price, setup.Grade,
			setup.TradeParams.Stop, setup.TradeParams.Target1R)
	case StageReady:
		return fmt.Sprintf("%s is ready: %d patience candle(s) at %s %s %.2f with %s alignment (grade %s). Plan the %s entry at %.2f.",
			setup.Symbol, setup.PatienceCandles, setup.PrimaryLevel.Timeframe, side,
			setup.PrimaryLevel.Price, setup.Direction, setup.Grade, action, setup.TradeParams.Entry)
	default:
		return fmt.Sprintf("%s is forming a %s setup near %s %.2f (grade %s). Be patient; wait for consolidation to confirm.",
			setup.Symbol, setup.Direction, side, setup.PrimaryLevel.Price, setup.Grade)
	}
}

// Score runs the full scoring pipeline for one symbol. Pure over its inputs
// aside from the DetectedAt timestamp.
func (s *Scorer) Score(symbol string, price float64, result *analysis.MTFResult, patienceBars []marketdata.Bar) *DetectedSetup {
	levelScore, primary := s.LevelScore(price, result.Levels)
	direction := s.ChooseDirection(result.Analyses)
	trendScore := s.TrendScore(result.Analyses, direction)
	patienceScore, candles, patienceDetected := s.PatienceScore(patienceBars, primary)

	confluence := s.Confluence(levelScore, trendScore, patienceScore)

	setup := &DetectedSetup{
		Symbol:          symbol,
		Direction:       direction,
		ConfluenceScore: confluence,
		LevelScore:      int(math.Round(levelScore)),
		TrendScore:      int(math.Round(trendScore)),
		PatienceScore:   int(math.Round(patienceScore)),
		PrimaryLevel:    primary,
		PatienceCandles: candles,
		Grade:           Grade(confluence),
		DetectedAt:      time.Now(),
	}

	if primary != nil {
		setup.TradeParams = CalculateTradeParams(direction, primary, patienceBars)
	}
	setup.Stage = s.StageFor(confluence, patienceDetected, direction, price, setup.TradeParams)
	setup.CoachNote = CoachNote(setup)

	return setup
}
