package pricebridge

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/events"
)

// SignalKind classifies a coaching trigger
type SignalKind string

const (
	SignalLevelApproach SignalKind = "level_approach"
	SignalLevelCross    SignalKind = "level_cross"
	SignalVWAPCross     SignalKind = "vwap_cross"
	SignalGammaFlip     SignalKind = "gamma_flip"
)

// CoachingSignal is one trigger produced from a price tick
type CoachingSignal struct {
	Kind   SignalKind
	Symbol string
	Price  float64
	Level  analysis.KeyLevel
	Note   string
}

// Event converts the signal to its outbound wire event
func (s CoachingSignal) Event() events.Event {
	if s.Kind == SignalLevelApproach {
		return events.NewLevelApproach(s.Symbol, s.Price, s.Level.Price, string(s.Level.Type))
	}
	return events.NewCoachingUpdate(s.Symbol, string(s.Kind), s.Note, s.Price)
}

// dedupe window: one signal per (symbol, level, kind) inside this interval
const signalCooldown = 5 * time.Minute

// CoachingEngine watches raw ticks for interactions with key levels.
// It runs on every tick, before the broadcast throttle, so a fast cross
// is never lost to coalescing.
type CoachingEngine struct {
	mu          sync.Mutex
	levels      map[string][]analysis.KeyLevel
	gammaFlip   map[string]float64
	lastPrice   map[string]float64
	lastFired   map[string]time.Time
	approachPct float64
}

// NewCoachingEngine creates a coaching engine. approachPct is the distance,
// in percent, at which a level approach fires.
func NewCoachingEngine(approachPct float64) *CoachingEngine {
	if approachPct <= 0 {
		approachPct = 0.25
	}
	return &CoachingEngine{
		levels:      make(map[string][]analysis.KeyLevel),
		gammaFlip:   make(map[string]float64),
		lastPrice:   make(map[string]float64),
		lastFired:   make(map[string]time.Time),
		approachPct: approachPct,
	}
}

// SetLevels replaces the tracked levels for a symbol. Called by the detector
// after each analysis cycle.
func (e *CoachingEngine) SetLevels(symbol string, levels []analysis.KeyLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.levels[strings.ToUpper(symbol)] = levels
}

// SetGammaFlip records the dealer gamma flip level for a symbol. The level
// comes from an external options feed and is pushed in over the admin API;
// zero clears it.
func (e *CoachingEngine) SetGammaFlip(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	if price <= 0 {
		delete(e.gammaFlip, symbol)
		return
	}
	e.gammaFlip[symbol] = price
}

// Evaluate inspects one tick against the symbol's levels and returns any
// triggered signals. Each (level, kind) pair fires at most once per cooldown.
func (e *CoachingEngine) Evaluate(symbol string, price float64) []CoachingSignal {
	symbol = strings.ToUpper(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	levels := e.levels[symbol]
	if g, ok := e.gammaFlip[symbol]; ok {
		levels = append(levels[:len(levels):len(levels)], analysis.KeyLevel{
			Type: analysis.LevelGammaFlip, Price: g, Strength: 100,
		})
	}
	prev := e.lastPrice[symbol]
	e.lastPrice[symbol] = price

	if len(levels) == 0 || price <= 0 {
		return nil
	}

	now := time.Now()
	var signals []CoachingSignal

	for _, lvl := range levels {
		distPct := math.Abs(price-lvl.Price) / price * 100.0

		if distPct <= e.approachPct {
			if e.fireLocked(symbol, lvl, SignalLevelApproach, now) {
				signals = append(signals, CoachingSignal{
					Kind: SignalLevelApproach, Symbol: symbol, Price: price, Level: lvl,
				})
			}
		}

		if prev > 0 && crossed(prev, price, lvl.Price) {
			kind := SignalLevelCross
			switch lvl.Type {
			case analysis.LevelVWAP:
				kind = SignalVWAPCross
			case analysis.LevelGammaFlip:
				kind = SignalGammaFlip
			}
			if e.fireLocked(symbol, lvl, kind, now) {
				signals = append(signals, CoachingSignal{
					Kind: kind, Symbol: symbol, Price: price, Level: lvl,
					Note: crossNote(symbol, price, lvl),
				})
			}
		}
	}

	return signals
}

func (e *CoachingEngine) fireLocked(symbol string, lvl analysis.KeyLevel, kind SignalKind, now time.Time) bool {
	key := fmt.Sprintf("%s:%.4f:%s", symbol, lvl.Price, kind)
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < signalCooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func crossed(prev, cur, level float64) bool {
	return (prev < level && cur >= level) || (prev > level && cur <= level)
}

func crossNote(symbol string, price float64, lvl analysis.KeyLevel) string {
	direction := "up through"
	if price < lvl.Price {
		direction = "down through"
	}
	switch lvl.Type {
	case analysis.LevelVWAP:
		return fmt.Sprintf("%s crossed %s VWAP at %.2f. Watch whether it holds this side.", symbol, direction, lvl.Price)
	case analysis.LevelGammaFlip:
		regime := "positive"
		if price < lvl.Price {
			regime = "negative"
		}
		return fmt.Sprintf("%s crossed its gamma flip at %.2f into %s gamma. Expect %s from here.",
			symbol, lvl.Price, regime, regimeBehavior(regime))
	case analysis.LevelSupport, analysis.LevelPriorLow:
		return fmt.Sprintf("%s moved %s %s at %.2f. A failed hold here changes the structure.", symbol, direction, lvl.Type, lvl.Price)
	default:
		return fmt.Sprintf("%s moved %s %s at %.2f. Watch for acceptance or rejection.", symbol, direction, lvl.Type, lvl.Price)
	}
}

func regimeBehavior(regime string) string {
	if regime == "negative" {
		return "wider ranges and faster moves"
	}
	return "tighter ranges and mean reversion"
}
