package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/marketdata"
	"trade-mentor-server/internal/scoring"
)

// Store persists detection output. A nil store disables persistence without
// affecting the pipeline.
type Store interface {
	UpsertSetup(ctx context.Context, setup *scoring.DetectedSetup) error
	RecordTransition(ctx context.Context, symbol string, from, to scoring.Stage, confluence int) error
}

// LevelSink receives fresh key levels after every analysis cycle.
// Satisfied by the price bridge's coaching engine.
type LevelSink interface {
	SetLevels(symbol string, levels []analysis.KeyLevel)
}

// driver feeds symbols into the detector, either on a poll interval or on
// candle closes. Exactly one driver runs per deployment.
type driver interface {
	start()
	stop()
	watch(symbol string)
	unwatch(symbol string)
}

// Detector runs the analyze/score pipeline over a watchlist and publishes
// setup lifecycle events
type Detector struct {
	provider      marketdata.Provider
	analyzer      *analysis.MTFAnalyzer
	scorer        *scoring.Scorer
	bus           *events.EventBus
	store         Store
	levelSink     LevelSink
	driver        driver
	minConfluence int

	mu        sync.RWMutex
	running   bool
	watchlist map[string]bool
	setups    map[string]*scoring.DetectedSetup

	analysisCount atomic.Int64
	setupCount    atomic.Int64
	pending       atomic.Int64

	logger zerolog.Logger
}

// NewDetector creates a detector over the analysis pipeline. The driver is
// attached separately with UsePoller or UseListener.
func NewDetector(provider marketdata.Provider, analyzer *analysis.MTFAnalyzer, scorer *scoring.Scorer, bus *events.EventBus, store Store, levelSink LevelSink, cfg config.DetectorConfig, minConfluence int, logger zerolog.Logger) *Detector {
	d := &Detector{
		provider:      provider,
		analyzer:      analyzer,
		scorer:        scorer,
		bus:           bus,
		store:         store,
		levelSink:     levelSink,
		minConfluence: minConfluence,
		watchlist:     make(map[string]bool),
		setups:        make(map[string]*scoring.DetectedSetup),
		logger:        logger.With().Str("component", "Detector").Logger(),
	}
	for _, symbol := range cfg.DefaultWatchlist {
		d.watchlist[strings.ToUpper(symbol)] = true
	}
	return d
}

// SetMinConfluence sets the publish floor; setups scoring below it are
// tracked but never broadcast
func (d *Detector) SetMinConfluence(min int) {
	d.minConfluence = min
}

// Start runs the attached driver
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("detector already running")
	}
	if d.driver == nil {
		d.mu.Unlock()
		return fmt.Errorf("no detection driver attached")
	}
	if !d.provider.IsConfigured() {
		d.mu.Unlock()
		return fmt.Errorf("market data provider not configured")
	}
	d.running = true
	size := len(d.watchlist)
	d.mu.Unlock()

	d.driver.start()
	d.logger.Info().Int("watchlist", size).Msg("detector started")
	return nil
}

// Stop halts the driver; in-flight analyses finish
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	// The driver may need the detector mutex to drain, so it is stopped
	// without holding it
	d.driver.stop()
	d.logger.Info().Msg("detector stopped")
}

// IsRunning reports whether the driver is active
func (d *Detector) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// AddSymbol adds a symbol to the watchlist
func (d *Detector) AddSymbol(symbol string) {
	symbol = strings.ToUpper(symbol)

	d.mu.Lock()
	if d.watchlist[symbol] {
		d.mu.Unlock()
		return
	}
	d.watchlist[symbol] = true
	running := d.running
	d.mu.Unlock()

	if running && d.driver != nil {
		d.driver.watch(symbol)
	}
}

// RemoveSymbol drops a symbol from the watchlist and discards its setup
func (d *Detector) RemoveSymbol(symbol string) {
	symbol = strings.ToUpper(symbol)

	d.mu.Lock()
	if !d.watchlist[symbol] {
		d.mu.Unlock()
		return
	}
	delete(d.watchlist, symbol)
	delete(d.setups, symbol)
	running := d.running
	d.mu.Unlock()

	if running && d.driver != nil {
		d.driver.unwatch(symbol)
	}
}

// Watchlist returns the watched symbols, sorted
func (d *Detector) Watchlist() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	symbols := make([]string, 0, len(d.watchlist))
	for symbol := range d.watchlist {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// IsWatched reports whether a symbol is on the watchlist
func (d *Detector) IsWatched(symbol string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.watchlist[strings.ToUpper(symbol)]
}

// Setups returns the latest setup per symbol
func (d *Detector) Setups() []*scoring.DetectedSetup {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*scoring.DetectedSetup, 0, len(d.setups))
	for _, setup := range d.setups {
		out = append(out, setup)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConfluenceScore > out[j].ConfluenceScore
	})
	return out
}

// Setup returns the latest setup for one symbol
func (d *Detector) Setup(symbol string) *scoring.DetectedSetup {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.setups[strings.ToUpper(symbol)]
}

// AnalyzeSymbol runs one full pipeline pass for a symbol: fetch bars, build
// levels, score, publish stage transitions, and persist.
func (d *Detector) AnalyzeSymbol(ctx context.Context, symbol string) (*scoring.DetectedSetup, error) {
	symbol = strings.ToUpper(symbol)

	d.pending.Add(1)
	defer d.pending.Add(-1)

	quote, err := d.provider.GetQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote fetch for %s: %w", symbol, err)
	}

	result, err := d.analyzer.Analyze(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("analysis for %s: %w", symbol, err)
	}

	setup := d.scorer.Score(symbol, quote.Price, result, patienceBars(result))
	d.analysisCount.Add(1)

	if d.levelSink != nil {
		d.levelSink.SetLevels(symbol, result.Levels)
	}

	d.publishTransition(ctx, setup)

	d.mu.Lock()
	d.setups[symbol] = setup
	d.mu.Unlock()

	return setup, nil
}

// publishTransition emits a lifecycle event when a setup newly clears the
// publish floor or changes stage, and records the transition
func (d *Detector) publishTransition(ctx context.Context, setup *scoring.DetectedSetup) {
	if setup.ConfluenceScore < d.minConfluence {
		return
	}

	d.mu.RLock()
	prev := d.setups[setup.Symbol]
	d.mu.RUnlock()

	if prev != nil && prev.Stage == setup.Stage && prev.ConfluenceScore >= d.minConfluence {
		return
	}

	d.setupCount.Add(1)

	eventType := events.EventSetupForming
	switch setup.Stage {
	case scoring.StageReady:
		eventType = events.EventSetupReady
	case scoring.StageTriggered:
		eventType = events.EventSetupTriggered
	}

	d.bus.PublishSetup(eventType, setupPayload(setup))
	d.logger.Info().
		Str("symbol", setup.Symbol).
		Str("stage", string(setup.Stage)).
		Int("confluence", setup.ConfluenceScore).
		Str("grade", setup.Grade).
		Msg("setup transition")

	if d.store != nil {
		if err := d.store.UpsertSetup(ctx, setup); err != nil {
			d.logger.Error().Err(err).Str("symbol", setup.Symbol).Msg("setup persist failed")
		}
		from := scoring.Stage("")
		if prev != nil {
			from = prev.Stage
		}
		if err := d.store.RecordTransition(ctx, setup.Symbol, from, setup.Stage, setup.ConfluenceScore); err != nil {
			d.logger.Error().Err(err).Str("symbol", setup.Symbol).Msg("transition record failed")
		}
	}
}

// Stats reports runtime counters for the control surface
func (d *Detector) Stats() map[string]interface{} {
	d.mu.RLock()
	watchlistSize := len(d.watchlist)
	setupCount := len(d.setups)
	running := d.running
	d.mu.RUnlock()

	return map[string]interface{}{
		"is_running":        running,
		"watchlist_size":    watchlistSize,
		"tracked_setups":    setupCount,
		"analysis_count":    d.analysisCount.Load(),
		"published_setups":  d.setupCount.Load(),
		"pending_analyses":  d.pending.Load(),
		"cached_bar_series": d.analyzer.CachedSeries(),
	}
}

// patienceBars picks the bar series used for patience detection, preferring
// the 5m timeframe
func patienceBars(result *analysis.MTFResult) []marketdata.Bar {
	if bars, ok := result.Bars[marketdata.TF5m]; ok && len(bars) > 0 {
		return bars
	}
	for _, tf := range marketdata.AllTimeframes {
		if bars, ok := result.Bars[tf]; ok && len(bars) > 0 {
			return bars
		}
	}
	return nil
}

func setupPayload(setup *scoring.DetectedSetup) map[string]interface{} {
	payload := map[string]interface{}{
		"symbol":           setup.Symbol,
		"direction":        setup.Direction,
		"stage":            setup.Stage,
		"confluence_score": setup.ConfluenceScore,
		"level_score":      setup.LevelScore,
		"trend_score":      setup.TrendScore,
		"patience_score":   setup.PatienceScore,
		"patience_candles": setup.PatienceCandles,
		"grade":            setup.Grade,
		"coach_note":       setup.CoachNote,
		"detected_at":      setup.DetectedAt.Format(time.RFC3339),
	}
	if setup.PrimaryLevel != nil {
		payload["primary_level"] = setup.PrimaryLevel
	}
	if setup.TradeParams != nil {
		payload["trade_params"] = setup.TradeParams
	}
	return payload
}
