package detector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-mentor-server/internal/marketdata"
)

// analysisTimeframe is the candle stream that triggers event-driven analysis
const analysisTimeframe = marketdata.TF5m

// Listener triggers analysis on candle closes instead of a timer. Analyses
// are debounced per symbol and capped by a counting semaphore; closes that
// arrive while the cap is full are dropped, not queued.
type Listener struct {
	detector *Detector
	streamer marketdata.Streamer
	debounce time.Duration
	sem      chan struct{}

	mu      sync.Mutex
	lastRun map[string]time.Time
	stopped bool
	dropped int64
	logger  zerolog.Logger
}

// UseListener attaches an event-driven driver to the detector
func (d *Detector) UseListener(streamer marketdata.Streamer, debounce time.Duration, maxConcurrent int) *Listener {
	if debounce <= 0 {
		debounce = 10 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	l := &Listener{
		detector: d,
		streamer: streamer,
		debounce: debounce,
		sem:      make(chan struct{}, maxConcurrent),
		lastRun:  make(map[string]time.Time),
		logger:   d.logger.With().Str("driver", "listener").Logger(),
	}
	d.driver = l
	streamer.OnCandleClose(l.handleCandleClose)
	return l
}

func (l *Listener) start() {
	l.mu.Lock()
	l.stopped = false
	l.mu.Unlock()

	for _, symbol := range l.detector.Watchlist() {
		l.watch(symbol)
	}
	l.logger.Info().
		Dur("debounce", l.debounce).
		Int("max_concurrent", cap(l.sem)).
		Msg("event driver started")
}

func (l *Listener) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	for _, symbol := range l.detector.Watchlist() {
		l.unwatch(symbol)
	}
}

func (l *Listener) watch(symbol string) {
	if err := l.streamer.SubscribeCandles(symbol, analysisTimeframe); err != nil {
		l.logger.Error().Err(err).Str("symbol", symbol).Msg("candle subscribe failed")
	}
}

func (l *Listener) unwatch(symbol string) {
	if err := l.streamer.UnsubscribeCandles(symbol, analysisTimeframe); err != nil {
		l.logger.Warn().Err(err).Str("symbol", symbol).Msg("candle unsubscribe failed")
	}
}

// handleCandleClose runs on the stream read loop and must not block: the
// debounce check and semaphore acquisition are both non-blocking.
func (l *Listener) handleCandleClose(cc marketdata.CandleClose) {
	if cc.Timeframe != analysisTimeframe || !l.detector.IsWatched(cc.Symbol) {
		return
	}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	now := time.Now()
	if last, ok := l.lastRun[cc.Symbol]; ok && now.Sub(last) < l.debounce {
		l.mu.Unlock()
		return
	}
	l.lastRun[cc.Symbol] = now
	l.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn().Str("symbol", cc.Symbol).Msg("analysis cap reached, dropping candle close")
		return
	}

	go func() {
		defer func() { <-l.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := l.detector.AnalyzeSymbol(ctx, cc.Symbol); err != nil {
			l.logger.Warn().Err(err).Str("symbol", cc.Symbol).Msg("event analysis failed")
		}
	}()
}

// Dropped returns how many candle closes were discarded at the cap
func (l *Listener) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
