package pricebridge

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/marketdata"
)

// Sender delivers an event to one user's connections. Satisfied by the
// distribution layer.
type Sender interface {
	SendToUser(userID string, event events.Event) bool
}

// symbolState tracks per-symbol throttle state. Only the newest tick is held
// while the throttle window is closed; intermediate ticks are discarded.
type symbolState struct {
	pending       *marketdata.Tick
	lastBroadcast time.Time
	lastSent      float64
	refPrice      float64 // first price seen, used for change percent
}

// Bridge fans live prices out to the users watching each symbol. Broadcasts
// are throttled per symbol; a large enough move bypasses the throttle.
type Bridge struct {
	provider    marketdata.Provider
	streamer    marketdata.Streamer
	distributor Sender
	coaching    *CoachingEngine

	minInterval     time.Duration
	significantMove float64
	pollInterval    time.Duration

	mu          sync.Mutex
	userSymbols map[string]map[string]bool
	symbolUsers map[string]map[string]bool
	states      map[string]*symbolState

	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewBridge creates a price bridge. The streamer may be nil, in which case
// the bridge polls quotes for subscribed symbols instead.
func NewBridge(provider marketdata.Provider, streamer marketdata.Streamer, distributor Sender, coaching *CoachingEngine, cfg config.BridgeConfig, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		provider:        provider,
		streamer:        streamer,
		distributor:     distributor,
		coaching:        coaching,
		minInterval:     time.Duration(cfg.MinBroadcastInterval) * time.Millisecond,
		significantMove: cfg.SignificantMovePercent,
		pollInterval:    time.Duration(cfg.PollingInterval) * time.Second,
		userSymbols:     make(map[string]map[string]bool),
		symbolUsers:     make(map[string]map[string]bool),
		states:          make(map[string]*symbolState),
		logger:          logger.With().Str("component", "PriceBridge").Logger(),
	}
	if b.minInterval <= 0 {
		b.minInterval = 500 * time.Millisecond
	}
	if b.pollInterval <= 0 {
		b.pollInterval = 5 * time.Second
	}
	return b
}

// Start begins tick intake and the flush loop
func (b *Bridge) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.streamer != nil {
		b.streamer.OnTick(b.HandleTick)
		b.logger.Info().Msg("price bridge consuming stream ticks")
	} else {
		go b.pollLoop(runCtx)
		b.logger.Info().Dur("interval", b.pollInterval).Msg("no stream configured, polling quotes")
	}

	go b.flushLoop(runCtx)
}

// Stop halts the flush and poll loops
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Subscribe registers a user's interest in a symbol. The first watcher of a
// symbol opens the upstream tick subscription.
func (b *Bridge) Subscribe(userID, symbol string) error {
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	if b.userSymbols[userID] == nil {
		b.userSymbols[userID] = make(map[string]bool)
	}
	b.userSymbols[userID][symbol] = true

	first := b.symbolUsers[symbol] == nil
	if first {
		b.symbolUsers[symbol] = make(map[string]bool)
		b.states[symbol] = &symbolState{}
	}
	b.symbolUsers[symbol][userID] = true
	b.mu.Unlock()

	if first && b.streamer != nil {
		if err := b.streamer.SubscribeTicks(symbol); err != nil {
			b.logger.Error().Err(err).Str("symbol", symbol).Msg("upstream tick subscribe failed")
			return err
		}
	}
	return nil
}

// Unsubscribe drops a user's interest in a symbol. The last watcher leaving
// closes the upstream subscription.
func (b *Bridge) Unsubscribe(userID, symbol string) {
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	if symbols, ok := b.userSymbols[userID]; ok {
		delete(symbols, symbol)
		if len(symbols) == 0 {
			delete(b.userSymbols, userID)
		}
	}

	last := false
	if users, ok := b.symbolUsers[symbol]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(b.symbolUsers, symbol)
			delete(b.states, symbol)
			last = true
		}
	}
	b.mu.Unlock()

	if last && b.streamer != nil {
		if err := b.streamer.UnsubscribeTicks(symbol); err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("upstream tick unsubscribe failed")
		}
	}
}

// UnsubscribeAll drops every symbol a user was watching, for disconnects
func (b *Bridge) UnsubscribeAll(userID string) {
	b.mu.Lock()
	symbols := make([]string, 0, len(b.userSymbols[userID]))
	for symbol := range b.userSymbols[userID] {
		symbols = append(symbols, symbol)
	}
	b.mu.Unlock()

	for _, symbol := range symbols {
		b.Unsubscribe(userID, symbol)
	}
}

// WatchedSymbols returns the symbols with at least one watcher
func (b *Bridge) WatchedSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbols := make([]string, 0, len(b.symbolUsers))
	for symbol := range b.symbolUsers {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// SetGammaFlip forwards an externally supplied gamma flip level to the
// coaching engine
func (b *Bridge) SetGammaFlip(symbol string, price float64) {
	if b.coaching != nil {
		b.coaching.SetGammaFlip(symbol, price)
	}
}

// HandleTick ingests one tick. Coaching evaluation always sees the tick;
// the fan-out path is subject to the throttle.
func (b *Bridge) HandleTick(tick marketdata.Tick) {
	if b.coaching != nil {
		for _, signal := range b.coaching.Evaluate(tick.Symbol, tick.Price) {
			b.fanOutSignal(tick.Symbol, signal)
		}
	}

	b.mu.Lock()
	state, ok := b.states[tick.Symbol]
	if !ok {
		b.mu.Unlock()
		return
	}

	if state.refPrice == 0 {
		state.refPrice = tick.Price
	}

	now := time.Now()
	if b.shouldBroadcast(state, tick.Price, now) {
		state.pending = nil
		state.lastBroadcast = now
		state.lastSent = tick.Price
		price, ref := tick.Price, state.refPrice
		b.mu.Unlock()
		b.fanOutPrice(tick.Symbol, price, changePercent(price, ref))
		return
	}

	t := tick
	state.pending = &t
	b.mu.Unlock()
}

// shouldBroadcast applies the throttle: enough time elapsed, or the move
// since the last sent price is significant
func (b *Bridge) shouldBroadcast(state *symbolState, price float64, now time.Time) bool {
	if now.Sub(state.lastBroadcast) >= b.minInterval {
		return true
	}
	if b.significantMove > 0 && state.lastSent > 0 {
		movePct := math.Abs(price-state.lastSent) / state.lastSent * 100.0
		if movePct >= b.significantMove {
			return true
		}
	}
	return false
}

// flushLoop drains pending ticks once their throttle window reopens
func (b *Bridge) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.minInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flushPending()
		}
	}
}

func (b *Bridge) flushPending() {
	type flush struct {
		symbol        string
		price         float64
		changePercent float64
	}

	now := time.Now()
	b.mu.Lock()
	var flushes []flush
	for symbol, state := range b.states {
		if state.pending == nil || now.Sub(state.lastBroadcast) < b.minInterval {
			continue
		}
		price := state.pending.Price
		state.pending = nil
		state.lastBroadcast = now
		state.lastSent = price
		flushes = append(flushes, flush{symbol, price, changePercent(price, state.refPrice)})
	}
	b.mu.Unlock()

	for _, f := range flushes {
		b.fanOutPrice(f.symbol, f.price, f.changePercent)
	}
}

// pollLoop fetches quotes for watched symbols when no stream is available
func (b *Bridge) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

// pollOnce fetches one quote per watched symbol and feeds it through the
// normal tick path
func (b *Bridge) pollOnce(ctx context.Context) {
	for _, symbol := range b.WatchedSymbols() {
		quote, err := b.provider.GetQuote(ctx, symbol)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote poll failed")
			continue
		}
		b.HandleTick(marketdata.Tick{
			Symbol:    symbol,
			Price:     quote.Price,
			Timestamp: time.Now(),
		})
	}
}

func (b *Bridge) fanOutPrice(symbol string, price, change float64) {
	event := events.NewPriceUpdate(symbol, price, change)
	for _, userID := range b.watchers(symbol) {
		b.distributor.SendToUser(userID, event)
	}
}

func (b *Bridge) fanOutSignal(symbol string, signal CoachingSignal) {
	for _, userID := range b.watchers(symbol) {
		b.distributor.SendToUser(userID, signal.Event())
	}
}

func (b *Bridge) watchers(symbol string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	users := make([]string, 0, len(b.symbolUsers[symbol]))
	for userID := range b.symbolUsers[symbol] {
		users = append(users, userID)
	}
	return users
}

func changePercent(price, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (price - ref) / ref * 100.0
}
