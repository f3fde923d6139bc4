package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trade-mentor-server/internal/logging"
)

// StreamClient handles the provider's live WebSocket feed.
// It multiplexes tick and candle-close channels over one connection and
// re-subscribes after a reconnect.
type StreamClient struct {
	mu sync.RWMutex

	apiKey  string
	wsURL   string
	wsConn  *websocket.Conn
	writeMu sync.Mutex

	isRunning bool
	connected bool
	stopChan  chan struct{}

	// Desired subscription state, kept for re-subscribe on reconnect.
	// Candle channels are keyed "SYMBOL:timeframe".
	tickSubs   map[string]bool
	candleSubs map[string]bool

	onTick        TickHandler
	onCandleClose CandleHandler

	reconnects int
	logger     *logging.Logger
}

// wire frame shared by all channel messages
type streamFrame struct {
	Channel   string  `json:"ev"` // "T" trade, "AM" aggregate minute close
	Symbol    string  `json:"sym"`
	Price     float64 `json:"p"`
	Size      float64 `json:"s"`
	Timestamp int64   `json:"t"` // milliseconds
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	Start     int64   `json:"st"`
	End       int64   `json:"e"`
	Interval  string  `json:"i"`
}

type streamCommand struct {
	Action string `json:"action"` // "auth", "subscribe", "unsubscribe"
	Params string `json:"params"`
}

// NewStreamClient creates a new stream client
func NewStreamClient(apiKey, wsURL string) *StreamClient {
	return &StreamClient{
		apiKey:     apiKey,
		wsURL:      wsURL,
		stopChan:   make(chan struct{}),
		tickSubs:   make(map[string]bool),
		candleSubs: make(map[string]bool),
		logger:     logging.WithComponent("MarketStream"),
	}
}

// OnTick sets the tick handler
func (s *StreamClient) OnTick(handler TickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = handler
}

// OnCandleClose sets the candle-close handler
func (s *StreamClient) OnCandleClose(handler CandleHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCandleClose = handler
}

// Connect dials the feed, authenticates, and starts the read loop.
// Returns an error only for the initial dial; later disconnects reconnect
// in the background.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	go s.readLoop()
	return nil
}

func (s *StreamClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("error dialing stream: %w", err)
	}

	auth := streamCommand{Action: "auth", Params: s.apiKey}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return fmt.Errorf("error authenticating stream: %w", err)
	}

	s.mu.Lock()
	s.wsConn = conn
	s.connected = true
	s.mu.Unlock()

	return nil
}

// IsConnected reports whether the feed is currently connected
func (s *StreamClient) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SubscribeTicks subscribes to the trade channel for a symbol
func (s *StreamClient) SubscribeTicks(symbol string) error {
	s.mu.Lock()
	s.tickSubs[symbol] = true
	s.mu.Unlock()
	return s.send(streamCommand{Action: "subscribe", Params: "T." + symbol})
}

// UnsubscribeTicks unsubscribes from the trade channel for a symbol
func (s *StreamClient) UnsubscribeTicks(symbol string) error {
	s.mu.Lock()
	delete(s.tickSubs, symbol)
	s.mu.Unlock()
	return s.send(streamCommand{Action: "unsubscribe", Params: "T." + symbol})
}

// SubscribeCandles subscribes to candle closes for a symbol and timeframe
func (s *StreamClient) SubscribeCandles(symbol string, timeframe Timeframe) error {
	s.mu.Lock()
	s.candleSubs[symbol+":"+string(timeframe)] = true
	s.mu.Unlock()
	return s.send(streamCommand{Action: "subscribe", Params: fmt.Sprintf("AM.%s.%s", symbol, timeframe)})
}

// UnsubscribeCandles unsubscribes from candle closes for a symbol and timeframe
func (s *StreamClient) UnsubscribeCandles(symbol string, timeframe Timeframe) error {
	s.mu.Lock()
	delete(s.candleSubs, symbol+":"+string(timeframe))
	s.mu.Unlock()
	return s.send(streamCommand{Action: "unsubscribe", Params: fmt.Sprintf("AM.%s.%s", symbol, timeframe)})
}

func (s *StreamClient) send(cmd streamCommand) error {
	s.mu.RLock()
	conn := s.wsConn
	connected := s.connected
	s.mu.RUnlock()

	if !connected || conn == nil {
		// Desired state is recorded; resubscribe will replay it on reconnect
		return fmt.Errorf("stream not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(cmd)
}

// readLoop reads frames and dispatches to handlers until stopped
func (s *StreamClient) readLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		conn := s.wsConn
		s.mu.RUnlock()

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.connected = false
			running := s.isRunning
			s.mu.Unlock()

			if !running {
				return
			}

			s.logger.Warn("read error, reconnecting", "error", err)
			s.reconnect()
			continue
		}

		s.handleMessage(message)
	}
}

// reconnect redials with backoff and replays the subscription state
func (s *StreamClient) reconnect() {
	backoff := time.Second
	for {
		select {
		case <-s.stopChan:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.dial(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("reconnect failed", "error", err, "backoff", backoff.String())
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		s.mu.Lock()
		s.reconnects++
		ticks := make([]string, 0, len(s.tickSubs))
		for sym := range s.tickSubs {
			ticks = append(ticks, sym)
		}
		candles := make([]string, 0, len(s.candleSubs))
		for key := range s.candleSubs {
			candles = append(candles, key)
		}
		s.mu.Unlock()

		for _, sym := range ticks {
			_ = s.send(streamCommand{Action: "subscribe", Params: "T." + sym})
		}
		for _, key := range candles {
			if i := strings.IndexByte(key, ':'); i > 0 {
				sym, tf := key[:i], key[i+1:]
				_ = s.send(streamCommand{Action: "subscribe", Params: fmt.Sprintf("AM.%s.%s", sym, tf)})
			}
		}

		s.logger.Info("reconnected, subscriptions restored",
			"attempt", s.reconnects, "tick_subs", len(ticks), "candle_subs", len(candles))
		return
	}
}

// handleMessage parses a frame (or array of frames) and dispatches it
func (s *StreamClient) handleMessage(message []byte) {
	var frames []streamFrame
	if err := json.Unmarshal(message, &frames); err != nil {
		// Single-object frames are also valid
		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.logger.Warn("unparseable frame", "error", err)
			return
		}
		frames = []streamFrame{frame}
	}

	s.mu.RLock()
	tickHandler := s.onTick
	candleHandler := s.onCandleClose
	s.mu.RUnlock()

	for _, f := range frames {
		switch f.Channel {
		case "T":
			if tickHandler != nil {
				tickHandler(Tick{
					Symbol:    f.Symbol,
					Price:     f.Price,
					Size:      f.Size,
					Timestamp: time.UnixMilli(f.Timestamp),
				})
			}
		case "AM":
			if candleHandler != nil {
				tf := Timeframe(f.Interval)
				if tf == "" {
					tf = TF1m
				}
				candleHandler(CandleClose{
					Symbol:    f.Symbol,
					Timeframe: tf,
					Bar: Bar{
						OpenTime:  f.Start,
						Open:      f.Open,
						High:      f.High,
						Low:       f.Low,
						Close:     f.Close,
						Volume:    f.Volume,
						CloseTime: f.End,
					},
				})
			}
		}
	}
}

// Close stops the read loop and closes the connection
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.isRunning = false
	s.connected = false
	close(s.stopChan)

	if s.wsConn != nil {
		return s.wsConn.Close()
	}
	return nil
}
