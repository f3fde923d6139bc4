package marketdata

import "context"

// Provider defines the market-data provider operations the pipeline depends on.
// An unconfigured provider disables detection entirely; it must never crash.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetAggregates(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Bar, error)
	IsConfigured() bool
}

// TickHandler receives raw trade ticks from a stream
type TickHandler func(Tick)

// CandleHandler receives candle-close notifications from a stream
type CandleHandler func(CandleClose)

// Streamer defines the live feed operations. Subscriptions are per symbol;
// handlers are invoked from the stream's read loop and must not block.
type Streamer interface {
	Connect(ctx context.Context) error
	SubscribeTicks(symbol string) error
	UnsubscribeTicks(symbol string) error
	SubscribeCandles(symbol string, timeframe Timeframe) error
	UnsubscribeCandles(symbol string, timeframe Timeframe) error
	OnTick(handler TickHandler)
	OnCandleClose(handler CandleHandler)
	IsConnected() bool
	Close() error
}

// Ensure implementations satisfy the interfaces
var _ Provider = (*Client)(nil)
var _ Provider = (*MockClient)(nil)
var _ Streamer = (*StreamClient)(nil)
