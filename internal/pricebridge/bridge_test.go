package pricebridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/analysis"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/marketdata"
)

type recordedEvent struct {
	userID string
	event  events.Event
}

type mockSender struct {
	mu     sync.Mutex
	record []recordedEvent
}

func (m *mockSender) SendToUser(userID string, event events.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = append(m.record, recordedEvent{userID, event})
	return true
}

func (m *mockSender) events() []recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordedEvent, len(m.record))
	copy(out, m.record)
	return out
}

func (m *mockSender) countOf(eventType events.EventType) int {
	n := 0
	for _, r := range m.events() {
		if r.event.Type == eventType {
			n++
		}
	}
	return n
}

type mockStreamer struct {
	mu   sync.Mutex
	subs map[string]bool
}

func newMockStreamer() *mockStreamer {
	return &mockStreamer{subs: make(map[string]bool)}
}

func (m *mockStreamer) Connect(ctx context.Context) error { return nil }

func (m *mockStreamer) SubscribeTicks(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[symbol] = true
	return nil
}

func (m *mockStreamer) UnsubscribeTicks(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, symbol)
	return nil
}

func (m *mockStreamer) SubscribeCandles(symbol string, tf marketdata.Timeframe) error   { return nil }
func (m *mockStreamer) UnsubscribeCandles(symbol string, tf marketdata.Timeframe) error { return nil }
func (m *mockStreamer) OnTick(handler marketdata.TickHandler)                           {}
func (m *mockStreamer) OnCandleClose(handler marketdata.CandleHandler)                  {}
func (m *mockStreamer) IsConnected() bool                                               { return true }
func (m *mockStreamer) Close() error                                                    { return nil }

func (m *mockStreamer) subscribed(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[symbol]
}

func newTestBridge(sender Sender, streamer marketdata.Streamer) *Bridge {
	return NewBridge(nil, streamer, sender, nil, config.BridgeConfig{
		MinBroadcastInterval:   100,
		SignificantMovePercent: 0.5,
		PollingInterval:        1,
	}, zerolog.Nop())
}

func TestSubscriberGraphRefcounting(t *testing.T) {
	sender := &mockSender{}
	b := newTestBridge(sender, nil)

	require.NoError(t, b.Subscribe("alice", "spy"))
	require.NoError(t, b.Subscribe("bob", "SPY"))
	require.NoError(t, b.Subscribe("alice", "QQQ"))

	assert.ElementsMatch(t, []string{"SPY", "QQQ"}, b.WatchedSymbols())

	// One of two watchers leaving keeps the symbol alive
	b.Unsubscribe("alice", "SPY")
	assert.Contains(t, b.WatchedSymbols(), "SPY")

	// The last watcher leaving drops it
	b.Unsubscribe("bob", "SPY")
	assert.NotContains(t, b.WatchedSymbols(), "SPY")

	b.UnsubscribeAll("alice")
	assert.Empty(t, b.WatchedSymbols())
}

func TestThrottleCoalescesToLatestTick(t *testing.T) {
	sender := &mockSender{}
	b := newTestBridge(sender, nil)
	require.NoError(t, b.Subscribe("alice", "SPY"))

	// First tick broadcasts immediately; the next two land inside the
	// window and only the newest survives as pending
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.00})
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.01})
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.02})

	got := sender.events()
	require.Len(t, got, 1)
	assert.Equal(t, events.EventPriceUpdate, got[0].event.Type)
	assert.Equal(t, 500.00, got[0].event.Data["price"])

	b.flushPending()
	assert.Len(t, sender.events(), 1) // window still closed

	time.Sleep(120 * time.Millisecond)
	b.flushPending()

	got = sender.events()
	require.Len(t, got, 2)
	assert.Equal(t, 500.02, got[1].event.Data["price"])
}

func TestSignificantMoveBypassesThrottle(t *testing.T) {
	sender := &mockSender{}
	b := newTestBridge(sender, nil)
	require.NoError(t, b.Subscribe("alice", "SPY"))

	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.00})
	// 1% move inside the window still goes out
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 505.00})

	require.Len(t, sender.events(), 2)
}

func TestTicksForUnwatchedSymbolsAreIgnored(t *testing.T) {
	sender := &mockSender{}
	b := newTestBridge(sender, nil)

	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.00})
	assert.Empty(t, sender.events())
}

func TestUpstreamSubscriptionLifecycle(t *testing.T) {
	sender := &mockSender{}
	streamer := newMockStreamer()
	b := newTestBridge(sender, streamer)

	// First watcher opens the upstream subscription
	require.NoError(t, b.Subscribe("alice", "SPY"))
	require.NoError(t, b.Subscribe("bob", "SPY"))
	assert.True(t, streamer.subscribed("SPY"))

	// Upstream stays open until the last watcher leaves
	b.Unsubscribe("alice", "SPY")
	assert.True(t, streamer.subscribed("SPY"))

	b.Unsubscribe("bob", "SPY")
	assert.False(t, streamer.subscribed("SPY"))
}

func TestCoachingSignalsBypassThrottle(t *testing.T) {
	sender := &mockSender{}
	coaching := NewCoachingEngine(0.25)
	b := NewBridge(nil, nil, sender, coaching, config.BridgeConfig{
		MinBroadcastInterval:   60_000, // effectively closed window
		SignificantMovePercent: 50,
	}, zerolog.Nop())
	require.NoError(t, b.Subscribe("alice", "SPY"))

	coaching.SetLevels("SPY", []analysis.KeyLevel{
		{Type: analysis.LevelSupport, Price: 500.0, Strength: 90},
	})

	// First tick opens the window once, then crossing ticks are coalesced
	// for price updates but still produce coaching events
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 501.5})
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 499.9})

	assert.Equal(t, 1, sender.countOf(events.EventPriceUpdate))
	assert.Equal(t, 1, sender.countOf(events.EventCoachingUpdate))
	assert.Equal(t, 1, sender.countOf(events.EventLevelApproach))
}

func TestChangePercentFromReferencePrice(t *testing.T) {
	sender := &mockSender{}
	b := newTestBridge(sender, nil)
	require.NoError(t, b.Subscribe("alice", "SPY"))

	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 500.00})
	b.HandleTick(marketdata.Tick{Symbol: "SPY", Price: 505.00}) // significant, bypasses

	got := sender.events()
	require.Len(t, got, 2)
	assert.InDelta(t, 0.0, got[0].event.Data["change_percent"], 0.0001)
	assert.InDelta(t, 1.0, got[1].event.Data["change_percent"], 0.0001)
}

func TestPollingFallbackDeliversQuotes(t *testing.T) {
	sender := &mockSender{}
	b := NewBridge(marketdata.NewMockClient(), nil, sender, nil, config.BridgeConfig{
		MinBroadcastInterval:   100,
		SignificantMovePercent: 0.5,
		PollingInterval:        1,
	}, zerolog.Nop())
	require.NoError(t, b.Subscribe("alice", "SPY"))

	b.pollOnce(context.Background())

	got := sender.events()
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].userID)
	assert.Equal(t, events.EventPriceUpdate, got[0].event.Type)
	assert.Equal(t, "SPY", got[0].event.Data["symbol"])
}
