package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// MockClient provides simulated market data for development/testing
type MockClient struct {
	prices     map[string]float64
	lastUpdate time.Time
	mu         sync.RWMutex
}

// NewMockClient creates a new mock client with realistic base prices
func NewMockClient() *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"SPY":  505.00,
			"QQQ":  430.00,
			"AAPL": 228.00,
			"MSFT": 415.00,
			"NVDA": 122.00,
			"TSLA": 245.00,
			"AMZN": 185.00,
			"META": 510.00,
			"AMD":  158.00,
			"GOOG": 172.00,
		},
		lastUpdate: time.Now(),
	}
}

// IsConfigured always reports true for the mock
func (mc *MockClient) IsConfigured() bool {
	return true
}

// updatePrices adds small random variations to simulate market movement
func (mc *MockClient) updatePrices() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if time.Since(mc.lastUpdate) < time.Second {
		return
	}

	for symbol, price := range mc.prices {
		change := (rand.Float64() - 0.5) * 0.002 // +/- 0.1%
		mc.prices[symbol] = price * (1 + change)
	}
	mc.lastUpdate = time.Now()
}

// GetQuote returns a simulated quote
func (mc *MockClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	mc.updatePrices()

	mc.mu.RLock()
	price, ok := mc.prices[symbol]
	mc.mu.RUnlock()

	if !ok {
		price = 100.00
	}

	return &Quote{
		Symbol:    symbol,
		Price:     price,
		Size:      float64(100 + rand.Intn(900)),
		Timestamp: time.Now(),
	}, nil
}

// GetAggregates returns a simulated bar series walking back from the
// current mock price. Deterministic shape per call aside from the seed price.
func (mc *MockClient) GetAggregates(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Bar, error) {
	quote, _ := mc.GetQuote(ctx, symbol)
	base := quote.Price

	interval := timeframe.Duration()
	now := time.Now().Truncate(interval)

	bars := make([]Bar, limit)
	price := base * 0.98
	for i := 0; i < limit; i++ {
		openTime := now.Add(-time.Duration(limit-i) * interval)

		// Gentle sine drift toward the current price with noise
		drift := base * 0.02 * float64(i) / float64(limit)
		wave := base * 0.004 * math.Sin(float64(i)/5.0)
		open := price
		closePrice := base*0.98 + drift + wave
		high := math.Max(open, closePrice) * (1 + rand.Float64()*0.001)
		low := math.Min(open, closePrice) * (1 - rand.Float64()*0.001)

		bars[i] = Bar{
			OpenTime:  openTime.UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    float64(10000 + rand.Intn(90000)),
			CloseTime: openTime.Add(interval).UnixMilli() - 1,
		}
		price = closePrice
	}

	return bars, nil
}
