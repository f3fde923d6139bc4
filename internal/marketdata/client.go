package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the HTTP market-data provider client
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new provider client. An empty API key leaves the
// client unconfigured; callers must check IsConfigured before use.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether the client has credentials to make requests
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// GetQuote fetches the latest trade for a symbol
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("market data provider not configured")
	}

	endpoint := fmt.Sprintf("%s/v2/last/trade/%s", c.baseURL, url.PathEscape(symbol))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error fetching quote for %s: %w", symbol, err)
	}

	var resp struct {
		Results struct {
			Price     float64 `json:"p"`
			Size      float64 `json:"s"`
			Timestamp int64   `json:"t"` // nanoseconds
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing quote: %w", err)
	}

	return &Quote{
		Symbol:    symbol,
		Price:     resp.Results.Price,
		Size:      resp.Results.Size,
		Timestamp: time.Unix(0, resp.Results.Timestamp),
	}, nil
}

// GetAggregates fetches up to limit bars for a symbol and timeframe,
// ordered ascending by time.
func (c *Client) GetAggregates(ctx context.Context, symbol string, timeframe Timeframe, limit int) ([]Bar, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("market data provider not configured")
	}

	multiplier, span := timeframeParams(timeframe)
	to := time.Now()
	from := to.Add(-time.Duration(limit+1) * timeframe.Duration())

	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/%d/%s/%d/%d?limit=%s&sort=asc",
		c.baseURL, url.PathEscape(symbol), multiplier, span,
		from.UnixMilli(), to.UnixMilli(), strconv.Itoa(limit))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error fetching aggregates for %s %s: %w", symbol, timeframe, err)
	}

	var resp struct {
		Results []struct {
			Timestamp int64   `json:"t"` // bar start, milliseconds
			Open      float64 `json:"o"`
			High      float64 `json:"h"`
			Low       float64 `json:"l"`
			Close     float64 `json:"c"`
			Volume    float64 `json:"v"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing aggregates: %w", err)
	}

	interval := timeframe.Duration().Milliseconds()
	bars := make([]Bar, len(resp.Results))
	for i, r := range resp.Results {
		bars[i] = Bar{
			OpenTime:  r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			CloseTime: r.Timestamp + interval - 1,
		}
	}

	return bars, nil
}

// get performs an authenticated GET request and returns the response body
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// timeframeParams maps a timeframe to the provider's multiplier/timespan pair
func timeframeParams(tf Timeframe) (int, string) {
	switch tf {
	case TF1m:
		return 1, "minute"
	case TF5m:
		return 5, "minute"
	case TF15m:
		return 15, "minute"
	case TF1h:
		return 1, "hour"
	case TF4h:
		return 4, "hour"
	case TF1d:
		return 1, "day"
	default:
		return 1, "minute"
	}
}
