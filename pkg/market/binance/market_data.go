// Package market provides public Binance.US market data over REST and
// websocket streams: candles, order book depth, and top-of-book quotes.
package market

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

// MarketDataClient wraps the public (unsigned) spot market data endpoints.
type MarketDataClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMarketDataClient(testnet bool) *MarketDataClient {
	base := "https://api.binance.us"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return &MarketDataClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping checks connectivity.
func (c *MarketDataClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

// ServerTime fetches exchange server time (milliseconds).
func (c *MarketDataClient) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

// Depth returns an order book snapshot, best levels first.
func (c *MarketDataClient) Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, "/api/v3/depth", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}

	snap := &DepthSnapshot{
		Symbol:       symbol,
		LastUpdateID: raw.LastUpdateID,
		Bids:         make([][2]float64, 0, len(raw.Bids)),
		Asks:         make([][2]float64, 0, len(raw.Asks)),
	}
	for _, lvl := range raw.Bids {
		snap.Bids = append(snap.Bids, [2]float64{parseFloat(lvl[0]), parseFloat(lvl[1])})
	}
	for _, lvl := range raw.Asks {
		snap.Asks = append(snap.Asks, [2]float64{parseFloat(lvl[0]), parseFloat(lvl[1])})
	}
	return snap, nil
}

// GetBookTicker returns the current best bid/ask for a symbol.
func (c *MarketDataClient) GetBookTicker(ctx context.Context, symbol string) (*BookTicker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, "/api/v3/ticker/bookTicker", params)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		BidQty   string `json:"bidQty"`
		AskPrice string `json:"askPrice"`
		AskQty   string `json:"askQty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode bookTicker: %w", err)
	}
	return &BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: parseFloat(raw.BidPrice),
		BidQty:   parseFloat(raw.BidQty),
		AskPrice: parseFloat(raw.AskPrice),
		AskQty:   parseFloat(raw.AskQty),
		Time:     time.Now().UnixMilli(),
	}, nil
}

// GetKlines fetches candles for a symbol and interval, oldest first.
func (c *MarketDataClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		if len(k) < 7 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:    symbol,
			OpenTime:  toInt64(k[0]),
			Open:      toFloat(k[1]),
			High:      toFloat(k[2]),
			Low:       toFloat(k[3]),
			Close:     toFloat(k[4]),
			Volume:    toFloat(k[5]),
			CloseTime: toInt64(k[6]),
		})
	}
	return klines, nil
}

func (c *MarketDataClient) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binanceus market data %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}

// toFloat handles the mixed string/number cells of the klines payload.
func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		return parseFloat(t)
	case float64:
		return t
	}
	return 0
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	}
	return 0
}
