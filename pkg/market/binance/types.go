package market

import "strconv"

// Kline represents a single candlestick.
type Kline struct {
	Symbol    string
	OpenTime  int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64 // ms
}

// BookTicker holds the live top of book for a symbol.
type BookTicker struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
	Time     int64
}

// Mid returns the midpoint price, or 0 when either side is empty.
func (b BookTicker) Mid() float64 {
	if b.BidPrice <= 0 || b.AskPrice <= 0 {
		return 0
	}
	return (b.BidPrice + b.AskPrice) / 2
}

// DepthSnapshot is an order book snapshot (price, qty pairs, best first).
type DepthSnapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         [][2]float64
	Asks         [][2]float64
}

// Top returns the snapshot's best bid/ask as a BookTicker.
func (d DepthSnapshot) Top() BookTicker {
	t := BookTicker{Symbol: d.Symbol}
	if len(d.Bids) > 0 {
		t.BidPrice, t.BidQty = d.Bids[0][0], d.Bids[0][1]
	}
	if len(d.Asks) > 0 {
		t.AskPrice, t.AskQty = d.Asks[0][0], d.Asks[0][1]
	}
	return t
}

// ExecutionReport is a parsed user-data-stream order update.
type ExecutionReport struct {
	Symbol        string
	ClientOrderID string
	Side          string
	OrderType     string
	ExecType      string // NEW, TRADE, CANCELED, REJECTED, EXPIRED
	OrderStatus   string
	OrderID       int64
	LastQty       float64
	CumQty        float64
	LastPrice     float64
	Commission    float64
	EventTime     int64 // ms
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
