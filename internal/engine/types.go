package engine

import (
	"context"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/correlation"
	binance "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// MarketData is the quote surface the engine needs. Both the live and
// the mock feed satisfy it.
type MarketData interface {
	Book(symbol string) (binance.BookTicker, bool)
	Price(ctx context.Context, symbol string) (float64, error)
}

// StatusView is the operator-facing account summary.
type StatusView struct {
	Status        string    `json:"status"`
	IsActive      bool      `json:"isActive"`
	TotalEquity   float64   `json:"totalEquity"`
	CurrentR      float64   `json:"currentR"`
	DailyPnl      float64   `json:"dailyPnl"`
	WeeklyPnl     float64   `json:"weeklyPnl"`
	OpenPositions int       `json:"openPositions"`
	HaltReason    string    `json:"haltReason,omitempty"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// OpenPositionRequest is one decision signal asking to open a
// position. StopPrice is optional; when absent the playbook's stop
// distance sizes the risk.
type OpenPositionRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	TargetPrice float64 `json:"targetPrice"`
	Playbook    string  `json:"playbook"`
	StopPrice   float64 `json:"stopPrice,omitempty"`
}

// OpenPositionResult reports the admission verdict and, when
// accepted, the submitted order.
type OpenPositionResult struct {
	Accepted     bool                  `json:"accepted"`
	OrderID      string                `json:"orderId,omitempty"`
	Price        float64               `json:"price,omitempty"`
	WouldBeMaker bool                  `json:"wouldBeMaker,omitempty"`
	SlippageBps  float64               `json:"slippageBps,omitempty"`
	Violations   []string              `json:"violations,omitempty"`
	Correlation  *correlation.Decision `json:"correlation,omitempty"`
}
