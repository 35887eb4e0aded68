package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the spot order types this bot places.
type OrderType string

const (
	OrderTypeMarket        OrderType = "MARKET"
	OrderTypeLimit         OrderType = "LIMIT"
	OrderTypeLimitMaker    OrderType = "LIMIT_MAKER"
	OrderTypeStopLossLimit OrderType = "STOP_LOSS_LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus mirrors the exchange status vocabulary so ledger rows and
// exchange payloads compare without translation.
type OrderStatus string

const (
	StatusNew           OrderStatus = "NEW"
	StatusPartial       OrderStatus = "PARTIALLY_FILLED"
	StatusFilled        OrderStatus = "FILLED"
	StatusCanceled      OrderStatus = "CANCELED"
	StatusPendingCancel OrderStatus = "PENDING_CANCEL"
	StatusRejected      OrderStatus = "REJECTED"
	StatusExpired       OrderStatus = "EXPIRED"
	StatusUnknown       OrderStatus = "UNKNOWN"
)

// IsTerminal reports whether the exchange will make no further changes to an
// order in this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	StopPrice   float64 // required for STOP_LOSS_LIMIT
	TimeInForce TimeInForce
	ClientID    string // optional client order id
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// Fill represents a trade fill update from the user data stream.
type Fill struct {
	ExchangeOrderID string
	TradeID         string
	Symbol          string
	Side            Side
	Qty             float64
	Price           float64
	Commission      float64
	IsMaker         bool
}

// AssetBalance is one asset's spot balance with string amounts already parsed.
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked.
func (b AssetBalance) Total() float64 {
	return b.Free + b.Locked
}
