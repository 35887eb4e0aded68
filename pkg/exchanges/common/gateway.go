package common

import "context"

// Gateway abstracts the trading side of a venue. Read paths (open orders,
// balances) are declared as narrow interfaces by their consumers.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}
