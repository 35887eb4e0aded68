// Package order submits admitted orders to the exchange, mirrors them
// in the ledger, and applies fills from the user data stream to the
// position book. It also owns the flatten path used by the emergency
// stop.
package order

import (
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Order is a trading intent that passed admission. The ID doubles as
// the exchange client order id and the ledger row id, which is what
// lets reconciliation match both sides without a join table.
type Order struct {
	ID          string
	Symbol      string
	Side        common.Side
	Type        common.OrderType
	Price       float64
	StopPrice   float64
	Qty         float64
	TimeInForce common.TimeInForce

	// Playbook and StopDistancePct seed the position when an entry
	// order fills.
	Playbook        string
	StopDistancePct float64

	// PositionID marks an exit order: the fill closes this position
	// instead of opening a new one.
	PositionID string
}

// IsExit reports whether the order closes an existing position.
func (o Order) IsExit() bool {
	return o.PositionID != ""
}

// Notional returns the quote value of the intent at its limit price.
func (o Order) Notional() float64 {
	return o.Price * o.Qty
}

// positionSide maps the entry order side to the ledger position side.
func positionSide(s common.Side) string {
	if s == common.SideSell {
		return db.SideShort
	}
	return db.SideLong
}

// ExitSide returns the order side that reduces a position.
func ExitSide(positionSide string) common.Side {
	if positionSide == db.SideShort {
		return common.SideBuy
	}
	return common.SideSell
}
