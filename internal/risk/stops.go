package risk

import "github.com/bschneid7/BinanceUSBot-sub004/pkg/db"

// InitialStop places the protective stop a fixed fraction away from
// entry on the adverse side.
func InitialStop(side string, entryPrice, stopDistancePct float64) float64 {
	if side == db.SideShort {
		return entryPrice * (1 + stopDistancePct)
	}
	return entryPrice * (1 - stopDistancePct)
}

// StopBreached reports whether the mark price has crossed the stop.
func StopBreached(side string, currentPrice, stopPrice float64) bool {
	if stopPrice <= 0 {
		return false
	}
	if side == db.SideShort {
		return currentPrice >= stopPrice
	}
	return currentPrice <= stopPrice
}

// PositionRiskR expresses a position's remaining stop risk in
// R-multiples: distance to the stop times quantity, over the account
// risk unit. Zero when no stop is set or the risk unit is unusable.
func PositionRiskR(p db.Position, currentR float64) float64 {
	if p.StopPrice <= 0 || currentR <= 0 {
		return 0
	}
	ref := p.CurrentPrice
	if ref <= 0 {
		ref = p.EntryPrice
	}
	var distance float64
	if p.Side == db.SideShort {
		distance = p.StopPrice - ref
	} else {
		distance = ref - p.StopPrice
	}
	if distance <= 0 {
		// Stop already crossed or in profit lock; no risk remains.
		return 0
	}
	return distance * p.Quantity / currentR
}
