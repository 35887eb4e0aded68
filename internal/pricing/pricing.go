// Package pricing adjusts limit prices toward the passive side of the
// book so orders rest as makers instead of crossing the spread. The
// quote function is pure: no exchange calls, no state.
package pricing

import (
	"math"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Quote is the maker-first pricing result. When WouldBeMaker is false
// the Price field still carries the caller's original target so it can
// fall back to taker execution or abort.
type Quote struct {
	Price        float64 `json:"price"`
	SlippageBps  float64 `json:"slippageBps"`
	WouldBeMaker bool    `json:"wouldBeMaker"`
}

// MakerQuote maps a target price onto the passive side of the book.
// A BUY at or below the best bid already rests; one at the ask or
// inside the spread is pulled back to the best bid, rounded down to
// the tick. SELL mirrors against the best ask, rounding up. The
// adjustment is rejected when it would move the price more than
// maxSlippageBps away from the target.
func MakerQuote(side common.Side, target, bestBid, bestAsk, tickSize, maxSlippageBps float64) Quote {
	q := Quote{Price: target}
	if target <= 0 || bestBid <= 0 || bestAsk <= 0 {
		return q
	}

	var adjusted float64
	switch side {
	case common.SideBuy:
		if target <= bestBid {
			q.WouldBeMaker = true
			return q
		}
		adjusted = roundDownToTick(bestBid, tickSize)
	case common.SideSell:
		if target >= bestAsk {
			q.WouldBeMaker = true
			return q
		}
		adjusted = roundUpToTick(bestAsk, tickSize)
	default:
		return q
	}

	slippage := math.Abs(adjusted-target) / target * 10000
	q.SlippageBps = slippage
	if slippage > maxSlippageBps {
		return q
	}
	q.Price = adjusted
	q.WouldBeMaker = true
	return q
}

// roundDownToTick floors onto the tick grid; the epsilon absorbs
// float division artifacts like 100.00/0.01 = 9999.999...
func roundDownToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Floor(price/tick+1e-9) * tick
}

func roundUpToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Ceil(price/tick-1e-9) * tick
}
