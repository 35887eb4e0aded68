package pricing

import (
	"math"
	"testing"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

func TestMakerQuote(t *testing.T) {
	tests := []struct {
		name           string
		side           common.Side
		target         float64
		bid, ask       float64
		tick           float64
		maxSlippageBps float64
		wantPrice      float64
		wantBps        float64
		wantMaker      bool
	}{
		{
			name: "buy inside spread pulls back to bid",
			side: common.SideBuy, target: 100.06, bid: 100.00, ask: 100.05,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 100.00, wantBps: 0.06 / 100.06 * 10000, wantMaker: true,
		},
		{
			name: "buy already resting below bid",
			side: common.SideBuy, target: 99.50, bid: 100.00, ask: 100.05,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 99.50, wantBps: 0, wantMaker: true,
		},
		{
			name: "buy adjustment over slippage cap keeps target",
			side: common.SideBuy, target: 101.00, bid: 100.00, ask: 100.98,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 101.00, wantBps: 1.00 / 101.00 * 10000, wantMaker: false,
		},
		{
			name: "sell already resting above ask",
			side: common.SideSell, target: 100.10, bid: 100.00, ask: 100.05,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 100.10, wantBps: 0, wantMaker: true,
		},
		{
			name: "sell inside spread pushes up to ask",
			side: common.SideSell, target: 100.01, bid: 100.00, ask: 100.05,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 100.05, wantBps: 0.04 / 100.01 * 10000, wantMaker: true,
		},
		{
			name: "sell below bid over cap keeps target",
			side: common.SideSell, target: 99.00, bid: 100.00, ask: 100.05,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 99.00, wantBps: 1.05 / 99.00 * 10000, wantMaker: false,
		},
		{
			name: "empty book rejects",
			side: common.SideBuy, target: 100.00, bid: 0, ask: 0,
			tick: 0.01, maxSlippageBps: 20,
			wantPrice: 100.00, wantBps: 0, wantMaker: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := MakerQuote(tt.side, tt.target, tt.bid, tt.ask, tt.tick, tt.maxSlippageBps)
			if math.Abs(q.Price-tt.wantPrice) > 1e-9 {
				t.Errorf("Price = %v, want %v", q.Price, tt.wantPrice)
			}
			if math.Abs(q.SlippageBps-tt.wantBps) > 1e-6 {
				t.Errorf("SlippageBps = %v, want %v", q.SlippageBps, tt.wantBps)
			}
			if q.WouldBeMaker != tt.wantMaker {
				t.Errorf("WouldBeMaker = %v, want %v", q.WouldBeMaker, tt.wantMaker)
			}
		})
	}
}

func TestTickRounding(t *testing.T) {
	// 100.00/0.01 lands on 9999.999... in floats; rounding must not
	// slip a tick.
	if got := roundDownToTick(100.00, 0.01); math.Abs(got-100.00) > 1e-9 {
		t.Errorf("roundDownToTick(100.00, 0.01) = %v", got)
	}
	if got := roundUpToTick(100.05, 0.01); math.Abs(got-100.05) > 1e-9 {
		t.Errorf("roundUpToTick(100.05, 0.01) = %v", got)
	}
	if got := roundDownToTick(100.057, 0.01); math.Abs(got-100.05) > 1e-9 {
		t.Errorf("roundDownToTick(100.057, 0.01) = %v", got)
	}
	if got := roundUpToTick(100.051, 0.01); math.Abs(got-100.06) > 1e-9 {
		t.Errorf("roundUpToTick(100.051, 0.01) = %v", got)
	}
}
