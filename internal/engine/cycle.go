package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/order"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Start runs one immediate evaluation pass, then launches the decision
// loop and the order queue drain. Everything stops when ctx ends.
func (e *Impl) Start(ctx context.Context) {
	go e.queue.Drain(ctx, func(o order.Order) {
		if _, err := e.exec.Submit(ctx, o); err != nil {
			log.Printf("⚠️ submit %s %s: %v", o.Side, o.Symbol, err)
		}
	})

	e.RunCycle(ctx)
	go e.loop(ctx)
	log.Printf("✓ Decision loop started (every %s)", e.cycleInterval)
}

func (e *Impl) loop(ctx context.Context) {
	ticker := time.NewTicker(e.cycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one evaluation pass: refresh marks, fire breached
// stops, recompute the account snapshot, and let the halt machine act
// on the new P&L numbers. A failed pass leaves the persisted state
// untouched; the next tick retries.
func (e *Impl) RunCycle(ctx context.Context) {
	cfg := e.risk.Get()

	e.positions.RefreshMarks(ctx, e.market.Price, e.RiskUnit())
	e.sweepStops(ctx)

	snap, err := e.positions.ComputeSnapshot(ctx, cfg)
	if err != nil {
		if snap.AccountID == "" {
			log.Printf("⚠️ cycle: snapshot: %v", err)
			return
		}
		log.Printf("⚠️ cycle: %v", err)
	}
	e.setRiskUnit(snap.CurrentR)

	if _, _, err := e.halt.Evaluate(ctx, snap.DailyPnlR, snap.WeeklyPnlR, cfg); err != nil {
		log.Printf("⚠️ cycle: halt evaluation: %v", err)
	}
}

// sweepStops market-exits every open position trading through its
// stop. Runs even when halted: protective exits reduce risk and are
// never gated by admission status.
func (e *Impl) sweepStops(ctx context.Context) {
	for _, p := range e.positions.OpenPositions() {
		if p.CurrentPrice <= 0 || !risk.StopBreached(p.Side, p.CurrentPrice, p.StopPrice) {
			continue
		}
		if e.exec.PendingExit(p.ID) {
			continue
		}
		log.Printf("🛑 stop breached: %s %s %.6f marked %.4f through %.4f",
			p.Side, p.Symbol, p.Quantity, p.CurrentPrice, p.StopPrice)
		exit := order.Order{
			ID:         uuid.NewString(),
			Symbol:     p.Symbol,
			Side:       order.ExitSide(p.Side),
			Type:       common.OrderTypeMarket,
			Price:      p.CurrentPrice,
			Qty:        p.Quantity,
			PositionID: p.ID,
		}
		if _, err := e.exec.Submit(ctx, exit); err != nil {
			log.Printf("⚠️ stop exit %s: %v", p.Symbol, err)
		}
	}
}
