package order

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Cancel pulls one resting order off the exchange and marks the ledger
// row CANCELED. A failed exchange cancel leaves the row open so
// reconciliation keeps chasing it.
func (e *Executor) Cancel(ctx context.Context, o db.Order) error {
	if !e.dryRun {
		if err := e.gateway.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
			return fmt.Errorf("cancel %s order %s: %w", o.Symbol, o.ID, err)
		}
	}
	if err := e.store.UpdateOrderStatus(ctx, o.ID, db.OrderCanceled); err != nil {
		log.Printf("executor: mark canceled %s: %v", o.ID, err)
	}
	e.mu.Lock()
	delete(e.pending, o.ID)
	e.mu.Unlock()
	e.publish(events.EventOrderCanceled, events.OrderUpdate{
		OrderID: o.ID, Symbol: o.Symbol, Side: o.Side, Status: db.OrderCanceled,
	})
	return nil
}

// FlattenAll cancels every resting order and market-closes every open
// position. Each step is best-effort: one failure never stops the
// rest. Returns the number of positions actually closed.
func (e *Executor) FlattenAll(ctx context.Context, reason string) (int, error) {
	var errs []error

	resting, err := e.store.ListOpenOrders(ctx, e.accountID)
	if err != nil {
		errs = append(errs, fmt.Errorf("list open orders: %w", err))
	}
	canceled := 0
	for _, o := range resting {
		if err := e.Cancel(ctx, o); err != nil {
			log.Printf("❌ flatten: %v", err)
			errs = append(errs, err)
			continue
		}
		canceled++
	}

	flattened := 0
	for _, p := range e.positions.OpenPositions() {
		mark := p.CurrentPrice
		if mark <= 0 {
			mark = p.EntryPrice
		}
		exit := Order{
			ID:         uuid.NewString(),
			Symbol:     p.Symbol,
			Side:       ExitSide(p.Side),
			Type:       common.OrderTypeMarket,
			Qty:        p.Quantity,
			Price:      mark,
			PositionID: p.ID,
		}
		if _, err := e.Submit(ctx, exit); err != nil {
			log.Printf("❌ flatten %s: %v", p.Symbol, err)
			errs = append(errs, fmt.Errorf("flatten %s: %w", p.Symbol, err))
			continue
		}
		if _, still := e.positions.Get(p.ID); !still {
			flattened++
		}
	}

	log.Printf("🚨 Flatten (%s): %d positions closed, %d orders canceled, %d errors",
		reason, flattened, canceled, len(errs))
	return flattened, errors.Join(errs...)
}
