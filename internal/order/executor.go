package order

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
	market "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// Executor sends orders to the exchange, mirrors them in the ledger,
// and turns fills into position book mutations.
type Executor struct {
	store     *db.Database
	bus       *events.Bus
	gateway   common.Gateway
	positions *state.Manager
	accountID string

	// riskUnit supplies the current 1R in dollars so closes can record
	// P&L in R-multiples. Unset means trades settle at 0R.
	riskUnit func() float64

	dryRun         bool
	simFeeRate     float64
	simSlippageBps float64
	rng            *rand.Rand

	mu        sync.Mutex
	pending   map[string]*pendingOrder // client order id -> in-flight intent
	entryFees map[string]float64       // position id -> entry commissions
}

// pendingOrder is an intent waiting on user stream fills. Commissions
// accumulate across partial fills so the round trip records the total.
type pendingOrder struct {
	intent Order
	fees   float64
}

func NewExecutor(store *db.Database, bus *events.Bus, gateway common.Gateway, positions *state.Manager, accountID string) *Executor {
	return &Executor{
		store:     store,
		bus:       bus,
		gateway:   gateway,
		positions: positions,
		accountID: accountID,
		pending:   make(map[string]*pendingOrder),
		entryFees: make(map[string]float64),
	}
}

// SetRiskUnit wires the current-R supplier once the snapshot loop is up.
func (e *Executor) SetRiskUnit(fn func() float64) {
	e.riskUnit = fn
}

// EnableDryRun switches to paper execution: orders never reach the
// exchange and fill immediately at their limit price. Market orders
// get slippage noise so paper P&L does not flatter the playbooks.
func (e *Executor) EnableDryRun(feeRate, slippageBps float64) {
	e.dryRun = true
	e.simFeeRate = feeRate
	e.simSlippageBps = slippageBps
	e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Submit sends one admitted order to the exchange and records it. A
// FILLED ack settles the position book before returning; maker orders
// rest and settle later through ApplyReport.
func (e *Executor) Submit(ctx context.Context, o Order) (db.Order, error) {
	if o.Qty <= 0 {
		return db.Order{}, fmt.Errorf("executor: order qty must be positive, got %.8f", o.Qty)
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	e.publish(events.EventOrderSubmitted, o)

	var (
		res     common.OrderResult
		execErr error
	)
	if e.dryRun {
		res = e.simulateAck(&o)
	} else {
		res, execErr = e.gateway.SubmitOrder(ctx, common.OrderRequest{
			Symbol:      o.Symbol,
			Side:        o.Side,
			Type:        o.Type,
			Qty:         o.Qty,
			Price:       o.Price,
			StopPrice:   o.StopPrice,
			TimeInForce: o.TimeInForce,
			ClientID:    o.ID,
		})
	}

	row := db.Order{
		ID:            o.ID,
		AccountID:     e.accountID,
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Price:         o.Price,
		Quantity:      o.Qty,
		Status:        db.OrderNew,
		Source:        db.OrderSourceEngine,
		CreatedAt:     time.Now().UTC(),
	}

	if execErr != nil {
		row.Status = db.OrderRejected
		if err := e.store.CreateOrder(ctx, row); err != nil {
			log.Printf("executor: store rejected order %s: %v", o.ID, err)
		}
		log.Printf("❌ Order rejected: %s %s %.8f: %v", o.Symbol, o.Side, o.Qty, execErr)
		e.publish(events.EventOrderRejected, events.OrderUpdate{
			OrderID: o.ID, Symbol: o.Symbol, Side: string(o.Side), Status: db.OrderRejected,
		})
		return row, fmt.Errorf("submit %s %s: %w", o.Symbol, o.Side, execErr)
	}

	row.ExchangeOrderID = res.ExchangeOrderID
	row.Status = string(res.Status)
	if res.Status == common.StatusFilled {
		row.FilledQty = o.Qty
	}
	if err := e.store.CreateOrder(ctx, row); err != nil {
		log.Printf("executor: store order %s: %v", o.ID, err)
		return row, fmt.Errorf("store order %s: %w", o.ID, err)
	}

	log.Printf("executor: %s %s %s qty=%.8f px=%.8f status=%s exch_id=%s",
		o.Symbol, o.Side, o.Type, o.Qty, o.Price, row.Status, row.ExchangeOrderID)
	e.publish(events.EventOrderAccepted, row)

	switch res.Status {
	case common.StatusFilled:
		fee := 0.0
		if e.dryRun {
			fee = o.Price * o.Qty * e.simFeeRate
		}
		if err := e.settle(ctx, o, o.Price, fee); err != nil {
			return row, err
		}
		e.publish(events.EventOrderFilled, events.OrderUpdate{
			OrderID: o.ID, Symbol: o.Symbol, Side: string(o.Side), Status: db.OrderFilled,
			Qty: o.Qty, Price: o.Price,
		})
	case common.StatusNew, common.StatusPartial:
		e.track(o)
	}
	return row, nil
}

// ApplyReport folds one user data stream execution report into the
// ledger and, when it completes a tracked order, into the position
// book. Reports for orders this process never submitted still update
// the ledger so reconciliation sees fresh rows.
func (e *Executor) ApplyReport(ctx context.Context, rep market.ExecutionReport) {
	status := strings.ToUpper(rep.OrderStatus)
	switch rep.ExecType {
	case "TRADE":
		if err := e.store.UpdateOrderFill(ctx, rep.ClientOrderID, status, rep.CumQty); err != nil {
			log.Printf("executor: update fill %s: %v", rep.ClientOrderID, err)
		}

		e.mu.Lock()
		p, tracked := e.pending[rep.ClientOrderID]
		if tracked {
			p.fees += rep.Commission
		}
		e.mu.Unlock()

		update := events.OrderUpdate{
			OrderID: rep.ClientOrderID, Symbol: rep.Symbol, Side: rep.Side,
			Status: status, Qty: rep.CumQty, Price: rep.LastPrice,
		}
		if status != db.OrderFilled {
			e.publish(events.EventOrderPartiallyFilled, update)
			return
		}
		e.publish(events.EventOrderFilled, update)

		if !tracked {
			return
		}
		e.mu.Lock()
		delete(e.pending, rep.ClientOrderID)
		e.mu.Unlock()

		price := rep.LastPrice
		if price <= 0 {
			price = p.intent.Price
		}
		if err := e.settle(ctx, p.intent, price, p.fees); err != nil {
			log.Printf("⚠️ settle %s: %v", rep.ClientOrderID, err)
		}
	case "CANCELED", "EXPIRED", "REJECTED":
		if err := e.store.UpdateOrderStatus(ctx, rep.ClientOrderID, status); err != nil {
			log.Printf("executor: update status %s: %v", rep.ClientOrderID, err)
		}
		e.mu.Lock()
		delete(e.pending, rep.ClientOrderID)
		e.mu.Unlock()
		e.publish(events.EventOrderCanceled, events.OrderUpdate{
			OrderID: rep.ClientOrderID, Symbol: rep.Symbol, Side: rep.Side, Status: status,
		})
	}
}

// settle applies a completed fill to the position book: exits close
// their position, entries open a new one with the playbook stop.
func (e *Executor) settle(ctx context.Context, o Order, fillPrice, fee float64) error {
	if o.IsExit() {
		e.mu.Lock()
		entryFee := e.entryFees[o.PositionID]
		delete(e.entryFees, o.PositionID)
		e.mu.Unlock()

		unit := 0.0
		if e.riskUnit != nil {
			unit = e.riskUnit()
		}
		if _, err := e.positions.Close(ctx, o.PositionID, fillPrice, fee+entryFee, unit); err != nil {
			return fmt.Errorf("close position %s: %w", o.PositionID, err)
		}
		return nil
	}

	side := positionSide(o.Side)
	stop := o.StopPrice
	if stop == 0 && o.StopDistancePct > 0 {
		stop = risk.InitialStop(side, fillPrice, o.StopDistancePct)
	}
	p, err := e.positions.Open(ctx, db.Position{
		Symbol:     o.Symbol,
		Side:       side,
		EntryPrice: fillPrice,
		Quantity:   o.Qty,
		StopPrice:  stop,
		Playbook:   o.Playbook,
	})
	if err != nil {
		return fmt.Errorf("open position %s: %w", o.Symbol, err)
	}
	if fee > 0 {
		e.mu.Lock()
		e.entryFees[p.ID] = fee
		e.mu.Unlock()
	}
	log.Printf("executor: position opened %s %s %.8f @ %.8f stop=%.8f playbook=%s",
		p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.StopPrice, p.Playbook)
	return nil
}

// simulateAck fills paper orders immediately. Maker orders fill at
// their limit; market orders get random slippage against the caller's
// reference price.
func (e *Executor) simulateAck(o *Order) common.OrderResult {
	if o.Type == common.OrderTypeMarket && e.simSlippageBps > 0 {
		noise := e.rng.Float64() * e.simSlippageBps / 10000.0
		if o.Side == common.SideBuy {
			o.Price *= 1 + noise
		} else {
			o.Price *= 1 - noise
		}
	}
	return common.OrderResult{
		ExchangeOrderID: "paper-" + o.ID,
		Status:          common.StatusFilled,
		ClientID:        o.ID,
	}
}

func (e *Executor) track(o Order) {
	e.mu.Lock()
	e.pending[o.ID] = &pendingOrder{intent: o}
	e.mu.Unlock()
}

// Pending returns the number of orders awaiting fills.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// PendingExit reports whether an exit order for the position is
// already in flight, so stop sweeps do not double-submit.
func (e *Executor) PendingExit(positionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pending {
		if p.intent.PositionID == positionID {
			return true
		}
	}
	return false
}

// CancelOpenOrders cancels every resting order, one deadline per cancel
// so a single hung venue call cannot consume the whole shutdown grace.
// Returns the number canceled and the first error seen.
func (e *Executor) CancelOpenOrders(ctx context.Context, perCancel time.Duration) (int, error) {
	open, err := e.store.ListOpenOrders(ctx, e.accountID)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}

	canceled := 0
	var firstErr error
	for _, o := range open {
		if !e.dryRun && o.ExchangeOrderID != "" {
			cctx, cancel := context.WithTimeout(ctx, perCancel)
			err := e.gateway.CancelOrder(cctx, o.Symbol, o.ExchangeOrderID)
			cancel()
			if err != nil {
				log.Printf("⚠️ cancel %s %s: %v", o.Symbol, o.ID, err)
				if firstErr == nil {
					firstErr = fmt.Errorf("cancel %s: %w", o.ID, err)
				}
				continue
			}
		}
		if err := e.store.UpdateOrderStatus(ctx, o.ID, db.OrderCanceled); err != nil {
			log.Printf("executor: mark canceled %s: %v", o.ID, err)
		}
		e.mu.Lock()
		delete(e.pending, o.ID)
		e.mu.Unlock()
		canceled++
	}
	return canceled, firstErr
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}
