// Package reconciliation periodically compares the ledger's view of
// orders and positions against the exchange and repairs what it can.
// Unrepairable findings surface as alerts and count as unresolved in
// the persisted run report.
package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/binance/spot"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// Finding kinds.
const (
	KindGhostOrder   = "ghost_order"   // on the exchange, missing from the ledger
	KindStaleOrder   = "stale_order"   // open in the ledger, gone from the exchange
	KindBalanceDrift = "balance_drift" // exchange holds less base asset than the book claims
)

// Venue is the read side of the exchange reconciliation needs.
type Venue interface {
	GetOpenOrders(ctx context.Context, symbol string) ([]spot.OpenOrder, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*spot.OpenOrder, error)
}

// BalanceSource supplies spot balances for the position truth check.
type BalanceSource interface {
	AssetBalances(ctx context.Context) (map[string]common.AssetBalance, error)
}

// Finding is one discrepancy between ledger and exchange.
type Finding struct {
	Kind     string `json:"kind"`
	Symbol   string `json:"symbol,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Detail   string `json:"detail"`
	Repaired bool   `json:"repaired"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	RunID          string    `json:"runId"`
	RunAt          time.Time `json:"runAt"`
	ExchangeOrders int       `json:"exchangeOrders"`
	LedgerOrders   int       `json:"ledgerOrders"`
	Discrepancies  int       `json:"discrepancies"`
	Repaired       int       `json:"repaired"`
	Unresolved     int       `json:"unresolved"`
	Findings       []Finding `json:"findings,omitempty"`
}

// Clean reports whether the pass found nothing wrong.
func (r *Report) Clean() bool {
	return r != nil && r.Discrepancies == 0
}

// Service runs reconciliation passes on a ticker and on demand.
type Service struct {
	venue     Venue
	balances  BalanceSource
	store     *db.Database
	positions *state.Manager
	bus       *events.Bus
	accountID string
	interval  time.Duration

	mu sync.Mutex // one pass at a time

	lastMu sync.RWMutex
	last   *Report
}

func NewService(venue Venue, store *db.Database, positions *state.Manager, bus *events.Bus, accountID string, interval time.Duration) *Service {
	return &Service{
		venue:     venue,
		store:     store,
		positions: positions,
		bus:       bus,
		accountID: accountID,
		interval:  interval,
	}
}

// SetBalanceSource enables the position truth check.
func (s *Service) SetBalanceSource(b BalanceSource) {
	s.balances = b
}

// Start begins periodic reconciliation.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					log.Printf("❌ Reconciliation error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	log.Printf("✓ Reconciliation service started (interval: %v)", s.interval)
}

// Status returns the last completed report without blocking on a run
// in progress. Nil until the first pass finishes.
func (s *Service) Status() *Report {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// Reconcile performs one synchronous pass: diff orders by exchange
// order id, repair what the exchange can confirm, flag the rest, then
// persist the run. Passes are serialized; a second caller waits.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{
		RunID: uuid.NewString(),
		RunAt: time.Now().UTC(),
	}

	if s.venue == nil {
		// Paper mode has no exchange truth to compare against.
		s.finish(ctx, report)
		return report, nil
	}

	exchangeOrders, err := s.venue.GetOpenOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("exchange open orders: %w", err)
	}
	ledgerOrders, err := s.store.ListOpenOrders(ctx, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger open orders: %w", err)
	}
	report.ExchangeOrders = len(exchangeOrders)
	report.LedgerOrders = len(ledgerOrders)

	byExchangeID := make(map[string]db.Order, len(ledgerOrders))
	for _, o := range ledgerOrders {
		if o.ExchangeOrderID != "" {
			byExchangeID[o.ExchangeOrderID] = o
		}
	}

	onExchange := make(map[string]bool, len(exchangeOrders))
	for _, ex := range exchangeOrders {
		id := strconv.FormatInt(ex.OrderID, 10)
		onExchange[id] = true
		if _, known := byExchangeID[id]; known {
			continue
		}
		report.add(s.repairGhost(ctx, report.RunID, ex, id))
	}

	for _, o := range ledgerOrders {
		if o.ExchangeOrderID == "" {
			report.add(s.flag(report.RunID, Finding{
				Kind: KindStaleOrder, Symbol: o.Symbol, OrderID: o.ID,
				Detail: "open ledger order has no exchange order id",
			}))
			continue
		}
		if onExchange[o.ExchangeOrderID] {
			continue
		}
		report.add(s.repairStale(ctx, report.RunID, o))
	}

	s.checkBalances(ctx, report)

	s.finish(ctx, report)
	return report, nil
}

// repairGhost mirrors an untracked exchange order into the ledger.
func (s *Service) repairGhost(ctx context.Context, runID string, ex spot.OpenOrder, exchangeID string) Finding {
	f := Finding{
		Kind: KindGhostOrder, Symbol: ex.Symbol, OrderID: exchangeID,
		Detail: fmt.Sprintf("exchange order %s %s not in ledger", ex.Side, ex.Symbol),
	}
	row := db.Order{
		ID:              uuid.NewString(),
		AccountID:       s.accountID,
		ExchangeOrderID: exchangeID,
		Symbol:          ex.Symbol,
		Side:            ex.Side,
		Type:            ex.Type,
		Price:           parseDecimal(ex.Price),
		Quantity:        parseDecimal(ex.OrigQty),
		FilledQty:       parseDecimal(ex.ExecQty),
		Status:          strings.ToUpper(ex.Status),
		Source:          db.OrderSourceReconciliation,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateOrder(ctx, row); err != nil {
		f.Detail = fmt.Sprintf("%s; ledger insert failed: %v", f.Detail, err)
		return s.flag(runID, f)
	}
	log.Printf("🔄 Reconciliation: adopted exchange order %s (%s %s)", exchangeID, ex.Side, ex.Symbol)
	f.Repaired = true
	return f
}

// repairStale resolves a ledger-open order the exchange no longer
// lists, using the exchange's final word on it.
func (s *Service) repairStale(ctx context.Context, runID string, o db.Order) Finding {
	f := Finding{
		Kind: KindStaleOrder, Symbol: o.Symbol, OrderID: o.ID,
		Detail: fmt.Sprintf("ledger order %s open but not on exchange", o.ID),
	}
	ex, err := s.venue.GetOrder(ctx, o.Symbol, o.ExchangeOrderID)
	if err != nil {
		f.Detail = fmt.Sprintf("%s; exchange lookup failed: %v", f.Detail, err)
		return s.flag(runID, f)
	}

	status := strings.ToUpper(ex.Status)
	if common.OrderStatus(status) == common.StatusNew || common.OrderStatus(status) == common.StatusPartial {
		// Raced the open-orders snapshot; nothing actually wrong.
		f.Kind = ""
		return f
	}
	execQty := parseDecimal(ex.ExecQty)
	if execQty > o.Quantity+1e-9 {
		// The exchange reports more filled than the ledger ever ordered.
		// There is no deterministic repair for that; leave the row alone.
		f.Detail = fmt.Sprintf("ledger order %s: exchange reports %s with fill %.8f exceeding ordered %.8f",
			o.ID, status, execQty, o.Quantity)
		return s.flag(runID, f)
	}
	if err := s.store.UpdateOrderFill(ctx, o.ID, status, execQty); err != nil {
		f.Detail = fmt.Sprintf("%s; ledger update failed: %v", f.Detail, err)
		return s.flag(runID, f)
	}
	log.Printf("🔄 Reconciliation: order %s settled as %s per exchange", o.ID, status)
	f.Detail = fmt.Sprintf("ledger order %s settled as %s per exchange", o.ID, status)
	f.Repaired = true
	return f
}

// checkBalances verifies the exchange actually holds what the open
// positions claim. Drift cannot be auto-repaired without inventing
// fills, so it always lands as unresolved.
func (s *Service) checkBalances(ctx context.Context, report *Report) {
	if s.balances == nil || s.positions == nil {
		return
	}
	bals, err := s.balances.AssetBalances(ctx)
	if err != nil {
		log.Printf("⚠️ Reconciliation: balance fetch failed: %v", err)
		return
	}

	claimed := make(map[string]float64)
	for _, p := range s.positions.OpenPositions() {
		base, ok := baseAsset(p.Symbol)
		if !ok {
			continue
		}
		claimed[base] += p.Quantity
	}
	for asset, qty := range claimed {
		have := bals[asset].Total()
		if have+1e-4 >= qty {
			continue
		}
		report.add(s.flag(report.RunID, Finding{
			Kind: KindBalanceDrift, Symbol: asset,
			Detail: fmt.Sprintf("positions claim %.8f %s, exchange holds %.8f", qty, asset, have),
		}))
	}
}

// flag publishes an unresolved finding as an alert.
func (s *Service) flag(runID string, f Finding) Finding {
	log.Printf("⚠️ Reconciliation: %s", f.Detail)
	if s.bus != nil {
		s.bus.Publish(events.EventReconciliationAlert, events.ReconciliationAlert{
			RunID: runID, Kind: f.Kind, Symbol: f.Symbol, OrderID: f.OrderID, Detail: f.Detail,
		})
	}
	return f
}

// finish persists the run, stores it as the latest report, and logs
// the verdict.
func (s *Service) finish(ctx context.Context, report *Report) {
	details := ""
	if len(report.Findings) > 0 {
		if b, err := json.Marshal(report.Findings); err == nil {
			details = string(b)
		}
	}
	run := db.ReconciliationRun{
		ID:             report.RunID,
		AccountID:      s.accountID,
		RunAt:          report.RunAt,
		ExchangeOrders: report.ExchangeOrders,
		LedgerOrders:   report.LedgerOrders,
		Discrepancies:  report.Discrepancies,
		Repaired:       report.Repaired,
		Unresolved:     report.Unresolved,
		Details:        details,
	}
	if err := s.store.CreateReconciliationRun(ctx, run); err != nil {
		log.Printf("⚠️ Reconciliation: persist run: %v", err)
	}

	s.lastMu.Lock()
	s.last = report
	s.lastMu.Unlock()

	if report.Clean() {
		log.Printf("✅ Reconciliation OK (%d exchange / %d ledger orders)",
			report.ExchangeOrders, report.LedgerOrders)
		return
	}
	log.Printf("⚠️ Reconciliation: %d discrepancies (%d repaired, %d unresolved)",
		report.Discrepancies, report.Repaired, report.Unresolved)
}

// add folds a finding into the report counts. Findings with an empty
// kind were false alarms and are dropped.
func (r *Report) add(f Finding) {
	if f.Kind == "" {
		return
	}
	r.Findings = append(r.Findings, f)
	r.Discrepancies++
	if f.Repaired {
		r.Repaired++
	} else {
		r.Unresolved++
	}
}

// baseAsset extracts the base asset from a Binance.US symbol.
func baseAsset(symbol string) (string, bool) {
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote), true
		}
	}
	return "", false
}

func parseDecimal(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}
