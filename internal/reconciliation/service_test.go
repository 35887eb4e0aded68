package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/binance/spot"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

const testAccount = "default"

type fakeVenue struct {
	open    []spot.OpenOrder
	orders  map[string]spot.OpenOrder // exchange order id -> final state
	openErr error
	getErr  error
}

func (v *fakeVenue) GetOpenOrders(context.Context, string) ([]spot.OpenOrder, error) {
	if v.openErr != nil {
		return nil, v.openErr
	}
	return v.open, nil
}

func (v *fakeVenue) GetOrder(_ context.Context, _, orderID string) (*spot.OpenOrder, error) {
	if v.getErr != nil {
		return nil, v.getErr
	}
	o, ok := v.orders[orderID]
	if !ok {
		return nil, errors.New("order not found")
	}
	return &o, nil
}

type fakeBalances struct {
	bals map[string]common.AssetBalance
	err  error
}

func (b *fakeBalances) AssetBalances(context.Context) (map[string]common.AssetBalance, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.bals, nil
}

func newFixture(t *testing.T, venue Venue) (*Service, *state.Manager, *db.Database, *events.Bus) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := database.InitBotState(context.Background(), testAccount, 10000); err != nil {
		t.Fatalf("Failed to init bot state: %v", err)
	}
	bus := events.NewBus()
	positions := state.NewManager(database, bus, testAccount)
	svc := NewService(venue, database, positions, bus, testAccount, time.Minute)
	return svc, positions, database, bus
}

func seedLedgerOrder(t *testing.T, database *db.Database, id, exchangeID, symbol string) {
	t.Helper()
	err := database.CreateOrder(context.Background(), db.Order{
		ID:              id,
		AccountID:       testAccount,
		ExchangeOrderID: exchangeID,
		ClientOrderID:   id,
		Symbol:          symbol,
		Side:            "BUY",
		Type:            "LIMIT_MAKER",
		Price:           100,
		Quantity:        2,
		Status:          db.OrderNew,
		Source:          db.OrderSourceEngine,
	})
	if err != nil {
		t.Fatalf("seed ledger order: %v", err)
	}
}

func TestReconcileCleanBook(t *testing.T) {
	venue := &fakeVenue{
		open: []spot.OpenOrder{{Symbol: "BTCUSD", OrderID: 777, Side: "BUY", Type: "LIMIT_MAKER", Price: "100", OrigQty: "2", Status: "NEW"}},
	}
	svc, _, database, _ := newFixture(t, venue)
	ctx := context.Background()
	seedLedgerOrder(t, database, "ord-1", "777", "BTCUSD")

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("report not clean: %+v", report)
	}
	if report.ExchangeOrders != 1 || report.LedgerOrders != 1 {
		t.Errorf("counts = %d/%d, want 1/1", report.ExchangeOrders, report.LedgerOrders)
	}

	run, err := database.GetLatestReconciliationRun(ctx, testAccount)
	if err != nil {
		t.Fatalf("GetLatestReconciliationRun: %v", err)
	}
	if run.ID != report.RunID || run.Discrepancies != 0 {
		t.Errorf("persisted run = %+v, want id %s with 0 discrepancies", run, report.RunID)
	}
}

func TestGhostOrderAdoptedIntoLedger(t *testing.T) {
	venue := &fakeVenue{
		open: []spot.OpenOrder{{Symbol: "ETHUSD", OrderID: 888, Side: "SELL", Type: "LIMIT", Price: "200", OrigQty: "1", ExecQty: "0.5", Status: "PARTIALLY_FILLED"}},
	}
	svc, _, database, _ := newFixture(t, venue)
	ctx := context.Background()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Discrepancies != 1 || report.Repaired != 1 || report.Unresolved != 0 {
		t.Fatalf("report = %d/%d/%d, want 1 discrepancy, 1 repaired, 0 unresolved",
			report.Discrepancies, report.Repaired, report.Unresolved)
	}

	adopted, err := database.GetOrderByExchangeID(ctx, testAccount, "888")
	if err != nil {
		t.Fatalf("adopted order not in ledger: %v", err)
	}
	if adopted.Source != db.OrderSourceReconciliation {
		t.Errorf("source = %s, want reconciliation", adopted.Source)
	}
	if adopted.Quantity != 1 || adopted.FilledQty != 0.5 {
		t.Errorf("qty = %v/%v, want 1/0.5", adopted.Quantity, adopted.FilledQty)
	}

	// Second pass sees the adopted row and reports nothing.
	again, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if !again.Clean() {
		t.Errorf("second pass not clean: %+v", again)
	}
}

func TestStaleOrderSettledFromExchange(t *testing.T) {
	venue := &fakeVenue{
		orders: map[string]spot.OpenOrder{
			"777": {Symbol: "BTCUSD", OrderID: 777, Side: "BUY", OrigQty: "2", ExecQty: "2", Status: "FILLED"},
		},
	}
	svc, _, database, _ := newFixture(t, venue)
	ctx := context.Background()
	seedLedgerOrder(t, database, "ord-1", "777", "BTCUSD")

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Repaired != 1 || report.Unresolved != 0 {
		t.Fatalf("report = %+v, want 1 repaired", report)
	}

	open, err := database.ListOpenOrders(ctx, testAccount)
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("stale order still open in ledger")
	}
	settled, err := database.GetOrderByExchangeID(ctx, testAccount, "777")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if settled.Status != db.OrderFilled || settled.FilledQty != 2 {
		t.Errorf("settled = %s/%v, want FILLED/2", settled.Status, settled.FilledQty)
	}

	if again, err := svc.Reconcile(ctx); err != nil || !again.Clean() {
		t.Errorf("second pass = %+v, %v; want clean", again, err)
	}
}

func TestStaleOrderConflictingFillLeftUnresolved(t *testing.T) {
	// Exchange claims more filled than the ledger ever ordered. That
	// has no deterministic repair: the row must stay untouched and the
	// conflict must surface as an alert.
	venue := &fakeVenue{
		orders: map[string]spot.OpenOrder{
			"777": {Symbol: "BTCUSD", OrderID: 777, Side: "BUY", OrigQty: "5", ExecQty: "5", Status: "FILLED"},
		},
	}
	svc, _, database, bus := newFixture(t, venue)
	ctx := context.Background()
	seedLedgerOrder(t, database, "ord-1", "777", "BTCUSD") // quantity 2

	alerts, unsub := bus.Subscribe(events.EventReconciliationAlert, 4)
	defer unsub()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Unresolved != 1 || report.Repaired != 0 {
		t.Fatalf("report = %+v, want 1 unresolved, 0 repaired", report)
	}

	select {
	case msg := <-alerts:
		alert, ok := msg.(events.ReconciliationAlert)
		if !ok {
			t.Fatalf("alert payload = %T", msg)
		}
		if alert.Kind != KindStaleOrder || alert.OrderID != "ord-1" {
			t.Errorf("alert = %+v, want stale_order on ord-1", alert)
		}
	case <-time.After(time.Second):
		t.Fatalf("no alert published for conflicting fill")
	}

	// The ledger row keeps its original state for a human to settle.
	row, err := database.GetOrderByExchangeID(ctx, testAccount, "777")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if row.Status != db.OrderNew || row.Quantity != 2 || row.FilledQty != 0 {
		t.Errorf("row = %s qty=%v filled=%v, want untouched NEW/2/0", row.Status, row.Quantity, row.FilledQty)
	}
}

func TestStaleOrderUnresolvedWhenVenueUnknown(t *testing.T) {
	venue := &fakeVenue{getErr: errors.New("venue timeout")}
	svc, _, database, bus := newFixture(t, venue)
	ctx := context.Background()
	seedLedgerOrder(t, database, "ord-1", "777", "BTCUSD")

	alerts, unsub := bus.Subscribe(events.EventReconciliationAlert, 4)
	defer unsub()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Unresolved != 1 || report.Repaired != 0 {
		t.Fatalf("report = %+v, want 1 unresolved", report)
	}

	select {
	case msg := <-alerts:
		alert, ok := msg.(events.ReconciliationAlert)
		if !ok {
			t.Fatalf("alert payload = %T", msg)
		}
		if alert.Kind != KindStaleOrder || alert.RunID != report.RunID {
			t.Errorf("alert = %+v, want stale_order for run %s", alert, report.RunID)
		}
	case <-time.After(time.Second):
		t.Fatalf("no alert published for unresolved finding")
	}

	// The order must stay open so the next pass retries it.
	open, err := database.ListOpenOrders(ctx, testAccount)
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 1 {
		t.Errorf("unresolved order dropped from open set")
	}
}

func TestBalanceDriftFlagged(t *testing.T) {
	venue := &fakeVenue{}
	svc, positions, _, _ := newFixture(t, venue)
	ctx := context.Background()

	if _, err := positions.Open(ctx, db.Position{
		Symbol: "BTCUSD", Side: db.SideLong, EntryPrice: 100, Quantity: 2, StopPrice: 98,
	}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	svc.SetBalanceSource(&fakeBalances{bals: map[string]common.AssetBalance{
		"BTC": {Asset: "BTC", Free: 1.2, Locked: 0.3},
	}})

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Unresolved != 1 {
		t.Fatalf("report = %+v, want 1 unresolved balance drift", report)
	}
	if report.Findings[0].Kind != KindBalanceDrift || report.Findings[0].Symbol != "BTC" {
		t.Errorf("finding = %+v, want balance_drift on BTC", report.Findings[0])
	}

	// Exchange holding at least the claimed quantity passes.
	svc.SetBalanceSource(&fakeBalances{bals: map[string]common.AssetBalance{
		"BTC": {Asset: "BTC", Free: 2, Locked: 0.5},
	}})
	report, err = svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Clean() {
		t.Errorf("sufficient balance still flagged: %+v", report)
	}
}

func TestStatusReturnsLastReport(t *testing.T) {
	venue := &fakeVenue{}
	svc, _, _, _ := newFixture(t, venue)

	if svc.Status() != nil {
		t.Fatalf("Status before any run should be nil")
	}
	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got := svc.Status()
	if got == nil || got.RunID != report.RunID {
		t.Errorf("Status = %+v, want run %s", got, report.RunID)
	}
}

func TestPaperModeSkipsExchange(t *testing.T) {
	svc, _, database, _ := newFixture(t, nil)

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Clean() || report.ExchangeOrders != 0 {
		t.Errorf("paper-mode report = %+v, want clean zero counts", report)
	}
	if _, err := database.GetLatestReconciliationRun(context.Background(), testAccount); err != nil {
		t.Errorf("paper-mode run not persisted: %v", err)
	}
}
