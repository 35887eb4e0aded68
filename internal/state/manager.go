// Package state keeps the live view of the account: open positions in
// memory backed by the ledger, mark-to-market refresh, and the
// periodic snapshot that feeds the halt machine and the API.
package state

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

// QuoteFn fetches the current price for a symbol. The engine wires it
// to the websocket price cache with a REST fallback.
type QuoteFn func(ctx context.Context, symbol string) (float64, error)

// Manager holds the in-memory open positions while persisting every
// mutation to the ledger for durability.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]db.Position // keyed by position id

	store     *db.Database
	bus       *events.Bus
	accountID string
}

func NewManager(store *db.Database, bus *events.Bus, accountID string) *Manager {
	return &Manager{
		store:     store,
		bus:       bus,
		accountID: accountID,
		positions: make(map[string]db.Position),
	}
}

// Load seeds in-memory state from the ledger on startup.
func (m *Manager) Load(ctx context.Context) error {
	open, err := m.store.ListOpenPositions(ctx, m.accountID)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]db.Position, len(open))
	for _, p := range open {
		m.positions[p.ID] = p
	}
	log.Printf("State loaded: %d open positions", len(open))
	return nil
}

// Open records a freshly filled position.
func (m *Manager) Open(ctx context.Context, p db.Position) (db.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.AccountID = m.accountID
	p.Status = db.PositionOpen
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.EntryPrice
	}

	if err := m.store.CreatePosition(ctx, p); err != nil {
		return db.Position{}, fmt.Errorf("persist position: %w", err)
	}

	m.mu.Lock()
	m.positions[p.ID] = p
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.EventPositionChange, p)
	}
	return p, nil
}

// Close settles a position at the exit price, appends the round-trip
// trade and drops the position from memory. riskUnit converts the
// realized P&L into R-multiples; a non-positive unit records 0R.
func (m *Manager) Close(ctx context.Context, id string, exitPrice, fees, riskUnit float64) (db.Trade, error) {
	m.mu.Lock()
	p, ok := m.positions[id]
	m.mu.Unlock()
	if !ok {
		return db.Trade{}, fmt.Errorf("close position %s: %w", id, db.ErrNotFound)
	}

	pnl := realizedPnl(p.Side, p.EntryPrice, exitPrice, p.Quantity) - fees
	pnlR := 0.0
	if riskUnit > 0 {
		pnlR = pnl / riskUnit
	}

	now := time.Now().UTC()
	trade := db.Trade{
		ID:         uuid.NewString(),
		AccountID:  m.accountID,
		TradeDate:  now,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Playbook:   p.Playbook,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		PnlUsd:     pnl,
		PnlR:       pnlR,
		Fees:       fees,
		Outcome:    classifyOutcome(pnl),
	}

	if err := m.store.ClosePositionWithTrade(ctx, id, now, pnl, pnlR, trade); err != nil {
		return db.Trade{}, err
	}

	m.mu.Lock()
	delete(m.positions, id)
	m.mu.Unlock()

	log.Printf("Position closed: %s %s %.8f @ %.8f pnl=%.2f (%.2fR) %s",
		p.Symbol, p.Side, p.Quantity, exitPrice, pnl, pnlR, trade.Outcome)
	if m.bus != nil {
		m.bus.Publish(events.EventPositionChange, p)
		m.bus.Publish(events.EventTradeClosed, trade)
	}
	return trade, nil
}

// Get returns one open position by id.
func (m *Manager) Get(id string) (db.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}

// OpenBySymbol returns the open position for a symbol, if any.
func (m *Manager) OpenBySymbol(symbol string) (db.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return db.Position{}, false
}

// OpenPositions returns a copy of all open positions.
func (m *Manager) OpenPositions() []db.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Count returns the number of open positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// RefreshMarks re-prices every open position. A failed quote leaves
// that symbol's mark stale rather than aborting the sweep; riskUnit
// converts unrealized P&L to R for the persisted mark.
func (m *Manager) RefreshMarks(ctx context.Context, quote QuoteFn, riskUnit float64) {
	prices := make(map[string]float64)
	for _, p := range m.OpenPositions() {
		if _, done := prices[p.Symbol]; done {
			continue
		}
		px, err := quote(ctx, p.Symbol)
		if err != nil {
			log.Printf("⚠️ refresh %s: %v (mark left stale)", p.Symbol, err)
			continue
		}
		prices[p.Symbol] = px
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.positions {
		px, ok := prices[p.Symbol]
		if !ok || px <= 0 {
			continue
		}
		p.CurrentPrice = px
		p.UnrealizedPnl = realizedPnl(p.Side, p.EntryPrice, px, p.Quantity)
		p.UnrealizedR = 0
		if riskUnit > 0 {
			p.UnrealizedR = p.UnrealizedPnl / riskUnit
		}
		m.positions[id] = p

		if err := m.store.UpdatePositionMark(ctx, id, px, p.UnrealizedPnl, p.UnrealizedR); err != nil {
			log.Printf("⚠️ persist mark %s: %v", p.Symbol, err)
		}
	}
}

// realizedPnl is the directional P&L of a round trip before fees.
func realizedPnl(side string, entry, exit, qty float64) float64 {
	if side == db.SideShort {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}

func classifyOutcome(pnl float64) string {
	switch {
	case pnl > 0:
		return db.OutcomeWin
	case pnl < 0:
		return db.OutcomeLoss
	}
	return db.OutcomeBreakeven
}
