package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Position side values.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position status values.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Trade outcome values.
const (
	OutcomeWin       = "WIN"
	OutcomeLoss      = "LOSS"
	OutcomeBreakeven = "BREAKEVEN"
)

// Order status values (exchange vocabulary, mirrored in the ledger).
const (
	OrderNew             = "NEW"
	OrderPartiallyFilled = "PARTIALLY_FILLED"
	OrderFilled          = "FILLED"
	OrderCanceled        = "CANCELED"
	OrderRejected        = "REJECTED"
	OrderPendingCancel   = "PENDING_CANCEL"
)

// Order source values: who introduced the ledger row.
const (
	OrderSourceEngine         = "engine"
	OrderSourceReconciliation = "reconciliation"
)

// Position is a directional holding owned by one account.
type Position struct {
	ID            string
	AccountID     string
	Symbol        string
	Side          string
	EntryPrice    float64
	Quantity      float64
	StopPrice     float64
	Playbook      string
	Status        string
	OpenedAt      time.Time
	ClosedAt      sql.NullTime
	RealizedPnl   float64
	RealizedR     float64
	CurrentPrice  float64
	UnrealizedPnl float64
	UnrealizedR   float64
}

// Notional returns the position's current market value.
func (p Position) Notional() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// Trade is an immutable completed round-trip.
type Trade struct {
	ID         string
	AccountID  string
	TradeDate  time.Time
	Symbol     string
	Side       string
	Playbook   string
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnlUsd     float64
	PnlR       float64
	Fees       float64
	Outcome    string
}

// BotState is the single mutable snapshot per account. Equity is the realized
// figure (starting equity plus closed-trade P&L); TotalEquity additionally
// marks open positions to market. Version backs the compare-and-swap write.
type BotState struct {
	AccountID          string
	Status             string
	StartingEquity     float64
	Equity             float64
	DailyPnl           float64
	WeeklyPnl          float64
	TotalEquity        float64
	CurrentR           float64
	HaltReason         string
	HaltAt             sql.NullTime
	HaltJustification  string
	PositionsFlattened int
	Version            int64
	UpdatedAt          time.Time
}

// Order mirrors an exchange order in the ledger.
type Order struct {
	ID              string
	AccountID       string
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            string
	Type            string
	Price           float64
	Quantity        float64
	FilledQty       float64
	Status          string
	Source          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOpen reports whether the order still rests (or may rest) on the exchange.
func (o Order) IsOpen() bool {
	switch o.Status {
	case OrderNew, OrderPartiallyFilled, OrderPendingCancel:
		return true
	}
	return false
}

// HaltEvent is the append-only audit row written on every status transition.
type HaltEvent struct {
	ID                 string
	AccountID          string
	FromStatus         string
	ToStatus           string
	Reason             string
	Justification      string
	InstanceID         string
	PositionsFlattened int
	CreatedAt          time.Time
}

// ReconciliationRun summarizes one reconciliation pass.
type ReconciliationRun struct {
	ID             string
	AccountID      string
	RunAt          time.Time
	ExchangeOrders int
	LedgerOrders   int
	Discrepancies  int
	Repaired       int
	Unresolved     int
	Details        string
}

// CreatePosition inserts a new position row.
func (d *Database) CreatePosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, account_id, symbol, side, entry_price, quantity, stop_price,
			playbook, status, opened_at, current_price, unrealized_pnl, unrealized_r
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?)
	`,
		p.ID, p.AccountID, p.Symbol, p.Side, p.EntryPrice, p.Quantity, p.StopPrice,
		p.Playbook, p.Status, nullTime(p.OpenedAt), p.CurrentPrice, p.UnrealizedPnl, p.UnrealizedR,
	)
	return err
}

// UpdatePositionMark refreshes the mark-to-market fields of an open position.
func (d *Database) UpdatePositionMark(ctx context.Context, id string, price, unrealizedPnl, unrealizedR float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET current_price = ?, unrealized_pnl = ?, unrealized_r = ?
		WHERE id = ? AND status = ?
	`, price, unrealizedPnl, unrealizedR, id, PositionOpen)
	return err
}

// ClosePosition marks a position CLOSED and records the realized result.
func (d *Database) ClosePosition(ctx context.Context, id string, closedAt time.Time, realizedPnl, realizedR float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, closed_at = COALESCE(?, CURRENT_TIMESTAMP),
		    realized_pnl = ?, realized_r = ?, unrealized_pnl = 0, unrealized_r = 0
		WHERE id = ?
	`, PositionClosed, nullTime(closedAt), realizedPnl, realizedR, id)
	return err
}

// ClosePositionWithTrade marks the position closed and appends the
// round-trip trade in one transaction, so realized P&L and the trade
// ledger can never disagree. Closing an already closed position is
// ErrNotFound.
func (d *Database) ClosePositionWithTrade(ctx context.Context, id string, closedAt time.Time, realizedPnl, realizedR float64, t Trade) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET status = ?, closed_at = COALESCE(?, CURRENT_TIMESTAMP),
		    realized_pnl = ?, realized_r = ?, unrealized_pnl = 0, unrealized_r = 0
		WHERE id = ? AND status = ?
	`, PositionClosed, nullTime(closedAt), realizedPnl, realizedR, id, PositionOpen)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close position %s: %w", id, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (
			id, account_id, trade_date, symbol, side, playbook,
			entry_price, exit_price, quantity, pnl_usd, pnl_r, fees, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.TradeDate, t.Symbol, t.Side, t.Playbook,
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnlUsd, t.PnlR, t.Fees, t.Outcome)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListOpenPositions returns all OPEN positions for an account.
func (d *Database) ListOpenPositions(ctx context.Context, accountID string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, symbol, side, entry_price, quantity, stop_price,
		       playbook, status, opened_at, closed_at,
		       COALESCE(realized_pnl, 0), COALESCE(realized_r, 0),
		       COALESCE(current_price, 0), COALESCE(unrealized_pnl, 0), COALESCE(unrealized_r, 0)
		FROM positions
		WHERE account_id = ? AND status = ?
		ORDER BY opened_at ASC
	`, accountID, PositionOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// GetPosition returns one position row or ErrNotFound.
func (d *Database) GetPosition(ctx context.Context, id string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, symbol, side, entry_price, quantity, stop_price,
		       playbook, status, opened_at, closed_at,
		       COALESCE(realized_pnl, 0), COALESCE(realized_r, 0),
		       COALESCE(current_price, 0), COALESCE(unrealized_pnl, 0), COALESCE(unrealized_r, 0)
		FROM positions WHERE id = ?
	`, id)
	var p Position
	if err := scanPosition(row, &p); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateTrade appends a trade row. Trades are never updated or deleted.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, account_id, trade_date, symbol, side, playbook,
			entry_price, exit_price, quantity, pnl_usd, pnl_r, fees, outcome
		) VALUES (?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.AccountID, nullTime(t.TradeDate), t.Symbol, t.Side, t.Playbook,
		t.EntryPrice, t.ExitPrice, t.Quantity, t.PnlUsd, t.PnlR, t.Fees, t.Outcome,
	)
	return err
}

// CreateOrder inserts a ledger mirror of an exchange order.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, account_id, exchange_order_id, client_order_id, symbol, side, type,
			price, quantity, filled_qty, status, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
	`,
		o.ID, o.AccountID, o.ExchangeOrderID, o.ClientOrderID, o.Symbol, o.Side, o.Type,
		o.Price, o.Quantity, o.FilledQty, o.Status, o.Source, nullTime(o.CreatedAt),
	)
	return err
}

// UpdateOrderStatus sets the status of an order by ledger id.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// UpdateOrderFill records fill progress reported by the exchange.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, filledQty float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, filledQty, id)
	return err
}

// ListOpenOrders returns ledger orders still considered open for an account.
func (d *Database) ListOpenOrders(ctx context.Context, accountID string) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, exchange_order_id, client_order_id, symbol, side, type,
		       price, quantity, COALESCE(filled_qty, 0), status, source, created_at, updated_at
		FROM orders
		WHERE account_id = ? AND status IN (?, ?, ?)
		ORDER BY created_at ASC
	`, accountID, OrderNew, OrderPartiallyFilled, OrderPendingCancel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetOrderByExchangeID looks up a ledger order by the exchange's order id.
func (d *Database) GetOrderByExchangeID(ctx context.Context, accountID, exchangeOrderID string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, exchange_order_id, client_order_id, symbol, side, type,
		       price, quantity, COALESCE(filled_qty, 0), status, source, created_at, updated_at
		FROM orders
		WHERE account_id = ? AND exchange_order_id = ?
	`, accountID, exchangeOrderID)
	var o Order
	err := row.Scan(&o.ID, &o.AccountID, &o.ExchangeOrderID, &o.ClientOrderID, &o.Symbol, &o.Side, &o.Type,
		&o.Price, &o.Quantity, &o.FilledQty, &o.Status, &o.Source, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateHaltEvent appends a status-transition audit row.
func (d *Database) CreateHaltEvent(ctx context.Context, e HaltEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO halt_events (
			id, account_id, from_status, to_status, reason, justification,
			instance_id, positions_flattened, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		e.ID, e.AccountID, e.FromStatus, e.ToStatus, e.Reason, e.Justification,
		e.InstanceID, e.PositionsFlattened, nullTime(e.CreatedAt),
	)
	return err
}

// CreateReconciliationRun appends a reconciliation report summary.
func (d *Database) CreateReconciliationRun(ctx context.Context, r ReconciliationRun) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (
			id, account_id, run_at, exchange_orders, ledger_orders,
			discrepancies, repaired, unresolved, details
		) VALUES (?, ?, COALESCE(?, CURRENT_TIMESTAMP), ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.AccountID, nullTime(r.RunAt), r.ExchangeOrders, r.LedgerOrders,
		r.Discrepancies, r.Repaired, r.Unresolved, r.Details,
	)
	return err
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Quantity, &p.StopPrice,
			&p.Playbook, &p.Status, &p.OpenedAt, &p.ClosedAt,
			&p.RealizedPnl, &p.RealizedR, &p.CurrentPrice, &p.UnrealizedPnl, &p.UnrealizedR); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanPosition(row *sql.Row, p *Position) error {
	return row.Scan(&p.ID, &p.AccountID, &p.Symbol, &p.Side, &p.EntryPrice, &p.Quantity, &p.StopPrice,
		&p.Playbook, &p.Status, &p.OpenedAt, &p.ClosedAt,
		&p.RealizedPnl, &p.RealizedR, &p.CurrentPrice, &p.UnrealizedPnl, &p.UnrealizedR)
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.AccountID, &o.ExchangeOrderID, &o.ClientOrderID, &o.Symbol, &o.Side, &o.Type,
			&o.Price, &o.Quantity, &o.FilledQty, &o.Status, &o.Source, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// nullTime maps the zero time to NULL so COALESCE can fill CURRENT_TIMESTAMP.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
