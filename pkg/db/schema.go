package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry_price REAL NOT NULL,
    quantity REAL NOT NULL,
    stop_price REAL DEFAULT 0,
    playbook TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'OPEN',
    opened_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    realized_pnl REAL,
    realized_r REAL,
    current_price REAL,
    unrealized_pnl REAL,
    unrealized_r REAL
);
CREATE INDEX IF NOT EXISTS idx_positions_account_status ON positions(account_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    trade_date DATETIME NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    playbook TEXT DEFAULT '',
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    quantity REAL NOT NULL,
    pnl_usd REAL NOT NULL,
    pnl_r REAL DEFAULT 0,
    fees REAL DEFAULT 0,
    outcome TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_account_date ON trades(account_id, trade_date);

CREATE TABLE IF NOT EXISTS bot_state (
    account_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    starting_equity REAL NOT NULL,
    equity REAL NOT NULL,
    daily_pnl REAL DEFAULT 0,
    weekly_pnl REAL DEFAULT 0,
    total_equity REAL DEFAULT 0,
    current_r REAL DEFAULT 0,
    halt_reason TEXT DEFAULT '',
    halt_at DATETIME,
    halt_justification TEXT DEFAULT '',
    positions_flattened INTEGER DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    r_pct REAL NOT NULL,
    daily_stop_r REAL NOT NULL,
    weekly_stop_r REAL NOT NULL,
    max_open_r REAL NOT NULL,
    max_exposure_pct REAL NOT NULL,
    max_positions INTEGER NOT NULL,
    correlation_guard INTEGER NOT NULL DEFAULT 1,
    correlation_threshold REAL NOT NULL,
    max_correlated_exposure REAL NOT NULL,
    reserve_target_pct REAL NOT NULL,
    reserve_floor_pct REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(account_id, version)
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    exchange_order_id TEXT DEFAULT '',
    client_order_id TEXT DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'LIMIT',
    price REAL NOT NULL,
    quantity REAL NOT NULL,
    filled_qty REAL DEFAULT 0,
    status TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT 'engine',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_account_status ON orders(account_id, status);
CREATE INDEX IF NOT EXISTS idx_orders_exchange_id ON orders(exchange_order_id);

CREATE TABLE IF NOT EXISTS halt_events (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    reason TEXT DEFAULT '',
    justification TEXT DEFAULT '',
    instance_id TEXT DEFAULT '',
    positions_flattened INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_halt_events_account ON halt_events(account_id, created_at);

CREATE TABLE IF NOT EXISTS reconciliation_runs (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    run_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    exchange_orders INTEGER DEFAULT 0,
    ledger_orders INTEGER DEFAULT 0,
    discrepancies INTEGER DEFAULT 0,
    repaired INTEGER DEFAULT 0,
    unresolved INTEGER DEFAULT 0,
    details TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_recon_runs_account ON reconciliation_runs(account_id, run_at);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "positions", "playbook", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "stop_price", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "pnl_r", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "fees", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_state", "halt_justification", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_state", "positions_flattened", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_state", "version", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "source", "TEXT NOT NULL DEFAULT 'engine'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "client_order_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "halt_events", "instance_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
