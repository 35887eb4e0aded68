// Package db persists the account ledger: positions, trades, orders, the
// per-account bot state snapshot, versioned risk configs and audit rows.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrStateConflict signals a lost compare-and-swap on bot_state: another
	// writer bumped the version between our read and write.
	ErrStateConflict = errors.New("bot state version conflict")

	// ErrNoUpdate can be returned from an UpdateBotState mutator to end the
	// read-modify-write cleanly without touching the row.
	ErrNoUpdate = errors.New("no update")
)

// GetBotState returns the snapshot row for an account or ErrNotFound.
func (d *Database) GetBotState(ctx context.Context, accountID string) (*BotState, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT account_id, status, starting_equity, equity, daily_pnl, weekly_pnl,
		       total_equity, current_r, COALESCE(halt_reason, ''), halt_at,
		       COALESCE(halt_justification, ''), COALESCE(positions_flattened, 0),
		       version, updated_at
		FROM bot_state WHERE account_id = ?
	`, accountID)

	var s BotState
	err := row.Scan(&s.AccountID, &s.Status, &s.StartingEquity, &s.Equity, &s.DailyPnl, &s.WeeklyPnl,
		&s.TotalEquity, &s.CurrentR, &s.HaltReason, &s.HaltAt,
		&s.HaltJustification, &s.PositionsFlattened, &s.Version, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InitBotState creates the snapshot row if the account has none yet.
func (d *Database) InitBotState(ctx context.Context, accountID string, startingEquity float64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_state (account_id, status, starting_equity, equity, total_equity, version)
		VALUES (?, 'ACTIVE', ?, ?, ?, 0)
		ON CONFLICT(account_id) DO NOTHING
	`, accountID, startingEquity, startingEquity, startingEquity)
	return err
}

// SaveBotState writes the snapshot with compare-and-swap semantics: the row is
// only updated when its version still equals s.Version, and the stored version
// is bumped. A lost race returns ErrStateConflict and mutates nothing.
func (d *Database) SaveBotState(ctx context.Context, s BotState) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE bot_state
		SET status = ?, starting_equity = ?, equity = ?, daily_pnl = ?, weekly_pnl = ?,
		    total_equity = ?, current_r = ?, halt_reason = ?, halt_at = ?,
		    halt_justification = ?, positions_flattened = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND version = ?
	`,
		s.Status, s.StartingEquity, s.Equity, s.DailyPnl, s.WeeklyPnl,
		s.TotalEquity, s.CurrentR, s.HaltReason, s.HaltAt,
		s.HaltJustification, s.PositionsFlattened,
		s.AccountID, s.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

// UpdateBotState runs a read-modify-write on the snapshot row, retrying the
// compare-and-swap a few times when a concurrent writer wins the race. This
// is the write path every state mutation goes through so per-account updates
// serialize without a process-wide lock. Returns the state as written.
func (d *Database) UpdateBotState(ctx context.Context, accountID string, mutate func(*BotState) error) (*BotState, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s, err := d.GetBotState(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if err := mutate(s); err != nil {
			if errors.Is(err, ErrNoUpdate) {
				return s, nil
			}
			return nil, err
		}
		if err := d.SaveBotState(ctx, *s); err != nil {
			if errors.Is(err, ErrStateConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		s.Version++
		return s, nil
	}
	return nil, fmt.Errorf("update bot state for %s: %w", accountID, lastErr)
}

// SumTradePnl returns the lifetime realized P&L for an account.
func (d *Database) SumTradePnl(ctx context.Context, accountID string) (float64, error) {
	var sum float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl_usd), 0) FROM trades WHERE account_id = ?
	`, accountID).Scan(&sum)
	return sum, err
}

// SumTradePnlSince returns realized P&L for trades dated at or after since.
func (d *Database) SumTradePnlSince(ctx context.Context, accountID string, since time.Time) (float64, error) {
	var sum float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pnl_usd), 0) FROM trades
		WHERE account_id = ? AND trade_date >= ?
	`, accountID, since).Scan(&sum)
	return sum, err
}

// ListTrades returns the most recent trades for an account.
func (d *Database) ListTrades(ctx context.Context, accountID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, trade_date, symbol, side, playbook,
		       entry_price, exit_price, quantity, pnl_usd, pnl_r, fees, outcome
		FROM trades
		WHERE account_id = ?
		ORDER BY trade_date DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.TradeDate, &t.Symbol, &t.Side, &t.Playbook,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnlUsd, &t.PnlR, &t.Fees, &t.Outcome); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListHaltEvents returns the most recent status transitions for an account,
// newest first.
func (d *Database) ListHaltEvents(ctx context.Context, accountID string, limit int) ([]HaltEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, from_status, to_status, reason, justification,
		       instance_id, positions_flattened, created_at
		FROM halt_events
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []HaltEvent
	for rows.Next() {
		var e HaltEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.Justification,
			&e.InstanceID, &e.PositionsFlattened, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// SaveRiskConfig appends a new config version for the account and returns the
// version number written. Versions are monotonically increasing per account.
func (d *Database) SaveRiskConfig(ctx context.Context, accountID string, rc RiskConfigRow) (int64, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM risk_configs WHERE account_id = ?
	`, accountID).Scan(&next); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO risk_configs (
			account_id, version, r_pct, daily_stop_r, weekly_stop_r, max_open_r,
			max_exposure_pct, max_positions, correlation_guard,
			correlation_threshold, max_correlated_exposure,
			reserve_target_pct, reserve_floor_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		accountID, next, rc.RPct, rc.DailyStopR, rc.WeeklyStopR, rc.MaxOpenR,
		rc.MaxExposurePct, rc.MaxPositions, boolToInt(rc.CorrelationGuard),
		rc.CorrelationThreshold, rc.MaxCorrelatedExposure,
		rc.ReserveTargetPct, rc.ReserveFloorPct,
	); err != nil {
		return 0, fmt.Errorf("insert risk config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// GetLatestRiskConfig returns the newest config version or ErrNotFound.
func (d *Database) GetLatestRiskConfig(ctx context.Context, accountID string) (*RiskConfigRow, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT account_id, version, r_pct, daily_stop_r, weekly_stop_r, max_open_r,
		       max_exposure_pct, max_positions, correlation_guard,
		       correlation_threshold, max_correlated_exposure,
		       reserve_target_pct, reserve_floor_pct, updated_at
		FROM risk_configs
		WHERE account_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, accountID)

	var rc RiskConfigRow
	var guard int
	err := row.Scan(&rc.AccountID, &rc.Version, &rc.RPct, &rc.DailyStopR, &rc.WeeklyStopR, &rc.MaxOpenR,
		&rc.MaxExposurePct, &rc.MaxPositions, &guard,
		&rc.CorrelationThreshold, &rc.MaxCorrelatedExposure,
		&rc.ReserveTargetPct, &rc.ReserveFloorPct, &rc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rc.CorrelationGuard = guard != 0
	return &rc, nil
}

// GetLatestReconciliationRun returns the most recent report summary or ErrNotFound.
func (d *Database) GetLatestReconciliationRun(ctx context.Context, accountID string) (*ReconciliationRun, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, account_id, run_at, exchange_orders, ledger_orders,
		       discrepancies, repaired, unresolved, details
		FROM reconciliation_runs
		WHERE account_id = ?
		ORDER BY run_at DESC, id DESC
		LIMIT 1
	`, accountID)

	var r ReconciliationRun
	err := row.Scan(&r.ID, &r.AccountID, &r.RunAt, &r.ExchangeOrders, &r.LedgerOrders,
		&r.Discrepancies, &r.Repaired, &r.Unresolved, &r.Details)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RiskConfigRow is the persisted form of a risk configuration version.
type RiskConfigRow struct {
	AccountID             string
	Version               int64
	RPct                  float64
	DailyStopR            float64
	WeeklyStopR           float64
	MaxOpenR              float64
	MaxExposurePct        float64
	MaxPositions          int
	CorrelationGuard      bool
	CorrelationThreshold  float64
	MaxCorrelatedExposure float64
	ReserveTargetPct      float64
	ReserveFloorPct       float64
	UpdatedAt             time.Time
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
