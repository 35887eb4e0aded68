package state

import (
	"context"
	"fmt"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

// Snapshot is the computed account picture for one cycle. Equity
// includes unrealized P&L; P&L windows cover the current UTC day and
// ISO week of the trade ledger.
type Snapshot struct {
	AccountID      string    `json:"accountId"`
	Status         string    `json:"status"`
	StartingEquity float64   `json:"startingEquity"`
	Equity         float64   `json:"equity"`
	RealizedEquity float64   `json:"realizedEquity"`
	DailyPnl       float64   `json:"dailyPnl"`
	WeeklyPnl      float64   `json:"weeklyPnl"`
	CurrentR       float64   `json:"currentR"`
	DailyPnlR      float64   `json:"dailyPnlR"`
	WeeklyPnlR     float64   `json:"weeklyPnlR"`
	OpenPositions  int       `json:"openPositions"`
	TotalNotional  float64   `json:"totalNotional"`
	ExposurePct    float64   `json:"totalExposurePct"`
	AvailableCap   float64   `json:"availableCapital"`
	ReservePct     float64   `json:"reserveLevel"`
	OpenRiskR      float64   `json:"totalOpenRiskR"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ComputeSnapshot derives the account state from the ledger and the
// in-memory marks, then persists it into the bot_state row. The
// computation itself is a pure function of ledger state at call time:
// repeating it without new trades yields the same numbers, modulo
// live price drift. The returned snapshot is valid even when the
// persist step reports an error, so callers can keep operating on it.
func (m *Manager) ComputeSnapshot(ctx context.Context, cfg risk.Config) (Snapshot, error) {
	s, err := m.store.GetBotState(ctx, m.accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read bot state: %w", err)
	}

	now := time.Now().UTC()
	lifetime, err := m.store.SumTradePnl(ctx, m.accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sum trade pnl: %w", err)
	}
	daily, err := m.store.SumTradePnlSince(ctx, m.accountID, DayStartUTC(now))
	if err != nil {
		return Snapshot{}, fmt.Errorf("sum daily pnl: %w", err)
	}
	weekly, err := m.store.SumTradePnlSince(ctx, m.accountID, WeekStartUTC(now))
	if err != nil {
		return Snapshot{}, fmt.Errorf("sum weekly pnl: %w", err)
	}

	open := m.OpenPositions()
	var unrealized, notional float64
	for _, p := range open {
		unrealized += p.UnrealizedPnl
		notional += p.Notional()
	}

	equity := s.StartingEquity + lifetime + unrealized
	currentR := equity * cfg.RPct

	snap := Snapshot{
		AccountID:      m.accountID,
		Status:         s.Status,
		StartingEquity: s.StartingEquity,
		Equity:         equity,
		RealizedEquity: s.StartingEquity + lifetime,
		DailyPnl:       daily,
		WeeklyPnl:      weekly,
		CurrentR:       currentR,
		OpenPositions:  len(open),
		TotalNotional:  notional,
		AvailableCap:   equity - notional,
		UpdatedAt:      now,
	}
	if currentR > 0 {
		snap.DailyPnlR = daily / currentR
		snap.WeeklyPnlR = weekly / currentR
	}
	if equity > 0 {
		snap.ExposurePct = notional / equity * 100
		snap.ReservePct = snap.AvailableCap / equity * 100
	}
	for _, p := range open {
		snap.OpenRiskR += risk.PositionRiskR(p, currentR)
	}

	_, persistErr := m.store.UpdateBotState(ctx, m.accountID, func(st *db.BotState) error {
		st.Equity = snap.RealizedEquity
		st.DailyPnl = snap.DailyPnl
		st.WeeklyPnl = snap.WeeklyPnl
		st.TotalEquity = snap.Equity
		st.CurrentR = snap.CurrentR
		return nil
	})
	if persistErr != nil {
		persistErr = fmt.Errorf("persist snapshot: %w", persistErr)
	}

	if m.bus != nil {
		m.bus.Publish(events.EventStateSnapshot, snap)
	}
	return snap, persistErr
}

// DayStartUTC is midnight UTC of the day containing t.
func DayStartUTC(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// WeekStartUTC is midnight UTC of the Monday starting the ISO week
// containing t.
func WeekStartUTC(t time.Time) time.Time {
	day := DayStartUTC(t)
	wd := int(day.Weekday())
	if wd == 0 {
		wd = 7
	}
	return day.AddDate(0, 0, -(wd - 1))
}
