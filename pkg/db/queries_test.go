package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestBotStateCompareAndSwap(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.InitBotState(ctx, "acct-1", 10000); err != nil {
		t.Fatalf("Failed to init bot state: %v", err)
	}

	st, err := database.GetBotState(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Failed to get bot state: %v", err)
	}
	if st.Status != "ACTIVE" || st.Version != 0 {
		t.Errorf("unexpected initial state: status=%s version=%d", st.Status, st.Version)
	}

	t.Run("write with current version succeeds", func(t *testing.T) {
		st.Equity = 10150
		st.DailyPnl = 150
		if err := database.SaveBotState(ctx, *st); err != nil {
			t.Errorf("expected save to succeed, got %v", err)
		}
	})

	t.Run("write with stale version conflicts", func(t *testing.T) {
		stale := *st // still carries version 0
		stale.Equity = 9000
		err := database.SaveBotState(ctx, stale)
		if !errors.Is(err, ErrStateConflict) {
			t.Errorf("expected ErrStateConflict, got %v", err)
		}

		cur, err := database.GetBotState(ctx, "acct-1")
		if err != nil {
			t.Fatalf("Failed to re-read bot state: %v", err)
		}
		if cur.Equity != 10150 {
			t.Errorf("conflicting write mutated state: equity=%v", cur.Equity)
		}
		if cur.Version != 1 {
			t.Errorf("expected version 1 after one successful save, got %d", cur.Version)
		}
	})
}

func TestTradePnlAggregation(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 12, 15, 0, 0, 0, time.UTC)
	trades := []Trade{
		{ID: "t1", AccountID: "acct-1", TradeDate: now.Add(-48 * time.Hour), Symbol: "BTCUSD", Side: SideLong, EntryPrice: 100, ExitPrice: 110, Quantity: 1, PnlUsd: 10, Outcome: OutcomeWin},
		{ID: "t2", AccountID: "acct-1", TradeDate: now.Add(-2 * time.Hour), Symbol: "ETHUSD", Side: SideLong, EntryPrice: 50, ExitPrice: 45, Quantity: 2, PnlUsd: -10, Outcome: OutcomeLoss},
		{ID: "t3", AccountID: "acct-1", TradeDate: now.Add(-1 * time.Hour), Symbol: "BTCUSD", Side: SideLong, EntryPrice: 100, ExitPrice: 125, Quantity: 1, PnlUsd: 25, Outcome: OutcomeWin},
		{ID: "t4", AccountID: "acct-2", TradeDate: now, Symbol: "BTCUSD", Side: SideLong, EntryPrice: 100, ExitPrice: 200, Quantity: 1, PnlUsd: 100, Outcome: OutcomeWin},
	}
	for _, tr := range trades {
		if err := database.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("Failed to create trade %s: %v", tr.ID, err)
		}
	}

	total, err := database.SumTradePnl(ctx, "acct-1")
	if err != nil {
		t.Fatalf("SumTradePnl: %v", err)
	}
	if total != 25 {
		t.Errorf("expected lifetime pnl 25, got %v", total)
	}

	dayStart := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	daily, err := database.SumTradePnlSince(ctx, "acct-1", dayStart)
	if err != nil {
		t.Fatalf("SumTradePnlSince: %v", err)
	}
	if daily != 15 {
		t.Errorf("expected daily pnl 15, got %v", daily)
	}
}

func TestPositionLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := Position{
		ID:         "pos-1",
		AccountID:  "acct-1",
		Symbol:     "BTCUSD",
		Side:       SideLong,
		EntryPrice: 50000,
		Quantity:   0.1,
		StopPrice:  49000,
		Playbook:   "breakout",
		Status:     PositionOpen,
	}
	if err := database.CreatePosition(ctx, p); err != nil {
		t.Fatalf("Failed to create position: %v", err)
	}

	open, err := database.ListOpenPositions(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListOpenPositions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}

	if err := database.UpdatePositionMark(ctx, "pos-1", 51000, 100, 1.67); err != nil {
		t.Fatalf("UpdatePositionMark: %v", err)
	}
	got, err := database.GetPosition(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.CurrentPrice != 51000 || got.UnrealizedPnl != 100 {
		t.Errorf("mark not applied: price=%v upnl=%v", got.CurrentPrice, got.UnrealizedPnl)
	}

	if err := database.ClosePosition(ctx, "pos-1", time.Now().UTC(), 100, 1.67); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	open, err = database.ListOpenPositions(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListOpenPositions after close: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected 0 open positions after close, got %d", len(open))
	}
}

func TestOrderLookups(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	orders := []Order{
		{ID: "o1", AccountID: "acct-1", ExchangeOrderID: "ex-100", Symbol: "BTCUSD", Side: "BUY", Type: "LIMIT", Price: 50000, Quantity: 0.1, Status: OrderNew, Source: OrderSourceEngine},
		{ID: "o2", AccountID: "acct-1", ExchangeOrderID: "ex-101", Symbol: "ETHUSD", Side: "SELL", Type: "LIMIT", Price: 3000, Quantity: 1, Status: OrderFilled, Source: OrderSourceEngine},
		{ID: "o3", AccountID: "acct-1", ExchangeOrderID: "ex-102", Symbol: "BTCUSD", Side: "BUY", Type: "LIMIT", Price: 49000, Quantity: 0.1, Status: OrderPartiallyFilled, Source: OrderSourceEngine},
	}
	for _, o := range orders {
		if err := database.CreateOrder(ctx, o); err != nil {
			t.Fatalf("Failed to create order %s: %v", o.ID, err)
		}
	}

	open, err := database.ListOpenOrders(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListOpenOrders: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("expected 2 open orders, got %d", len(open))
	}

	got, err := database.GetOrderByExchangeID(ctx, "acct-1", "ex-101")
	if err != nil {
		t.Fatalf("GetOrderByExchangeID: %v", err)
	}
	if got.ID != "o2" {
		t.Errorf("expected o2, got %s", got.ID)
	}

	if _, err := database.GetOrderByExchangeID(ctx, "acct-1", "ex-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRiskConfigVersioning(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	base := RiskConfigRow{
		RPct: 0.006, DailyStopR: -2, WeeklyStopR: -5, MaxOpenR: 6,
		MaxExposurePct: 0.8, MaxPositions: 10, CorrelationGuard: true,
		CorrelationThreshold: 0.7, MaxCorrelatedExposure: 0.3,
		ReserveTargetPct: 30, ReserveFloorPct: 10,
	}

	v1, err := database.SaveRiskConfig(ctx, "acct-1", base)
	if err != nil {
		t.Fatalf("SaveRiskConfig v1: %v", err)
	}
	if v1 != 1 {
		t.Errorf("expected version 1, got %d", v1)
	}

	base.RPct = 0.01
	v2, err := database.SaveRiskConfig(ctx, "acct-1", base)
	if err != nil {
		t.Fatalf("SaveRiskConfig v2: %v", err)
	}
	if v2 != 2 {
		t.Errorf("expected version 2, got %d", v2)
	}

	latest, err := database.GetLatestRiskConfig(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetLatestRiskConfig: %v", err)
	}
	if latest.Version != 2 || latest.RPct != 0.01 {
		t.Errorf("expected newest version 2 with r_pct 0.01, got version=%d r_pct=%v", latest.Version, latest.RPct)
	}
	if !latest.CorrelationGuard {
		t.Errorf("correlation guard flag lost in round trip")
	}
}
