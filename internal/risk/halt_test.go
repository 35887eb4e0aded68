package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

const testAccount = "default"

func newHaltFixture(t *testing.T) (*HaltManager, *db.Database) {
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
	return NewHaltManager(database, events.NewBus(), testAccount, "test-instance"), database
}

func status(t *testing.T, database *db.Database) *db.BotState {
	t.Helper()
	s, err := database.GetBotState(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Failed to read bot state: %v", err)
	}
	return s
}

func TestEvaluateDailyStop(t *testing.T) {
	// equity=10000, R_pct=0.006 -> currentR=60; dailyPnl=-150 is
	// -2.5R, past the -2.0R stop.
	h, database := newHaltFixture(t)
	cfg := DefaultConfig()

	to, changed, err := h.Evaluate(context.Background(), -2.5, -2.5, cfg)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !changed || to != StatusHaltedDaily {
		t.Errorf("Evaluate = (%s, %v), want (HALTED_DAILY, true)", to, changed)
	}

	s := status(t, database)
	if s.Status != StatusHaltedDaily || s.HaltReason != ReasonDailyStop {
		t.Errorf("persisted state = %s/%s", s.Status, s.HaltReason)
	}
	if !s.HaltAt.Valid {
		t.Errorf("halt timestamp not recorded")
	}
}

func TestEvaluateWithinLimitsStaysActive(t *testing.T) {
	// dailyPnl=-80 on currentR=60 is about -1.33R: inside the stop.
	h, database := newHaltFixture(t)

	_, changed, err := h.Evaluate(context.Background(), -1.33, -1.33, DefaultConfig())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if changed {
		t.Errorf("expected no transition")
	}
	if s := status(t, database); s.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", s.Status)
	}
}

func TestEvaluateWeeklyTakesPrecedence(t *testing.T) {
	h, database := newHaltFixture(t)

	// Both thresholds breached in the same cycle: weekly wins.
	to, changed, err := h.Evaluate(context.Background(), -3.0, -6.0, DefaultConfig())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !changed || to != StatusHaltedWeekly {
		t.Errorf("Evaluate = (%s, %v), want (HALTED_WEEKLY, true)", to, changed)
	}
	if s := status(t, database); s.HaltReason != ReasonWeeklyStop {
		t.Errorf("reason = %s, want weekly_stop", s.HaltReason)
	}
}

func TestEvaluateSkipsManualStop(t *testing.T) {
	h, database := newHaltFixture(t)
	if _, err := h.Stop(context.Background(), "operator pause"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A breach while STOPPED must not rewrite the manual status.
	_, changed, err := h.Evaluate(context.Background(), -10, -10, DefaultConfig())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if changed {
		t.Errorf("automatic check overrode a manual stop")
	}
	s := status(t, database)
	if s.Status != StatusStopped || s.HaltReason != "operator pause" {
		t.Errorf("state = %s/%s, want STOPPED/operator pause", s.Status, s.HaltReason)
	}
}

type stubFlattener struct {
	count int
	err   error
}

func (s *stubFlattener) FlattenAll(context.Context, string) (int, error) {
	return s.count, s.err
}

func TestEmergencyStopRecordsFlattenCount(t *testing.T) {
	h, database := newHaltFixture(t)
	h.SetFlattener(&stubFlattener{count: 3})

	n, err := h.EmergencyStop(context.Background(), "fat finger")
	if err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if n != 3 {
		t.Errorf("flattened = %d, want 3", n)
	}

	s := status(t, database)
	if s.Status != StatusStopped || s.PositionsFlattened != 3 {
		t.Errorf("state = %s flattened=%d, want STOPPED/3", s.Status, s.PositionsFlattened)
	}
}

func TestEmergencyStopSurvivesFlattenFailure(t *testing.T) {
	h, database := newHaltFixture(t)
	h.SetFlattener(&stubFlattener{count: 1, err: errors.New("exchange down")})

	n, err := h.EmergencyStop(context.Background(), "incident")
	if err != nil {
		t.Fatalf("EmergencyStop must not fail on partial flatten: %v", err)
	}
	if n != 1 {
		t.Errorf("flattened = %d, want 1", n)
	}
	if s := status(t, database); s.Status != StatusStopped {
		t.Errorf("status = %s, want STOPPED despite flatten error", s.Status)
	}
}

func TestResumeFromAutomaticHaltRequiresJustification(t *testing.T) {
	h, database := newHaltFixture(t)
	if _, _, err := h.Evaluate(context.Background(), -2.5, -2.5, DefaultConfig()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if _, err := h.Resume(context.Background(), ""); !errors.Is(err, ErrJustificationRequired) {
		t.Fatalf("Resume without justification: err = %v, want ErrJustificationRequired", err)
	}
	if s := status(t, database); s.Status != StatusHaltedDaily {
		t.Fatalf("failed resume must not change status, got %s", s.Status)
	}

	from, err := h.Resume(context.Background(), "reviewed losses, sizing corrected")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if from != StatusHaltedDaily {
		t.Errorf("previous status = %s, want HALTED_DAILY", from)
	}

	s := status(t, database)
	if s.Status != StatusActive || s.HaltReason != "" || s.HaltAt.Valid {
		t.Errorf("resume left halt residue: %+v", s)
	}
	if s.HaltJustification != "reviewed losses, sizing corrected" {
		t.Errorf("justification = %q", s.HaltJustification)
	}
}

func TestResumeFromManualStopAllowsEmptyJustification(t *testing.T) {
	h, database := newHaltFixture(t)
	if _, err := h.Stop(context.Background(), "maintenance"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := h.Resume(context.Background(), ""); err != nil {
		t.Fatalf("Resume from manual stop: %v", err)
	}
	if s := status(t, database); s.Status != StatusActive {
		t.Errorf("status = %s, want ACTIVE", s.Status)
	}
}

func TestResumeWhileActiveRejected(t *testing.T) {
	h, _ := newHaltFixture(t)
	if _, err := h.Resume(context.Background(), "noop"); !errors.Is(err, ErrNotHalted) {
		t.Errorf("Resume on ACTIVE: err = %v, want ErrNotHalted", err)
	}
}

func TestRequireActive(t *testing.T) {
	h, _ := newHaltFixture(t)
	if err := h.RequireActive(context.Background()); err != nil {
		t.Fatalf("RequireActive on ACTIVE: %v", err)
	}

	if _, err := h.Stop(context.Background(), "pause"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := h.RequireActive(context.Background())
	if !errors.Is(err, ErrTradingBlocked) {
		t.Errorf("RequireActive on STOPPED: err = %v, want ErrTradingBlocked", err)
	}
}
