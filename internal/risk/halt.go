package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

var (
	// ErrTradingBlocked is returned by admission paths whenever the
	// account status is anything but ACTIVE. Callers match it with
	// errors.Is and read the reason from the message.
	ErrTradingBlocked = errors.New("trading blocked")

	// ErrNotHalted rejects a resume on an account that is already ACTIVE.
	ErrNotHalted = errors.New("not halted")

	// ErrJustificationRequired rejects a resume from an automatic halt
	// without an operator note.
	ErrJustificationRequired = errors.New("justification required to resume from automatic halt")
)

// Flattener closes every open position, best-effort, and reports how
// many actually closed. Wired to the order executor after construction.
type Flattener interface {
	FlattenAll(ctx context.Context, reason string) (int, error)
}

// HaltManager drives the per-account trading status: automatic stops
// from the cycle evaluation, and the manual stop/emergency/resume
// commands. Every transition is CAS-persisted, audited, and published.
type HaltManager struct {
	store      *db.Database
	bus        *events.Bus
	accountID  string
	instanceID string
	flattener  Flattener
}

func NewHaltManager(store *db.Database, bus *events.Bus, accountID, instanceID string) *HaltManager {
	return &HaltManager{store: store, bus: bus, accountID: accountID, instanceID: instanceID}
}

// SetFlattener wires the position flattener once the order layer is up.
func (h *HaltManager) SetFlattener(f Flattener) {
	h.flattener = f
}

// Evaluate applies the automatic stop rules to a freshly computed
// snapshot. It only acts while the account is ACTIVE: an operator
// stop or earlier halt is authoritative until resumed. The weekly
// stop is checked first and takes precedence over the daily stop.
func (h *HaltManager) Evaluate(ctx context.Context, dailyPnlR, weeklyPnlR float64, cfg Config) (string, bool, error) {
	var from, reason string
	to := ""

	s, err := h.store.UpdateBotState(ctx, h.accountID, func(s *db.BotState) error {
		// Reset on every CAS attempt so a lost race cannot leave a
		// phantom transition behind.
		from, to, reason = "", "", ""
		if s.Status != StatusActive {
			return db.ErrNoUpdate
		}
		switch {
		case weeklyPnlR <= cfg.WeeklyStopR:
			to, reason = StatusHaltedWeekly, ReasonWeeklyStop
		case dailyPnlR <= cfg.DailyStopR:
			to, reason = StatusHaltedDaily, ReasonDailyStop
		default:
			return db.ErrNoUpdate
		}
		from = s.Status
		s.Status = to
		s.HaltReason = reason
		s.HaltAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		s.HaltJustification = ""
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if to == "" {
		return s.Status, false, nil
	}

	log.Printf("🛑 trading halted: %s (dailyPnlR=%.2f weeklyPnlR=%.2f)", reason, dailyPnlR, weeklyPnlR)
	h.recordTransition(ctx, from, to, reason, "", 0, false)
	return to, true, nil
}

// Stop sets the account to STOPPED without touching open positions.
// Stopping an already stopped account is a no-op.
func (h *HaltManager) Stop(ctx context.Context, reason string) (string, error) {
	var from string
	s, err := h.store.UpdateBotState(ctx, h.accountID, func(s *db.BotState) error {
		from = s.Status
		if s.Status == StatusStopped {
			return db.ErrNoUpdate
		}
		s.Status = StatusStopped
		s.HaltReason = reason
		s.HaltAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		return nil
	})
	if err != nil {
		return "", err
	}
	if from != StatusStopped {
		log.Printf("🛑 trading stopped manually: %s", reason)
		h.recordTransition(ctx, from, s.Status, reason, "", 0, true)
	}
	return from, nil
}

// EmergencyStop closes the admission gate immediately, then flattens
// every open position best-effort and records how many closed. A
// flatten failure does not undo the stop.
func (h *HaltManager) EmergencyStop(ctx context.Context, reason string) (int, error) {
	from, err := h.Stop(ctx, reason)
	if err != nil {
		return 0, err
	}

	flattened := 0
	if h.flattener != nil {
		n, err := h.flattener.FlattenAll(ctx, reason)
		flattened = n
		if err != nil {
			log.Printf("⚠️ emergency stop: flatten incomplete after %d closes: %v", n, err)
		}
	}

	if _, err := h.store.UpdateBotState(ctx, h.accountID, func(s *db.BotState) error {
		s.PositionsFlattened = flattened
		return nil
	}); err != nil {
		log.Printf("⚠️ emergency stop: record flatten count: %v", err)
	}

	log.Printf("🚨 emergency stop complete: %d positions flattened (from %s)", flattened, from)
	h.recordTransition(ctx, from, StatusStopped, reason, "", flattened, true)
	return flattened, nil
}

// Resume returns the account to ACTIVE. Leaving an automatic halt
// requires a non-empty justification; the prior halt reason is
// cleared either way.
func (h *HaltManager) Resume(ctx context.Context, justification string) (string, error) {
	var from string
	_, err := h.store.UpdateBotState(ctx, h.accountID, func(s *db.BotState) error {
		if s.Status == StatusActive {
			return ErrNotHalted
		}
		if (s.Status == StatusHaltedDaily || s.Status == StatusHaltedWeekly) && justification == "" {
			return ErrJustificationRequired
		}
		from = s.Status
		s.Status = StatusActive
		s.HaltReason = ""
		s.HaltAt = sql.NullTime{}
		s.HaltJustification = justification
		s.PositionsFlattened = 0
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("▶️ trading resumed from %s: %s", from, justification)
	h.recordTransition(ctx, from, StatusActive, "", justification, 0, true)
	return from, nil
}

// RequireActive is the admission gate: any path that would open a new
// position calls it and refuses on anything but ACTIVE.
func (h *HaltManager) RequireActive(ctx context.Context) error {
	s, err := h.store.GetBotState(ctx, h.accountID)
	if err != nil {
		return fmt.Errorf("read bot state: %w", err)
	}
	if s.Status != StatusActive {
		return fmt.Errorf("%w: status %s (%s)", ErrTradingBlocked, s.Status, s.HaltReason)
	}
	return nil
}

// recordTransition writes the audit row and publishes the event.
// Audit failures are logged, never propagated: the state change
// already committed.
func (h *HaltManager) recordTransition(ctx context.Context, from, to, reason, justification string, flattened int, manual bool) {
	err := h.store.CreateHaltEvent(ctx, db.HaltEvent{
		ID:                 uuid.NewString(),
		AccountID:          h.accountID,
		FromStatus:         from,
		ToStatus:           to,
		Reason:             reason,
		Justification:      justification,
		InstanceID:         h.instanceID,
		PositionsFlattened: flattened,
	})
	if err != nil {
		log.Printf("⚠️ halt audit write failed (%s -> %s): %v", from, to, err)
	}

	if h.bus != nil {
		h.bus.Publish(events.EventHaltTransition, events.HaltTransition{
			From:      from,
			To:        to,
			Reason:    reason,
			Manual:    manual,
			Timestamp: time.Now().UTC(),
		})
	}
}
