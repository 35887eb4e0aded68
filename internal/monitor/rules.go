package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
)

// warnFraction of the stop distance that triggers an early warning.
const warnFraction = 0.8

// DrawdownRule raises a risk alert when the day or week P&L is most
// of the way to its stop, before the halt machine fires. One warning
// per window.
type DrawdownRule struct {
	bus    *events.Bus
	limits func() risk.Config

	mu         sync.Mutex
	warnedDay  string
	warnedWeek string
}

func NewDrawdownRule(bus *events.Bus, limits func() risk.Config) *DrawdownRule {
	return &DrawdownRule{bus: bus, limits: limits}
}

// Start watches snapshots until ctx is canceled.
func (r *DrawdownRule) Start(ctx context.Context) {
	stream, unsub := r.bus.Subscribe(events.EventStateSnapshot, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				snap, isSnap := msg.(state.Snapshot)
				if !isSnap {
					continue
				}
				for _, warning := range r.Check(snap, r.limits()) {
					r.bus.Publish(events.EventRiskAlert, warning)
				}
			}
		}
	}()
}

// Check returns the warnings a snapshot earns against the configured
// stops. Exported so the thresholds are testable without the bus.
func (r *DrawdownRule) Check(s state.Snapshot, cfg risk.Config) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var warnings []string

	dayKey := s.UpdatedAt.UTC().Format("2006-01-02")
	if r.warnedDay != dayKey && nearStop(s.DailyPnlR, cfg.DailyStopR) {
		r.warnedDay = dayKey
		warnings = append(warnings, fmt.Sprintf(
			"daily drawdown %.2fR is within %.0f%% of the %.2fR stop",
			s.DailyPnlR, warnFraction*100, cfg.DailyStopR))
	}

	year, week := s.UpdatedAt.UTC().ISOWeek()
	weekKey := fmt.Sprintf("%d-W%02d", year, week)
	if r.warnedWeek != weekKey && nearStop(s.WeeklyPnlR, cfg.WeeklyStopR) {
		r.warnedWeek = weekKey
		warnings = append(warnings, fmt.Sprintf(
			"weekly drawdown %.2fR is within %.0f%% of the %.2fR stop",
			s.WeeklyPnlR, warnFraction*100, cfg.WeeklyStopR))
	}
	return warnings
}

// nearStop reports whether pnlR has crossed warnFraction of a
// (negative) stop level.
func nearStop(pnlR, stopR float64) bool {
	return stopR < 0 && pnlR <= stopR*warnFraction
}
