package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
)

type captureSink struct {
	ch chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan string, 16)}
}

func (s *captureSink) Send(message string) error {
	s.ch <- message
	return nil
}

func (s *captureSink) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return ""
	}
}

func newMonitorFixture(t *testing.T) (*events.Bus, *captureSink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.NewBus()
	sink := newCaptureSink()
	New(bus, sink).Start(ctx)
	time.Sleep(20 * time.Millisecond)
	return bus, sink
}

func TestRiskAlertReachesSink(t *testing.T) {
	bus, sink := newMonitorFixture(t)

	bus.Publish(events.EventRiskAlert, "daily drawdown -1.60R is within 80% of the -2.00R stop")

	msg := sink.next(t)
	if !strings.Contains(msg, "daily drawdown -1.60R") {
		t.Errorf("alert = %q, want drawdown warning", msg)
	}
	if !strings.HasPrefix(msg, "[") {
		t.Errorf("alert %q missing timestamp prefix", msg)
	}
}

func TestHaltTransitionFormatsKind(t *testing.T) {
	bus, sink := newMonitorFixture(t)

	bus.Publish(events.EventHaltTransition, events.HaltTransition{
		From:   "ACTIVE",
		To:     "HALTED_DAILY",
		Reason: "daily stop breached",
		Manual: false,
	})

	msg := sink.next(t)
	if !strings.Contains(msg, "ACTIVE → HALTED_DAILY") || !strings.Contains(msg, "automatic") {
		t.Errorf("alert = %q, want automatic transition line", msg)
	}

	bus.Publish(events.EventHaltTransition, events.HaltTransition{
		From: "ACTIVE", To: "STOPPED", Reason: "operator stop", Manual: true,
	})
	if msg := sink.next(t); !strings.Contains(msg, "manual") {
		t.Errorf("alert = %q, want manual transition line", msg)
	}
}

func TestAdmissionRejectionJoinsViolations(t *testing.T) {
	bus, sink := newMonitorFixture(t)

	bus.Publish(events.EventAdmissionRejected, events.AdmissionRejection{
		Symbol:     "BTCUSDT",
		Playbook:   "breakout",
		Violations: []string{"max_positions: 10 of 10 slots used", "reserve: floor breached"},
	})

	msg := sink.next(t)
	if !strings.Contains(msg, "BTCUSDT") || !strings.Contains(msg, "max_positions") ||
		!strings.Contains(msg, "reserve") {
		t.Errorf("alert = %q, want both violations", msg)
	}
}

func TestReconciliationAlertForwarded(t *testing.T) {
	bus, sink := newMonitorFixture(t)

	bus.Publish(events.EventReconciliationAlert, events.ReconciliationAlert{
		Kind:   "balance_drift",
		Symbol: "ETHUSDT",
		Detail: "positions claim 2.0000 ETH but exchange holds 1.5000",
	})

	msg := sink.next(t)
	if !strings.Contains(msg, "reconciliation:") || !strings.Contains(msg, "1.5000") {
		t.Errorf("alert = %q, want reconciliation detail", msg)
	}
}

func TestViolationKey(t *testing.T) {
	tests := []struct {
		violation string
		want      string
	}{
		{"max_positions: 10 of 10 slots used", "max_positions"},
		{"daily_stop_r", "daily_stop_r"},
		{"correlation: BTCUSDT vs ETHUSDT 0.91 > 0.70", "correlation"},
		{": odd", ": odd"},
	}
	for _, tt := range tests {
		if got := violationKey(tt.violation); got != tt.want {
			t.Errorf("violationKey(%q) = %q, want %q", tt.violation, got, tt.want)
		}
	}
}

func snapshotAt(dailyR, weeklyR float64, at time.Time) state.Snapshot {
	return state.Snapshot{DailyPnlR: dailyR, WeeklyPnlR: weeklyR, UpdatedAt: at}
}

func TestDrawdownRuleWarnsNearDailyStop(t *testing.T) {
	cfg := risk.DefaultConfig() // DailyStopR -2, WeeklyStopR -5
	noon := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		dailyR float64
		warns  int
	}{
		{"well above threshold", -1.0, 0},
		{"exactly at threshold", -1.6, 1},
		{"past threshold", -1.9, 1},
		{"past the stop itself", -2.4, 1},
		{"positive day", 1.2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewDrawdownRule(nil, nil)
			got := rule.Check(snapshotAt(tt.dailyR, 0, noon), cfg)
			if len(got) != tt.warns {
				t.Errorf("Check() = %v, want %d warning(s)", got, tt.warns)
			}
		})
	}
}

func TestDrawdownRuleWarnsOncePerDay(t *testing.T) {
	cfg := risk.DefaultConfig()
	rule := NewDrawdownRule(nil, nil)
	day1 := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	if got := rule.Check(snapshotAt(-1.7, 0, day1), cfg); len(got) != 1 {
		t.Fatalf("first breach: Check() = %v, want 1 warning", got)
	}
	if got := rule.Check(snapshotAt(-1.9, 0, day1.Add(time.Hour)), cfg); len(got) != 0 {
		t.Errorf("same day: Check() = %v, want no repeat", got)
	}
	if got := rule.Check(snapshotAt(-1.8, 0, day1.AddDate(0, 0, 1)), cfg); len(got) != 1 {
		t.Errorf("next day: Check() = %v, want fresh warning", got)
	}
}

func TestDrawdownRuleTracksWeekSeparately(t *testing.T) {
	cfg := risk.DefaultConfig()
	rule := NewDrawdownRule(nil, nil)
	// Wednesday; -4.2R is past 80% of the -5R weekly stop while the
	// day is fine.
	wed := time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)

	got := rule.Check(snapshotAt(-0.5, -4.2, wed), cfg)
	if len(got) != 1 || !strings.Contains(got[0], "weekly") {
		t.Fatalf("Check() = %v, want one weekly warning", got)
	}

	// Friday, same ISO week: suppressed. Next Monday: fresh.
	fri := time.Date(2025, 6, 6, 9, 0, 0, 0, time.UTC)
	if got := rule.Check(snapshotAt(-0.5, -4.5, fri), cfg); len(got) != 0 {
		t.Errorf("same week: Check() = %v, want no repeat", got)
	}
	mon := time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC)
	if got := rule.Check(snapshotAt(-0.5, -4.5, mon), cfg); len(got) != 1 {
		t.Errorf("next week: Check() = %v, want fresh warning", got)
	}
}

func TestDrawdownRulePublishesToBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventRiskAlert, 4)
	defer unsub()

	rule := NewDrawdownRule(bus, risk.DefaultConfig)
	rule.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventStateSnapshot, snapshotAt(-1.9, 0, time.Now().UTC()))

	select {
	case msg := <-alerts:
		s, _ := msg.(string)
		if !strings.Contains(s, "daily drawdown") {
			t.Errorf("alert = %q, want daily drawdown warning", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no risk alert published")
	}
}
