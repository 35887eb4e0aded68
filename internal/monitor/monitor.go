// Package monitor turns bus events into operator alerts and
// Prometheus metrics. It only observes; nothing in the trading path
// depends on it.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
)

// Monitor watches the bus and fans alerts out to its sinks.
type Monitor struct {
	bus   *events.Bus
	sinks []AlertSink
}

func New(bus *events.Bus, sinks ...AlertSink) *Monitor {
	if len(sinks) == 0 {
		sinks = []AlertSink{LogSink{}}
	}
	return &Monitor{bus: bus, sinks: sinks}
}

// Start subscribes to the topics worth an operator's attention. All
// loops exit when ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m.bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	m.watch(ctx, events.EventRiskAlert, m.onRiskAlert)
	m.watch(ctx, events.EventHaltTransition, m.onHaltTransition)
	m.watch(ctx, events.EventReconciliationAlert, m.onReconciliationAlert)
	m.watch(ctx, events.EventAdmissionRejected, m.onAdmissionRejected)
	m.watch(ctx, events.EventStateSnapshot, m.onSnapshot)
	m.watch(ctx, events.EventOrderAccepted, m.onOrderAccepted)
	m.watch(ctx, events.EventTradeClosed, m.onTradeClosed)
	log.Println("✓ Monitor started")
}

func (m *Monitor) watch(ctx context.Context, topic events.Event, handle func(any)) {
	stream, unsub := m.bus.Subscribe(topic, 50)
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
				handle(msg)
			}
		}
	}()
}

func (m *Monitor) onRiskAlert(msg any) {
	m.alert(toString(msg))
}

func (m *Monitor) onHaltTransition(msg any) {
	t, ok := msg.(events.HaltTransition)
	if !ok {
		m.alert(toString(msg))
		return
	}
	CountHalt(t.To)
	kind := "automatic"
	if t.Manual {
		kind = "manual"
	}
	m.alert(fmt.Sprintf("status %s → %s (%s, %s)", t.From, t.To, t.Reason, kind))
}

func (m *Monitor) onReconciliationAlert(msg any) {
	a, ok := msg.(events.ReconciliationAlert)
	if !ok {
		m.alert(toString(msg))
		return
	}
	CountReconciliationFinding(a.Kind)
	m.alert("reconciliation: " + a.Detail)
}

func (m *Monitor) onAdmissionRejected(msg any) {
	r, ok := msg.(events.AdmissionRejection)
	if !ok {
		return
	}
	for _, v := range r.Violations {
		CountAdmissionRejection(violationKey(v))
	}
	m.alert(fmt.Sprintf("admission rejected %s (%s): %s",
		r.Symbol, r.Playbook, strings.Join(r.Violations, "; ")))
}

func (m *Monitor) onSnapshot(msg any) {
	s, ok := msg.(state.Snapshot)
	if !ok {
		return
	}
	ObserveSnapshot(s.Equity, s.CurrentR, s.DailyPnlR, s.OpenPositions)
}

func (m *Monitor) onOrderAccepted(msg any) {
	o, ok := msg.(db.Order)
	if !ok {
		return
	}
	CountOrder(o.Side, o.Type)
}

func (m *Monitor) onTradeClosed(msg any) {
	t, ok := msg.(db.Trade)
	if !ok {
		return
	}
	CountTrade(t.Outcome)
}

func (m *Monitor) alert(message string) {
	line := "[" + time.Now().UTC().Format(time.RFC3339) + "] " + message
	for _, sink := range m.sinks {
		if err := sink.Send(line); err != nil {
			log.Printf("monitor: sink error: %v", err)
		}
	}
}

// violationKey reduces "max_positions: 10 of 10 slots used" to its
// stable prefix for the metric label.
func violationKey(v string) string {
	if i := strings.IndexByte(v, ':'); i > 0 {
		return v[:i]
	}
	return v
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
