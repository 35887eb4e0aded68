package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick            Event = "price_tick"
	EventStateSnapshot        Event = "state.snapshot"
	EventHaltTransition       Event = "halt.transition"
	EventRiskAlert            Event = "risk_alert"
	EventPositionChange       Event = "position_change"
	EventTradeClosed          Event = "trade.closed"
	EventAdmissionRejected    Event = "admission.rejected"
	EventReconciliationAlert  Event = "reconciliation.alert"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderFilled          Event = "order.filled"
	EventOrderPartiallyFilled Event = "order.partially_filled"
	EventOrderCanceled        Event = "order.canceled"
)

// HaltTransition is published whenever the trading status changes,
// whether from an automatic stop check or an operator command.
type HaltTransition struct {
	From      string
	To        string
	Reason    string
	Manual    bool
	Timestamp time.Time
}

// AdmissionRejection is published when a decision request is refused
// by the risk gate.
type AdmissionRejection struct {
	Symbol     string
	Playbook   string
	Violations []string
}

// ReconciliationAlert is published for discrepancies the reconciler
// could not repair automatically.
type ReconciliationAlert struct {
	RunID   string
	Kind    string
	Symbol  string
	OrderID string
	Detail  string
}

// OrderUpdate carries the lifecycle of one order through the bus.
type OrderUpdate struct {
	OrderID string
	Symbol  string
	Side    string
	Status  string
	Qty     float64
	Price   float64
}
