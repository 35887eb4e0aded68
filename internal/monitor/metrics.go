// Prometheus metrics for observability:
//   - bot_equity_usd                       current marked equity (gauge)
//   - bot_current_r_usd                    dollar value of 1R (gauge)
//   - bot_daily_pnl_r                      daily P&L in R (gauge)
//   - bot_open_positions                   open position count (gauge)
//   - bot_cycles_total                     evaluation cycles completed
//   - bot_orders_total{side,type}          orders accepted by the exchange
//   - bot_trades_total{outcome}            closed round trips (WIN/LOSS/BREAKEVEN)
//   - bot_halts_total{to}                  status transitions by target status
//   - bot_admission_rejections_total{rule} refused entries by violated rule
//   - bot_reconciliation_findings_total{kind} ledger/exchange discrepancies
//   - bot_api_requests_total{method,status}  control API requests
//
// Registered in init(), served by the API at /metrics.
package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Account equity including unrealized P&L",
		},
	)

	mtxCurrentR = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_current_r_usd",
			Help: "Dollar value of one risk unit",
		},
	)

	mtxDailyPnlR = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_daily_pnl_r",
			Help: "Realized P&L of the current UTC day in R-multiples",
		},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Number of open positions",
		},
	)

	mtxCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Evaluation cycles completed",
		},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders accepted by the exchange",
		},
		[]string{"side", "type"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Closed round trips by outcome",
		},
		[]string{"outcome"},
	)

	mtxHalts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_halts_total",
			Help: "Status transitions by target status",
		},
		[]string{"to"},
	)

	mtxAdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_admission_rejections_total",
			Help: "Refused entries by violated rule",
		},
		[]string{"rule"},
	)

	mtxReconFindings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_reconciliation_findings_total",
			Help: "Ledger vs exchange discrepancies by kind",
		},
		[]string{"kind"},
	)

	mtxAPIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_api_requests_total",
			Help: "Control API requests by method and status code",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(mtxEquity, mtxCurrentR, mtxDailyPnlR, mtxOpenPositions)
	prometheus.MustRegister(mtxCycles)
	prometheus.MustRegister(mtxOrders, mtxTrades)
	prometheus.MustRegister(mtxHalts, mtxAdmissionRejections, mtxReconFindings)
	prometheus.MustRegister(mtxAPIRequests)
}

// ObserveSnapshot refreshes the account gauges; one call per cycle.
func ObserveSnapshot(equity, currentR, dailyPnlR float64, openPositions int) {
	mtxEquity.Set(equity)
	mtxCurrentR.Set(currentR)
	mtxDailyPnlR.Set(dailyPnlR)
	mtxOpenPositions.Set(float64(openPositions))
	mtxCycles.Inc()
}

func CountOrder(side, orderType string) {
	mtxOrders.WithLabelValues(side, orderType).Inc()
}

func CountTrade(outcome string) {
	mtxTrades.WithLabelValues(outcome).Inc()
}

func CountHalt(to string) {
	mtxHalts.WithLabelValues(to).Inc()
}

func CountAdmissionRejection(rule string) {
	mtxAdmissionRejections.WithLabelValues(rule).Inc()
}

func CountReconciliationFinding(kind string) {
	mtxReconFindings.WithLabelValues(kind).Inc()
}

func CountAPIRequest(method string, status int) {
	mtxAPIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
