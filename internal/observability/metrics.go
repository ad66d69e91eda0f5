// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Admission metrics
	AdmissionRuns      *prometheus.CounterVec
	ProposalsEvaluated prometheus.Counter
	ProposalsAdmitted  prometheus.Counter
	ProposalsRejected  *prometheus.CounterVec
	ProposalsResized   *prometheus.CounterVec
	KillSwitchActive   prometheus.Gauge
	AdmissionHalts     *prometheus.CounterVec

	// Execution metrics
	PreviewRejections *prometheus.CounterVec
	OrdersTerminal    *prometheus.CounterVec
	OrderRetries      *prometheus.CounterVec
	SlippageBps       *prometheus.HistogramVec
	OrderLatency      *prometheus.HistogramVec

	// Reconciliation metrics
	FillsProcessed   prometheus.Counter
	ReconcileRuns    *prometheus.CounterVec
	BlockedSymbols   prometheus.Gauge
	RealizedPnLToday prometheus.Gauge
	AccountValue     prometheus.Gauge
	Drawdown         prometheus.Gauge

	// Exchange metrics
	ExchangeCallLatency *prometheus.HistogramVec
	FeedReconnects      prometheus.Counter

	// Loop metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Alert metrics
	AlertsSent *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle     prometheus.Gauge
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coinbase_trader"
	}

	return &Metrics{
		// Admission metrics
		AdmissionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "runs_total",
			Help:      "Total number of admission runs by outcome",
		}, []string{"outcome"}),
		ProposalsEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "proposals_evaluated_total",
			Help:      "Total number of proposals evaluated",
		}),
		ProposalsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "proposals_admitted_total",
			Help:      "Total number of proposals admitted",
		}),
		ProposalsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "proposals_rejected_total",
			Help:      "Total number of proposals rejected by check",
		}, []string{"check"}),
		ProposalsResized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "proposals_resized_total",
			Help:      "Total number of proposals down-sized by check",
		}, []string{"check"}),
		KillSwitchActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "kill_switch_active",
			Help:      "1 while the kill switch is engaged",
		}),
		AdmissionHalts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "halts_total",
			Help:      "Total number of batch-wide halts by check",
		}, []string{"check"}),

		// Execution metrics
		PreviewRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "preview_rejections_total",
			Help:      "Total number of order previews rejected by check",
		}, []string{"check"}),
		OrdersTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_total",
			Help:      "Total number of orders by mode and final state",
		}, []string{"mode", "state"}),
		OrderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "retries_total",
			Help:      "Total number of retried exchange calls by operation",
		}, []string{"operation"}),
		SlippageBps: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "slippage_bps",
			Help:      "Realized slippage against decision mid in basis points",
			Buckets:   []float64{-10, 0, 5, 10, 25, 50, 100, 200},
		}, []string{"tier"}),
		OrderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_duration_seconds",
			Help:      "Time from submission to terminal state in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"mode"}),

		// Reconciliation metrics
		FillsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "fills_processed_total",
			Help:      "Total number of fills applied to the portfolio",
		}),
		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by status",
		}, []string{"status"}),
		BlockedSymbols: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "blocked_symbols",
			Help:      "Number of symbols awaiting reconciliation",
		}),
		RealizedPnLToday: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "realized_pnl_today",
			Help:      "Realized PnL since the UTC day start in quote currency",
		}),
		AccountValue: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "account_value",
			Help:      "Net asset value in quote currency",
		}),
		Drawdown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "drawdown_ratio",
			Help:      "Drawdown from the high-water mark as a fraction",
		}),

		// Exchange metrics
		ExchangeCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "call_latency_seconds",
			Help:      "Exchange API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "feed_reconnects_total",
			Help:      "Total number of market data feed reconnects",
		}),

		// Loop metrics
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Total number of trading cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Alert metrics
		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Total number of alerts delivered by severity",
		}, []string{"severity", "status"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful trading cycle",
		}),
		LastSuccessfulReconcile: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciliation",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordAdmission records the outcome of one admission run.
func RecordAdmission(evaluated, admitted int, rejectedByCheck, resizedByCheck map[string]int, halt string) {
	m := DefaultMetrics
	outcome := "approved"
	switch {
	case halt != "":
		outcome = "halted"
		m.AdmissionHalts.WithLabelValues(halt).Inc()
	case admitted == 0:
		outcome = "rejected"
	}
	m.AdmissionRuns.WithLabelValues(outcome).Inc()
	m.ProposalsEvaluated.Add(float64(evaluated))
	m.ProposalsAdmitted.Add(float64(admitted))
	for check, n := range rejectedByCheck {
		m.ProposalsRejected.WithLabelValues(check).Add(float64(n))
	}
	for check, n := range resizedByCheck {
		m.ProposalsResized.WithLabelValues(check).Add(float64(n))
	}
}

// SetKillSwitch updates the kill switch gauge.
func SetKillSwitch(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	DefaultMetrics.KillSwitchActive.Set(v)
}

// RecordPreviewRejection increments the preview rejection counter.
func RecordPreviewRejection(check string) {
	DefaultMetrics.PreviewRejections.WithLabelValues(check).Inc()
}

// RecordOrder records an order reaching its final state.
func RecordOrder(mode, state string, seconds float64) {
	DefaultMetrics.OrdersTerminal.WithLabelValues(mode, state).Inc()
	DefaultMetrics.OrderLatency.WithLabelValues(mode).Observe(seconds)
}

// RecordRetry increments the retry counter.
func RecordRetry(operation string) {
	DefaultMetrics.OrderRetries.WithLabelValues(operation).Inc()
}

// RecordSlippage records realized slippage.
func RecordSlippage(tier string, bps float64) {
	DefaultMetrics.SlippageBps.WithLabelValues(tier).Observe(bps)
}

// RecordReconcile records a reconciliation run.
func RecordReconcile(status string, fills int, unixTime int64) {
	DefaultMetrics.ReconcileRuns.WithLabelValues(status).Inc()
	DefaultMetrics.FillsProcessed.Add(float64(fills))
	if status == "ok" {
		DefaultMetrics.LastSuccessfulReconcile.Set(float64(unixTime))
	}
}

// UpdatePortfolio updates the portfolio gauges.
func UpdatePortfolio(accountValue, realizedToday, drawdown float64, blocked int) {
	DefaultMetrics.AccountValue.Set(accountValue)
	DefaultMetrics.RealizedPnLToday.Set(realizedToday)
	DefaultMetrics.Drawdown.Set(drawdown)
	DefaultMetrics.BlockedSymbols.Set(float64(blocked))
}

// RecordExchangeCall records exchange API call latency.
func RecordExchangeCall(operation string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.ExchangeCallLatency.WithLabelValues(operation, status).Observe(seconds)
}

// RecordFeedReconnects adds reconnects observed since the last call.
func RecordFeedReconnects(n int64) {
	if n > 0 {
		DefaultMetrics.FeedReconnects.Add(float64(n))
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordAlert records an alert delivery attempt.
func RecordAlert(severity string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.AlertsSent.WithLabelValues(severity, status).Inc()
}

// RecordCycle records a trading cycle.
func RecordCycle(status string, durationSeconds float64, unixTime int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(durationSeconds)
	if status == "ok" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(unixTime))
	}
}
