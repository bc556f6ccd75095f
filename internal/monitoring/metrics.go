package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intent pipeline metrics
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_agent_intents_total",
			Help: "Total number of trade intents received",
		},
		[]string{"symbol", "side"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_agent_rejections_total",
			Help: "Total number of intents rejected before submission",
		},
		[]string{"reason"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_agent_fills_total",
			Help: "Total number of fills applied to the ledger",
		},
		[]string{"symbol", "side", "kind"},
	)

	fillNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exec_agent_fill_notional",
			Help:    "Distribution of fill notional values",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"symbol"},
	)

	// Safety metrics
	haltsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_agent_halts_total",
			Help: "Total number of kill switch halt transitions",
		},
		[]string{"reason"},
	)

	reconMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_agent_reconciliation_mismatches_total",
			Help: "Total number of reconciliation mismatches detected",
		},
	)

	exchangeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_agent_exchange_errors_total",
			Help: "Total number of exchange errors by failure kind",
		},
		[]string{"kind"},
	)

	// Account metrics
	accountEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_agent_account_equity",
			Help: "Current account equity",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_agent_open_positions",
			Help: "Number of currently open positions",
		},
	)

	haltState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exec_agent_halt_state",
			Help: "Kill switch state (1 for the current state, 0 otherwise)",
		},
		[]string{"state"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(intentsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(fillsTotal)
	prometheus.MustRegister(fillNotional)
	prometheus.MustRegister(haltsTotal)
	prometheus.MustRegister(reconMismatchesTotal)
	prometheus.MustRegister(exchangeErrorsTotal)
	prometheus.MustRegister(accountEquity)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(haltState)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordIntent records an accepted inbound intent
func RecordIntent(symbol, side string) {
	intentsTotal.WithLabelValues(symbol, side).Inc()
}

// RecordRejection records an intent rejected by sizing or risk checks
func RecordRejection(reason string) {
	rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordFill records a fill applied to the ledger
func RecordFill(symbol, side, kind string, notional float64) {
	fillsTotal.WithLabelValues(symbol, side, kind).Inc()
	fillNotional.WithLabelValues(symbol).Observe(notional)
}

// RecordHalt records a kill switch halt transition
func RecordHalt(reason string) {
	haltsTotal.WithLabelValues(reason).Inc()
}

// RecordReconciliationMismatch records a detected mismatch
func RecordReconciliationMismatch() {
	reconMismatchesTotal.Inc()
}

// RecordExchangeError records an exchange error by failure kind
func RecordExchangeError(kind string) {
	exchangeErrorsTotal.WithLabelValues(kind).Inc()
}

// UpdateAccount updates the account gauges
func UpdateAccount(equity float64, positions int) {
	accountEquity.Set(equity)
	openPositions.Set(float64(positions))
}

// UpdateHaltState sets the kill switch state gauge
func UpdateHaltState(state string) {
	for _, s := range []string{"ACTIVE", "HALTED_AUTO", "HALTED_MANUAL", "RECONCILING"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		haltState.WithLabelValues(s).Set(v)
	}
}
