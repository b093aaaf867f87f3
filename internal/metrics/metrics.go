// Package metrics exposes Prometheus counters and gauges for the engine's
// ambient observability. None of these are load-bearing for correctness —
// every metric here is a side-channel write alongside a decision that is
// already made, never a gate on one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_decisions_total",
			Help: "Decisions emitted by the strategy engine, by kind.",
		},
		[]string{"kind"},
	)

	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_orders_total",
			Help: "Order lifecycle outcomes, by operation and result.",
		},
		[]string{"operation", "result"}, // operation: place|amend|cancel, result: ack|reject
	)

	AmendVsCancelReplaceRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mm_amend_vs_cancel_replace_ratio",
			Help: "Ratio of in-place amends to cancel+place replacements over the last evaluation window.",
		},
		[]string{"symbol"},
	)

	RateLimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mm_rate_limiter_wait_seconds",
			Help:    "Time spent blocked in a TokenBucket.Wait call, by pool.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"}, // transactional|amend
	)

	BusOverflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_bus_overflow_total",
			Help: "Dropped publishes by bus channel.",
		},
		[]string{"channel"},
	)

	RiskAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_risk_alerts_total",
			Help: "RiskAlert events raised, by severity.",
		},
		[]string{"severity"},
	)

	EmergencyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mm_emergency_stops_total",
			Help: "EmergencyStop events raised.",
		},
	)

	PriceAnomalyRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mm_price_anomaly_rejections_total",
			Help: "Reference-price samples rejected by the estimator's outlier filter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		OrdersTotal,
		AmendVsCancelReplaceRatio,
		RateLimiterWaitSeconds,
		BusOverflowTotal,
		RiskAlertsTotal,
		EmergencyStopsTotal,
		PriceAnomalyRejectionsTotal,
	)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
