package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus vectors for the handful of pipeline-wide metrics worth
// scraping; they are the package's only metrics and are served by
// PrometheusHandler.
var (
	CandidatesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalpipe_candidates_fired_total",
		Help: "Candidates that passed the full suppression chain.",
	}, []string{"symbol", "direction"})

	Suppressions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalpipe_suppressions_total",
		Help: "Candidates suppressed, by reason.",
	}, []string{"reason"})

	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalpipe_orders_submitted_total",
		Help: "Orders submitted to the broker.",
	}, []string{"symbol", "side"})

	OrderLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signalpipe_order_latency_ms",
		Help:    "Broker order submission latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	}, []string{"symbol"})

	RiskLedgerFraction = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalpipe_risk_ledger_reserved_fraction",
		Help: "Current fraction of equity reserved against open risk.",
	})
)

// PrometheusHandler serves /metrics in the standard exposition format.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}
