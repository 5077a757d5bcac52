package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_requests_total",
			Help: "Total number of stored requests by type and status",
		},
		[]string{"type", "status"},
	)

	MachinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paddock_machines_total",
			Help: "Total number of stored machines by status",
		},
		[]string{"status"},
	)

	MachinesAcquired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_machines_acquired_total",
			Help: "Total number of machines acquired by strategy",
		},
		[]string{"strategy"},
	)

	MachinesReturned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_machines_returned_total",
			Help: "Total number of machines returned to the provider",
		},
	)

	// Boundary operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_operations_total",
			Help: "Total number of boundary operations by name and outcome",
		},
		[]string{"operation", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_operation_duration_seconds",
			Help:    "Boundary operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_rate_limited_total",
			Help: "Total number of operations rejected by the rate limiter",
		},
		[]string{"operation"},
	)

	// Provider metrics
	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_provider_errors_total",
			Help: "Total number of terminal provider errors by kind",
		},
		[]string{"kind"},
	)

	// Reconciler metrics
	ReconcileCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_reconcile_cycles_total",
			Help: "Total number of background reconcile cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_reconcile_duration_seconds",
			Help:    "Background reconcile cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_requests_cleaned_total",
			Help: "Total number of expired requests removed",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(MachinesTotal)
	prometheus.MustRegister(MachinesAcquired)
	prometheus.MustRegister(MachinesReturned)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(ProviderErrors)
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(RequestsCleaned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
