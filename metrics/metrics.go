package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploads_operations_total",
		Help: "Total upload endpoint operations by type and outcome",
	}, []string{"operation", "status"})

	OperationsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uploads_operations_in_flight",
		Help: "Upload endpoint operations currently being processed",
	})

	SearchSyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploads_search_sync_failures_total",
		Help: "Search index projections that failed and were queued for repair",
	})
)

func init() {
	prometheus.MustRegister(OperationsTotal, OperationsInFlight, SearchSyncFailures)
}

// Handler exposes the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
