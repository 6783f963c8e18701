package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
