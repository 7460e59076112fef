package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go runtime and process
// collectors registered. Governor collectors are added by their owners.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
//
// Collection errors are reported in the response but do not fail the
// scrape, so a single broken collector does not hide the rest.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		// Enable OpenMetrics encoding (preferred over Prometheus text format)
		EnableOpenMetrics: true,

		ErrorHandling: promhttp.ContinueOnError,
	})
}
