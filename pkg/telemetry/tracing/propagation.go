package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

// HTTPMiddleware extracts W3C trace context from incoming request headers
// so spans started by handlers join the caller's trace.
func HTTPMiddleware(next http.Handler) http.Handler {
	prop := Propagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
