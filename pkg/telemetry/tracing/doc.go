// Package tracing sets up OpenTelemetry tracing for the governor.
//
// When enabled, spans are exported over OTLP gRPC through a batching
// provider with a parent-based sampler. Admission spans (governor.permit,
// governor.report) are started by limits.Manager with the tracer returned
// by Tracer.Tracer. When disabled, a noop tracer is returned and spans
// cost nothing.
package tracing
