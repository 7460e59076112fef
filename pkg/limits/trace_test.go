package limits

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/governor/pkg/limits/outcome"
	"mercator-hq/governor/pkg/limits/storage"
)

func newTracedManager(t *testing.T) (*Manager, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sources, err := NewSources(testDefaults(), nil)
	if err != nil {
		t.Fatalf("NewSources failed: %v", err)
	}
	manager, err := NewManager(Config{
		Sources: sources,
		Router:  storage.Direct(store),
		Tracer:  provider.Tracer("test"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, recorder
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestManager_PermitSpans(t *testing.T) {
	manager, recorder := newTracedManager(t)
	ctx := context.Background()

	manager.Permit(ctx, "src", 10)
	manager.Permit(ctx, "src", 1)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}

	granted := spanAttrs(spans[0])
	if spans[0].Name() != "governor.permit" {
		t.Errorf("Expected span name governor.permit, got %s", spans[0].Name())
	}
	if got := granted["governor.source"].AsString(); got != "src" {
		t.Errorf("Expected source src, got %s", got)
	}
	if !granted["governor.granted"].AsBool() {
		t.Error("Expected first permit span to be granted")
	}

	denied := spanAttrs(spans[1])
	if denied["governor.granted"].AsBool() {
		t.Error("Expected second permit span to be denied")
	}
	if got := denied["governor.deny_reason"].AsString(); got != string(ReasonQuotaExceeded) {
		t.Errorf("Expected deny reason %s, got %s", ReasonQuotaExceeded, got)
	}
	if got := denied["governor.retry_after_ms"].AsInt64(); got <= 0 {
		t.Errorf("Expected positive retry_after_ms, got %d", got)
	}
}

func TestManager_SpanRecordsConfigError(t *testing.T) {
	manager, recorder := newTracedManager(t)

	if _, err := manager.Permit(context.Background(), "src", 0); err == nil {
		t.Fatal("Expected error for zero cost")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status().Code)
	}
}

func TestManager_ReportSpan(t *testing.T) {
	manager, recorder := newTracedManager(t)

	if _, err := manager.Report(context.Background(), "src", Decision{}, outcome.Success); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	attrs := spanAttrs(spans[0])
	if spans[0].Name() != "governor.report" {
		t.Errorf("Expected span name governor.report, got %s", spans[0].Name())
	}
	if got := attrs["governor.breaker_state"].AsString(); got != "closed" {
		t.Errorf("Expected breaker state closed, got %s", got)
	}
}
