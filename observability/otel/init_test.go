package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer abc , x-tenant=market,broken, =empty,")
	if len(got) != 2 {
		t.Fatalf("expected two headers, got %v", got)
	}
	if got["authorization"] != "Bearer abc" || got["x-tenant"] != "market" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to be rejected")
	}
}

// retainingExporter keeps its spans across Shutdown so they can be inspected
// after the provider flushes.
type retainingExporter struct {
	*tracetest.InMemoryExporter
}

func (retainingExporter) Shutdown(context.Context) error { return nil }

func TestInitExportsSpans(t *testing.T) {
	exporter := retainingExporter{tracetest.NewInMemoryExporter()}
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd", Environment: "test", SpanExporter: exporter})
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, span := Tracer("marketd/test").Start(context.Background(), "market.sell")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "market.sell" {
		t.Fatalf("unexpected spans %v", spans)
	}
}
