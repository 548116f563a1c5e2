package tracing

import (
	"context"
	"net/http"
	"testing"

	"storefront-personalization/internal/infrastructure/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerWithoutExporter(t *testing.T) {
	tp, err := InitTracer(context.Background(),
		config.AppConfig{Name: "storefront-personalization", Version: "test", Env: "test"},
		config.TracingConfig{SampleRatio: 1},
	)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	t.Cleanup(func() { _ = Shutdown(context.Background(), tp) })

	if otel.GetTracerProvider() != tp {
		t.Fatal("global tracer provider not installed")
	}

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if !span.SpanContext().IsValid() || !span.SpanContext().IsSampled() {
		t.Fatalf("span context = %+v", span.SpanContext())
	}

	header := http.Header{}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
	if header.Get("traceparent") == "" {
		t.Error("trace context propagator not installed")
	}
}

func TestShutdownNilProvider(t *testing.T) {
	if err := Shutdown(context.Background(), nil); err != nil {
		t.Errorf("Shutdown(nil) error = %v", err)
	}
}
