package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}

	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}

	if config.CollectorEndpoint == "" {
		t.Error("Collector endpoint should not be empty")
	}

	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestScopeAttributes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	attrs := ScopeAttributes(7, start, end, "1month", "abc123")
	if len(attrs) != 5 {
		t.Errorf("Expected 5 attributes with subset hash, got %d", len(attrs))
	}

	found := false
	for _, attr := range attrs {
		if attr.Key == AttrModelID && attr.Value.AsInt64() == 7 {
			found = true
			break
		}
	}
	if !found {
		t.Error("ModelID attribute not found")
	}

	attrs = ScopeAttributes(7, start, end, "1month", "")
	if len(attrs) != 4 {
		t.Errorf("Expected 4 attributes without subset hash, got %d", len(attrs))
	}
}

func TestMatrixAttributes(t *testing.T) {
	attrs := MatrixAttributes("m-1", false, 100)

	if len(attrs) != 3 {
		t.Errorf("Expected 3 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == AttrMatrixType && attr.Value.AsString() != "train" {
			t.Errorf("Expected matrix type 'train', got '%s'", attr.Value.AsString())
		}
	}
}

func TestDefinitionAttributes(t *testing.T) {
	attrs := DefinitionAttributes("precision@", "5_pct")

	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes, got %d", len(attrs))
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// This will use the global no-op tracer since we haven't initialized OTel
	ctx, span := StartSpan(ctx, "test-tracer", "test-span",
		attribute.String("test.key", "test.value"),
	)

	if ctx == nil {
		t.Error("Context should not be nil")
	}

	if span == nil {
		t.Error("Span should not be nil")
	}

	span.End()
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	_, span := StartSpan(context.Background(), "test-tracer", "test-span")

	// Should not panic
	RecordError(span, nil, "")
	RecordError(span, errors.New("write failed"), "scope replace")
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", ended[0].Status().Code)
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("Expected 1 error event, got %d", len(ended[0].Events()))
	}
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "test-tracer", "test-span")

	// Should not panic
	AddEvent(span, "test-event")
	AddEvent(span, "test-event-with-attrs",
		attribute.String("key", "value"),
	)

	span.End()
}
