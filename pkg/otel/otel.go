// Package otel sets up OpenTelemetry tracing and holds the span helpers
// and attribute keys used across evaluation runs.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName          string
	ServiceVersion       string
	Environment          string
	CollectorEndpoint    string
	CollectorInsecure    bool
	SamplingRate         float64 // 0.0 to 1.0 (1.0 = always sample)
	MaxEventsPerSpan     int
	MaxAttributesPerSpan int
}

// DefaultConfig returns defaults for a local collector
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName:          serviceName,
		ServiceVersion:       "0.1.0",
		Environment:          "development",
		CollectorEndpoint:    "localhost:4317",
		CollectorInsecure:    true,
		SamplingRate:         1.0,
		MaxEventsPerSpan:     128,
		MaxAttributesPerSpan: 128,
	}
}

// InitTracer initializes OpenTelemetry tracing
func InitTracer(ctx context.Context, config *Config) (*sdktrace.TracerProvider, error) {
	if config == nil {
		config = DefaultConfig("rankeval")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.CollectorEndpoint)}
	if config.CollectorInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create tracer provider with sampling
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
		sdktrace.WithSpanLimits(sdktrace.SpanLimits{
			EventCountLimit:     config.MaxEventsPerSpan,
			AttributeCountLimit: config.MaxAttributesPerSpan,
		}),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Set global propagator for context propagation
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	// Use context with timeout for shutdown
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.Shutdown(ctx)
}

// StartSpan is a convenience wrapper for starting a span with common attributes
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)

	// Add attributes if provided
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// RecordError records an error on a span with optional message
func RecordError(span trace.Span, err error, message string) {
	if span == nil || err == nil {
		return
	}

	if message != "" {
		span.RecordError(err, trace.WithAttributes(
			attribute.String("error.message", message),
		))
	} else {
		span.RecordError(err)
	}

	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to a span with optional attributes
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for evaluation spans
const (
	// Scope attributes
	AttrModelID           = attribute.Key("scope.model_id")
	AttrEvaluationStart   = attribute.Key("scope.evaluation_start_time")
	AttrEvaluationEnd     = attribute.Key("scope.evaluation_end_time")
	AttrAsOfDateFrequency = attribute.Key("scope.as_of_date_frequency")
	AttrSubsetHash        = attribute.Key("scope.subset_hash")

	// Matrix attributes
	AttrMatrixUUID  = attribute.Key("matrix.uuid")
	AttrMatrixType  = attribute.Key("matrix.type")
	AttrPredictions = attribute.Key("matrix.predictions")

	// Engine attributes
	AttrMetric      = attribute.Key("eval.metric")
	AttrParameter   = attribute.Key("eval.parameter")
	AttrDefinitions = attribute.Key("eval.definitions")

	// Sink attributes
	AttrTable   = attribute.Key("store.table")
	AttrRows    = attribute.Key("store.rows")
	AttrAttempt = attribute.Key("store.attempt")
)

// Helper functions to create common attributes

func ScopeAttributes(modelID int64, start, end time.Time, frequency, subsetHash string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrModelID.Int64(modelID),
		AttrEvaluationStart.String(start.Format(time.RFC3339)),
		AttrEvaluationEnd.String(end.Format(time.RFC3339)),
		AttrAsOfDateFrequency.String(frequency),
	}
	if subsetHash != "" {
		attrs = append(attrs, AttrSubsetHash.String(subsetHash))
	}
	return attrs
}

func MatrixAttributes(uuid string, isTest bool, predictions int) []attribute.KeyValue {
	matrixType := "train"
	if isTest {
		matrixType = "test"
	}
	return []attribute.KeyValue{
		AttrMatrixUUID.String(uuid),
		AttrMatrixType.String(matrixType),
		AttrPredictions.Int(predictions),
	}
}

func DefinitionAttributes(metric, parameter string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrMetric.String(metric),
		AttrParameter.String(parameter),
	}
}
