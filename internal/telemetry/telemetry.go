package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A Telemetry built
// with Enabled=false, as well as a nil *Telemetry, records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer        trace.Tracer
	meter         metric.Meter
	registry      *promclient.Registry

	// Reconciliation
	cyclesTotal        metric.Int64Counter
	cycleDuration      metric.Float64Histogram
	cycleErrors        metric.Int64Counter
	serversTotal       metric.Int64Counter
	relocationsTotal   metric.Int64Counter
	relocationDuration metric.Float64Histogram
	relocatedBytes     metric.Int64Counter

	// Remote clients
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter

	// Ledger
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// Status server
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string // optional gRPC collector endpoint
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	opts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(meterProvider)

	// Spans are not exported; they give log records a trace_id to correlate on.
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		registry:       registry,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer, or a no-op tracer when disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("")
	}

	return t.tracer
}

// RecordCycle records one completed fleet cycle.
func (t *Telemetry) RecordCycle(ctx context.Context, duration time.Duration, errCount int) {
	if t == nil || t.cyclesTotal == nil {
		return
	}

	t.cyclesTotal.Add(ctx, 1)
	t.cycleDuration.Record(ctx, duration.Seconds())
	t.cycleErrors.Add(ctx, int64(errCount))
}

// RecordServer records the outcome of reconciling one server: online, offline or error.
func (t *Telemetry) RecordServer(ctx context.Context, status string) {
	if t == nil || t.serversTotal == nil {
		return
	}

	t.serversTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRelocation records a relocation attempt.
func (t *Telemetry) RecordRelocation(ctx context.Context, status string, bytes int64, duration time.Duration) {
	if t == nil || t.relocationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.relocationsTotal.Add(ctx, 1, attrs)
	t.relocationDuration.Record(ctx, duration.Seconds(), attrs)

	if bytes > 0 {
		t.relocatedBytes.Add(ctx, bytes)
	}
}

// RecordClientOperation records torrent client operation metrics.
func (t *Telemetry) RecordClientOperation(ctx context.Context, operation, status string) {
	if t == nil || t.clientOperationsTotal == nil {
		return
	}

	t.clientOperationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == statusError {
		t.clientErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
}

// RecordDBOperation records ledger operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(ctx, 1, attrs)
	t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordHTTPRequest records status server request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}

	return t.meterProvider.Shutdown(ctx)
}

func (t *Telemetry) initializeMetrics() error {
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&t.cyclesTotal, "cycles_total", "Total number of fleet cycles", "{cycle}"},
		{&t.cycleErrors, "cycle_errors_total", "Total number of errors collected by fleet cycles", "{error}"},
		{&t.serversTotal, "servers_total", "Total number of server reconciliations by outcome", "{server}"},
		{&t.relocationsTotal, "relocations_total", "Total number of torrent relocations by outcome", "{relocation}"},
		{&t.relocatedBytes, "relocated_bytes", "Total number of bytes relocated", "By"},
		{&t.clientOperationsTotal, "client_operations_total", "Total number of torrent client operations", "{operation}"},
		{&t.clientErrors, "client_errors_total", "Total number of torrent client errors", "{error}"},
		{&t.dbOperationsTotal, "db_operations_total", "Total number of ledger operations", "{operation}"},
		{&t.httpRequestsTotal, "http_requests_total", "Total number of status server requests", "{request}"},
	}

	var err error

	for _, c := range counters {
		*c.dst, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&t.cycleDuration, "cycle_duration_seconds", "Fleet cycle duration in seconds"},
		{&t.relocationDuration, "relocation_duration_seconds", "Torrent relocation duration in seconds"},
		{&t.dbOperationDuration, "db_operation_duration_seconds", "Ledger operation duration in seconds"},
		{&t.httpRequestDuration, "http_request_duration_seconds", "Status server request duration in seconds"},
	}

	for _, h := range histograms {
		*h.dst, err = t.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	return nil
}

// errStatus maps an error to the bounded status label used on metrics.
func errStatus(err error) string {
	if err != nil {
		return statusError
	}

	return statusSuccess
}

const (
	statusSuccess = "success"
	statusError   = "error"
)
