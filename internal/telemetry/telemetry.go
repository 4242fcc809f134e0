package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/downloadables/internal/downloadables"
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

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	groupEventsTotal         metric.Int64Counter
	groupDownloadDuration    metric.Float64Histogram
	bytesCompletedTotal      metric.Int64Counter
	groupsDownloading        metric.Int64Gauge
	groupsQueued             metric.Int64Gauge
	transportRequestsTotal   metric.Int64Counter
	transportRequestDuration metric.Float64Histogram
	journalOperationsTotal   metric.Int64Counter
	journalOperationDuration metric.Float64Histogram
	contentDirBytes          metric.Int64Gauge

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

var _ downloadables.Tracker = (*Telemetry)(nil)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, adds a periodic OTLP gRPC metric reader next to
	// the Prometheus one.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled instance is still safe to
// use; every Record method becomes a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Reader{exporter}

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		readers = append(readers, sdkmetric.NewPeriodicReader(otlp))
	}

	t, err := newTelemetry(cfg, readers...)
	if err != nil {
		return nil, err
	}

	t.exporter = exporter

	// Set global providers
	otel.SetMeterProvider(t.meterProvider)
	otel.SetTracerProvider(t.tracerProvider)

	if err := otelruntime.Start(otelruntime.WithMeterProvider(t.meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

func newTelemetry(cfg Config, readers ...sdkmetric.Reader) (*Telemetry, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("downloadables")
	}

	return t.tracer
}

// Notify records a group lifecycle event.
func (t *Telemetry) Notify(e downloadables.Event) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("kind", string(e.Kind)),
		attribute.String("error_type", e.ErrorType.String()),
	)

	if t.groupEventsTotal != nil {
		t.groupEventsTotal.Add(context.Background(), 1, attrs)
	}

	if e.Kind != downloadables.EventCompleted {
		return
	}

	if t.groupDownloadDuration != nil {
		t.groupDownloadDuration.Record(context.Background(), e.Duration.Seconds())
	}

	if t.bytesCompletedTotal != nil {
		t.bytesCompletedTotal.Add(context.Background(), e.Total)
	}
}

// RecordSchedulerState records how many groups hold a slot and how many wait for one.
func (t *Telemetry) RecordSchedulerState(downloading, queued int) {
	if t == nil {
		return
	}

	if t.groupsDownloading != nil {
		t.groupsDownloading.Record(context.Background(), int64(downloading))
	}

	if t.groupsQueued != nil {
		t.groupsQueued.Record(context.Background(), int64(queued))
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordTransportRequest records one bundle request made by a transport.
func (t *Telemetry) RecordTransportRequest(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.transportRequestsTotal != nil {
		t.transportRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.transportRequestDuration != nil {
		t.transportRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordJournalOperation records event journal operation metrics.
func (t *Telemetry) RecordJournalOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.journalOperationsTotal != nil {
		t.journalOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.journalOperationDuration != nil {
		t.journalOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordContentDirSize records the bytes held in the content directory.
func (t *Telemetry) RecordContentDirSize(bytes int64) {
	if t != nil && t.contentDirBytes != nil {
		t.contentDirBytes.Record(context.Background(), bytes)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return errors.Join(t.meterProvider.Shutdown(ctx), t.tracerProvider.Shutdown(ctx))
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.groupEventsTotal, err = t.meter.Int64Counter(
		"group_events_total",
		metric.WithDescription("Total number of group lifecycle events"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create group_events_total counter: %w", err)
	}

	t.groupDownloadDuration, err = t.meter.Float64Histogram(
		"group_download_duration_seconds",
		metric.WithDescription("Duration of the attempt that completed a group"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create group_download_duration histogram: %w", err)
	}

	t.bytesCompletedTotal, err = t.meter.Int64Counter(
		"group_bytes_completed_total",
		metric.WithDescription("Bytes of groups that finished downloading"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create group_bytes_completed_total counter: %w", err)
	}

	t.groupsDownloading, err = t.meter.Int64Gauge(
		"groups_downloading",
		metric.WithDescription("Number of groups holding a download slot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create groups_downloading gauge: %w", err)
	}

	t.groupsQueued, err = t.meter.Int64Gauge(
		"groups_queued",
		metric.WithDescription("Number of groups waiting for a download slot"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create groups_queued gauge: %w", err)
	}

	t.transportRequestsTotal, err = t.meter.Int64Counter(
		"transport_requests_total",
		metric.WithDescription("Total number of bundle requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport_requests_total counter: %w", err)
	}

	t.transportRequestDuration, err = t.meter.Float64Histogram(
		"transport_request_duration_seconds",
		metric.WithDescription("Bundle request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transport_request_duration histogram: %w", err)
	}

	t.journalOperationsTotal, err = t.meter.Int64Counter(
		"journal_operations_total",
		metric.WithDescription("Total number of event journal operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create journal_operations_total counter: %w", err)
	}

	t.journalOperationDuration, err = t.meter.Float64Histogram(
		"journal_operation_duration_seconds",
		metric.WithDescription("Event journal operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create journal_operation_duration histogram: %w", err)
	}

	t.contentDirBytes, err = t.meter.Int64Gauge(
		"content_dir_bytes",
		metric.WithDescription("Bytes stored in the content directory"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create content_dir_bytes gauge: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics records uptime periodically. Memory and goroutine
// metrics come from the runtime instrumentation.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.systemUptime != nil {
				t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
			}
		}
	}
}
