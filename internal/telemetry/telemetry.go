package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

const systemMetricsInterval = 15 * time.Second

// Telemetry holds all telemetry instruments and providers.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter
	diskPath      string

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// USE Metrics (Utilization, Saturation, Errors)
	cpuUsage       metric.Float64Gauge
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	diskUsage      metric.Int64Gauge

	// Business Metrics
	downloadsStarted    metric.Int64Counter
	downloadsFinished   metric.Int64Counter
	downloadDuration    metric.Float64Histogram
	downloadProgress    metric.Int64Gauge
	statusQueries       metric.Int64Counter
	completionEvents    metric.Int64Counter
	openAttempts        metric.Int64Counter
	rejections          metric.Int64Counter
	serviceOperations   metric.Int64Counter
	serviceErrors       metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	systemUptime metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// DiskPath is the filesystem path whose usage is reported, usually the download directory.
	DiskPath string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
		diskPath:      cfg.DiskPath,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return nil
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
}

func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordDownloadStarted counts a download handed to the download service.
func (t *Telemetry) RecordDownloadStarted(ctx context.Context, backend string) {
	if t != nil && t.downloadsStarted != nil {
		t.downloadsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// RecordDownloadFinished counts a download that reached a terminal status.
func (t *Telemetry) RecordDownloadFinished(ctx context.Context, status string, duration time.Duration) {
	if t == nil || t.downloadsFinished == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsFinished.Add(ctx, 1, attrs)
	t.downloadDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProgress publishes the percentage currently shown for the tracked download.
func (t *Telemetry) RecordProgress(ctx context.Context, percentage int) {
	if t != nil && t.downloadProgress != nil {
		t.downloadProgress.Record(ctx, int64(percentage))
	}
}

// RecordStatusQuery counts a status query by the status it returned.
func (t *Telemetry) RecordStatusQuery(ctx context.Context, status string) {
	if t != nil && t.statusQueries != nil {
		t.statusQueries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordCompletionEvent counts received completion events, outcome is "matched" or "ignored".
func (t *Telemetry) RecordCompletionEvent(ctx context.Context, outcome string) {
	if t != nil && t.completionEvents != nil {
		t.completionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordOpenAttempt counts attempts to open a downloaded file.
func (t *Telemetry) RecordOpenAttempt(ctx context.Context, result string) {
	if t != nil && t.openAttempts != nil {
		t.openAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordRejection counts start attempts rejected before reaching the download service.
func (t *Telemetry) RecordRejection(ctx context.Context, reason string) {
	if t != nil && t.rejections != nil {
		t.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordServiceOperation records download service operation metrics.
func (t *Telemetry) RecordServiceOperation(backend, operation, status string) {
	if t == nil || t.serviceOperations == nil {
		return
	}

	t.serviceOperations.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.serviceErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil || t.dbOperationsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
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
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeUSEMetrics(); err != nil {
		return err
	}

	return t.initializeBusinessMetrics()
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

func (t *Telemetry) initializeUSEMetrics() error {
	var err error

	t.cpuUsage, err = t.meter.Float64Gauge(
		"cpu_usage_percent",
		metric.WithDescription("CPU usage percentage"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cpu_usage gauge: %w", err)
	}

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.diskUsage, err = t.meter.Int64Gauge(
		"disk_usage_bytes",
		metric.WithDescription("Used bytes on the download filesystem"),
		metric.WithUnit("bytes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create disk_usage gauge: %w", err)
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

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&t.downloadsStarted, "downloads_started_total", "Total number of downloads handed to the download service"},
		{&t.downloadsFinished, "downloads_finished_total", "Total number of downloads that reached a terminal status"},
		{&t.statusQueries, "status_queries_total", "Total number of download status queries"},
		{&t.completionEvents, "completion_events_total", "Total number of completion events received"},
		{&t.openAttempts, "open_attempts_total", "Total number of attempts to open a downloaded file"},
		{&t.rejections, "start_rejections_total", "Total number of rejected download starts"},
		{&t.serviceOperations, "service_operations_total", "Total number of download service operations"},
		{&t.serviceErrors, "service_errors_total", "Total number of download service errors"},
		{&t.dbOperationsTotal, "db_operations_total", "Total number of database operations"},
	}

	for _, c := range counters {
		*c.target, err = t.meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit("1"))
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Time from enqueue to terminal status in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadProgress, err = t.meter.Int64Gauge(
		"download_progress_percent",
		metric.WithDescription("Progress of the tracked download"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_progress gauge: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(ctx, startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(ctx context.Context, startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	t.memoryUsage.Record(ctx, int64(m.Alloc))
	t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
	t.systemUptime.Record(ctx, time.Since(startTime).Seconds())

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		t.cpuUsage.Record(ctx, percents[0])
	}

	if t.diskPath != "" {
		if usage, err := disk.UsageWithContext(ctx, t.diskPath); err == nil {
			t.diskUsage.Record(ctx, int64(usage.Used))
		}
	}
}
