package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "sankey-license-hub"
	ServiceVersion = "v0.3.0"
	MeterName      = "sankeyhub"
)

// OTelConfig selects which exporters run and how aggressively traces are
// sampled.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	MetricExporter string // "prometheus", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
	PrometheusPort string
}

// OTelProviders bundles everything InitializeOTel wires up. The app hangs
// on to it for the /metrics handler and the shutdown hook.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig is the development posture: every trace sampled, spans
// to stdout, metrics through Prometheus.
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
		PrometheusPort: "9090",
	}
}

// InitializeOTel builds the tracer and meter providers and installs them as
// the process globals. A nil cfg falls back to the development defaults.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	ctx := context.Background()

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	res, err := buildResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialization complete",
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	return providers, nil
}

func buildResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))

	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics wires the meter provider through the Prometheus reader,
// so everything recorded on the meter comes out of the /metrics scrape.
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}

		providers.PrometheusHTTP = promhttp.Handler()

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)

		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

		otel.SetMeterProvider(mp)

	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", cfg.MetricExporter))

	return nil
}

// CreateBusinessMetrics registers every lifecycle instrument on the meter.
// Metric names are part of the dashboard contract; renaming one breaks the
// Grafana boards and the alert rules keyed on it.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	// Application lifecycle metrics
	applicationsSubmitted, err := meter.Int64Counter(
		"applications_submitted_total",
		metric.WithDescription("Total number of license applications submitted"),
	)
	if err != nil {
		return nil, err
	}

	applicationTransitions, err := meter.Int64Counter(
		"application_transitions_total",
		metric.WithDescription("Total number of application status transitions"),
	)
	if err != nil {
		return nil, err
	}

	applicationTransitionDuration, err := meter.Float64Histogram(
		"application_transition_duration_seconds",
		metric.WithDescription("Application transition processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	applicationConflicts, err := meter.Int64Counter(
		"application_transition_conflicts_total",
		metric.WithDescription("Total number of transitions lost to concurrent writers"),
	)
	if err != nil {
		return nil, err
	}

	applicationsExpired, err := meter.Int64Counter(
		"applications_expired_total",
		metric.WithDescription("Total number of applications expired by the sweeper"),
	)
	if err != nil {
		return nil, err
	}

	// Integration test metrics
	testsStarted, err := meter.Int64Counter(
		"integration_tests_started_total",
		metric.WithDescription("Total number of integration tests started"),
	)
	if err != nil {
		return nil, err
	}

	testsCompleted, err := meter.Int64Counter(
		"integration_tests_completed_total",
		metric.WithDescription("Total number of integration tests completed"),
	)
	if err != nil {
		return nil, err
	}

	testStepsTotal, err := meter.Int64Counter(
		"integration_test_steps_total",
		metric.WithDescription("Total number of integration test steps recorded"),
	)
	if err != nil {
		return nil, err
	}

	testStepFailures, err := meter.Int64Counter(
		"integration_test_step_failures_total",
		metric.WithDescription("Total number of failed integration test steps"),
	)
	if err != nil {
		return nil, err
	}

	testDuration, err := meter.Float64Histogram(
		"integration_test_duration_seconds",
		metric.WithDescription("End-to-end integration test duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeTests, err := meter.Int64UpDownCounter(
		"integration_tests_active",
		metric.WithDescription("Number of integration tests currently in flight"),
	)
	if err != nil {
		return nil, err
	}

	// Notification metrics
	notificationsScheduled, err := meter.Int64Counter(
		"notifications_scheduled_total",
		metric.WithDescription("Total number of approval notifications scheduled"),
	)
	if err != nil {
		return nil, err
	}

	notificationsSent, err := meter.Int64Counter(
		"notifications_sent_total",
		metric.WithDescription("Total number of approval notifications delivered"),
	)
	if err != nil {
		return nil, err
	}

	notificationsCancelled, err := meter.Int64Counter(
		"notifications_cancelled_total",
		metric.WithDescription("Total number of notifications cancelled inside the window"),
	)
	if err != nil {
		return nil, err
	}

	notificationSendDuration, err := meter.Float64Histogram(
		"notification_send_duration_seconds",
		metric.WithDescription("Notification delivery duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// License codec metrics
	licenseDecodes, err := meter.Int64Counter(
		"license_decodes_total",
		metric.WithDescription("Total number of license decode requests"),
	)
	if err != nil {
		return nil, err
	}

	licenseDecodeFailures, err := meter.Int64Counter(
		"license_decode_failures_total",
		metric.WithDescription("Total number of license decodes with non-valid verdicts"),
	)
	if err != nil {
		return nil, err
	}

	licenseDecodeDuration, err := meter.Float64Histogram(
		"license_decode_duration_seconds",
		metric.WithDescription("License decode duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	// System metrics
	systemErrors, err := meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		// HTTP metrics
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPActiveRequests:  httpActiveRequests,

		// Application lifecycle metrics
		ApplicationsSubmitted:         applicationsSubmitted,
		ApplicationTransitions:        applicationTransitions,
		ApplicationTransitionDuration: applicationTransitionDuration,
		ApplicationConflicts:          applicationConflicts,
		ApplicationsExpired:           applicationsExpired,

		// Integration test metrics
		TestsStarted:     testsStarted,
		TestsCompleted:   testsCompleted,
		TestStepsTotal:   testStepsTotal,
		TestStepFailures: testStepFailures,
		TestDuration:     testDuration,
		ActiveTests:      activeTests,

		// Notification metrics
		NotificationsScheduled:   notificationsScheduled,
		NotificationsSent:        notificationsSent,
		NotificationsCancelled:   notificationsCancelled,
		NotificationSendDuration: notificationSendDuration,

		// License codec metrics
		LicenseDecodes:        licenseDecodes,
		LicenseDecodeFailures: licenseDecodeFailures,
		LicenseDecodeDuration: licenseDecodeDuration,

		// System metrics
		SystemErrors: systemErrors,
	}, nil
}

// BusinessMetrics carries the lifecycle instruments. Services receive the
// whole struct and record on the handful of fields they own.
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Application lifecycle metrics
	ApplicationsSubmitted         metric.Int64Counter
	ApplicationTransitions        metric.Int64Counter
	ApplicationTransitionDuration metric.Float64Histogram
	ApplicationConflicts          metric.Int64Counter
	ApplicationsExpired           metric.Int64Counter

	// Integration test metrics
	TestsStarted     metric.Int64Counter
	TestsCompleted   metric.Int64Counter
	TestStepsTotal   metric.Int64Counter
	TestStepFailures metric.Int64Counter
	TestDuration     metric.Float64Histogram
	ActiveTests      metric.Int64UpDownCounter

	// Notification metrics
	NotificationsScheduled   metric.Int64Counter
	NotificationsSent        metric.Int64Counter
	NotificationsCancelled   metric.Int64Counter
	NotificationSendDuration metric.Float64Histogram

	// License codec metrics
	LicenseDecodes        metric.Int64Counter
	LicenseDecodeFailures metric.Int64Counter
	LicenseDecodeDuration metric.Float64Histogram

	// System metrics
	SystemErrors metric.Int64Counter
}

// Shutdown flushes both providers. Called from the app's shutdown path so
// buffered spans are not lost on exit.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext returns the OpenTelemetry trace ID for log correlation,
// or "" when the context carries no sampled span.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// SpanFromContext re-exports the trace package helper so callers only
// import this package.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent attaches a named event to the current span. Attributes are
// coerced from the map, unknown types via %v.
func AddSpanEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError marks the current span failed and records err on it.
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes applies the map to the current span with the same type
// coercion as AddSpanEvent.
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
}

// RecordTransitionMetrics records one lifecycle transition attempt,
// successful or refused, with its end-to-end duration.
func RecordTransitionMetrics(ctx context.Context, metrics *BusinessMetrics, event, fromStatus, toStatus string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("event", event),
		attribute.String("from_status", fromStatus),
		attribute.String("to_status", toStatus),
		attribute.String("status", status),
	}

	metrics.ApplicationTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.ApplicationTransitionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("application.transition",
			trace.WithAttributes(
				attribute.String("event", event),
				attribute.String("to_status", toStatus),
				attribute.Bool("success", err == nil),
			),
		)
	}
}

// RecordTestStepMetrics records metrics for an integration test step report
func RecordTestStepMetrics(ctx context.Context, metrics *BusinessMetrics, testID, step string, success bool) {
	if metrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("step", step),
	}

	metrics.TestStepsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !success {
		metrics.TestStepFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("integration_test.step_recorded",
			trace.WithAttributes(
				attribute.String("test.id", testID),
				attribute.String("step", step),
				attribute.Bool("success", success),
			),
		)
	}
}

// RecordNotificationMetrics records the outcome of a notification delivery attempt
func RecordNotificationMetrics(ctx context.Context, metrics *BusinessMetrics, mode string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}

	statusAttr := attribute.String("status", "success")
	if err != nil {
		statusAttr = attribute.String("status", "failure")
	}

	metrics.NotificationsSent.Add(ctx, 1, metric.WithAttributes(append(attrs, statusAttr)...))
	metrics.NotificationSendDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDecodeMetrics records a license decode attempt and its verdict
func RecordDecodeMetrics(ctx context.Context, metrics *BusinessMetrics, verdict string, duration time.Duration) {
	if metrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("verdict", verdict),
	}

	metrics.LicenseDecodes.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.LicenseDecodeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if verdict != "Valid" {
		metrics.LicenseDecodeFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordApplicationSubmitted counts an application accepted at intake.
func RecordApplicationSubmitted(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}
	metrics.ApplicationsSubmitted.Add(ctx, 1)
}

// RecordTransitionConflict counts a transition attempt lost to a concurrent
// writer, whether or not a retry later succeeds.
func RecordTransitionConflict(ctx context.Context, metrics *BusinessMetrics, event string) {
	if metrics == nil {
		return
	}
	metrics.ApplicationConflicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)))
}

// RecordApplicationExpired counts a license retired because its expiry date
// passed, from the sweep or from a lazy check at read time.
func RecordApplicationExpired(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}
	metrics.ApplicationsExpired.Add(ctx, 1)
}

// RecordTestStarted counts a launched integration test and marks it in flight.
func RecordTestStarted(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}
	metrics.TestsStarted.Add(ctx, 1)
	metrics.ActiveTests.Add(ctx, 1)
}

// RecordTestFinished retires an in-flight test and records its terminal
// status and total runtime.
func RecordTestFinished(ctx context.Context, metrics *BusinessMetrics, status string, duration time.Duration) {
	if metrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}

	metrics.ActiveTests.Add(ctx, -1)
	metrics.TestsCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.TestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordNotificationArmed counts a notification schedule being armed.
func RecordNotificationArmed(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}
	metrics.NotificationsScheduled.Add(ctx, 1)
}

// RecordNotificationDisarmed counts a pending schedule cancelled before it
// fired.
func RecordNotificationDisarmed(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}
	metrics.NotificationsCancelled.Add(ctx, 1)
}

// businessMetricsKey carries the request-scoped metrics handle through a
// context.
type businessMetricsKey struct{}

// ContextWithBusinessMetrics stashes metrics in ctx so code downstream can
// record domain measurements without holding a provider reference.
func ContextWithBusinessMetrics(ctx context.Context, metrics *BusinessMetrics) context.Context {
	return context.WithValue(ctx, businessMetricsKey{}, metrics)
}

// BusinessMetricsFromContext returns the stashed metrics handle, or nil when
// none was attached.
func BusinessMetricsFromContext(ctx context.Context) *BusinessMetrics {
	metrics, _ := ctx.Value(businessMetricsKey{}).(*BusinessMetrics)
	return metrics
}
