// Package observe provides application-wide observability primitives for
// Tandem: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Tandem metrics.
const meterName = "github.com/tandemvoice/tandem"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DispatchDuration tracks reasoning-backend dispatch latency, from
	// enqueue to final response.
	DispatchDuration metric.Float64Histogram

	// VerifyDuration tracks classifier verification latency.
	VerifyDuration metric.Float64Histogram

	// --- Counters ---

	// RelayedFrames counts audio frames moved through a session. Use with
	// attribute: attribute.String("direction", "inbound"|"outbound").
	RelayedFrames metric.Int64Counter

	// RouterDecisions counts classification outcomes. Use with attributes:
	//   attribute.String("complexity", ...), attribute.String("target", ...)
	RouterDecisions metric.Int64Counter

	// DroppedUnits counts discarded work: unparseable frames, dispatches
	// skipped because one is already pending, and so on. Use with attribute:
	//   attribute.String("reason", ...)
	DroppedUnits metric.Int64Counter

	// SecondaryErrors counts failed reasoning-backend dispatches. Use with
	// attribute: attribute.String("backend", ...)
	SecondaryErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// DispatchesInFlight tracks reasoning dispatches currently running.
	DispatchesInFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DispatchDuration, err = m.Float64Histogram("tandem.dispatch.duration",
		metric.WithDescription("Latency of reasoning-backend dispatches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VerifyDuration, err = m.Float64Histogram("tandem.verify.duration",
		metric.WithDescription("Latency of classifier verification calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.RelayedFrames, err = m.Int64Counter("tandem.relay.frames",
		metric.WithDescription("Total audio frames relayed by direction."),
	); err != nil {
		return nil, err
	}
	if met.RouterDecisions, err = m.Int64Counter("tandem.router.decisions",
		metric.WithDescription("Total routing decisions by complexity and target backend."),
	); err != nil {
		return nil, err
	}
	if met.DroppedUnits, err = m.Int64Counter("tandem.dropped",
		metric.WithDescription("Total discarded units of work by reason."),
	); err != nil {
		return nil, err
	}
	if met.SecondaryErrors, err = m.Int64Counter("tandem.secondary.errors",
		metric.WithDescription("Total failed reasoning-backend dispatches by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tandem.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.DispatchesInFlight, err = m.Int64UpDownCounter("tandem.dispatch.in_flight",
		metric.WithDescription("Number of reasoning dispatches currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tandem.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one relayed audio frame for the given direction
// ("inbound" for client→backend, "outbound" for backend→client).
func (m *Metrics) RecordFrame(ctx context.Context, direction string) {
	m.RelayedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordDecision records one routing decision with the standard attribute set.
func (m *Metrics) RecordDecision(ctx context.Context, complexity, target string) {
	m.RouterDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("complexity", complexity),
			attribute.String("target", target),
		),
	)
}

// RecordDrop records one discarded unit of work.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.DroppedUnits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSecondaryError records one failed reasoning-backend dispatch.
func (m *Metrics) RecordSecondaryError(ctx context.Context, backend string) {
	m.SecondaryErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
