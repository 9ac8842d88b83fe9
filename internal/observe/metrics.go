// Package observe provides application-wide observability primitives for the
// concierge host: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime"
)

// meterName is the instrumentation scope name used for all concierge metrics.
const meterName = "github.com/MrWong99/concierge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// It implements [realtime.Recorder].
type Metrics struct {
	// SetupDuration tracks the time from Start to an active session. Use with
	// attribute.String("status", ...).
	SetupDuration metric.Float64Histogram

	// SessionStarts counts Start attempts by outcome. Use with
	// attribute.String("status", ...) where status is "ok" or an error class.
	SessionStarts metric.Int64Counter

	// LiveSessions tracks the number of live voice sessions.
	LiveSessions metric.Int64UpDownCounter

	// Frames counts inbound control frames. Use with
	// attribute.String("kind", ...).
	Frames metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolDuration tracks tool execution latency by tool name.
	ToolDuration metric.Float64Histogram

	// PropertyQueries counts property store lookups. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	PropertyQueries metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

var _ realtime.Recorder = (*Metrics)(nil)

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// session setup and tool calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.SetupDuration, err = m.Float64Histogram("concierge.session.setup.duration",
		metric.WithDescription("Time from session start to an active session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStarts, err = m.Int64Counter("concierge.session.starts",
		metric.WithDescription("Session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.LiveSessions, err = m.Int64UpDownCounter("concierge.session.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("concierge.realtime.frames",
		metric.WithDescription("Inbound control frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("concierge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("concierge.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PropertyQueries, err = m.Int64Counter("concierge.property.queries",
		metric.WithDescription("Property store lookups by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("concierge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the Prometheus exporter.
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

// ErrorClass maps a session error onto a short label for metric attributes.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device"
	case errors.Is(err, realtime.ErrAuth):
		return "auth"
	case errors.Is(err, realtime.ErrNegotiation):
		return "negotiation"
	case errors.Is(err, realtime.ErrNetwork):
		return "network"
	case errors.Is(err, realtime.ErrStopped):
		return "stopped"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// SetupFinished implements [realtime.Recorder].
func (m *Metrics) SetupFinished(ctx context.Context, d time.Duration, err error) {
	status := attribute.String("status", ErrorClass(err))
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(status))
	m.SetupDuration.Record(ctx, d.Seconds(), metric.WithAttributes(status))
}

// ActiveSessions implements [realtime.Recorder].
func (m *Metrics) ActiveSessions(ctx context.Context, delta int64) {
	m.LiveSessions.Add(ctx, delta)
}

// FrameReceived implements [realtime.Recorder].
func (m *Metrics) FrameReceived(ctx context.Context, kind realtime.EventKind) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

// ToolFinished implements [realtime.Recorder].
func (m *Metrics) ToolFinished(ctx context.Context, tool string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordPropertyQuery records one property store lookup.
func (m *Metrics) RecordPropertyQuery(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PropertyQueries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}
