// Package observe provides application-wide observability: OpenTelemetry
// metrics with a Prometheus scrape bridge, tracing helpers, and HTTP
// middleware tying them together.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all aura metrics.
const meterName = "github.com/aurahq/aura"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// CompletionDuration tracks the full duration of one reply stream, from
	// request to last fragment.
	CompletionDuration metric.Float64Histogram

	// CompletionRequests counts reply streams. Attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	CompletionRequests metric.Int64Counter

	// CompletionFragments counts streamed text fragments.
	CompletionFragments metric.Int64Counter

	// Payments counts subscription purchase attempts. Attribute:
	//   attribute.String("status", ...)
	Payments metric.Int64Counter

	// TrialStarts counts trial bootstraps, one per address ever.
	TrialStarts metric.Int64Counter

	// Exports counts transcript exports. Attribute:
	//   attribute.String("status", ...)
	Exports metric.Int64Counter

	// ActiveSessions tracks currently open chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// streamBuckets covers reply streams, which run seconds rather than
// milliseconds.
var streamBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CompletionDuration, err = m.Float64Histogram("aura.completion.duration",
		metric.WithDescription("Duration of one full reply stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(streamBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CompletionRequests, err = m.Int64Counter("aura.completion.requests",
		metric.WithDescription("Total reply streams by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.CompletionFragments, err = m.Int64Counter("aura.completion.fragments",
		metric.WithDescription("Total streamed text fragments."),
	); err != nil {
		return nil, err
	}
	if met.Payments, err = m.Int64Counter("aura.payments",
		metric.WithDescription("Total subscription purchase attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.TrialStarts, err = m.Int64Counter("aura.trial.starts",
		metric.WithDescription("Total trial bootstraps."),
	); err != nil {
		return nil, err
	}
	if met.Exports, err = m.Int64Counter("aura.exports",
		metric.WithDescription("Total transcript exports by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("aura.active_sessions",
		metric.WithDescription("Number of currently open chat sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aura.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from the global meter provider. Panics if instrument
// creation fails (cannot happen with the global provider).
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

// RecordCompletion records one finished reply stream.
func (m *Metrics) RecordCompletion(ctx context.Context, backend, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	m.CompletionRequests.Add(ctx, 1, attrs)
	m.CompletionDuration.Record(ctx, seconds, attrs)
}

// RecordPayment records one purchase attempt outcome.
func (m *Metrics) RecordPayment(ctx context.Context, status string) {
	m.Payments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordExport records one export attempt outcome.
func (m *Metrics) RecordExport(ctx context.Context, status string) {
	m.Exports.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
