// Package observe provides application-wide observability primitives for
// captionseek: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all captionseek metrics.
const meterName = "github.com/MrWong99/captionseek"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RoundDuration tracks the wall time of a locate round, from throttle
	// trigger to the end of the show-on-screen action.
	RoundDuration metric.Float64Histogram

	// CaptureDuration tracks how long the caption provider took to answer.
	CaptureDuration metric.Float64Histogram

	// --- Distributions ---

	// Candidates records the size of the candidate set after tree gathering.
	Candidates metric.Int64Histogram

	// DisambiguationSteps records how many neighbour words were tested.
	DisambiguationSteps metric.Int64Histogram

	// --- Counters ---

	// Rounds counts finished rounds. Use with attribute:
	//   attribute.String("outcome", ...)
	Rounds metric.Int64Counter

	// ScrollSignals counts every scroll signal received, triggering or not.
	ScrollSignals metric.Int64Counter

	// Advisories counts failed-scroll advisories. Use with attribute:
	//   attribute.String("status", "sent"|"suppressed")
	Advisories metric.Int64Counter

	// --- Gauges ---

	// RoundsInFlight is 1 while a round runs and 0 otherwise.
	RoundsInFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin request latency. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// capture and round latencies. OCR-backed captures sit in the upper range.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// countBuckets bounds the candidate and step distributions.
var countBuckets = []float64{0, 1, 2, 3, 5, 8, 13, 21, 50, 100, 500}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RoundDuration, err = m.Float64Histogram("captionseek.round.duration",
		metric.WithDescription("Latency of a complete locate round."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("captionseek.capture.duration",
		metric.WithDescription("Latency of caption snapshot requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64Histogram("captionseek.candidates",
		metric.WithDescription("Number of elements containing the anchor word."),
		metric.WithExplicitBucketBoundaries(countBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DisambiguationSteps, err = m.Int64Histogram("captionseek.disambiguation.steps",
		metric.WithDescription("Number of neighbour words tested per round."),
		metric.WithExplicitBucketBoundaries(countBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Rounds, err = m.Int64Counter("captionseek.rounds",
		metric.WithDescription("Total locate rounds by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ScrollSignals, err = m.Int64Counter("captionseek.scroll.signals",
		metric.WithDescription("Total scroll signals received."),
	); err != nil {
		return nil, err
	}
	if met.Advisories, err = m.Int64Counter("captionseek.advisories",
		metric.WithDescription("Total failed-scroll advisories by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RoundsInFlight, err = m.Int64UpDownCounter("captionseek.rounds.in_flight",
		metric.WithDescription("Number of locate rounds currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("captionseek.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by route and status."),
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

// RoundStats is the per-round summary passed to [Metrics.RecordRound].
type RoundStats struct {
	Outcome    string
	Duration   time.Duration
	Candidates int
	Steps      int
}

// RecordRound records the outcome counter, duration, and matching
// distributions of one finished round.
func (m *Metrics) RecordRound(ctx context.Context, s RoundStats) {
	outcome := metric.WithAttributes(attribute.String("outcome", s.Outcome))
	m.Rounds.Add(ctx, 1, outcome)
	m.RoundDuration.Record(ctx, s.Duration.Seconds(), outcome)
	m.Candidates.Record(ctx, int64(s.Candidates))
	m.DisambiguationSteps.Record(ctx, int64(s.Steps))
}

// RecordCapture records the latency of one caption request. status is "ok"
// or "error".
func (m *Metrics) RecordCapture(ctx context.Context, d time.Duration, status string) {
	m.CaptureDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordScrollSignal increments the scroll signal counter. triggered reports
// whether the signal started a round.
func (m *Metrics) RecordScrollSignal(ctx context.Context, triggered bool) {
	m.ScrollSignals.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("triggered", triggered)),
	)
}

// RecordAdvisory increments the advisory counter. status is "sent" or
// "suppressed".
func (m *Metrics) RecordAdvisory(ctx context.Context, status string) {
	m.Advisories.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
