// Package observe provides application-wide observability primitives for
// voxsplit: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxsplit metrics.
const meterName = "github.com/voxsplit/voxsplit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// DecodeDuration tracks waveform decode latency per input file.
	DecodeDuration metric.Float64Histogram

	// TranscribeDuration tracks the latency of a single admitted
	// transcription call. Use with attribute.String("status", "ok"|"error").
	TranscribeDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end pipeline latency per job.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsProduced counts segments emitted by the segmenter.
	SegmentsProduced metric.Int64Counter

	// SegmentsFailed counts segment settlements that ended in an error,
	// including ones later recovered by a retry pass.
	SegmentsFailed metric.Int64Counter

	// SegmentRetries counts segments re-submitted in retry passes.
	SegmentRetries metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks the number of pipeline runs currently in flight.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", …), attribute.String("path", …).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// network transcription calls, which routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecodeDuration, err = m.Float64Histogram("voxsplit.decode.duration",
		metric.WithDescription("Latency of decoding one input file to a waveform."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("voxsplit.transcribe.duration",
		metric.WithDescription("Latency of a single transcription call by status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("voxsplit.pipeline.duration",
		metric.WithDescription("End-to-end pipeline latency per job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsProduced, err = m.Int64Counter("voxsplit.segments.produced",
		metric.WithDescription("Total segments emitted by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsFailed, err = m.Int64Counter("voxsplit.segments.failed",
		metric.WithDescription("Total segment settlements that ended in an error."),
	); err != nil {
		return nil, err
	}
	if met.SegmentRetries, err = m.Int64Counter("voxsplit.segments.retries",
		metric.WithDescription("Total segments re-submitted in retry passes."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobs, err = m.Int64UpDownCounter("voxsplit.active_jobs",
		metric.WithDescription("Number of pipeline runs currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxsplit.http.request.duration",
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
