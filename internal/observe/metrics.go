// Package observe provides the observability primitives shared by earshot:
// OpenTelemetry metrics, tracing, trace-correlated logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported in
// Prometheus format via [InitProvider]. Tests should build a [Metrics] with
// [NewMetrics] over a private meter provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/earshot"

// Metrics holds every instrument the application records. The OTel types
// handle their own synchronisation.
type Metrics struct {
	// ─── Listener ───

	// Frames counts fixed-length frames processed, by "mode".
	Frames metric.Int64Counter

	// WakeEvents counts wake-word detections.
	WakeEvents metric.Int64Counter

	// Segments counts finalized segments handed downstream.
	Segments metric.Int64Counter

	// SegmentFrames records the frame count of each finalized segment.
	SegmentFrames metric.Int64Histogram

	// ClassifierFailures counts wake or VAD classifier errors, by "classifier".
	ClassifierFailures metric.Int64Counter

	// DesyncResets counts segmenter resets after a residual desync.
	DesyncResets metric.Int64Counter

	// SegmentErrors counts segments that could not be finalized or
	// processed, by "stage".
	SegmentErrors metric.Int64Counter

	// ─── Downstream ───

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// PipelineInflight is the number of downstream jobs in progress.
	PipelineInflight metric.Int64UpDownCounter

	// ToolCalls counts tool invocations by "tool" and "status".
	ToolCalls metric.Int64Counter

	// ─── HTTP ───

	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for voice latencies.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// frameBuckets cover segments from a single frame to roughly a minute of
// speech at 32 ms frames.
var frameBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Frames, "earshot.frames", "Frames processed by the listener, by mode."},
		{&met.WakeEvents, "earshot.wake.events", "Wake-word detections."},
		{&met.Segments, "earshot.segments", "Segments finalized and handed downstream."},
		{&met.ClassifierFailures, "earshot.classifier.failures", "Wake or voice-activity classifier failures."},
		{&met.DesyncResets, "earshot.desync.resets", "Frame segmenter resets after a residual desync."},
		{&met.SegmentErrors, "earshot.segment.errors", "Segments lost to finalization or downstream errors, by stage."},
		{&met.ProviderRequests, "earshot.provider.requests", "Provider requests by provider, kind, and status."},
		{&met.ProviderErrors, "earshot.provider.errors", "Provider errors by provider and kind."},
		{&met.ToolCalls, "earshot.tool.calls", "Tool invocations by tool and status."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	latencies := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "earshot.stt.duration", "Latency of segment transcription."},
		{&met.LLMDuration, "earshot.llm.duration", "Latency of the reasoning stage."},
		{&met.TTSDuration, "earshot.tts.duration", "Latency of response synthesis and playback."},
	}
	for _, h := range latencies {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	var err error
	if met.SegmentFrames, err = m.Int64Histogram("earshot.segment.frames",
		metric.WithDescription("Frames per finalized segment."),
		metric.WithUnit("{frame}"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineInflight, err = m.Int64UpDownCounter("earshot.pipeline.inflight",
		metric.WithDescription("Downstream jobs currently in progress."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// DefaultMetrics returns a package-level [Metrics] built on the global meter
// provider at first use. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one frame processed in the given mode.
func (m *Metrics) RecordFrame(ctx context.Context, mode string) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(Attr("mode", mode)))
}

// RecordClassifierFailure counts a failure of the named classifier.
func (m *Metrics) RecordClassifierFailure(ctx context.Context, classifier string) {
	m.ClassifierFailures.Add(ctx, 1, metric.WithAttributes(Attr("classifier", classifier)))
}

// RecordSegment counts a finalized segment and its length.
func (m *Metrics) RecordSegment(ctx context.Context, frames int) {
	m.Segments.Add(ctx, 1)
	m.SegmentFrames.Record(ctx, int64(frames))
}

// RecordSegmentError counts a segment lost at stage.
func (m *Metrics) RecordSegmentError(ctx context.Context, stage string) {
	m.SegmentErrors.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
}

// RecordProviderRequest counts a provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordToolCall counts a tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		Attr("tool", tool),
		Attr("status", status),
	))
}
