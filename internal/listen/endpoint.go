package listen

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// DefaultSilenceDebounce ends an utterance on the first SILENCE frame.
const DefaultSilenceDebounce = 1

// EndpointDetector decides when a recorded utterance is over. Each frame is
// classified by a VAD session: SPEECH clears the session's silence run,
// SILENCE extends it, and a silence event fires once the run reaches the
// debounce count.
//
// If the classifier fails, or its breaker is open, the frame counts as
// SILENCE so that a broken classifier can never hold the machine in
// Recording. A non-zero recording cap forces a silence event for the same
// reason when the classifier reports speech forever.
//
// Debounce and cap may be changed while frames are processed; all other
// methods belong to the processing loop.
type EndpointDetector struct {
	session vad.SessionHandle
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics

	debounce  atomic.Int64
	maxFrames atomic.Int64
}

// DetectorOption configures an [EndpointDetector].
type DetectorOption func(*EndpointDetector)

// WithSilenceDebounce sets how many consecutive SILENCE frames end an
// utterance. Values below 1 are treated as 1. Default: 1.
func WithSilenceDebounce(n int) DetectorOption {
	return func(d *EndpointDetector) { d.SetSilenceDebounce(n) }
}

// WithMaxRecordingFrames caps the length of a recording. Zero disables the
// cap. Default: 0.
func WithMaxRecordingFrames(n int) DetectorOption {
	return func(d *EndpointDetector) { d.SetMaxRecordingFrames(n) }
}

// WithDetectorBreaker replaces the default circuit breaker around the
// classifier.
func WithDetectorBreaker(cb *resilience.CircuitBreaker) DetectorOption {
	return func(d *EndpointDetector) { d.breaker = cb }
}

// WithDetectorMetrics records classifier failures on m.
func WithDetectorMetrics(m *observe.Metrics) DetectorOption {
	return func(d *EndpointDetector) { d.metrics = m }
}

// NewEndpointDetector returns a detector classifying frames with session.
func NewEndpointDetector(session vad.SessionHandle, opts ...DetectorOption) *EndpointDetector {
	d := &EndpointDetector{session: session}
	d.debounce.Store(DefaultSilenceDebounce)
	for _, o := range opts {
		o(d)
	}
	if d.breaker == nil {
		d.breaker = classifierBreaker("vad")
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// SetSilenceDebounce changes the debounce count. Values below 1 become 1.
func (d *EndpointDetector) SetSilenceDebounce(n int) {
	d.debounce.Store(int64(max(n, 1)))
}

// SetMaxRecordingFrames changes the recording cap. Negative values become 0.
func (d *EndpointDetector) SetMaxRecordingFrames(n int) {
	d.maxFrames.Store(int64(max(n, 0)))
}

// SilenceDebounce returns the current debounce count.
func (d *EndpointDetector) SilenceDebounce() int { return int(d.debounce.Load()) }

// MaxRecordingFrames returns the current recording cap.
func (d *EndpointDetector) MaxRecordingFrames() int { return int(d.maxFrames.Load()) }

// Reset clears the classifier's history. Called when a recording starts.
func (d *EndpointDetector) Reset() { d.session.Reset() }

// Observe classifies frame, updates the silence run on s and reports whether
// the utterance has ended. frame must already be buffered in s.
//
// A non-nil error wraps [ErrClassifierUnavailable]; it is informational, the
// frame has already been counted as SILENCE.
func (d *EndpointDetector) Observe(ctx context.Context, frame audio.Frame, s *Session) (bool, error) {
	var ev vad.VADEvent
	err := d.breaker.Execute(func() error {
		var err error
		ev, err = d.session.ProcessFrame(frame.Data)
		return err
	})
	if err != nil {
		d.metrics.RecordClassifierFailure(ctx, "vad")
		err = fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
		ev = vad.VADEvent{Type: vad.VADSilence}
	}

	if ev.IsSpeech() {
		s.silenceRun = 0
	} else {
		s.silenceRun++
	}

	if s.silenceRun >= d.SilenceDebounce() {
		return true, err
	}
	if limit := d.MaxRecordingFrames(); limit > 0 && s.Len() >= limit {
		return true, err
	}
	return false, err
}
