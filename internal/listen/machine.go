// Package listen implements the streaming core of earshot: the wake scanner,
// the endpoint detector, the session state machine and the segment
// finalizer, plus the loop that drives them from a capture stream.
//
// The machine has two modes. While Listening, every frame goes to the
// [WakeScanner]; the frame that triggers the wake phrase is consumed by
// detection and not recorded. While Recording, every frame is appended to the
// session first and then classified by the [EndpointDetector], so the frame
// that ends the utterance is part of the segment. On the silence event the
// buffered frames go to the [Finalizer] and the machine returns to Listening,
// whether or not finalization succeeded.
//
// Frames are processed strictly in stream order on one goroutine. Downstream
// work runs elsewhere: the finalizer only enqueues it.
package listen

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Snapshot is a point-in-time view of the machine for health checks and
// tests.
type Snapshot struct {
	Mode       Mode
	Frames     int
	SilenceRun int
	// Segments counts segments handed downstream since start.
	Segments uint64
	// Dropped counts segments lost to finalization errors since start.
	Dropped uint64
}

// Machine is the session state machine. Process and Run must be called from
// a single goroutine; Snapshot may be called from any goroutine.
type Machine struct {
	scanner   *WakeScanner
	detector  *EndpointDetector
	finalizer *Finalizer
	publisher events.Publisher
	metrics   *observe.Metrics

	mu       sync.Mutex
	session  Session
	segments uint64
	dropped  uint64
}

// MachineOption configures a [Machine].
type MachineOption func(*Machine)

// WithPublisher sends wake, segment and error events to p.
func WithPublisher(p events.Publisher) MachineOption {
	return func(m *Machine) { m.publisher = p }
}

// WithMetrics records frame and segment metrics on mt.
func WithMetrics(mt *observe.Metrics) MachineOption {
	return func(m *Machine) { m.metrics = mt }
}

// NewMachine returns a machine in Listening mode.
func NewMachine(scanner *WakeScanner, detector *EndpointDetector, finalizer *Finalizer, opts ...MachineOption) *Machine {
	m := &Machine{
		scanner:   scanner,
		detector:  detector,
		finalizer: finalizer,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.publisher == nil {
		m.publisher = events.PublisherFunc(func(events.Event) {})
	}
	return m
}

// Detector returns the endpoint detector, whose thresholds may be tuned at
// runtime.
func (m *Machine) Detector() *EndpointDetector { return m.detector }

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Mode:       m.session.mode,
		Frames:     m.session.Len(),
		SilenceRun: m.session.silenceRun,
		Segments:   m.segments,
		Dropped:    m.dropped,
	}
}

// Process advances the machine by one frame.
func (m *Machine) Process(ctx context.Context, frame audio.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.RecordFrame(ctx, m.session.mode.String())

	switch m.session.mode {
	case Listening:
		if !m.scanner.Scan(ctx, frame) {
			return
		}
		m.detector.Reset()
		m.session.record()
		m.metrics.WakeEvents.Add(ctx, 1, metric.WithAttributes(
			observe.Attr("keyword", strconv.Itoa(m.scanner.Keyword()))))
		slog.Info("listen: wake phrase detected", "seq", frame.Seq, "keyword", m.scanner.Keyword())
		m.publisher.Publish(events.Event{Type: events.TypeWake, Seq: frame.Seq})

	case Recording:
		m.session.frames = append(m.session.frames, frame)
		silence, err := m.detector.Observe(ctx, frame, &m.session)
		if err != nil {
			slog.Debug("listen: classifier failed, treating frame as silence", "seq", frame.Seq, "err", err)
		}
		if silence {
			m.finalize(ctx, frame.Seq)
		}
	}
}

// finalize hands the buffered frames to the finalizer and returns to
// Listening regardless of the outcome. Callers hold m.mu.
func (m *Machine) finalize(ctx context.Context, seq uint64) {
	defer func() {
		m.session.reset()
		m.scanner.Arm()
	}()

	frames := m.session.Len()
	seg, err := m.finalizer.Finalize(ctx, m.session.frames)
	if err != nil {
		m.dropped++
		m.metrics.RecordSegmentError(ctx, "finalize")
		m.publisher.Publish(events.Event{Type: events.TypeSegmentError, Seq: seq, Frames: frames, Error: err.Error()})

		var ioErr *IOError
		switch {
		case errors.Is(err, ErrEmptySegment):
			slog.Warn("listen: silence with no buffered frames", "seq", seq)
		case errors.As(err, &ioErr):
			slog.Error("listen: segment lost", "segment_id", ioErr.SegmentID, "op", ioErr.Op, "frames", frames, "err", ioErr.Err)
		default:
			slog.Error("listen: finalize failed", "frames", frames, "err", err)
		}
		return
	}

	m.segments++
	m.metrics.RecordSegment(ctx, seg.Frames)
	slog.Info("listen: segment finalized", "segment_id", seg.ID, "frames", seg.Frames, "duration", seg.Duration())
	m.publisher.Publish(events.Event{Type: events.TypeSegment, SegmentID: seg.ID, Seq: seq, Frames: seg.Frames})
}

// Discard drops an unfinished recording. No utterance counts as captured
// until its silence event, so the frames are not finalized.
func (m *Machine) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.mode == Recording {
		slog.Info("listen: discarding unfinished recording", "frames", m.session.Len())
		m.session.reset()
		m.scanner.Arm()
	}
}
