package listen

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySegment is returned by [Finalizer.Finalize] when there are no
	// frames to finalize.
	ErrEmptySegment = errors.New("listen: segment has no frames")

	// ErrClassifierUnavailable reports that the wake scorer or the VAD
	// classifier failed for a frame, or that its circuit breaker is open.
	// The frame is treated as "not detected" or as SILENCE respectively.
	ErrClassifierUnavailable = errors.New("listen: classifier unavailable")
)

// IOError reports that a finalized segment could not be written or handed
// downstream. The segment is lost; the session still returns to Listening.
type IOError struct {
	// Op is the failed step: "materialize" or "handoff".
	Op string
	// SegmentID identifies the lost segment.
	SegmentID string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("listen: %s segment %s: %v", e.Op, e.SegmentID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
