package audio

import (
	"fmt"
	"iter"
)

// DesyncError reports that the residual buffer of a [Segmenter] no longer
// accounts for the bytes it was given. Every frame boundary after the fault
// would be shifted, so the residual state must be discarded with
// [Segmenter.Reset].
type DesyncError struct {
	// Pending is the number of residual bytes at the time of the check.
	Pending int

	// FrameBytes is the size of one frame in bytes.
	FrameBytes int

	// Unaccounted is received minus emitted minus pending. Zero unless bytes
	// were lost or duplicated.
	Unaccounted int64
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("audio: segmenter desynchronized: %d residual bytes for %d-byte frames, %d bytes unaccounted",
		e.Pending, e.FrameBytes, e.Unaccounted)
}

// Segmenter slices an arbitrarily chunked stream of 16-bit PCM into
// fixed-length [Frame]s. Bytes that do not fill a frame are carried over to
// the next [Segmenter.Push].
//
// A Segmenter is not safe for concurrent use; it belongs to the single
// processing loop that owns the stream.
type Segmenter struct {
	frameBytes int

	buf   []byte
	start int

	seq      uint64
	received int64
	emitted  int64
}

// NewSegmenter returns a Segmenter producing frames of frameLength samples.
func NewSegmenter(frameLength int) (*Segmenter, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("audio: frame length must be positive, got %d", frameLength)
	}
	fb := frameLength * 2
	return &Segmenter{
		frameBytes: fb,
		buf:        make([]byte, 0, fb*2),
	}, nil
}

// FrameLength returns the number of samples per frame.
func (s *Segmenter) FrameLength() int { return s.frameBytes / 2 }

// FrameBytes returns the size of one frame in bytes.
func (s *Segmenter) FrameBytes() int { return s.frameBytes }

// Pending returns the number of residual bytes waiting for more input.
func (s *Segmenter) Pending() int { return len(s.buf) - s.start }

// Push appends chunk to the residual buffer and returns the frames it
// completes, in stream order.
//
// The chunk is retained immediately; the returned sequence only cuts frames
// as it is iterated. If the caller stops early, the remaining bytes stay
// buffered and are yielded by the next sequence, so no byte is ever skipped or
// emitted twice. Each frame owns a fresh copy of its bytes.
func (s *Segmenter) Push(chunk []byte) iter.Seq[Frame] {
	if s.start > 0 {
		n := copy(s.buf, s.buf[s.start:])
		s.buf = s.buf[:n]
		s.start = 0
	}
	s.buf = append(s.buf, chunk...)
	s.received += int64(len(chunk))

	return func(yield func(Frame) bool) {
		for len(s.buf)-s.start >= s.frameBytes {
			data := make([]byte, s.frameBytes)
			copy(data, s.buf[s.start:s.start+s.frameBytes])
			s.start += s.frameBytes
			s.emitted += int64(s.frameBytes)

			f := Frame{Seq: s.seq, Data: data}
			s.seq++
			if !yield(f) {
				return
			}
		}
	}
}

// Check verifies the residual invariant after a pushed sequence has been fully
// consumed: fewer than one frame of bytes is pending and every received byte
// is either emitted or pending. It returns a *DesyncError otherwise.
func (s *Segmenter) Check() error {
	pending := s.Pending()
	unaccounted := s.received - s.emitted - int64(pending)
	if pending < 0 || pending >= s.frameBytes || unaccounted != 0 {
		return &DesyncError{Pending: pending, FrameBytes: s.frameBytes, Unaccounted: unaccounted}
	}
	return nil
}

// Reset discards the residual bytes. Frame sequence numbers keep increasing.
func (s *Segmenter) Reset() {
	s.buf = s.buf[:0]
	s.start = 0
	s.received = 0
	s.emitted = 0
}
