package listen

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Job is a finalized segment handed downstream. Ownership of Segment and of
// the WAV file moves with the Job; the consumer must remove WAVPath from FS.
type Job struct {
	Segment *audio.Segment
	// WAVPath names a single-channel WAV copy of Segment on FS.
	WAVPath string
	FS      afero.Fs
}

// Handoff accepts finalized segments. Submit must not block; a consumer that
// cannot take the job returns an error and the segment is dropped.
type Handoff interface {
	Submit(Job) error
}

// HandoffFunc adapts a function to [Handoff].
type HandoffFunc func(Job) error

// Submit calls f(j).
func (f HandoffFunc) Submit(j Job) error { return f(j) }

// Finalizer turns buffered speech frames into an [audio.Segment], writes it
// as a temporary WAV file and hands both to the downstream [Handoff].
type Finalizer struct {
	format  audio.Format
	handoff Handoff
	fs      afero.Fs
	dir     string
	newID   func() string
	now     func() time.Time
}

// FinalizerOption configures a [Finalizer].
type FinalizerOption func(*Finalizer)

// WithFS writes segment files to fs under dir. An empty dir selects the
// system temp directory. Default: the OS filesystem.
func WithFS(fs afero.Fs, dir string) FinalizerOption {
	return func(f *Finalizer) {
		f.fs = fs
		f.dir = dir
	}
}

// WithIDFunc overrides segment ID generation. Default: random UUIDs.
func WithIDFunc(fn func() string) FinalizerOption {
	return func(f *Finalizer) { f.newID = fn }
}

// NewFinalizer returns a Finalizer stamping segments with format.
func NewFinalizer(format audio.Format, handoff Handoff, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		format:  format,
		handoff: handoff,
		fs:      afero.NewOsFs(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Finalize concatenates frames in order and hands the segment downstream. It
// returns [ErrEmptySegment] for zero frames and an [*IOError] when the WAV
// file cannot be written or the handoff refuses the job; in both cases no file
// is left behind. frames is not retained.
func (f *Finalizer) Finalize(_ context.Context, frames []audio.Frame) (*audio.Segment, error) {
	if len(frames) == 0 {
		return nil, ErrEmptySegment
	}

	size := 0
	for _, fr := range frames {
		size += len(fr.Data)
	}
	pcm := make([]byte, 0, size)
	for _, fr := range frames {
		pcm = append(pcm, fr.Data...)
	}

	seg := &audio.Segment{
		ID:         f.newID(),
		Format:     f.format,
		PCM:        pcm,
		Frames:     len(frames),
		FirstSeq:   frames[0].Seq,
		CapturedAt: f.now(),
	}

	file, err := seg.Materialize(f.fs, f.dir)
	if err != nil {
		return nil, &IOError{Op: "materialize", SegmentID: seg.ID, Err: err}
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		_ = f.fs.Remove(path)
		return nil, &IOError{Op: "materialize", SegmentID: seg.ID, Err: err}
	}

	if err := f.handoff.Submit(Job{Segment: seg, WAVPath: path, FS: f.fs}); err != nil {
		_ = f.fs.Remove(path)
		return nil, &IOError{Op: "handoff", SegmentID: seg.ID, Err: err}
	}
	return seg, nil
}
