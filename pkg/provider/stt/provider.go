// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider transcribes one finalized utterance at a time. Utterances arrive
// as [audio.Segment] values, usually together with the WAV container the
// listener materialized for them, so backends that upload files can stream it
// directly instead of re-encoding.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrNoSegment is returned when a Request carries no segment.
var ErrNoSegment = errors.New("stt: request has no segment")

// Request describes one transcription job.
type Request struct {
	// Segment is the captured utterance. Required.
	Segment *audio.Segment

	// WAV optionally holds Segment encoded as a WAV container. Providers that
	// upload files read it from the start; providers that consume samples use
	// Segment.PCM instead.
	WAV io.ReadSeeker

	// Language is an ISO-639-1 hint. Empty selects the provider default.
	Language string

	// Prompt is optional context that biases recognition, e.g. the wake phrase.
	Prompt string
}

// Transcript is the result of transcribing one segment.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the detected or requested language, when known.
	Language string

	// Audio is the duration of the transcribed segment.
	Audio time.Duration

	// Latency is how long the provider took.
	Latency time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts req.Segment to text. An empty Text with a nil error
	// means the segment contained no recognizable speech.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// OpenWAV returns a reader positioned at the start of the request's WAV
// container. When req.WAV is nil the segment is encoded into an in-memory file.
// The returned reader implements Name(), which HTTP clients use as the upload
// filename.
func OpenWAV(req Request) (io.Reader, error) {
	if req.Segment == nil {
		return nil, ErrNoSegment
	}
	if req.WAV != nil {
		if _, err := req.WAV.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("stt: rewind wav: %w", err)
		}
		if _, ok := req.WAV.(interface{ Name() string }); ok {
			return req.WAV, nil
		}
		return namedReader{Reader: req.WAV, name: "audio.wav"}, nil
	}
	f, err := req.Segment.Materialize(afero.NewMemMapFs(), "/")
	if err != nil {
		return nil, err
	}
	return f, nil
}

type namedReader struct {
	io.Reader
	name string
}

func (n namedReader) Name() string { return n.name }
