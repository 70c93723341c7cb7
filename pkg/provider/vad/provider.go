// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (noise floors, smoothing history) so that independent streams never share
// detection history.
//
// VAD is synchronous: ProcessFrame returns immediately with a classification,
// making it suitable for the per-frame endpointing decision.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when a frame does not match the
// session's configured length.
var ErrFrameSize = errors.New("vad: frame size does not match session config")

// Config holds the parameters for a VAD session. Thresholds are expressed on a
// normalized [0.0, 1.0] scale; see each Engine's documentation for what the
// scale measures.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameLength is the number of samples per frame. ProcessFrame returns
	// ErrFrameSize for any other length.
	FrameLength int

	// SpeechThreshold is the score at or above which a frame starts speech.
	SpeechThreshold float64

	// SilenceThreshold is the score below which ongoing speech ends. Must be
	// less than or equal to SpeechThreshold.
	SilenceThreshold float64
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame length must be positive, got %d", c.FrameLength))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 || c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		errs = append(errs, errors.New("vad: thresholds must be within [0, 1]"))
	}
	if c.SilenceThreshold > c.SpeechThreshold {
		errs = append(errs, errors.New("vad: silence threshold must not exceed speech threshold"))
	}
	return errors.Join(errs...)
}

// CheckFrame returns ErrFrameSize unless frame holds exactly FrameLength
// 16-bit samples.
func (c Config) CheckFrame(frame []byte) error {
	if len(frame) != c.FrameLength*2 {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), c.FrameLength*2)
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Reset clears detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of raw little-endian 16-bit PCM.
	// Returns an error if the frame size is wrong or if the engine encounters
	// an internal failure. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state. The endpoint detector calls
	// it at the start of every recording so that history from the previous
	// utterance cannot leak into the next.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
