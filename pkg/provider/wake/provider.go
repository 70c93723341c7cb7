// Package wake defines the Scorer interface for on-device wake-word engines.
//
// A Scorer wraps a pretrained keyword-spotting model. It is fed one
// fixed-length frame of mono 16-bit PCM at a time and reports which configured
// keyword, if any, was recognized. Scorers keep internal state across frames
// (feature windows, smoothing) that callers must treat as opaque: the only
// supported way to clear it is to construct a new Scorer.
//
// Scorers run entirely locally; no implementation may make network calls.
package wake

import "errors"

// NotDetected is the keyword index reported when no keyword was recognized.
const NotDetected = -1

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("wake: scorer is closed")

// Config describes the keyword models to load.
type Config struct {
	// AccessKey authenticates the engine, where the engine requires one.
	AccessKey string

	// ModelPath optionally overrides the engine's acoustic model file.
	ModelPath string

	// KeywordPaths lists keyword model files. The keyword index reported by
	// Process is the position in BuiltinKeywords followed by KeywordPaths.
	KeywordPaths []string

	// BuiltinKeywords lists keywords bundled with the engine, by name.
	BuiltinKeywords []string

	// Sensitivity in [0.0, 1.0] applies to every keyword. Higher values reduce
	// misses at the cost of false alarms.
	Sensitivity float32
}

// Keywords returns the number of keywords configured.
func (c Config) Keywords() int { return len(c.BuiltinKeywords) + len(c.KeywordPaths) }

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.Keywords() == 0 {
		errs = append(errs, errors.New("wake: at least one keyword is required"))
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		errs = append(errs, errors.New("wake: sensitivity must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Scorer is the wake-word engine consumed by the wake scanner.
//
// A Scorer is not safe for concurrent use; it belongs to the single processing
// loop that feeds it frames in stream order.
type Scorer interface {
	// Process scores one frame of exactly FrameLength samples and returns the
	// index of the recognized keyword, or NotDetected.
	Process(pcm []int16) (int, error)

	// FrameLength is the number of samples Process expects per call.
	FrameLength() int

	// SampleRate is the sample rate the model was trained on.
	SampleRate() int

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}
