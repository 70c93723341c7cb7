// Package flux implements a [vad.Engine] based on spectral flux.
//
// Each frame is Hann-windowed and transformed with an FFT; the flux is the
// summed positive change of the magnitude spectrum against the previous
// frame. Speech onsets produce a jump in flux relative to the running
// reference, and speech is considered over once flux falls by the same ratio.
// An RMS gate at SilenceThreshold keeps low-level noise classified as silence.
//
// Flux reacts to changes in spectral shape rather than loudness, so it holds
// up better than pure energy detection against steady background noise such
// as fans.
package flux

import (
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

// DefaultRatio is the flux change that marks a speech onset or offset.
const DefaultRatio = 1.75

const minReference = 1e-6

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Option configures an [Engine].
type Option func(*Engine)

// WithRatio overrides DefaultRatio. Values at or below 1 are ignored.
func WithRatio(r float64) Option {
	return func(e *Engine) {
		if r > 1 {
			e.ratio = r
		}
	}
}

// Engine creates spectral flux sessions.
type Engine struct {
	ratio float64
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{ratio: DefaultRatio}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine]. Zero thresholds are replaced by the
// energy package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = energy.WithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, ratio: e.ratio}, nil
}

// Session is a spectral flux VAD session.
type Session struct {
	cfg   vad.Config
	ratio float64

	mu     sync.Mutex
	prev   []float64
	ref    float64
	heard  bool
	quiet  bool
	closed bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if err := s.cfg.CheckFrame(frame); err != nil {
		return vad.VADEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("flux: session is closed")
	}

	f := s.flux(frame)
	ref := math.Max(s.ref, minReference)
	switch {
	case !s.heard:
		s.heard = f >= ref*s.ratio
		s.ref = f
	case f*s.ratio <= ref:
		s.quiet = true
	default:
		s.quiet = false
		s.ref = f
	}

	speech := s.heard && !s.quiet && energy.Level(frame) >= s.cfg.SilenceThreshold
	ev := vad.VADEvent{Type: vad.VADSilence, Probability: f / (f + ref*s.ratio)}
	if speech {
		ev.Type = vad.VADSpeech
	}
	return ev, nil
}

// flux computes the positive spectral change against the previous frame and
// stores the current magnitude spectrum.
func (s *Session) flux(frame []byte) float64 {
	n := len(frame) / 2
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(int16(uint16(frame[i*2])|uint16(frame[i*2+1])<<8)) / 32768
	}
	window.Apply(x, window.Hann)
	spectrum := fft.FFTReal(x)

	mags := make([]float64, n/2+1)
	var sum float64
	for i := range mags {
		mags[i] = cmplx.Abs(spectrum[i])
		if s.prev != nil {
			if d := mags[i] - s.prev[i]; d > 0 {
				sum += d
			}
		}
	}
	s.prev = mags
	return sum / float64(len(mags))
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = nil
	s.ref = 0
	s.heard = false
	s.quiet = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
