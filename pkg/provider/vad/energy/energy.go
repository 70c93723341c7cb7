// Package energy implements a pure-Go [vad.Engine] based on RMS energy.
//
// The score of a frame is its RMS level normalized to full scale. Sessions use
// hysteresis: a frame starts speech once its score reaches SpeechThreshold and
// speech continues until a frame scores below SilenceThreshold, which avoids
// flickering on levels between the two.
package energy

import (
	"errors"
	"math"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Default thresholds suit close-talking microphones at 16 kHz.
const (
	DefaultSpeechThreshold  = 0.015
	DefaultSilenceThreshold = 0.008
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy sessions. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine]. Zero thresholds are replaced by the
// package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = WithDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg}, nil
}

// WithDefaults fills zero thresholds in cfg. A lone speech threshold gets a
// silence threshold no higher than itself, and a lone silence threshold a
// speech threshold no lower than itself.
func WithDefaults(cfg vad.Config) vad.Config {
	switch {
	case cfg.SpeechThreshold == 0 && cfg.SilenceThreshold == 0:
		cfg.SpeechThreshold = DefaultSpeechThreshold
		cfg.SilenceThreshold = DefaultSilenceThreshold
	case cfg.SilenceThreshold == 0:
		cfg.SilenceThreshold = min(DefaultSilenceThreshold, cfg.SpeechThreshold)
	case cfg.SpeechThreshold == 0:
		cfg.SpeechThreshold = max(DefaultSpeechThreshold, cfg.SilenceThreshold)
	}
	return cfg
}

// Session is an energy VAD session.
type Session struct {
	cfg vad.Config

	mu       sync.Mutex
	inSpeech bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if err := s.cfg.CheckFrame(frame); err != nil {
		return vad.VADEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, errors.New("energy: session is closed")
	}

	level := Level(frame)
	if s.inSpeech {
		s.inSpeech = level >= s.cfg.SilenceThreshold
	} else {
		s.inSpeech = level >= s.cfg.SpeechThreshold
	}

	ev := vad.VADEvent{Type: vad.VADSilence, Probability: math.Min(level/s.cfg.SpeechThreshold, 1)}
	if s.inSpeech {
		ev.Type = vad.VADSpeech
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	s.inSpeech = false
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Level returns the RMS energy of 16-bit little-endian PCM normalized to
// [0, 1]. Returns 0 for buffers shorter than one sample.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += v * v
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
