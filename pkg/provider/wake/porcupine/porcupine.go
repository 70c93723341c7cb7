// Package porcupine implements [wake.Scorer] with Picovoice Porcupine.
//
// Porcupine requires an access key from the Picovoice console. Keyword models
// (.ppn files) are trained per platform; built-in keywords such as
// "porcupine" or "computer" need no model file.
package porcupine

import (
	"errors"
	"fmt"
	"sync"

	pv "github.com/Picovoice/porcupine/binding/go/v3"

	"github.com/MrWong99/earshot/pkg/provider/wake"
)

var _ wake.Scorer = (*Scorer)(nil)

// Scorer is a [wake.Scorer] backed by a Porcupine handle.
type Scorer struct {
	mu     sync.Mutex
	handle *pv.Porcupine
	closed bool
}

// New initializes Porcupine with cfg. Built-in keyword names must be known to
// the engine; unknown names are reported together with any other
// configuration error.
func New(cfg wake.Config) (*Scorer, error) {
	if cfg.AccessKey == "" {
		return nil, errors.New("porcupine: access key must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &pv.Porcupine{
		AccessKey:    cfg.AccessKey,
		ModelPath:    cfg.ModelPath,
		KeywordPaths: cfg.KeywordPaths,
	}
	for _, name := range cfg.BuiltinKeywords {
		kw := pv.BuiltInKeyword(name)
		if !kw.IsValid() {
			return nil, fmt.Errorf("porcupine: unknown built-in keyword %q", name)
		}
		h.BuiltInKeywords = append(h.BuiltInKeywords, kw)
	}
	h.Sensitivities = make([]float32, cfg.Keywords())
	for i := range h.Sensitivities {
		h.Sensitivities[i] = cfg.Sensitivity
	}

	if err := h.Init(); err != nil {
		return nil, fmt.Errorf("porcupine: init: %w", err)
	}
	return &Scorer{handle: h}, nil
}

// Process implements [wake.Scorer].
func (s *Scorer) Process(pcm []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wake.NotDetected, wake.ErrClosed
	}
	idx, err := s.handle.Process(pcm)
	if err != nil {
		return wake.NotDetected, fmt.Errorf("porcupine: process: %w", err)
	}
	return idx, nil
}

// FrameLength implements [wake.Scorer].
func (s *Scorer) FrameLength() int { return pv.FrameLength }

// SampleRate implements [wake.Scorer].
func (s *Scorer) SampleRate() int { return pv.SampleRate }

// Close implements [wake.Scorer].
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Delete()
}
