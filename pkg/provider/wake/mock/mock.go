// Package mock provides a scripted [wake.Scorer] for tests.
//
// Results are consumed one per Process call in order; once the script is
// exhausted every call returns Default (wake.NotDetected unless set).
//
//	s := mock.NewScorer(-1, -1, 0)
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// Result is one scripted Process outcome.
type Result struct {
	Index int
	Err   error
}

// Scorer is a mock implementation of [wake.Scorer].
type Scorer struct {
	mu sync.Mutex

	// Results are returned in order by Process.
	Results []Result

	// Default is returned once Results is exhausted. The zero value means
	// keyword 0 was detected, so NewScorer sets it to wake.NotDetected.
	Default Result

	// Frame is the value returned by FrameLength.
	Frame int

	// Rate is the value returned by SampleRate.
	Rate int

	// ProcessCalls records a copy of every frame passed to Process.
	ProcessCalls [][]int16

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewScorer returns a Scorer for 512-sample frames at 16 kHz that plays
// indices in order and then reports no detection.
func NewScorer(indices ...int) *Scorer {
	s := &Scorer{Default: Result{Index: wake.NotDetected}, Frame: 512, Rate: 16000}
	for _, i := range indices {
		s.Results = append(s.Results, Result{Index: i})
	}
	return s
}

// Process records the frame and returns the next scripted result.
func (s *Scorer) Process(pcm []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessCalls = append(s.ProcessCalls, append([]int16(nil), pcm...))
	r := s.Default
	if len(s.Results) > 0 {
		r, s.Results = s.Results[0], s.Results[1:]
	}
	return r.Index, r.Err
}

// FrameLength implements [wake.Scorer].
func (s *Scorer) FrameLength() int { return s.Frame }

// SampleRate implements [wake.Scorer].
func (s *Scorer) SampleRate() int { return s.Rate }

// Close implements [wake.Scorer].
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Calls returns the number of Process calls so far.
func (s *Scorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ProcessCalls)
}

var _ wake.Scorer = (*Scorer)(nil)
