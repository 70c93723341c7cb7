// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Chunks: [][]byte{pcm[:100], pcm[100:]}}
//	ch, _ := src.Stream(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Stream emits Chunks in
// order and then closes the channel.
type Source struct {
	mu sync.Mutex

	// Chunks are delivered by Stream in order.
	Chunks [][]byte

	// FormatResult is returned by Format. Defaults to [audio.DefaultFormat].
	FormatResult audio.Format

	// StreamErr, if non-nil, is returned by Stream.
	StreamErr error

	// ErrResult is returned by Err.
	ErrResult error

	// CloseErr is returned by Close.
	CloseErr error

	// CallCountStream records how many times Stream was called.
	CallCountStream int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Stream implements [audio.Source].
func (s *Source) Stream(ctx context.Context) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStream++
	if s.StreamErr != nil {
		return nil, s.StreamErr
	}
	chunks := s.Chunks
	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult == (audio.Format{}) {
		return audio.DefaultFormat
	}
	return s.FormatResult
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrResult
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

var _ audio.Source = (*Source)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single completed invocation of Sink.Play.
type PlayCall struct {
	// PCM is the concatenation of every chunk received.
	PCM []byte

	// Format is the format argument.
	Format audio.Format
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after draining the channel.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// PlayCalls records every call to Play in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Sink]. It drains pcm and records the audio.
func (s *Sink) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	var buf []byte
loop:
	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				break loop
			}
			buf = append(buf, chunk...)
		case <-ctx.Done():
			go audio.Drain(pcm)
			break loop
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, PlayCall{PCM: buf, Format: format})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.PlayErr
}

// Calls returns a copy of the recorded Play calls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.PlayCalls...)
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseErr
}

var _ audio.Sink = (*Sink)(nil)
