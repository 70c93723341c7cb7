// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script classifications and inspect the frames that were
// submitted for processing.
//
// Example:
//
//	sess := mock.NewSession(mock.Speech, mock.Speech, mock.Silence)
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Scripted results for NewSession.
var (
	Speech  = Step{Event: vad.VADEvent{Type: vad.VADSpeech, Probability: 0.9}}
	Silence = Step{Event: vad.VADEvent{Type: vad.VADSilence, Probability: 0.1}}
)

// Fail returns a Step that makes ProcessFrame return err.
func Fail(err error) Step { return Step{Err: err} }

// Step is one scripted ProcessFrame outcome.
type Step struct {
	Event vad.VADEvent
	Err   error
}

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script is consumed one step per ProcessFrame call.
	Script []Step

	// EventResult is returned once Script is exhausted.
	EventResult vad.VADEvent

	// ProcessFrameErr is returned with EventResult once Script is exhausted.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session playing steps in order, then reporting silence.
func NewSession(steps ...Step) *Session {
	return &Session{Script: steps, EventResult: Silence.Event}
}

// Push appends steps to the script.
func (s *Session) Push(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Script = append(s.Script, steps...)
}

// ProcessFrame records the call and returns the next scripted step.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	if len(s.Script) > 0 {
		step := s.Script[0]
		s.Script = s.Script[1:]
		return step.Event, step.Err
	}
	return s.EventResult, s.ProcessFrameErr
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns the number of ProcessFrame calls so far.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
