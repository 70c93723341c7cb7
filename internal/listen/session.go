package listen

import "github.com/MrWong99/earshot/pkg/audio"

// Mode is the state of the listen-record cycle.
type Mode int

const (
	// Listening scans frames for the wake phrase. It is the initial mode.
	Listening Mode = iota
	// Recording buffers frames until the endpoint detector reports silence.
	Recording
)

// String returns "listening" or "recording".
func (m Mode) String() string {
	if m == Recording {
		return "recording"
	}
	return "listening"
}

// Session is the mutable state of one listen-record cycle. Exactly one
// Session lives for the whole process; it is reset in place after every
// segment so the frame buffer keeps its capacity.
//
// Invariant: frames is empty whenever mode is Listening.
type Session struct {
	mode       Mode
	frames     []audio.Frame
	silenceRun int
}

// Mode returns the current mode.
func (s *Session) Mode() Mode { return s.mode }

// Len returns the number of buffered speech frames.
func (s *Session) Len() int { return len(s.frames) }

// SilenceRun returns the number of consecutive SILENCE frames observed.
func (s *Session) SilenceRun() int { return s.silenceRun }

func (s *Session) record() {
	s.mode = Recording
	s.frames = s.frames[:0]
	s.silenceRun = 0
}

func (s *Session) reset() {
	clear(s.frames)
	s.frames = s.frames[:0]
	s.silenceRun = 0
	s.mode = Listening
}
