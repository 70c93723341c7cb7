package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

const frameLength = 160

// tone returns a frame of a 440 Hz sine with the given peak amplitude.
func tone(amplitude float64) []byte {
	buf := make([]byte, frameLength*2)
	for i := range frameLength {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(uint16(v) >> 8)
	}
	return buf
}

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	s, err := energy.New().NewSession(vad.Config{SampleRate: 16000, FrameLength: frameLength})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSession_Hysteresis(t *testing.T) {
	t.Parallel()

	// RMS of a sine is peak/sqrt2; normalized levels: loud ~0.15, mid ~0.011,
	// quiet 0.
	loud, mid, quiet := tone(7000), tone(500), tone(0)

	steps := []struct {
		frame []byte
		want  vad.VADEventType
	}{
		{quiet, vad.VADSilence},
		{mid, vad.VADSilence}, // below speech threshold, not yet speaking
		{loud, vad.VADSpeech},
		{mid, vad.VADSpeech}, // above silence threshold, keeps speaking
		{quiet, vad.VADSilence},
		{mid, vad.VADSilence},
	}

	s := newSession(t)
	for i, step := range steps {
		ev, err := s.ProcessFrame(step.frame)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != step.want {
			t.Errorf("step %d: got %v, want %v (p=%.3f)", i, ev.Type, step.want, ev.Probability)
		}
	}
}

func TestSession_ResetClearsSpeech(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	if ev, _ := s.ProcessFrame(tone(7000)); !ev.IsSpeech() {
		t.Fatal("expected speech")
	}
	s.Reset()
	if ev, _ := s.ProcessFrame(tone(500)); ev.IsSpeech() {
		t.Error("mid level after Reset should be silence")
	}
}

func TestSession_WrongFrameSize(t *testing.T) {
	t.Parallel()
	_, err := newSession(t).ProcessFrame(make([]byte, 10))
	if !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("err = %v, want ErrFrameSize", err)
	}
}

func TestSession_ClosedErrors(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.ProcessFrame(tone(0)); err == nil {
		t.Error("expected error after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := energy.New().NewSession(vad.Config{
		SampleRate: 16000, FrameLength: frameLength,
		SpeechThreshold: 0.1, SilenceThreshold: 0.2,
	})
	if err == nil {
		t.Error("expected error when silence threshold exceeds speech threshold")
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()
	if got := energy.Level(nil); got != 0 {
		t.Errorf("Level(nil) = %v", got)
	}
	full := []byte{0x00, 0x80, 0x00, 0x80} // two samples of -32768
	if got := energy.Level(full); got != 1 {
		t.Errorf("Level(full scale) = %v, want 1", got)
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                    string
		speech, silence         float64
		wantSpeech, wantSilence float64
	}{
		{"both zero", 0, 0, energy.DefaultSpeechThreshold, energy.DefaultSilenceThreshold},
		{"speech only", 0.005, 0, 0.005, 0.005},
		{"loud speech only", 0.05, 0, 0.05, energy.DefaultSilenceThreshold},
		{"silence only", 0, 0.03, 0.03, 0.03},
		{"both set", 0.2, 0.1, 0.2, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := energy.WithDefaults(vad.Config{SpeechThreshold: tt.speech, SilenceThreshold: tt.silence})
			if got.SpeechThreshold != tt.wantSpeech || got.SilenceThreshold != tt.wantSilence {
				t.Errorf("got %v/%v, want %v/%v", got.SpeechThreshold, got.SilenceThreshold, tt.wantSpeech, tt.wantSilence)
			}
		})
	}
}
