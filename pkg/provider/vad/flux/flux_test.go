package flux_test

import (
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/flux"
)

const frameLength = 512

func sine(freq, amplitude float64, offset int) []byte {
	buf := make([]byte, frameLength*2)
	for i := range frameLength {
		v := int16(amplitude * math.Sin(2*math.Pi*freq*float64(i+offset)/16000))
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(uint16(v) >> 8)
	}
	return buf
}

func TestSession_OnsetAndSilence(t *testing.T) {
	t.Parallel()

	s, err := flux.New().NewSession(vad.Config{SampleRate: 16000, FrameLength: frameLength})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	silence := make([]byte, frameLength*2)
	for i := range 3 {
		ev, err := s.ProcessFrame(silence)
		if err != nil {
			t.Fatalf("silence %d: %v", i, err)
		}
		if ev.IsSpeech() {
			t.Fatalf("silence frame %d classified as speech", i)
		}
	}

	ev, err := s.ProcessFrame(sine(300, 12000, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !ev.IsSpeech() {
		t.Errorf("onset classified as %v (p=%.3f)", ev.Type, ev.Probability)
	}

	ev, _ = s.ProcessFrame(silence)
	if ev.IsSpeech() {
		t.Error("digital silence after speech must be silence")
	}
}

func TestSession_ResetForgetsOnset(t *testing.T) {
	t.Parallel()

	s, _ := flux.New(flux.WithRatio(2)).NewSession(vad.Config{SampleRate: 16000, FrameLength: frameLength})
	_, _ = s.ProcessFrame(make([]byte, frameLength*2))
	_, _ = s.ProcessFrame(sine(300, 12000, 0))
	s.Reset()

	// The first frame after Reset has no previous spectrum, so it cannot be
	// an onset.
	ev, _ := s.ProcessFrame(sine(300, 12000, frameLength))
	if ev.IsSpeech() {
		t.Error("first frame after Reset classified as speech")
	}
}
