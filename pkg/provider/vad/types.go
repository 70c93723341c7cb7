package vad

// VADEvent is the classification of a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the engine's speech score (0.0–1.0).
	Probability float64
}

// IsSpeech reports whether the frame was classified as speech.
func (e VADEvent) IsSpeech() bool { return e.Type == VADSpeech }

// VADEventType enumerates frame classifications.
type VADEventType int

const (
	// VADSilence indicates no speech in the frame.
	VADSilence VADEventType = iota

	// VADSpeech indicates speech in the frame.
	VADSpeech
)

// String returns "SPEECH" or "SILENCE".
func (t VADEventType) String() string {
	if t == VADSpeech {
		return "SPEECH"
	}
	return "SILENCE"
}
