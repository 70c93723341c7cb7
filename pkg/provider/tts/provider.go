// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The primary entry point is SynthesizeStream, which accepts a channel of text
// fragments and returns a channel of raw PCM audio as it becomes available, so
// a streaming LLM response can be spoken sentence by sentence while the rest
// is still being generated.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a channel
	// that emits raw PCM in the provider's Format as it is synthesised.
	//
	// The returned audio channel is closed when all text has been synthesised,
	// when synthesis fails, or when ctx is cancelled. The caller must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// Format is the layout of the PCM emitted by SynthesizeStream.
	Format() audio.Format
}

// Sentences regroups streamed text fragments into complete sentences. The
// returned channel is closed after text is closed and the trailing partial
// sentence, if any, has been emitted, or when ctx is cancelled.
func Sentences(ctx context.Context, text <-chan string) <-chan string {
	out := make(chan string, 4)
	go func() {
		defer close(out)
		var buf strings.Builder
		emit := func(s string) bool {
			if s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					emit(strings.TrimSpace(buf.String()))
					return
				}
				buf.WriteString(fragment)
				for {
					s := buf.String()
					idx := findSentenceBoundary(s)
					if idx < 0 {
						break
					}
					buf.Reset()
					buf.WriteString(s[idx+1:])
					if !emit(strings.TrimSpace(s[:idx+1])) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is immediately followed by whitespace. Returns -1 if no
// boundary is found. A terminator at the very end of s is not a boundary yet,
// because the next fragment may continue it ("3." then "14").
func findSentenceBoundary(s string) int {
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
