// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1")}}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/types"
)

// SynthesizeStreamCall records a single completed SynthesizeStream call.
type SynthesizeStreamCall struct {
	// Text is every fragment received on the text channel, joined.
	Text string

	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider. SynthesizeStream drains
// the text channel before emitting SynthesizeChunks.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the audio channel after text closes.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned by SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// FormatResult is returned by Format. Defaults to audio.DefaultFormat.
	FormatResult audio.Format

	// SynthesizeStreamCalls records completed SynthesizeStream calls.
	SynthesizeStreamCalls []SynthesizeStreamCall
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	err, chunks := p.SynthesizeErr, p.SynthesizeChunks
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		var sb strings.Builder
		for frag := range text {
			sb.WriteString(frag)
		}
		p.mu.Lock()
		p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Text: sb.String(), Voice: voice})
		p.mu.Unlock()
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

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FormatResult == (audio.Format{}) {
		return audio.DefaultFormat
	}
	return p.FormatResult
}

// Calls returns a copy of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeStreamCall(nil), p.SynthesizeStreamCalls...)
}

var _ tts.Provider = (*Provider)(nil)
