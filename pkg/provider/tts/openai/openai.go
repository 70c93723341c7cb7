// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Speech is requested in the "pcm" response format, which is raw 24 kHz mono
// signed 16-bit little-endian audio, so no decoding is needed before playback.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
	pcmChunkSize = 4096
)

// pcmFormat is the layout of the "pcm" response format.
var pcmFormat = audio.Format{SampleRate: 24000, Channels: 1, BitDepth: 16}

// builtinVoices are the voices accepted by the speech endpoint.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. An empty model selects gpt-4o-mini-tts.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return pcmFormat }

// ListVoices implements tts.Provider. The catalogue is fixed.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	out := make([]types.VoiceProfile, len(builtinVoices))
	for i, v := range builtinVoices {
		out[i] = types.VoiceProfile{ID: v, Name: v, Provider: "openai"}
	}
	return out, nil
}

// SynthesizeStream implements tts.Provider. Text is regrouped into sentences
// and each sentence is synthesised in order; audio of a sentence is forwarded
// while its response body is still downloading.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		voice.ID = defaultVoice
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for sentence := range tts.Sentences(ctx, text) {
			if err := p.speak(ctx, sentence, voice, out); err != nil {
				if ctx.Err() == nil {
					slog.Warn("openai tts: synthesis failed", "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) speak(ctx context.Context, sentence string, voice types.VoiceProfile, out chan<- []byte) error {
	params := oai.AudioSpeechNewParams{
		Input:          sentence,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	// Chunks are even-sized so no sample straddles two sends.
	buf := make([]byte, pcmChunkSize)
	var carry []byte
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			whole := len(data) &^ 1
			chunk := append([]byte(nil), data[:whole]...)
			carry = append([]byte(nil), data[whole:]...)
			if len(chunk) > 0 {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("openai: read speech: %w", rerr)
		}
	}
}
