// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup; each Transcribe call creates its
// own context, so calls may run concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of inference threads. Zero keeps the
// whisper.cpp default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe runs inference on the segment's samples. The segment must be at
// the model's 16 kHz rate; multi-channel audio is mixed down.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if req.Segment == nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", stt.ErrNoSegment)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	if rate := req.Segment.Format.SampleRate; rate != whisperlib.SampleRate {
		return stt.Transcript{}, fmt.Errorf("whisper: segment is %d Hz, model needs %d Hz", rate, whisperlib.SampleRate)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	start := time.Now()
	text, err := p.infer(req.Segment, lang, req.Prompt)
	if err != nil {
		return stt.Transcript{}, err
	}
	return stt.Transcript{
		Text:     text,
		Language: lang,
		Audio:    req.Segment.Duration(),
		Latency:  time.Since(start),
	}, nil
}

// infer runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) infer(seg *audio.Segment, language, prompt string) (string, error) {
	samples := pcmToFloat32Mono(seg.PCM, seg.Format.Channels)

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" && !isAnnotation(text) {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// isAnnotation reports whether text is a non-speech marker such as
// "[BLANK_AUDIO]" or "(wind blowing)".
func isAnnotation(text string) bool {
	return (strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) ||
		(strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")"))
}

// pcmToFloat32Mono down-mixes 16-bit PCM to mono float32 samples normalized to
// [-1.0, 1.0] by averaging all channels per frame.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	samples := audio.BytesToInt16(pcm)
	channels = max(channels, 1)
	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := range channels {
			sum += float32(samples[i*channels+ch]) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
