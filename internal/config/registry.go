package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures per provider kind. Wake and capture factories receive
// the settings they cannot work without alongside the entry.
type (
	WakeFactory     func(ProviderEntry, WakeConfig) (wake.Scorer, error)
	VADFactory      func(ProviderEntry) (vad.Engine, error)
	STTFactory      func(ProviderEntry) (stt.Provider, error)
	LLMFactory      func(ProviderEntry) (llm.Provider, error)
	TTSFactory      func(ProviderEntry) (tts.Provider, error)
	CaptureFactory  func(ProviderEntry, audio.Format) (audio.Source, error)
	PlaybackFactory func(ProviderEntry) (audio.Sink, error)
)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	wake     map[string]WakeFactory
	vad      map[string]VADFactory
	stt      map[string]STTFactory
	llm      map[string]LLMFactory
	tts      map[string]TTSFactory
	capture  map[string]CaptureFactory
	playback map[string]PlaybackFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		wake:     make(map[string]WakeFactory),
		vad:      make(map[string]VADFactory),
		stt:      make(map[string]STTFactory),
		llm:      make(map[string]LLMFactory),
		tts:      make(map[string]TTSFactory),
		capture:  make(map[string]CaptureFactory),
		playback: make(map[string]PlaybackFactory),
	}
}

// register stores f under name; later registrations overwrite earlier ones.
func register[F any](r *Registry, m map[string]F, name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func lookup[F any](r *Registry, m map[string]F, kind, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := m[name]
	if !ok {
		return f, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return f, nil
}

func (r *Registry) RegisterWake(name string, f WakeFactory)         { register(r, r.wake, name, f) }
func (r *Registry) RegisterVAD(name string, f VADFactory)           { register(r, r.vad, name, f) }
func (r *Registry) RegisterSTT(name string, f STTFactory)           { register(r, r.stt, name, f) }
func (r *Registry) RegisterLLM(name string, f LLMFactory)           { register(r, r.llm, name, f) }
func (r *Registry) RegisterTTS(name string, f TTSFactory)           { register(r, r.tts, name, f) }
func (r *Registry) RegisterCapture(name string, f CaptureFactory)   { register(r, r.capture, name, f) }
func (r *Registry) RegisterPlayback(name string, f PlaybackFactory) { register(r, r.playback, name, f) }

// CreateWake instantiates the wake scorer registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateWake(entry ProviderEntry, cfg WakeConfig) (wake.Scorer, error) {
	f, err := lookup(r, r.wake, "wake", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, cfg)
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	f, err := lookup(r, r.vad, "vad", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateCapture instantiates the audio source registered under entry.Name.
// format is the PCM layout the processing loop expects.
func (r *Registry) CreateCapture(entry ProviderEntry, format audio.Format) (audio.Source, error) {
	f, err := lookup(r, r.capture, "capture", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, format)
}

// CreatePlayback instantiates the audio sink registered under entry.Name.
func (r *Registry) CreatePlayback(entry ProviderEntry) (audio.Sink, error) {
	f, err := lookup(r, r.playback, "playback", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}
