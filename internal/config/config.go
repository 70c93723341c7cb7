// Package config provides the configuration schema, loader, provider registry
// and file watcher for the earshot assistant.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr            = ":8080"
	DefaultSampleRate            = 16000
	DefaultChannels              = 1
	DefaultBitDepth              = 16
	DefaultQueueDepth            = 64
	DefaultSilenceDebounceFrames = 1
	DefaultPipelineQueue         = 4
	DefaultPipelineWorkers       = 1
	DefaultMaxToolRounds         = 2
	DefaultSensitivity           = 0.5
	DefaultMaxTimer              = 24 * time.Hour
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Providers ProvidersConfig `yaml:"providers"`
	Assistant AssistantConfig `yaml:"assistant"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz, /metrics and
	// /events (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig describes the captured PCM stream. Only mono 16-bit PCM is
// supported; the frame length comes from the wake scorer.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`

	// QueueDepth bounds the chunks buffered between capture and the
	// processing loop.
	QueueDepth int `yaml:"queue_depth"`

	// SegmentDir is where finalized segments are written as WAV files before
	// transcription. Empty means the OS temp directory.
	SegmentDir string `yaml:"segment_dir"`
}

// WakeConfig selects the keyword models the wake scorer loads.
type WakeConfig struct {
	// Phrase is the spoken wake phrase, used to trim its echo from
	// transcripts. Defaults to the first builtin keyword.
	Phrase string `yaml:"phrase"`

	// Keywords lists keywords bundled with the engine (e.g., "jarvis").
	Keywords []string `yaml:"keywords"`

	// KeywordPaths lists custom keyword model files.
	KeywordPaths []string `yaml:"keyword_paths"`

	// Sensitivity in [0.0, 1.0].
	Sensitivity float32 `yaml:"sensitivity"`
}

// EndpointConfig tunes end-of-utterance detection.
type EndpointConfig struct {
	// SpeechThreshold and SilenceThreshold are passed to the VAD session on
	// the backend's own scale. Zero leaves the choice to the backend.
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDebounceFrames is the number of consecutive silent frames that
	// end a recording. Hot-reloadable.
	SilenceDebounceFrames int `yaml:"silence_debounce_frames"`

	// MaxRecordingFrames force-ends a recording after this many frames.
	// Zero disables the cap. Hot-reloadable.
	MaxRecordingFrames int `yaml:"max_recording_frames"`
}

// ProvidersConfig declares which implementation to use for each collaborator.
// Each entry selects a named factory registered in the [Registry].
type ProvidersConfig struct {
	Wake     ProviderEntry `yaml:"wake"`
	VAD      ProviderEntry `yaml:"vad"`
	STT      ProviderEntry `yaml:"stt"`
	LLM      ProviderEntry `yaml:"llm"`
	TTS      ProviderEntry `yaml:"tts"`
	Capture  ProviderEntry `yaml:"capture"`
	Playback ProviderEntry `yaml:"playback"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "porcupine").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if it needs a key.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider, or a model file for local
	// engines.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Only STT, LLM
	// and TTS entries honour them.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// StringOption returns Options[key] when it is a string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// IntOption returns Options[key] when it is an integer.
func (e ProviderEntry) IntOption(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

// AssistantConfig shapes what happens after a segment is transcribed.
type AssistantConfig struct {
	// SystemPrompt is sent with every reasoning request. Hot-reloadable.
	SystemPrompt string `yaml:"system_prompt"`

	// Language is an ISO-639-1 hint for transcription (e.g., "en").
	Language string `yaml:"language"`

	// Voice is the TTS voice ID.
	Voice string `yaml:"voice"`

	// Vocabulary lists names that misheard words are corrected to.
	Vocabulary []string `yaml:"vocabulary"`

	// MaxToolRounds bounds follow-up model turns after tool calls.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// MaxTimer is the longest timer the set_timer tool accepts.
	MaxTimer time.Duration `yaml:"max_timer"`
}

// PipelineConfig sizes the downstream pipeline.
type PipelineConfig struct {
	QueueSize int `yaml:"queue_size"`
	Workers   int `yaml:"workers"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.Channels, DefaultChannels)
	setDefault(&cfg.Audio.BitDepth, DefaultBitDepth)
	setDefault(&cfg.Audio.QueueDepth, DefaultQueueDepth)

	setDefault(&cfg.Wake.Sensitivity, DefaultSensitivity)
	if cfg.Wake.Phrase == "" && len(cfg.Wake.Keywords) > 0 {
		cfg.Wake.Phrase = cfg.Wake.Keywords[0]
	}

	setDefault(&cfg.Endpoint.SilenceDebounceFrames, DefaultSilenceDebounceFrames)

	setDefault(&cfg.Assistant.MaxToolRounds, DefaultMaxToolRounds)
	setDefault(&cfg.Assistant.MaxTimer, DefaultMaxTimer)

	setDefault(&cfg.Pipeline.QueueSize, DefaultPipelineQueue)
	setDefault(&cfg.Pipeline.Workers, DefaultPipelineWorkers)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
