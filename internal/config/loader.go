package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"wake":     {"porcupine"},
	"vad":      {"energy", "flux"},
	"stt":      {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":      {"openai", "elevenlabs"},
	"capture":  {"microphone", "file"},
	"playback": {"speaker"},
}

// LoadEnv loads KEY=value pairs from the given dotenv files into the process
// environment. Variables already set are not overridden and missing files
// are skipped, so a bare deployment that sets everything in the environment
// needs no dotenv file.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references in r against the environment,
// decodes the YAML, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [ApplyDefaults]. It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is unsupported; only mono capture is supported", cfg.Audio.Channels))
	}
	if cfg.Audio.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("audio.bit_depth %d is unsupported; only 16-bit PCM is supported", cfg.Audio.BitDepth))
	}
	if cfg.Audio.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_depth %d must be positive", cfg.Audio.QueueDepth))
	}

	// Wake
	if len(cfg.Wake.Keywords)+len(cfg.Wake.KeywordPaths) == 0 {
		errs = append(errs, errors.New("wake: at least one of keywords or keyword_paths is required"))
	}
	if cfg.Wake.Sensitivity < 0 || cfg.Wake.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wake.sensitivity %.2f is out of range [0, 1]", cfg.Wake.Sensitivity))
	}

	// Endpoint
	ep := cfg.Endpoint
	if ep.SpeechThreshold < 0 || ep.SpeechThreshold > 1 || ep.SilenceThreshold < 0 || ep.SilenceThreshold > 1 {
		errs = append(errs, errors.New("endpoint thresholds must be within [0, 1]"))
	}
	if ep.SpeechThreshold > 0 && ep.SilenceThreshold > ep.SpeechThreshold {
		errs = append(errs, fmt.Errorf("endpoint.silence_threshold %.2f exceeds speech_threshold %.2f", ep.SilenceThreshold, ep.SpeechThreshold))
	}
	if ep.SilenceDebounceFrames < 1 {
		errs = append(errs, fmt.Errorf("endpoint.silence_debounce_frames %d must be at least 1", ep.SilenceDebounceFrames))
	}
	if ep.MaxRecordingFrames < 0 {
		errs = append(errs, fmt.Errorf("endpoint.max_recording_frames %d must not be negative", ep.MaxRecordingFrames))
	}

	// Providers
	required := []struct {
		kind  string
		entry ProviderEntry
	}{
		{"wake", cfg.Providers.Wake},
		{"vad", cfg.Providers.VAD},
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"capture", cfg.Providers.Capture},
	}
	for _, r := range required {
		if r.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", r.kind))
		}
	}
	validateProviderName("wake", cfg.Providers.Wake)
	validateProviderName("vad", cfg.Providers.VAD)
	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("llm", cfg.Providers.LLM)
	validateProviderName("tts", cfg.Providers.TTS)
	validateProviderName("capture", cfg.Providers.Capture)
	validateProviderName("playback", cfg.Providers.Playback)

	for _, kind := range []string{"wake", "vad", "capture", "playback"} {
		if len(entryFor(cfg, kind).Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks is not supported", kind))
		}
	}

	// TTS ↔ playback cross-validation
	if cfg.Providers.TTS.Name != "" && cfg.Providers.Playback.Name == "" {
		slog.Warn("providers.tts is configured without providers.playback; responses will not be spoken")
	}
	if cfg.Providers.Playback.Name != "" && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.playback requires providers.tts"))
	}

	// Assistant
	if cfg.Assistant.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tool_rounds %d must not be negative", cfg.Assistant.MaxToolRounds))
	}
	if cfg.Assistant.MaxTimer < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_timer %s must not be negative", cfg.Assistant.MaxTimer))
	}
	if cfg.Wake.Phrase == "" {
		slog.Warn("wake.phrase is empty; the wake phrase will not be trimmed from transcripts")
	}

	// Pipeline
	if cfg.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must be positive", cfg.Pipeline.QueueSize))
	}
	if cfg.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be positive", cfg.Pipeline.Workers))
	}

	return errors.Join(errs...)
}

func entryFor(cfg *Config, kind string) ProviderEntry {
	switch kind {
	case "wake":
		return cfg.Providers.Wake
	case "vad":
		return cfg.Providers.VAD
	case "capture":
		return cfg.Providers.Capture
	case "playback":
		return cfg.Providers.Playback
	}
	return ProviderEntry{}
}

// validateProviderName logs a warning if the entry or one of its fallbacks
// names a provider not in [ValidProviderNames] for the given kind.
func validateProviderName(kind string, entry ProviderEntry) {
	for _, e := range append([]ProviderEntry{entry}, entry.Fallbacks...) {
		if e.Name == "" || slices.Contains(ValidProviderNames[kind], e.Name) {
			continue
		}
		slog.Warn("unknown provider name; may be a typo or third-party provider",
			"kind", kind,
			"name", e.Name,
			"known", ValidProviderNames[kind],
		)
	}
}
