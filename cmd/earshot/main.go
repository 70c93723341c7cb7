// Command earshot is a wake-word voice assistant: it listens to a microphone
// (or a recorded file), records what follows the wake phrase and answers it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/afero"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/device"
	"github.com/MrWong99/earshot/pkg/audio/filesource"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/earshot/pkg/provider/llm/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/earshot/pkg/provider/tts/openai"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/flux"
	"github.com/MrWong99/earshot/pkg/provider/wake"
	"github.com/MrWong99/earshot/pkg/provider/wake/porcupine"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config is expanded")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.Reload(old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found; copy configs/earshot.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(app.LevelFor(cfg.Server.LogLevel))

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "earshot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err = app.New(cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.Handler),
		app.WithLevelVar(level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeProviders(providers)
		return 1
	}

	slog.Info("listening for the wake phrase; press Ctrl+C to shut down", "phrase", cfg.Wake.Phrase)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are reasoning providers served through any-llm. "openai"
// uses the dedicated client instead.
var anyllmBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Wake ──────────────────────────────────────────────────────────────────
	reg.RegisterWake("porcupine", func(entry config.ProviderEntry, wc config.WakeConfig) (wake.Scorer, error) {
		return porcupine.New(wake.Config{
			AccessKey:       entry.APIKey,
			ModelPath:       entry.Model,
			BuiltinKeywords: wc.Keywords,
			KeywordPaths:    wc.KeywordPaths,
			Sensitivity:     wc.Sensitivity,
		})
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
	reg.RegisterVAD("flux", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []flux.Option
		if r, ok := entry.Options["ratio"].(float64); ok {
			opts = append(opts, flux.WithRatio(r))
		}
		return flux.New(opts...), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	lang := cfg.Assistant.Language
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if p, ok := entry.StringOption("model_path"); ok && modelPath == "" {
			modelPath = p
		}
		var opts []whisper.NativeOption
		if lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n, ok := entry.IntOption("threads"); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})
	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithModel(entry.Model),
			deepgram.WithLanguage(lang),
			deepgram.WithBaseURL(entry.BaseURL),
			deepgram.WithKeyterms(cfg.Assistant.Vocabulary...),
		}
		if cfg.Wake.Phrase != "" {
			opts = append(opts, deepgram.WithKeyterms(cfg.Wake.Phrase))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.StringOption("organization"); ok {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if n, ok := entry.IntOption("max_tokens"); ok {
			opts = append(opts, oallm.WithMaxTokens(n))
		}
		if n, ok := entry.IntOption("max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range anyllmBackends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{
			elevenlabs.WithModel(entry.Model),
			elevenlabs.WithVoice(cfg.Assistant.Voice),
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if f, ok := entry.StringOption("output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Capture / playback ────────────────────────────────────────────────────
	queueDepth := cfg.Audio.QueueDepth
	reg.RegisterCapture("microphone", func(entry config.ProviderEntry, f audio.Format) (audio.Source, error) {
		opts := []device.Option{device.WithQueueDepth(queueDepth)}
		if n, ok := entry.IntOption("frames_per_buffer"); ok {
			opts = append(opts, device.WithFramesPerBuffer(n))
		}
		return device.NewMicrophone(f.SampleRate, opts...)
	})
	reg.RegisterCapture("file", func(entry config.ProviderEntry, f audio.Format) (audio.Source, error) {
		path, ok := entry.StringOption("path")
		if !ok || path == "" {
			return nil, errors.New("capture file: options.path is required")
		}
		realtime, _ := entry.Options["realtime"].(bool)
		return filesource.New(afero.NewOsFs(), path, f, filesource.WithRealtime(realtime)), nil
	})
	reg.RegisterPlayback("speaker", func(entry config.ProviderEntry) (audio.Sink, error) {
		var opts []device.Option
		if n, ok := entry.IntOption("frames_per_buffer"); ok {
			opts = append(opts, device.WithFramesPerBuffer(n))
		}
		return device.NewSpeaker(opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider named in cfg. STT, LLM and TTS
// entries with fallbacks are wrapped in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	ps := &app.Providers{
		STTName: cfg.Providers.STT.Name,
		LLMName: cfg.Providers.LLM.Name,
		TTSName: cfg.Providers.TTS.Name,
	}
	defer func() {
		if err != nil {
			closeProviders(ps)
		}
	}()

	if ps.Wake, err = reg.CreateWake(cfg.Providers.Wake, cfg.Wake); err != nil {
		return nil, fmt.Errorf("create wake scorer %q: %w", cfg.Providers.Wake.Name, err)
	}
	if ps.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
		return nil, fmt.Errorf("create vad %q: %w", cfg.Providers.VAD.Name, err)
	}
	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels, BitDepth: cfg.Audio.BitDepth}
	if ps.Capture, err = reg.CreateCapture(cfg.Providers.Capture, format); err != nil {
		return nil, fmt.Errorf("create capture %q: %w", cfg.Providers.Capture.Name, err)
	}

	fallback := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
	}}

	if ps.STT, err = withFallbacks(cfg.Providers.STT, reg.CreateSTT, func(p stt.Provider) fallbackAdder[stt.Provider] {
		return resilience.NewSTTFallback(p, cfg.Providers.STT.Name, fallback)
	}); err != nil {
		return nil, err
	}
	if ps.LLM, err = withFallbacks(cfg.Providers.LLM, reg.CreateLLM, func(p llm.Provider) fallbackAdder[llm.Provider] {
		return resilience.NewLLMFallback(p, cfg.Providers.LLM.Name, fallback)
	}); err != nil {
		return nil, err
	}
	if cfg.Providers.TTS.Name != "" {
		if ps.TTS, err = withFallbacks(cfg.Providers.TTS, reg.CreateTTS, func(p tts.Provider) fallbackAdder[tts.Provider] {
			return resilience.NewTTSFallback(p, cfg.Providers.TTS.Name, fallback)
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Providers.Playback.Name != "" {
		if ps.Playback, err = reg.CreatePlayback(cfg.Providers.Playback); err != nil {
			return nil, fmt.Errorf("create playback %q: %w", cfg.Providers.Playback.Name, err)
		}
	}
	return ps, nil
}

// fallbackAdder is a provider fallback group that accepts further entries.
type fallbackAdder[T any] interface {
	AddFallback(name string, provider T)
}

// withFallbacks creates the provider for entry and, when it lists fallbacks,
// wraps all of them in the group returned by wrap.
func withFallbacks[T any](entry config.ProviderEntry, create func(config.ProviderEntry) (T, error), wrap func(T) fallbackAdder[T]) (T, error) {
	var zero T
	primary, err := create(entry)
	if err != nil {
		return zero, fmt.Errorf("create provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "name", entry.Name, "model", entry.Model)
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	group := wrap(primary)
	for _, fb := range entry.Fallbacks {
		p, err := create(fb)
		if err != nil {
			return zero, fmt.Errorf("create fallback provider %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
		slog.Info("fallback provider created", "primary", entry.Name, "name", fb.Name)
	}
	return group.(T), nil
}

func closeProviders(ps *app.Providers) {
	if ps == nil {
		return
	}
	if ps.Wake != nil {
		_ = ps.Wake.Close()
	}
	if ps.Capture != nil {
		_ = ps.Capture.Close()
	}
	if ps.Playback != nil {
		_ = ps.Playback.Close()
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Wake", cfg.Providers.Wake.Name, cfg.Wake.Phrase)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Capture", cfg.Providers.Capture.Name, "")
	printProvider("Playback", cfg.Providers.Playback.Name, "")
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Audio.SampleRate)
	fmt.Printf("║  Silence frames  : %-19d ║\n", cfg.Endpoint.SilenceDebounceFrames)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
