// Package app wires all earshot subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New connects the providers to the
// listening state machine and the downstream pipeline, Run supervises
// capture, the processing loop, the pipeline, the HTTP server and the config
// watcher, and Shutdown releases everything in order.
//
// For testing, inject doubles via functional options (WithFS, WithListener,
// etc.) and mock providers in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/pipeline"
	"github.com/MrWong99/earshot/internal/timer"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/wake"
	"github.com/MrWong99/earshot/pkg/types"
)

// announceTimeout bounds speaking a timer announcement.
const announceTimeout = 30 * time.Second

// errInputEnded stops the run group when a finite capture source is exhausted.
var errInputEnded = errors.New("app: capture input ended")

// Providers holds one value per collaborator. TTS and Playback may be nil
// for a text-only assistant. Populated by main.go via the config registry.
type Providers struct {
	Wake     wake.Scorer
	VAD      vad.Engine
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Capture  audio.Source
	Playback audio.Sink

	// Names label provider metrics. Empty names are reported as "default".
	STTName, LLMName, TTSName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	fs       afero.Fs
	metrics  *observe.Metrics
	metricsH http.Handler
	level    *slog.LevelVar
	watcher  *config.Watcher
	listener net.Listener

	format    audio.Format
	hub       *events.Hub
	segmenter *audio.Segmenter
	machine   *listen.Machine
	pipeline  *pipeline.Pipeline
	timers    *timer.Scheduler
	server    *http.Server

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithFS sets the filesystem segments are written to. Default: the OS filesystem.
func WithFS(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher runs w alongside the other subsystems. The watcher's callback
// should call [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves HTTP on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires the providers into the listening state machine and pipeline.
// Provider Close methods are registered as closers; the caller must call
// Shutdown even when Run was never started.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		fs:        afero.NewOsFs(),
		format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitDepth:   cfg.Audio.BitDepth,
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := a.checkProviders(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, providers.Capture.Close, providers.Wake.Close)
	if providers.Playback != nil {
		a.closers = append(a.closers, providers.Playback.Close)
	}

	a.hub = events.NewHub()

	// ── 1. Timer tool ───────────────────────────────────────────────────
	a.timers = timer.New(a.announce, timer.WithMaxDuration(cfg.Assistant.MaxTimer))
	a.closers = append(a.closers, func() error { a.timers.Stop(); return nil })

	// ── 2. Downstream pipeline ──────────────────────────────────────────
	p, err := pipeline.New(pipeline.Config{
		STT:           providers.STT,
		LLM:           providers.LLM,
		TTS:           providers.TTS,
		Sink:          providers.Playback,
		STTName:       providers.STTName,
		LLMName:       providers.LLMName,
		TTSName:       providers.TTSName,
		Voice:         types.VoiceProfile{ID: cfg.Assistant.Voice, Provider: providers.TTSName},
		Language:      cfg.Assistant.Language,
		WakePhrase:    cfg.Wake.Phrase,
		Vocabulary:    cfg.Assistant.Vocabulary,
		SystemPrompt:  cfg.Assistant.SystemPrompt,
		Tools:         []pipeline.Tool{a.timers},
		QueueSize:     cfg.Pipeline.QueueSize,
		Workers:       cfg.Pipeline.Workers,
		MaxToolRounds: cfg.Assistant.MaxToolRounds,
		Metrics:       a.metrics,
		Publisher:     a.hub,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipeline = p

	// ── 3. Listening state machine ──────────────────────────────────────
	frameLength := providers.Wake.FrameLength()
	a.segmenter, err = audio.NewSegmenter(frameLength)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	session, err := providers.VAD.NewSession(vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameLength:      frameLength,
		SpeechThreshold:  cfg.Endpoint.SpeechThreshold,
		SilenceThreshold: cfg.Endpoint.SilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create vad session: %w", err)
	}
	a.closers = append(a.closers, session.Close)

	scanner := listen.NewWakeScanner(providers.Wake, listen.WithScannerMetrics(a.metrics))
	detector := listen.NewEndpointDetector(session,
		listen.WithSilenceDebounce(cfg.Endpoint.SilenceDebounceFrames),
		listen.WithMaxRecordingFrames(cfg.Endpoint.MaxRecordingFrames),
		listen.WithDetectorMetrics(a.metrics),
	)
	finalizer := listen.NewFinalizer(a.format, a.pipeline, listen.WithFS(a.fs, cfg.Audio.SegmentDir))
	a.machine = listen.NewMachine(scanner, detector, finalizer,
		listen.WithPublisher(a.hub),
		listen.WithMetrics(a.metrics),
	)

	// ── 4. HTTP ─────────────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app wired",
		"frame_length", frameLength,
		"sample_rate", a.format.SampleRate,
		"wake_phrase", cfg.Wake.Phrase,
		"silence_debounce", detector.SilenceDebounce(),
		"max_recording_frames", detector.MaxRecordingFrames(),
	)
	return a, nil
}

func (a *App) checkProviders() error {
	p := a.providers
	var errs []error
	if p.Wake == nil {
		errs = append(errs, errors.New("app: wake scorer is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("app: VAD engine is required"))
	}
	if p.Capture == nil {
		errs = append(errs, errors.New("app: capture source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if got := p.Wake.SampleRate(); got != a.format.SampleRate {
		return fmt.Errorf("app: wake scorer expects %d Hz but audio.sample_rate is %d", got, a.format.SampleRate)
	}
	if got := p.Capture.Format(); got != a.format {
		return fmt.Errorf("app: capture delivers %+v, want %+v", got, a.format)
	}
	return nil
}

// Handler returns the HTTP routes: /healthz, /readyz, /metrics and /events.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	h := health.New(health.Checker{
		Name:  "capture",
		Check: func(context.Context) error { return a.providers.Capture.Err() },
	}).WithStatus(a.status)
	h.Register(mux)
	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	mux.Handle("GET /events", a.hub)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) status() map[string]any {
	s := a.machine.Snapshot()
	return map[string]any{
		"mode":          s.Mode.String(),
		"frames":        s.Frames,
		"silence_run":   s.SilenceRun,
		"segments":      s.Segments,
		"dropped":       s.Dropped,
		"timers":        len(a.timers.Active()),
		"subscribers":   a.hub.Subscribers(),
		"events_missed": a.hub.Dropped(),
	}
}

// Machine returns the listening state machine.
func (a *App) Machine() *listen.Machine { return a.machine }

// Events returns the event hub.
func (a *App) Events() *events.Hub { return a.hub }

// Pipeline returns the downstream pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run blocks until ctx is cancelled, a subsystem fails, or a finite capture
// source is exhausted. In the last case queued segments are processed before
// Run returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	chunks, err := a.providers.Capture.Stream(gctx)
	if err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	queued := listen.Queue(gctx, chunks, a.cfg.Audio.QueueDepth)

	// The pipeline outlives the group context so that it can finish queued
	// segments after the input ends.
	pctx, stopPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPipeline()
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- a.pipeline.Run(pctx) }()

	g.Go(func() error {
		if err := a.machine.Run(gctx, a.segmenter, queued); err != nil {
			return err
		}
		if err := a.providers.Capture.Err(); err != nil {
			return fmt.Errorf("app: capture: %w", err)
		}
		slog.Info("capture input ended; waiting for pending segments")
		a.pipeline.Wait()
		return errInputEnded
	})

	g.Go(func() error { return a.serve(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	err = g.Wait()

	stopPipeline()
	if perr := <-pipelineDone; perr != nil {
		err = errors.Join(err, perr)
	}
	if errors.Is(err, errInputEnded) {
		return nil
	}
	return err
}

func (a *App) serve(ctx context.Context) error {
	l := a.listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(l, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(l)
		}
		errc <- err
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		<-errc
		return nil
	}
}

// announce speaks and publishes an expired timer.
func (a *App) announce(t timer.Timer) {
	text := timer.Announcement(t)
	slog.Info("timer expired", "timer_id", t.ID, "label", t.Label, "duration", t.Duration)
	a.hub.Publish(events.Event{Type: events.TypeTimer, Text: text})

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := a.pipeline.Speak(ctx, text); err != nil {
		slog.Warn("timer announcement failed", "timer_id", t.ID, "err", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new. Other
// changes are logged and take effect on restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	detector := a.machine.Detector()
	if d.SilenceDebounceChanged {
		detector.SetSilenceDebounce(d.NewSilenceDebounce)
		slog.Info("silence debounce changed", "frames", detector.SilenceDebounce())
	}
	if d.MaxRecordingFramesChanged {
		detector.SetMaxRecordingFrames(d.NewMaxRecordingFrames)
		slog.Info("max recording frames changed", "frames", detector.MaxRecordingFrames())
	}
	if d.SystemPromptChanged {
		a.pipeline.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("system prompt changed")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// LevelFor maps a config log level to a slog level.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
