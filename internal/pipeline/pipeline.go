// Package pipeline runs the downstream work for each finalized segment:
// transcription, wake-echo trimming, reasoning with tool calls, and the
// spoken response.
//
// Segments are queued by [Pipeline.Submit], which never blocks the audio
// loop. A fixed number of workers take jobs off the queue. Each job passes
// through its stages in order; every stage either produces the next stage's
// input or a terminal error that is logged with the segment ID, counted and
// published, never dropped silently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript/phonetic"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	defaultQueueSize     = 4
	defaultWorkers       = 1
	defaultMaxToolRounds = 2
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no room.
	ErrQueueFull = errors.New("pipeline: queue full")

	// ErrClosed is returned by Submit after Run has returned.
	ErrClosed = errors.New("pipeline: closed")
)

// Tool is a function the reasoning step may call. Arguments arrive exactly as
// the model produced them; parsing them is the tool's job.
type Tool interface {
	Definition() types.ToolDefinition
	Call(ctx context.Context, arguments string) (string, error)
}

// Config holds the collaborators and settings of a [Pipeline].
type Config struct {
	// STT transcribes segments. Required.
	STT stt.Provider
	// LLM produces the response. Required.
	LLM llm.Provider
	// TTS and Sink speak the response. When either is nil the pipeline runs
	// text-only and responses are only logged and published.
	TTS  tts.Provider
	Sink audio.Sink

	// Provider names label metrics.
	STTName, LLMName, TTSName string

	Voice types.VoiceProfile
	// Language is passed to the transcriber as a hint.
	Language string
	// WakePhrase is trimmed from the start of transcripts and offered to the
	// transcriber as a prompt.
	WakePhrase string
	// Vocabulary lists terms that misheard words are snapped to.
	Vocabulary   []string
	SystemPrompt string
	Tools        []Tool

	// QueueSize bounds the number of waiting jobs. Default: 4.
	QueueSize int
	// Workers is the number of jobs processed at once. Default: 1, so
	// responses never talk over each other.
	Workers int
	// MaxToolRounds bounds follow-up model turns after tool calls. Default: 2.
	MaxToolRounds int

	Matcher   *phonetic.Matcher
	Metrics   *observe.Metrics
	Publisher events.Publisher
}

// Pipeline implements [listen.Handoff].
type Pipeline struct {
	cfg          Config
	tools        map[string]Tool
	systemPrompt atomic.Pointer[string]

	jobs    chan listen.Job
	pending sync.WaitGroup

	// mu orders Submit against the shutdown drain in Run.
	mu     sync.Mutex
	closed bool
}

var _ listen.Handoff = (*Pipeline)(nil)

// New validates cfg, applies defaults and returns a Pipeline. Call Run to
// start processing.
func New(cfg Config) (*Pipeline, error) {
	var errs []error
	if cfg.STT == nil {
		errs = append(errs, errors.New("pipeline: STT provider is required"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("pipeline: LLM provider is required"))
	}
	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		name := t.Definition().Name
		if _, dup := tools[name]; dup {
			errs = append(errs, fmt.Errorf("pipeline: duplicate tool %q", name))
		}
		tools[name] = t
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	if cfg.Matcher == nil {
		cfg.Matcher = phonetic.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.PublisherFunc(func(events.Event) {})
	}

	p := &Pipeline{
		cfg:   cfg,
		tools: tools,
		jobs:  make(chan listen.Job, cfg.QueueSize),
	}
	p.SetSystemPrompt(cfg.SystemPrompt)
	return p, nil
}

// SetSystemPrompt replaces the system prompt for jobs started afterwards.
func (p *Pipeline) SetSystemPrompt(prompt string) {
	p.systemPrompt.Store(&prompt)
}

// Submit enqueues job without blocking. On error the caller still owns the
// job's WAV file.
func (p *Pipeline) Submit(job listen.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.pending.Add(1)
	select {
	case p.jobs <- job:
		return nil
	default:
		p.pending.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every submitted job has finished.
func (p *Pipeline) Wait() { p.pending.Wait() }

// Run processes jobs until ctx is cancelled. Jobs still queued at that point
// are discarded and their files removed. Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.jobs:
					p.process(ctx, job)
				}
			}
		})
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for {
		select {
		case job := <-p.jobs:
			slog.Info("pipeline: discarding queued segment on shutdown", "segment_id", job.Segment.ID)
			removeWAV(job)
			p.pending.Done()
		default:
			return nil
		}
	}
}

// process runs one job through every stage.
func (p *Pipeline) process(ctx context.Context, job listen.Job) {
	defer p.pending.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := job.Segment.ID
	ctx, span := observe.StartSegmentSpan(ctx, "pipeline.process", id)
	var err error
	defer func() { observe.EndSpan(span, err) }()

	p.cfg.Metrics.PipelineInflight.Add(ctx, 1)
	defer p.cfg.Metrics.PipelineInflight.Add(ctx, -1)

	log := observe.Logger(ctx).With("segment_id", id)

	var text string
	text, err = p.transcribe(ctx, job)
	if err != nil {
		p.fail(ctx, id, "transcribe", err)
		return
	}
	text = p.clean(ctx, text)
	if text == "" {
		log.Info("pipeline: no speech in segment")
		return
	}
	log.Info("pipeline: transcribed", "text", text)
	p.cfg.Publisher.Publish(events.Event{Type: events.TypeTranscript, SegmentID: id, Text: text})

	if err = p.respond(ctx, id, text); err != nil {
		p.fail(ctx, id, "respond", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, segmentID, stage string, err error) {
	observe.Logger(ctx).Error("pipeline: segment failed", "segment_id", segmentID, "stage", stage, "err", err)
	p.cfg.Metrics.RecordSegmentError(ctx, stage)
	p.cfg.Publisher.Publish(events.Event{Type: events.TypeSegmentError, SegmentID: segmentID, Error: fmt.Sprintf("%s: %v", stage, err)})
}

// ─── Stages ───────────────────────────────────────────────────────────────────

// transcribe sends the segment to the transcriber and removes the WAV file
// afterwards, whatever the outcome.
func (p *Pipeline) transcribe(ctx context.Context, job listen.Job) (text string, err error) {
	defer removeWAV(job)

	ctx, span := observe.StartSegmentSpan(ctx, "pipeline.transcribe", job.Segment.ID)
	defer func() { observe.EndSpan(span, err) }()

	req := stt.Request{
		Segment:  job.Segment,
		Language: p.cfg.Language,
		Prompt:   p.cfg.WakePhrase,
	}
	if job.FS != nil && job.WAVPath != "" {
		f, openErr := job.FS.Open(job.WAVPath)
		if openErr != nil {
			observe.Logger(ctx).Warn("pipeline: segment file unavailable, encoding in memory", "path", job.WAVPath, "err", openErr)
		} else {
			defer f.Close()
			req.WAV = f
		}
	}

	start := time.Now()
	tr, err := p.cfg.STT.Transcribe(ctx, req)
	p.cfg.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	p.recordRequest(ctx, p.cfg.STTName, "stt", err)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return tr.Text, nil
}

// clean strips the wake-phrase echo and snaps vocabulary terms.
func (p *Pipeline) clean(ctx context.Context, text string) string {
	if p.cfg.WakePhrase != "" {
		if rest, ok := p.cfg.Matcher.TrimPrefix(text, p.cfg.WakePhrase); ok {
			observe.Logger(ctx).Debug("pipeline: trimmed wake phrase echo", "before", text, "after", rest)
			text = rest
		}
	}
	if len(p.cfg.Vocabulary) > 0 {
		corrected, fixes := p.cfg.Matcher.Correct(text, p.cfg.Vocabulary)
		for _, f := range fixes {
			observe.Logger(ctx).Debug("pipeline: vocabulary correction", "from", f.Original, "to", f.Corrected, "confidence", f.Confidence)
		}
		text = corrected
	}
	return text
}

// respond streams the model's answer to speech and runs requested tools. After
// a round with tool calls the results are sent back for a follow-up turn; the
// last permitted round offers no tools so the model has to answer in words.
func (p *Pipeline) respond(ctx context.Context, segmentID, text string) error {
	messages := []types.Message{{Role: "user", Content: text}}
	defs := make([]types.ToolDefinition, 0, len(p.cfg.Tools))
	for _, t := range p.cfg.Tools {
		defs = append(defs, t.Definition())
	}

	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			SystemPrompt: *p.systemPrompt.Load(),
			Messages:     messages,
		}
		if round < p.cfg.MaxToolRounds {
			req.Tools = defs
		}

		res, err := p.turn(ctx, segmentID, req)
		if err != nil {
			return err
		}
		if res.Text != "" {
			observe.Logger(ctx).Info("pipeline: response", "segment_id", segmentID, "text", res.Text)
			p.cfg.Publisher.Publish(events.Event{Type: events.TypeResponse, SegmentID: segmentID, Text: res.Text})
		}
		if len(res.ToolCalls) == 0 {
			return nil
		}
		if round >= p.cfg.MaxToolRounds {
			observe.Logger(ctx).Warn("pipeline: ignoring tool calls after last round", "segment_id", segmentID, "calls", len(res.ToolCalls))
			return nil
		}

		messages = append(messages, types.Message{Role: "assistant", Content: res.Text, ToolCalls: res.ToolCalls})
		for _, call := range res.ToolCalls {
			messages = append(messages, types.Message{
				Role:       "tool",
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    p.callTool(ctx, segmentID, call),
			})
		}
	}
}

// turn runs one model call, speaking its text while it streams.
func (p *Pipeline) turn(ctx context.Context, segmentID string, req llm.CompletionRequest) (res *llm.StreamResult, err error) {
	ctx, span := observe.StartSegmentSpan(ctx, "pipeline.reason", segmentID)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	chunks, err := p.cfg.LLM.StreamCompletion(ctx, req)
	if err != nil {
		p.recordRequest(ctx, p.cfg.LLMName, "llm", err)
		return nil, fmt.Errorf("reason: %w", err)
	}
	text, done := llm.Split(ctx, chunks)

	speakErr := p.speak(ctx, text)
	res = <-done
	p.cfg.Metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	p.recordRequest(ctx, p.cfg.LLMName, "llm", res.Err)
	if res.Err != nil {
		return nil, fmt.Errorf("reason: %w", res.Err)
	}
	if speakErr != nil {
		return nil, fmt.Errorf("speak: %w", speakErr)
	}
	return res, nil
}

// Speak synthesizes text and plays it. The timer uses it for announcements.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.speak(ctx, ch)
}

// speak consumes text until it is closed. Anything the synthesizer leaves
// unread is drained so the producer can finish.
func (p *Pipeline) speak(ctx context.Context, text <-chan string) (err error) {
	defer audio.Drain(text)
	if p.cfg.TTS == nil || p.cfg.Sink == nil {
		return nil
	}

	start := time.Now()
	pcm, err := p.cfg.TTS.SynthesizeStream(ctx, text, p.cfg.Voice)
	if err != nil {
		p.recordRequest(ctx, p.cfg.TTSName, "tts", err)
		return err
	}
	err = p.cfg.Sink.Play(ctx, pcm, p.cfg.TTS.Format())
	p.cfg.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	p.recordRequest(ctx, p.cfg.TTSName, "tts", err)
	return err
}

// callTool runs one tool call and returns the text sent back to the model.
// Failures are reported to the model rather than aborting the response.
func (p *Pipeline) callTool(ctx context.Context, segmentID string, call types.ToolCall) string {
	tool, ok := p.tools[call.Name]
	if !ok {
		p.cfg.Metrics.RecordToolCall(ctx, call.Name, "unknown")
		observe.Logger(ctx).Warn("pipeline: model called unknown tool", "segment_id", segmentID, "tool", call.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}

	ctx, span := observe.StartSegmentSpan(ctx, "tool."+call.Name, segmentID)
	out, err := tool.Call(ctx, call.Arguments)
	observe.EndSpan(span, err)
	p.cfg.Publisher.Publish(events.Event{Type: events.TypeToolCall, SegmentID: segmentID, Text: call.Name})
	if err != nil {
		p.cfg.Metrics.RecordToolCall(ctx, call.Name, "error")
		observe.Logger(ctx).Warn("pipeline: tool failed", "segment_id", segmentID, "tool", call.Name, "err", err)
		return "error: " + err.Error()
	}
	p.cfg.Metrics.RecordToolCall(ctx, call.Name, "ok")
	return out
}

func (p *Pipeline) recordRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		p.cfg.Metrics.RecordProviderError(ctx, provider, kind)
	}
	p.cfg.Metrics.RecordProviderRequest(ctx, provider, kind, status)
}

func removeWAV(job listen.Job) {
	if job.FS == nil || job.WAVPath == "" {
		return
	}
	if err := job.FS.Remove(job.WAVPath); err != nil {
		slog.Warn("pipeline: remove segment file", "path", job.WAVPath, "err", err)
	}
}
