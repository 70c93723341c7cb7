// Package device captures microphone input and plays audio through the
// default PortAudio devices.
//
// Both [Microphone] and [Speaker] call portaudio.Initialize on construction
// and portaudio.Terminate on Close; PortAudio reference-counts these calls so
// the two may coexist.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

const defaultFramesPerBuffer = 1024

// Option configures a [Microphone] or [Speaker].
type Option func(*options)

type options struct {
	framesPerBuffer int
	queueDepth      int
}

// WithFramesPerBuffer sets the PortAudio buffer size in samples. Capture chunk
// sizes equal this value and need not match the wake scorer's frame length.
func WithFramesPerBuffer(n int) Option {
	return func(o *options) { o.framesPerBuffer = n }
}

// WithQueueDepth sets how many captured chunks may wait for the processing
// loop before capture blocks.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

func buildOptions(opts []Option) options {
	o := options{framesPerBuffer: defaultFramesPerBuffer, queueDepth: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is an [audio.Source] reading mono 16-bit PCM from the default
// input device.
type Microphone struct {
	format audio.Format
	opts   options

	mu        sync.Mutex
	stream    *portaudio.Stream
	buf       []int16
	err       error
	closeOnce sync.Once
}

var _ audio.Source = (*Microphone)(nil)

// NewMicrophone opens the default input device at sampleRate.
func NewMicrophone(sampleRate int, opts ...Option) (*Microphone, error) {
	o := buildOptions(opts)
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}
	buf := make([]int16, o.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("device: open input stream: %w", err)
	}
	return &Microphone{
		format: audio.Format{SampleRate: sampleRate, Channels: 1, BitDepth: 16},
		opts:   o,
		stream: stream,
		buf:    buf,
	}, nil
}

// Format implements [audio.Source].
func (m *Microphone) Format() audio.Format { return m.format }

// Err implements [audio.Source].
func (m *Microphone) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Stream implements [audio.Source]. Capture runs on its own goroutine and
// blocks when the queue is full, so a slow consumer surfaces as PortAudio
// input overflow rather than silently dropped chunks.
func (m *Microphone) Stream(ctx context.Context) (<-chan []byte, error) {
	if err := m.stream.Start(); err != nil {
		return nil, fmt.Errorf("device: start input stream: %w", err)
	}
	out := make(chan []byte, m.opts.queueDepth)
	go func() {
		defer close(out)
		defer func() {
			if err := m.stream.Stop(); err != nil {
				slog.Debug("device: stop input stream", "err", err)
			}
		}()
		for ctx.Err() == nil {
			if err := m.stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					slog.Warn("device: input overflowed, capture is falling behind")
					continue
				}
				m.mu.Lock()
				m.err = fmt.Errorf("device: read input: %w", err)
				m.mu.Unlock()
				return
			}
			select {
			case out <- audio.Int16ToBytes(m.buf):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close implements [audio.Source].
func (m *Microphone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = errors.Join(m.stream.Close(), portaudio.Terminate())
	})
	return err
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is an [audio.Sink] playing through the default output device. A new
// output stream is opened per Play call at the format of the played audio.
type Speaker struct {
	opts      options
	mu        sync.Mutex
	closeOnce sync.Once
}

var _ audio.Sink = (*Speaker)(nil)

// NewSpeaker initializes PortAudio for playback.
func NewSpeaker(opts ...Option) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialize portaudio: %w", err)
	}
	return &Speaker{opts: buildOptions(opts)}, nil
}

// Play implements [audio.Sink].
func (s *Speaker) Play(ctx context.Context, pcm <-chan []byte, format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int16, s.opts.framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), s.opts.framesPerBuffer, out)
	if err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("device: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("device: start output stream: %w", err)
	}
	defer stream.Stop()

	var pending []int16
	var carry []byte
	flush := func(final bool) error {
		for len(pending) >= len(out) || (final && len(pending) > 0) {
			n := copy(out, pending)
			clear(out[n:])
			pending = pending[n:]
			if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
				return fmt.Errorf("device: write output: %w", err)
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				return flush(true)
			}
			data := append(carry, chunk...)
			whole := len(data) &^ 1
			carry = append([]byte(nil), data[whole:]...)
			pending = append(pending, audio.BytesToInt16(data[:whole])...)
			if err := flush(false); err != nil {
				go audio.Drain(pcm)
				return err
			}
		}
	}
}

// Close implements [audio.Sink].
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() { err = portaudio.Terminate() })
	return err
}
