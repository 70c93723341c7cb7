// Package filesource replays a recorded WAV or raw PCM file as an
// [audio.Source]. Chunks are cut at irregular sizes so that playback exercises
// the same misaligned boundaries a live device produces.
package filesource

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Option configures a [Source].
type Option func(*Source)

// WithChunkRange sets the inclusive byte range chunk sizes are drawn from.
func WithChunkRange(minBytes, maxBytes int) Option {
	return func(s *Source) {
		s.minChunk = max(minBytes, 1)
		s.maxChunk = max(maxBytes, s.minChunk)
	}
}

// WithRealtime paces chunks at the playback rate of the target format.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithRawFormat declares the layout of a headerless file. Ignored for WAV
// files, whose header is authoritative.
func WithRawFormat(f audio.Format) Option {
	return func(s *Source) { s.raw = f }
}

// WithSeed makes chunk sizes reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Source) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// Source is an [audio.Source] backed by a file on an [afero.Fs].
type Source struct {
	fs       afero.Fs
	path     string
	target   audio.Format
	raw      audio.Format
	minChunk int
	maxChunk int
	realtime bool
	rng      *rand.Rand

	mu  sync.Mutex
	err error
}

var _ audio.Source = (*Source)(nil)

// New returns a Source reading path from fs and emitting PCM in target format.
// Files ending in .wav are decoded; anything else is read as raw PCM.
func New(fs afero.Fs, path string, target audio.Format, opts ...Option) *Source {
	s := &Source{
		fs:       fs,
		path:     path,
		target:   target,
		raw:      target,
		minChunk: 1,
		maxChunk: 4096,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.target }

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source]. The file is read fully by Stream, so there
// is nothing to release.
func (s *Source) Close() error { return nil }

// Stream implements [audio.Source]. The file is loaded and converted before
// the first chunk is sent; load errors are returned directly.
func (s *Source) Stream(ctx context.Context) (<-chan []byte, error) {
	pcm, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for len(pcm) > 0 {
			n := min(s.minChunk+s.rng.IntN(s.maxChunk-s.minChunk+1), len(pcm))
			chunk := pcm[:n:n]
			pcm = pcm[n:]
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if s.realtime {
				select {
				case <-time.After(s.target.Duration(n)):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Source) load() ([]byte, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("filesource: open %s: %w", s.path, err)
	}
	defer f.Close()

	var (
		pcm []byte
		src = s.raw
	)
	if strings.EqualFold(filepath.Ext(s.path), ".wav") {
		pcm, src, err = audio.ReadWAV(f)
	} else {
		pcm, err = io.ReadAll(f)
	}
	if err != nil {
		s.setErr(err)
		return nil, fmt.Errorf("filesource: read %s: %w", s.path, err)
	}
	return audio.NewConverter(src, s.target).Convert(pcm), nil
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
