package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// ErrNotWAV is returned by [ReadWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: input is not a valid WAV file")

// Segment is one finalized utterance: the contiguous PCM captured between a
// wake event and the end of speech, plus its format metadata.
//
// Ownership of a Segment moves with it; the producer keeps no reference after
// handing it off.
type Segment struct {
	// ID uniquely identifies the segment in logs, traces, and events.
	ID string

	// Format is the layout of PCM.
	Format Format

	// PCM is the concatenated frame data in stream order.
	PCM []byte

	// Frames is the number of frames that were concatenated.
	Frames int

	// FirstSeq is the sequence number of the first frame in the segment.
	FirstSeq uint64

	// CapturedAt is the wall-clock time the segment was finalized.
	CapturedAt time.Time
}

// Duration returns the playback length of the segment.
func (s *Segment) Duration() time.Duration {
	return s.Format.Duration(len(s.PCM))
}

// WriteWAV encodes the segment as a PCM WAV container. The header sizes are
// patched on close, which is why w must be seekable.
func (s *Segment) WriteWAV(w io.WriteSeeker) error {
	return WriteWAV(w, s.PCM, s.Format)
}

// Materialize writes the segment as a WAV file created with [afero.TempFile]
// in dir and returns the open file rewound to offset 0. The caller owns the
// file and must close and remove it.
func (s *Segment) Materialize(fs afero.Fs, dir string) (afero.File, error) {
	f, err := afero.TempFile(fs, dir, "segment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("audio: create segment file: %w", err)
	}
	fail := func(err error) (afero.File, error) {
		_ = f.Close()
		_ = fs.Remove(f.Name())
		return nil, err
	}
	if err := s.WriteWAV(f); err != nil {
		return fail(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(fmt.Errorf("audio: rewind segment file: %w", err))
	}
	return f, nil
}

// WriteWAV encodes 16-bit little-endian pcm in format f as a WAV container.
func WriteWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	samples := BytesToInt16(pcm)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}

	enc := wav.NewEncoder(w, f.SampleRate, f.BitDepth, f.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: f.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV container and returns its sample data as
// little-endian bytes together with the stored format.
func ReadWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := f.Validate(); err != nil {
		return nil, Format{}, err
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return Int16ToBytes(samples), f, nil
}
