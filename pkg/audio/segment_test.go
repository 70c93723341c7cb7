package audio_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestSegment_Duration(t *testing.T) {
	t.Parallel()
	seg := &audio.Segment{Format: audio.DefaultFormat, PCM: make([]byte, 32000)}
	if got := seg.Duration(); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
}

func TestSegment_MaterializeWAV(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	pcm := samplesToBytes([]int16{0, 1000, -1000, 32767, -32768, 42})
	seg := &audio.Segment{ID: "seg-1", Format: audio.DefaultFormat, PCM: pcm, Frames: 1}

	f, err := seg.Materialize(fs, "/tmp")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	defer f.Close()

	if !strings.HasPrefix(f.Name(), "/tmp/segment-") || !strings.HasSuffix(f.Name(), ".wav") {
		t.Errorf("unexpected file name %q", f.Name())
	}

	got, format, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if format != audio.DefaultFormat {
		t.Errorf("format = %v, want %v", format, audio.DefaultFormat)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", bytesToSamples(got), bytesToSamples(pcm))
	}
}

func TestReadWAV_NotWAV(t *testing.T) {
	t.Parallel()
	_, _, err := audio.ReadWAV(bytes.NewReader([]byte("definitely not a riff header")))
	if !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestWriteWAV_RejectsUnsupportedDepth(t *testing.T) {
	t.Parallel()
	f, _ := afero.NewMemMapFs().Create("x.wav")
	err := audio.WriteWAV(f, []byte{0, 0}, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 24})
	if err == nil {
		t.Error("expected error for 24-bit format")
	}
}

func TestFrame_Samples(t *testing.T) {
	t.Parallel()
	want := []int16{1, -2, 300}
	f := audio.Frame{Data: samplesToBytes(want)}
	got := f.Samples()
	if f.Len() != 3 || len(got) != 3 {
		t.Fatalf("Len = %d, samples = %v", f.Len(), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
