package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

// pattern returns n bytes whose values encode their offset, so any dropped or
// duplicated byte shows up in a comparison.
func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// pushAll feeds input to seg in chunks of the given sizes (cycled) and
// collects every emitted frame.
func pushAll(t *testing.T, seg *audio.Segmenter, input []byte, sizes []int) []audio.Frame {
	t.Helper()
	var frames []audio.Frame
	for i, off := 0, 0; off < len(input); i++ {
		n := min(sizes[i%len(sizes)], len(input)-off)
		for f := range seg.Push(input[off : off+n]) {
			frames = append(frames, f)
		}
		if err := seg.Check(); err != nil {
			t.Fatalf("Check after chunk %d: %v", i, err)
		}
		off += n
	}
	return frames
}

func TestSegmenter_FrameIntegrity(t *testing.T) {
	t.Parallel()

	const frameLength = 8
	const frameBytes = frameLength * 2
	const k = 13

	tests := []struct {
		name  string
		sizes []int
	}{
		{"one byte", []int{1}},
		{"odd sizes", []int{3, 5, 7}},
		{"just under a frame", []int{frameBytes - 1}},
		{"exact frame", []int{frameBytes}},
		{"just over a frame", []int{frameBytes + 1}},
		{"irregular", []int{1, frameBytes * 3, 2, 31, 0, 9}},
		{"single giant chunk", []int{frameBytes * k}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seg, err := audio.NewSegmenter(frameLength)
			if err != nil {
				t.Fatalf("NewSegmenter: %v", err)
			}
			input := pattern(frameBytes * k)

			frames := pushAll(t, seg, input, tt.sizes)
			if len(frames) != k {
				t.Fatalf("got %d frames, want %d", len(frames), k)
			}

			var joined []byte
			for i, f := range frames {
				if len(f.Data) != frameBytes {
					t.Errorf("frame %d: %d bytes, want %d", i, len(f.Data), frameBytes)
				}
				if f.Seq != uint64(i) {
					t.Errorf("frame %d: seq %d", i, f.Seq)
				}
				joined = append(joined, f.Data...)
			}
			if !bytes.Equal(joined, input) {
				t.Error("concatenated frames differ from input")
			}
			if seg.Pending() != 0 {
				t.Errorf("Pending = %d, want 0", seg.Pending())
			}
		})
	}
}

func TestSegmenter_CarriesResidual(t *testing.T) {
	t.Parallel()

	seg, _ := audio.NewSegmenter(4)
	input := pattern(8)

	for range seg.Push(input[:5]) {
		t.Fatal("unexpected frame from partial input")
	}
	if seg.Pending() != 5 {
		t.Fatalf("Pending = %d, want 5", seg.Pending())
	}

	var got []audio.Frame
	for f := range seg.Push(input[5:]) {
		got = append(got, f)
	}
	if len(got) != 1 || !bytes.Equal(got[0].Data, input) {
		t.Fatalf("got %v, want one frame equal to input", got)
	}
}

func TestSegmenter_EarlyStopKeepsBytes(t *testing.T) {
	t.Parallel()

	seg, _ := audio.NewSegmenter(2)
	input := pattern(4 * 3)

	var first audio.Frame
	for f := range seg.Push(input) {
		first = f
		break
	}
	if !bytes.Equal(first.Data, input[:4]) {
		t.Fatalf("first frame = %v, want %v", first.Data, input[:4])
	}

	var rest []byte
	for f := range seg.Push(nil) {
		rest = append(rest, f.Data...)
	}
	if !bytes.Equal(rest, input[4:]) {
		t.Errorf("remaining frames = %v, want %v", rest, input[4:])
	}
}

func TestSegmenter_FramesDoNotAlias(t *testing.T) {
	t.Parallel()

	seg, _ := audio.NewSegmenter(2)
	chunk := pattern(8)

	var frames []audio.Frame
	for f := range seg.Push(chunk) {
		frames = append(frames, f)
	}
	want := append([]byte(nil), frames[0].Data...)
	chunk[0] ^= 0xFF
	for range seg.Push(pattern(4)) {
	}
	if !bytes.Equal(frames[0].Data, want) {
		t.Error("frame data changed after later pushes")
	}
}

func TestSegmenter_CheckDetectsUndrained(t *testing.T) {
	t.Parallel()

	seg, _ := audio.NewSegmenter(2)
	_ = seg.Push(pattern(9)) // never iterated

	err := seg.Check()
	var desync *audio.DesyncError
	if !errors.As(err, &desync) {
		t.Fatalf("Check = %v, want *DesyncError", err)
	}
	if desync.Pending != 9 || desync.FrameBytes != 4 {
		t.Errorf("DesyncError = %+v", desync)
	}

	seg.Reset()
	if err := seg.Check(); err != nil {
		t.Errorf("Check after Reset = %v", err)
	}
	if seg.Pending() != 0 {
		t.Errorf("Pending after Reset = %d", seg.Pending())
	}
}

func TestSegmenter_ResetKeepsSequence(t *testing.T) {
	t.Parallel()

	seg, _ := audio.NewSegmenter(1)
	for range seg.Push(pattern(3)) {
	}
	seg.Reset()

	var seqs []uint64
	for f := range seg.Push(pattern(4)) {
		seqs = append(seqs, f.Seq)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("seqs after Reset = %v, want [1 2]", seqs)
	}
}

func TestNewSegmenter_InvalidLength(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -512} {
		if _, err := audio.NewSegmenter(n); err == nil {
			t.Errorf("NewSegmenter(%d): expected error", n)
		}
	}
}
