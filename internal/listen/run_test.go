package listen_test

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/internal/listen"
	"github.com/MrWong99/earshot/pkg/audio"
	vadmock "github.com/MrWong99/earshot/pkg/provider/vad/mock"
	wakemock "github.com/MrWong99/earshot/pkg/provider/wake/mock"
)

// chunked splits data into chunks of the given sizes, cycling through sizes.
func chunked(data []byte, sizes ...int) [][]byte {
	var out [][]byte
	for i := 0; len(data) > 0; i++ {
		n := min(sizes[i%len(sizes)], len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func TestRun_MisalignedChunks(t *testing.T) {
	t.Parallel()

	speech := vadmock.Speech
	f := newFixture(t,
		wakemock.NewScorer(-1, -1, 0),
		vadmock.NewSession(speech, speech, speech, vadmock.Silence),
	)
	seg, err := audio.NewSegmenter(frameLength)
	if err != nil {
		t.Fatal(err)
	}

	var stream []byte
	for seq := range uint64(7) {
		stream = append(stream, frame(seq).Data...)
	}
	stream = append(stream, 1, 2, 3) // trailing partial frame stays buffered

	ch := make(chan []byte)
	go func() {
		defer close(ch)
		for _, c := range chunked(stream, 1, 333, 2048, 7, 1500) {
			ch <- c
		}
	}()

	if err := f.machine.Run(context.Background(), seg, ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	jobs := f.handoff.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("segments = %d, want 1", len(jobs))
	}
	var want []byte
	for seq := uint64(3); seq < 7; seq++ {
		want = append(want, frame(seq).Data...)
	}
	if !bytes.Equal(jobs[0].Segment.PCM, want) {
		t.Error("segment PCM does not match frames 3..6")
	}
	if seg.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", seg.Pending())
	}
	if got := f.counter(t, "earshot.desync.resets"); got != 0 {
		t.Errorf("desync resets = %d, want 0", got)
	}
}

// desyncFramer wraps a real segmenter and reports a desync once, after the
// chunk with index failAt.
type desyncFramer struct {
	*audio.Segmenter
	failAt int

	mu     sync.Mutex
	pushes int
	resets int
}

func (d *desyncFramer) Push(chunk []byte) iter.Seq[audio.Frame] {
	d.mu.Lock()
	d.pushes++
	d.mu.Unlock()
	return d.Segmenter.Push(chunk)
}

func (d *desyncFramer) Check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pushes-1 == d.failAt {
		return &audio.DesyncError{Pending: d.Pending(), FrameBytes: d.FrameBytes(), Unaccounted: 5}
	}
	return d.Segmenter.Check()
}

func (d *desyncFramer) Reset() {
	d.mu.Lock()
	d.resets++
	d.mu.Unlock()
	d.Segmenter.Reset()
}

func TestRun_DesyncResetsAndContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(t, wakemock.NewScorer(), vadmock.NewSession())
	seg, err := audio.NewSegmenter(frameLength)
	if err != nil {
		t.Fatal(err)
	}
	framer := &desyncFramer{Segmenter: seg, failAt: 1}

	ch := make(chan []byte, 4)
	ch <- frame(0).Data
	ch <- append(frame(1).Data, 9, 9, 9) // partial tail is dropped by the reset
	ch <- frame(2).Data
	close(ch)

	if err := f.machine.Run(context.Background(), framer, ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if framer.resets != 1 {
		t.Errorf("resets = %d, want 1", framer.resets)
	}
	if seg.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after reset", seg.Pending())
	}
	if got := f.counter(t, "earshot.desync.resets"); got != 1 {
		t.Errorf("desync resets metric = %d, want 1", got)
	}
	if got := f.events.count(events.TypeDesync); got != 1 {
		t.Errorf("desync events = %d, want 1", got)
	}
	if calls := f.scorer.Calls(); calls != 3 {
		t.Errorf("wake scorer calls = %d, want 3 (loop continued after desync)", calls)
	}
}

func TestRun_CancelDiscardsRecording(t *testing.T) {
	t.Parallel()

	vad := vadmock.NewSession()
	vad.EventResult = vadmock.Speech.Event
	f := newFixture(t, wakemock.NewScorer(0), vad)
	seg, _ := audio.NewSegmenter(frameLength)

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan []byte)
	done := make(chan error, 1)
	go func() { done <- f.machine.Run(ctx, seg, ch) }()

	for seq := range uint64(3) {
		ch <- frame(seq).Data
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s := f.machine.Snapshot(); s.Mode != listen.Listening || s.Frames != 0 {
		t.Errorf("snapshot = %+v, want discarded recording", s)
	}
	if len(f.handoff.Jobs()) != 0 {
		t.Error("unfinished recording was finalized")
	}
}

func TestQueue(t *testing.T) {
	t.Parallel()

	in := make(chan []byte)
	out := listen.Queue(context.Background(), in, 4)
	go func() {
		defer close(in)
		for i := range 10 {
			in <- []byte{byte(i)}
		}
	}()

	var got []byte
	for c := range out {
		got = append(got, c...)
	}
	if !bytes.Equal(got, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Errorf("relayed %v, want 0..9 in order", got)
	}
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	out := listen.Queue(ctx, make(chan []byte), 1)
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Error("unexpected chunk")
		}
	case <-time.After(time.Second):
		t.Fatal("Queue did not close after cancel")
	}
}
