package listen

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/MrWong99/earshot/internal/events"
	"github.com/MrWong99/earshot/pkg/audio"
)

// Framer cuts a chunk stream into fixed-length frames. [audio.Segmenter] is
// the production implementation.
type Framer interface {
	Push(chunk []byte) iter.Seq[audio.Frame]
	Check() error
	Reset()
}

var _ Framer = (*audio.Segmenter)(nil)

// Run drives the machine from chunks until the channel is closed or ctx is
// cancelled. Each chunk is cut into frames by seg and every frame is
// processed before the next chunk is read. A residual desync resets the
// segmenter and is counted; it never stops the loop.
//
// Run returns nil when chunks is closed and ctx.Err() on cancellation. An
// unfinished recording is discarded in both cases.
func (m *Machine) Run(ctx context.Context, seg Framer, chunks <-chan []byte) error {
	defer m.Discard()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			for frame := range seg.Push(chunk) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.Process(ctx, frame)
			}
			if err := seg.Check(); err != nil {
				m.desync(ctx, seg, err)
			}
		}
	}
}

func (m *Machine) desync(ctx context.Context, seg Framer, err error) {
	var de *audio.DesyncError
	if errors.As(err, &de) {
		slog.Error("listen: segmenter desynchronized, resetting residual buffer",
			"pending", de.Pending, "frame_bytes", de.FrameBytes, "unaccounted", de.Unaccounted)
	} else {
		slog.Error("listen: segmenter check failed, resetting residual buffer", "err", err)
	}
	seg.Reset()
	m.metrics.DesyncResets.Add(ctx, 1)
	m.publisher.Publish(events.Event{Type: events.TypeDesync, Error: err.Error()})
}

// Queue relays chunks from in through a buffer of depth chunks so that a slow
// classifier call does not stall the capture callback. The returned channel
// is closed when in is closed or ctx is cancelled.
func Queue(ctx context.Context, in <-chan []byte, depth int) <-chan []byte {
	out := make(chan []byte, max(depth, 1))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
