// Package audio defines the PCM primitives shared by every stage of earshot:
// fixed-length [Frame]s cut from a raw capture stream by the [Segmenter], the
// finalized [Segment] handed to transcription, and the [Source] and [Sink]
// abstractions implemented by capture and playback adapters.
//
// All PCM in this package is signed 16-bit little-endian unless a [Format]
// says otherwise.
//
// Implementations of [Source] and [Sink] live in sub-packages
// (audio/device, audio/filesource) so that the core never links against a
// native audio library.
package audio

import (
	"context"
)

// Source produces an unbounded stream of raw PCM byte chunks. Chunk sizes are
// chosen by the implementation and carry no frame alignment guarantees.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Stream starts capture and returns a read-only channel of chunks. The
	// channel is closed when ctx is cancelled, when the source is exhausted, or
	// when capture fails; in the last case Err reports the cause.
	//
	// Chunks are owned by the receiver once delivered.
	Stream(ctx context.Context) (<-chan []byte, error)

	// Format reports the PCM layout of the emitted chunks.
	Format() Format

	// Err returns the error that terminated the stream, or nil if the stream
	// ended because of cancellation or end of input.
	Err() error

	// Close releases the underlying device or file. Safe to call more than once.
	Close() error
}

// Sink plays PCM audio, typically the synthesized assistant response.
//
// Implementations must be safe for concurrent use; concurrent Play calls are
// serialized.
type Sink interface {
	// Play consumes pcm until it is closed or ctx is cancelled. format describes
	// the chunks on pcm; implementations convert to their device format.
	Play(ctx context.Context, pcm <-chan []byte, format Format) error

	// Close releases the output device. Safe to call more than once.
	Close() error
}
