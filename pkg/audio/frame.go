package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// DefaultFormat is the capture layout the wake and VAD models expect:
// 16 kHz mono signed 16-bit PCM.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Format describes the layout of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerSample returns the size of one sample of one channel.
func (f Format) BytesPerSample() int { return f.BitDepth / 8 }

// Duration returns the playback duration of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.SampleRate * f.Channels * f.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Validate reports whether f describes PCM this module can process.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio: channel count must be positive, got %d", f.Channels))
	}
	if f.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("audio: only 16-bit PCM is supported, got %d", f.BitDepth))
	}
	return errors.Join(errs...)
}

// String returns a compact description such as "16000Hz mono s16".
func (f Format) String() string {
	return fmt.Sprintf("%s s%d", formatString(f.SampleRate, f.Channels), f.BitDepth)
}

// Frame is a fixed-length block of mono 16-bit little-endian PCM, the unit
// consumed by the wake-word scorer and the voice-activity classifier.
//
// Frames are immutable once produced: the [Segmenter] hands every frame its own
// backing array and callers must not write to Data.
type Frame struct {
	// Seq is the position of the frame in the stream, starting at 0.
	Seq uint64

	// Data holds exactly FrameLength*2 bytes.
	Data []byte
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int { return len(f.Data) / 2 }

// Samples decodes the frame into int16 samples. A new slice is returned on
// every call.
func (f Frame) Samples() []int16 {
	return BytesToInt16(f.Data)
}

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
