package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts a chunked 16-bit PCM stream from one [Format] to another.
// Chunks may split sample frames at arbitrary byte offsets; the incomplete tail
// is carried to the next call.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	From Format
	To   Format

	carry      []byte
	warnedOnce sync.Once
}

// NewConverter returns a Converter from one format to another.
func NewConverter(from, to Format) *Converter {
	return &Converter{From: from, To: to}
}

// Passthrough reports whether Convert returns its input unchanged.
func (c *Converter) Passthrough() bool {
	return c.From.SampleRate == c.To.SampleRate && c.From.Channels == c.To.Channels
}

// Convert converts one chunk. Conversion order: channel mix-down first, then
// resample, then mono up-mix, so resampling always runs on the fewest channels.
func (c *Converter) Convert(chunk []byte) []byte {
	if c.Passthrough() {
		return chunk
	}
	c.warnedOnce.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", formatString(c.From.SampleRate, c.From.Channels),
			"to", formatString(c.To.SampleRate, c.To.Channels),
		)
	})

	align := 2 * max(c.From.Channels, 1)
	pcm := append(c.carry, chunk...)
	whole := len(pcm) - len(pcm)%align
	c.carry = append([]byte(nil), pcm[whole:]...)
	pcm = pcm[:whole]
	if len(pcm) == 0 {
		return nil
	}

	channels := c.From.Channels
	if channels == 2 && c.To.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}
	pcm = Resample16(pcm, channels, c.From.SampleRate, c.To.SampleRate)
	if channels == 1 && c.To.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// ConvertStream wraps in with a conversion goroutine and closes the returned
// channel when in closes. Empty results are not forwarded.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := NewConverter(from, to)
		for chunk := range in {
			converted := conv.Convert(chunk)
			if len(converted) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L and R of each 4-byte stereo frame.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation per channel. The input is
// returned unchanged when the rates match or either rate is not positive.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int32(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, v int32) {
	pcm[i*2] = byte(v)
	pcm[i*2+1] = byte(v >> 8)
}

func clamp16(v int32) int32 {
	return min(max(v, -32768), 32767)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
