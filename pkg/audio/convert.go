package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
)

// Float32ToPCM16 converts float samples in [-1, 1] to little-endian int16
// PCM, reusing dst's capacity. Out-of-range samples are clamped.
func Float32ToPCM16(dst []byte, src []float32) []byte {
	n := len(src) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range src {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(floatToInt16(s)))
	}
	return dst
}

func floatToInt16(s float32) int16 {
	switch {
	case s != s: // NaN
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return -math.MaxInt16
	}
	return int16(s * math.MaxInt16)
}

func sample16(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample16(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte { return Remix16(pcm, 1, 2) }

// StereoToMono averages L and R of every frame.
func StereoToMono(pcm []byte) []byte { return Remix16(pcm, 2, 1) }

// Remix16 converts interleaved int16 PCM between channel counts. Mixing down
// to mono averages all channels; otherwise output channel c copies input
// channel c mod from.
func Remix16(pcm []byte, from, to int) []byte {
	if from <= 0 || to <= 0 || from == to {
		return pcm
	}
	frames := len(pcm) / (2 * from)
	out := make([]byte, frames*to*2)
	for f := range frames {
		if to == 1 {
			var sum int32
			for c := range from {
				sum += int32(sample16(pcm, f*from+c))
			}
			putSample16(out, f, int16(sum/int32(from)))
			continue
		}
		for c := range to {
			putSample16(out, f*to+c, sample16(pcm, f*from+c%from))
		}
	}
	return out
}

// Resample16 resamples interleaved int16 PCM from srcRate to dstRate by
// linear interpolation. The input is returned unchanged when the rates match
// or are invalid.
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

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		i0 := int(pos)
		frac := pos - float64(i0)
		i1 := min(i0+1, srcFrames-1)
		for c := range channels {
			s0 := float64(sample16(pcm, i0*channels+c))
			s1 := float64(sample16(pcm, i1*channels+c))
			putSample16(out, i*channels+c, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// FormatConverter converts AudioFrames to a target format, logging once on
// the first mismatch and once on the first misaligned frame.
// Create one per stream; it is not safe for concurrent use.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns frame in the target format. Frames already in the target
// format are returned unchanged. Misaligned frames are dropped and come back
// with nil Data.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: misaligned PCM data, dropping frame",
				"bytes", len(frame.Data),
				"format", frame.Format().String(),
			)
		})
		return AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}
	if frame.Format() == c.Target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", frame.Format().String(),
			"to", c.Target.String(),
		)
	})

	// Mixing down first keeps the resampler cheap.
	pcm := frame.Data
	channels := frame.Channels
	if c.Target.Channels < channels {
		pcm = Remix16(pcm, channels, c.Target.Channels)
		channels = c.Target.Channels
	}
	pcm = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	pcm = Remix16(pcm, channels, c.Target.Channels)

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}
