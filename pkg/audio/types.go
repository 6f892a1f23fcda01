package audio

import "time"

// AudioFrame is one block of rendered audio as 16-bit PCM, the unit handed to
// encoders and network consumers.
type AudioFrame struct {
	// Data holds interleaved little-endian int16 samples.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the stream position of the first frame.
	Timestamp time.Duration
}

// Format returns the stream format of the frame.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Frames returns the number of sample frames in Data.
func (f AudioFrame) Frames() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}
