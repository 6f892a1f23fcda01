// Package synth is the real-time core of siggen: a bank of independently
// controllable voices (noise, sine, square and wavetable oscillators) that
// produce one sample per call, ramp amplitude changes over a fixed number of
// samples, and optionally derive their frequency from a group "talker".
//
// The package is split along the audio/control boundary:
//
//   - [Ramper], [Waveform] and [Voice] hold per-sample DSP state. They are not
//     safe for concurrent use and are only ever touched by the goroutine that
//     renders audio.
//   - [Registry] and [SyncCoordinator] operate on the control-side state of
//     each voice (group, role, multiplier, commanded frequency).
//   - [Engine] is the concurrent facade. Control methods mutate the
//     control-side state under a mutex and publish the resulting DSP updates
//     as a single batch on a lock-free single-producer/single-consumer queue.
//     [Engine.Render] drains that queue at block boundaries and never blocks,
//     locks or allocates.
package synth

const (
	// RampLength is the number of samples every amplitude transition takes,
	// regardless of how far a previous ramp had progressed. At 48 kHz this is
	// about 10.7 ms.
	RampLength = 512

	// DefaultTalkerFrequency is returned by talker frequency queries when a
	// sync group has no talker.
	DefaultTalkerFrequency = 440.0

	// DefaultFrequency is the frequency a periodic voice starts with when its
	// spec leaves it unset.
	DefaultFrequency = 220.0

	// DefaultSampleRate is used until the host reports its own rate.
	DefaultSampleRate = 48000.0

	// DefaultTableSize is the length of the built-in sine wavetable.
	DefaultTableSize = 128

	// MaxFrequency bounds every commanded and derived voice frequency,
	// including talker × multiplier products.
	MaxFrequency = 1e6

	// MinSampleRate and MaxSampleRate bound voice sample rates. Together
	// with MaxFrequency they keep every phase advance finite.
	MinSampleRate = 1.0
	MaxSampleRate = 1e6
)
