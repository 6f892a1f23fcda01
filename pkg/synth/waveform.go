package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
)

const twoPi = 2 * math.Pi

// Kind selects the sample-generation strategy of a [Waveform].
type Kind uint8

const (
	// KindNoise produces uniform white noise in [-1, 1). It has no frequency.
	KindNoise Kind = iota

	// KindSine produces sin(phase).
	KindSine

	// KindSquare produces ±0.5 with a fixed 50% duty cycle.
	KindSquare

	// KindWavetable linearly interpolates a [Wavetable].
	KindWavetable
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNoise:
		return "noise"
	case KindSine:
		return "sine"
	case KindSquare:
		return "square"
	case KindWavetable:
		return "wavetable"
	default:
		return "unknown"
	}
}

// Periodic reports whether the kind has frequency semantics.
func (k Kind) Periodic() bool { return k != KindNoise }

// ParseKind maps a configuration name to a [Kind].
func ParseKind(s string) (Kind, error) {
	switch s {
	case "noise":
		return KindNoise, nil
	case "sine":
		return KindSine, nil
	case "square":
		return KindSquare, nil
	case "wavetable":
		return KindWavetable, nil
	}
	return 0, fmt.Errorf("synth: unknown waveform kind %q", s)
}

// Waveform is a closed set of oscillators dispatched with a switch on the hot
// path instead of an interface call. The kind is fixed at construction.
//
// For sine and square the phase is an angle in radians advancing by
// 2π·f/fs per sample. For wavetables the phase is a fractional table index
// advancing by f·T/fs. Frequency changes only alter the advance rate; the
// current phase is kept.
//
// A Waveform is not safe for concurrent use.
type Waveform struct {
	kind       Kind
	frequency  float64
	sampleRate float64
	phase      float64
	delta      float64
	table      *Wavetable
	rng        *rand.Rand
}

// NewNoise returns a noise source seeded deterministically from seed.
func NewNoise(seed uint64) Waveform {
	return Waveform{
		kind:       KindNoise,
		sampleRate: DefaultSampleRate,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// NewSine returns a sine oscillator.
func NewSine(sampleRate, frequency float64) Waveform {
	return newPeriodic(KindSine, nil, sampleRate, frequency)
}

// NewSquare returns a 50% duty-cycle square oscillator.
func NewSquare(sampleRate, frequency float64) Waveform {
	return newPeriodic(KindSquare, nil, sampleRate, frequency)
}

// NewWavetableOscillator returns an oscillator reading table. A nil table
// uses a [SineTable] of [DefaultTableSize].
func NewWavetableOscillator(table *Wavetable, sampleRate, frequency float64) Waveform {
	if table == nil {
		table = SineTable(DefaultTableSize)
	}
	return newPeriodic(KindWavetable, table, sampleRate, frequency)
}

func newPeriodic(kind Kind, table *Wavetable, sampleRate, frequency float64) Waveform {
	if !validSampleRate(sampleRate) {
		sampleRate = DefaultSampleRate
	}
	w := Waveform{kind: kind, table: table, sampleRate: sampleRate}
	w.SetFrequency(frequency)
	return w
}

// Next returns the next raw, unscaled sample and advances the phase.
func (w *Waveform) Next() float64 {
	switch w.kind {
	case KindNoise:
		return w.rng.Float64()*2 - 1
	case KindSine:
		s := math.Sin(w.phase)
		w.advance(twoPi)
		return s
	case KindSquare:
		s := 0.5
		if w.phase >= math.Pi {
			s = -0.5
		}
		w.advance(twoPi)
		return s
	case KindWavetable:
		n := len(w.table.samples)
		i0 := int(w.phase)
		i1 := i0 + 1
		if i1 == n {
			i1 = 0
		}
		frac := w.phase - float64(i0)
		v0 := w.table.samples[i0]
		v1 := w.table.samples[i1]
		w.advance(float64(n))
		return v0 + frac*(v1-v0)
	}
	return 0
}

// advance moves the phase by delta and wraps it into [0, period). The
// remainder is kept across the wrap so the output stays continuous. A phase
// that is no longer a number restarts the cycle.
func (w *Waveform) advance(period float64) {
	w.phase += w.delta
	if w.phase >= period {
		w.phase -= period
		if w.phase >= period {
			w.phase = math.Mod(w.phase, period)
		}
	}
	if !(w.phase >= 0 && w.phase < period) {
		w.phase = 0
	}
}

// SetFrequency stores f and recomputes the phase advance. It is ignored by
// noise sources. f must be finite and >= 0; an advance that does not come out
// as a finite non-negative number stops the oscillator at its current phase.
func (w *Waveform) SetFrequency(f float64) {
	w.frequency = f
	switch w.kind {
	case KindSine, KindSquare:
		w.delta = twoPi * f / w.sampleRate
	case KindWavetable:
		w.delta = f * float64(len(w.table.samples)) / w.sampleRate
	}
	if !finiteNonNegative(w.delta) {
		w.delta = 0
	}
}

// SetSampleRate updates the sample rate and recomputes the phase advance from
// the last frequency. Unchanged rates and rates outside [MinSampleRate,
// MaxSampleRate] are ignored.
func (w *Waveform) SetSampleRate(rate float64) {
	if !validSampleRate(rate) || rate == w.sampleRate {
		return
	}
	w.sampleRate = rate
	w.SetFrequency(w.frequency)
}

// Kind returns the oscillator kind.
func (w *Waveform) Kind() Kind { return w.kind }

// Frequency returns the last frequency set.
func (w *Waveform) Frequency() float64 { return w.frequency }

// SampleRate returns the sample rate the phase advance is computed for.
func (w *Waveform) SampleRate() float64 { return w.sampleRate }

// Phase returns the current phase: radians for sine and square, a fractional
// table index for wavetables, zero for noise.
func (w *Waveform) Phase() float64 { return w.phase }

// Delta returns the per-sample phase advance.
func (w *Waveform) Delta() float64 { return w.delta }

// Table returns the wavetable read by a wavetable oscillator, or nil.
func (w *Waveform) Table() *Wavetable { return w.table }
