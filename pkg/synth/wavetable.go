package synth

import (
	"fmt"
	"math"
)

// Wavetable is a read-only, fixed-length buffer holding one period of a
// waveform. It is built once and shared by any number of oscillators.
type Wavetable struct {
	samples []float64
}

// NewWavetable copies samples into a new table. At least two samples are
// required so that interpolation has a partner.
func NewWavetable(samples []float64) (*Wavetable, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("synth: wavetable needs at least 2 samples, got %d", len(samples))
	}
	t := &Wavetable{samples: make([]float64, len(samples))}
	copy(t.samples, samples)
	return t, nil
}

// SineTable returns a table holding one period of a sine at the given
// resolution. size values below 2 fall back to [DefaultTableSize].
func SineTable(size int) *Wavetable {
	if size < 2 {
		size = DefaultTableSize
	}
	t := &Wavetable{samples: make([]float64, size)}
	for i := range t.samples {
		t.samples[i] = math.Sin(2 * math.Pi * float64(i) / float64(size))
	}
	return t
}

// Len returns the number of samples in the table.
func (t *Wavetable) Len() int { return len(t.samples) }

// At returns sample i, wrapped to the table length.
func (t *Wavetable) At(i int) float64 {
	n := len(t.samples)
	i %= n
	if i < 0 {
		i += n
	}
	return t.samples[i]
}
