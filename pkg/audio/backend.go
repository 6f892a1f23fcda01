// Package audio connects a sample [Renderer] to an output device and carries
// rendered PCM to secondary consumers.
//
// The two primary abstractions are:
//
//   - [Renderer] fills interleaved float32 blocks. The synth engine is the
//     production implementation.
//   - [Backend] owns an output device and pulls blocks from a Renderer on the
//     device's own schedule.
//
// Device adapters live in sub-packages (audio/oto, audio/portaudio,
// audio/headless) so that cgo-backed drivers are only linked when selected
// by build tags.
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by [Backend.Start] after the backend was closed.
var ErrClosed = errors.New("audio: backend closed")

// Renderer produces audio on demand. Render must fill len(out)/channels
// interleaved frames. It is called from the device's callback goroutine and
// must not block.
type Renderer interface {
	Render(out []float32, channels int)
}

// RendererFunc adapts a plain function to [Renderer].
type RendererFunc func(out []float32, channels int)

// Render calls f.
func (f RendererFunc) Render(out []float32, channels int) { f(out, channels) }

// Backend is an audio output device.
//
// Implementations must be safe for concurrent use of Close with the device
// callback; Start is called at most once.
type Backend interface {
	// Name returns the registry name of the backend (e.g. "oto").
	Name() string

	// Format returns the stream format the device was opened with. Hosts
	// pass Format().SampleRate to the renderer before starting.
	Format() Format

	// Start begins pulling blocks from r. It returns once playback has
	// started; the supplied ctx only bounds start-up.
	Start(ctx context.Context, r Renderer) error

	// Close stops playback and releases the device. Calling Close more than
	// once is a no-op.
	Close() error
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether f describes a playable stream.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be > 0, got %d", f.SampleRate))
	}
	if f.Channels < 1 || f.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio: channels must be in [1, 8], got %d", f.Channels))
	}
	return errors.Join(errs...)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
