//go:build portaudio

// Package portaudio plays audio through PortAudio's default output stream
// using github.com/gordonklaus/portaudio. It needs the PortAudio C library
// and is only built with -tags portaudio.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/siggen/pkg/audio"
)

// Name is the registry name of the backend.
const Name = "portaudio"

// Backend drives a [audio.Renderer] from the PortAudio stream callback.
type Backend struct {
	format audio.Format
	frames int

	mu     sync.Mutex
	stream *pa.Stream
	closed bool
}

var _ audio.Backend = (*Backend)(nil)

// New initialises PortAudio. framesPerBuffer is the callback block size;
// zero lets PortAudio choose.
func New(format audio.Format, framesPerBuffer int) (*Backend, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{format: format, frames: framesPerBuffer}, nil
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return Name }

// Format implements [audio.Backend].
func (b *Backend) Format() audio.Format { return b.format }

// Start implements [audio.Backend].
func (b *Backend) Start(ctx context.Context, r audio.Renderer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return audio.ErrClosed
	}
	if b.stream != nil {
		return fmt.Errorf("portaudio: already started")
	}

	ch := b.format.Channels
	stream, err := pa.OpenDefaultStream(0, ch, float64(b.format.SampleRate), b.frames,
		func(_, out []float32) { r.Render(out, ch) })
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	b.stream = stream
	return nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.stream != nil {
		if serr := b.stream.Stop(); serr != nil {
			err = fmt.Errorf("portaudio: stop stream: %w", serr)
		}
		if cerr := b.stream.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("portaudio: close stream: %w", cerr)
		}
		b.stream = nil
	}
	if terr := pa.Terminate(); terr != nil && err == nil {
		err = fmt.Errorf("portaudio: terminate: %w", terr)
	}
	return err
}
