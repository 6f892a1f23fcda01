// Package headless provides an [audio.Backend] without an output device. It
// drives a renderer from a timer at the configured rate, or as fast as
// possible, and optionally hands each block to a sink.
package headless

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/siggen/pkg/audio"
)

// Name is the registry name of the backend.
const Name = "headless"

// Option configures a [Backend].
type Option func(*Backend)

// WithSink sets a function that receives every rendered block. The slice is
// reused for the next block.
func WithSink(fn func(block []float32)) Option {
	return func(b *Backend) { b.sink = fn }
}

// WithRealtime paces rendering at the stream's sample rate (the default).
// With false blocks are rendered back to back.
func WithRealtime(on bool) Option {
	return func(b *Backend) { b.realtime = on }
}

// Backend renders blocks on its own goroutine.
type Backend struct {
	format   audio.Format
	block    int
	sink     func([]float32)
	realtime bool

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

var _ audio.Backend = (*Backend)(nil)

// New returns a backend producing blocks of blockFrames frames in format.
func New(format audio.Format, blockFrames int, opts ...Option) (*Backend, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if blockFrames <= 0 {
		return nil, errors.New("headless: block size must be > 0")
	}
	b := &Backend{
		format:   format,
		block:    blockFrames,
		realtime: true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
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
	if b.started {
		return errors.New("headless: already started")
	}
	b.started = true
	go b.run(r)
	return nil
}

func (b *Backend) run(r audio.Renderer) {
	defer close(b.done)

	buf := make([]float32, b.block*b.format.Channels)
	var tick <-chan time.Time
	if b.realtime {
		period := time.Duration(b.block) * time.Second / time.Duration(b.format.SampleRate)
		t := time.NewTicker(period)
		defer t.Stop()
		tick = t.C
	}

	for {
		if tick != nil {
			select {
			case <-b.stop:
				return
			case <-tick:
			}
		} else {
			select {
			case <-b.stop:
				return
			default:
			}
		}
		r.Render(buf, b.format.Channels)
		if b.sink != nil {
			b.sink(buf)
		}
	}
}

// Close implements [audio.Backend]. It waits for the render goroutine to
// exit.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	close(b.stop)
	b.mu.Unlock()

	if started {
		<-b.done
	}
	return nil
}
