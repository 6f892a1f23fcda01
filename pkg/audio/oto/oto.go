//go:build !headless

// Package oto plays audio through the platform's default output device using
// github.com/ebitengine/oto/v3. Build with -tags headless to leave it out.
package oto

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/siggen/pkg/audio"
)

// Name is the registry name of the backend.
const Name = "oto"

// Backend feeds an oto player from a [audio.Renderer]. The player pulls
// float32 little-endian PCM through Read on oto's own goroutine.
type Backend struct {
	format audio.Format
	octx   *oto.Context

	renderer atomic.Pointer[rendererBox] // lock-free for Read
	buf      []float32                   // only touched by Read

	mu     sync.Mutex // setup and teardown only
	player *oto.Player
	closed bool
}

type rendererBox struct{ r audio.Renderer }

var _ audio.Backend = (*Backend)(nil)

// New opens the default output device. buffer is the device buffer length;
// zero lets oto pick its minimum. Only one oto context may exist per process.
func New(format audio.Format, buffer time.Duration) (*Backend, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: open device: %w", err)
	}
	<-ready

	return &Backend{
		format: format,
		octx:   octx,
		buf:    make([]float32, 4096),
	}, nil
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
	if b.player != nil {
		return fmt.Errorf("oto: already started")
	}

	b.renderer.Store(&rendererBox{r: r})
	b.player = b.octx.NewPlayer(b)
	b.player.Play()
	if err := b.player.Err(); err != nil {
		return fmt.Errorf("oto: start playback: %w", err)
	}
	return nil
}

// Read implements io.Reader for the oto player.
func (b *Backend) Read(p []byte) (int, error) {
	box := b.renderer.Load()
	ch := b.format.Channels
	frames := len(p) / (4 * ch)
	if box == nil || frames == 0 {
		clear(p)
		return len(p), nil
	}

	n := frames * ch
	if len(b.buf) < n {
		b.buf = make([]float32, n)
	}
	samples := b.buf[:n]
	box.r.Render(samples, ch)

	written := copy(p, unsafe.Slice((*byte)(unsafe.Pointer(&samples[0])), n*4))
	clear(p[written:])
	return len(p), nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.renderer.Store(nil)

	var err error
	if b.player != nil {
		err = b.player.Close()
		b.player = nil
	}
	if serr := b.octx.Suspend(); serr != nil && err == nil {
		err = serr
	}
	return err
}
