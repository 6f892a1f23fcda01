package audio

import (
	"sync/atomic"
	"time"
)

// Tap is a [Renderer] that forwards to another renderer and publishes a PCM16
// copy of every rendered block on a channel, for consumers that run off the
// audio goroutine such as the monitor stream.
//
// Render never blocks: when the consumer falls behind, blocks are dropped and
// counted. Frames are backed by a ring of reused buffers; a received frame's
// Data stays valid until the consumer's next receive.
type Tap struct {
	next    Renderer
	out     chan AudioFrame
	ring    [][]byte
	slot    int
	pos     int64 // frames rendered since start
	rate    atomic.Int64
	enabled atomic.Bool
	dropped atomic.Uint64
}

// NewTap wraps next. depth is the number of blocks that may be queued for
// the consumer.
func NewTap(next Renderer, sampleRate, depth int) *Tap {
	if depth < 1 {
		depth = 1
	}
	t := &Tap{
		next: next,
		out:  make(chan AudioFrame, depth),
		ring: make([][]byte, depth+2),
	}
	t.rate.Store(int64(sampleRate))
	return t
}

// Render renders into out and, while enabled, publishes a copy.
func (t *Tap) Render(out []float32, channels int) {
	t.next.Render(out, channels)
	if channels <= 0 {
		channels = 1
	}
	frames := len(out) / channels
	start := t.pos
	t.pos += int64(frames)

	if !t.enabled.Load() || frames == 0 {
		return
	}
	// Single producer: the queue can only shrink between this check and the
	// send below, so the ring slot written next is never one still queued.
	if len(t.out) == cap(t.out) {
		t.dropped.Add(1)
		return
	}
	rate := t.rate.Load()
	buf := Float32ToPCM16(t.ring[t.slot], out[:frames*channels])
	t.ring[t.slot] = buf
	t.slot = (t.slot + 1) % len(t.ring)

	t.out <- AudioFrame{
		Data:       buf,
		SampleRate: int(rate),
		Channels:   channels,
		Timestamp:  framesToDuration(start, max(rate, 1)),
	}
}

// framesToDuration converts a frame position to stream time without
// overflowing for positions beyond a few billion frames.
func framesToDuration(frames, rate int64) time.Duration {
	return time.Duration(frames/rate)*time.Second +
		time.Duration(frames%rate)*time.Second/time.Duration(rate)
}

// Frames returns the channel blocks are published on. It is never closed.
func (t *Tap) Frames() <-chan AudioFrame { return t.out }

// SetEnabled turns publishing on or off. While disabled Render only forwards.
func (t *Tap) SetEnabled(on bool) { t.enabled.Store(on) }

// Enabled reports whether blocks are being published.
func (t *Tap) Enabled() bool { return t.enabled.Load() }

// SetSampleRate sets the rate stamped on published frames.
func (t *Tap) SetSampleRate(hz int) { t.rate.Store(int64(hz)) }

// Dropped returns how many blocks were discarded because the consumer was
// behind.
func (t *Tap) Dropped() uint64 { return t.dropped.Load() }
