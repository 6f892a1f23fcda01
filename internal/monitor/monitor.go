// Package monitor streams an Opus-encoded copy of the engine output to
// websocket listeners, so a headless generator can still be heard.
//
// A [Streamer] consumes PCM blocks from an [audio.Tap], converts them to
// 48 kHz stereo, encodes 20 ms Opus packets and fans them out to every
// connected listener. Listeners that fall behind lose packets; they never
// slow down the encoder or the audio goroutine.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrWong99/siggen/internal/observe"
	"github.com/MrWong99/siggen/pkg/audio"
)

// Opus stream format: 48 kHz stereo at 20 ms per packet.
const (
	SampleRate  = 48000
	Channels    = 2
	frameSizeMs = 20
	// FrameSize is the number of samples per channel per packet.
	FrameSize = SampleRate * frameSizeMs / 1000 // 960

	// maxPacketBytes bounds one encoded packet.
	maxPacketBytes = 4000

	// listenerBuffer is how many packets may queue per listener (1 s).
	listenerBuffer = 50

	writeTimeout = 5 * time.Second

	// DefaultBitrate is the encoder bitrate in bits per second.
	DefaultBitrate = 64000
)

// Encoder turns one packet worth of interleaved PCM into Opus.
// *gopus.Encoder satisfies it.
type Encoder interface {
	Encode(pcm []int16, frameSize, maxDataBytes int) ([]byte, error)
}

// Source publishes rendered blocks. [*audio.Tap] satisfies it.
type Source interface {
	Frames() <-chan audio.AudioFrame
	SetEnabled(on bool)
}

// NewOpusEncoder creates a gopus encoder for the stream format.
func NewOpusEncoder(bitrate int) (*gopus.Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("monitor: create opus encoder: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return enc, nil
}

type listener struct {
	ch      chan []byte
	dropped int
}

// Streamer fans encoded output out to websocket listeners.
type Streamer struct {
	src     Source
	enc     Encoder
	bitrate int
	metrics *observe.Metrics
	log     *slog.Logger

	// Owned by the Run goroutine.
	conv audio.FormatConverter
	pcm  []int16

	mu        sync.Mutex
	listeners map[*listener]struct{}
}

// Option configures a [Streamer].
type Option func(*Streamer)

// WithEncoder replaces the default gopus encoder.
func WithEncoder(e Encoder) Option {
	return func(s *Streamer) { s.enc = e }
}

// WithBitrate sets the bitrate of the default encoder. Default: [DefaultBitrate].
func WithBitrate(bps int) Option {
	return func(s *Streamer) { s.bitrate = bps }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Streamer) { s.log = l }
}

// New creates a [Streamer] reading from src. Publishing on src is switched
// on only while at least one listener is connected.
func New(src Source, opts ...Option) (*Streamer, error) {
	s := &Streamer{
		src:       src,
		bitrate:   DefaultBitrate,
		conv:      audio.FormatConverter{Target: audio.Format{SampleRate: SampleRate, Channels: Channels}},
		pcm:       make([]int16, 0, 2*FrameSize*Channels),
		listeners: make(map[*listener]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.enc == nil {
		enc, err := NewOpusEncoder(s.bitrate)
		if err != nil {
			return nil, err
		}
		s.enc = enc
	}
	return s, nil
}

// Run encodes blocks from the source until ctx is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	frames := s.src.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			s.push(ctx, f)
		}
	}
}

// push converts one block and emits every complete packet it finishes.
func (s *Streamer) push(ctx context.Context, f audio.AudioFrame) {
	f = s.conv.Convert(f)
	if len(f.Data) == 0 {
		return
	}
	for i := 0; i+1 < len(f.Data); i += 2 {
		s.pcm = append(s.pcm, int16(f.Data[i])|int16(f.Data[i+1])<<8)
	}

	const n = FrameSize * Channels
	for len(s.pcm) >= n {
		pkt, err := s.enc.Encode(s.pcm[:n], FrameSize, maxPacketBytes)
		s.pcm = s.pcm[:copy(s.pcm, s.pcm[n:])]
		if err != nil {
			s.log.Warn("monitor: opus encode failed", "err", err)
			continue
		}
		s.broadcast(ctx, pkt)
	}
}

func (s *Streamer) broadcast(ctx context.Context, pkt []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return
	}
	// Encoders may reuse their output buffer.
	pkt = append([]byte(nil), pkt...)
	sent := 0
	for l := range s.listeners {
		select {
		case l.ch <- pkt:
			sent++
		default:
			l.dropped++
		}
	}
	s.metrics.MonitorPackets.Add(ctx, int64(sent))
}

func (s *Streamer) add(ctx context.Context, l *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l] = struct{}{}
	if len(s.listeners) == 1 {
		s.src.SetEnabled(true)
	}
	s.metrics.MonitorListeners.Add(ctx, 1)
}

func (s *Streamer) remove(ctx context.Context, l *listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, l)
	if len(s.listeners) == 0 {
		s.src.SetEnabled(false)
	}
	s.metrics.MonitorListeners.Add(ctx, -1)
	return l.dropped
}

// Listeners returns the number of connected listeners.
func (s *Streamer) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Register adds the listen route to mux.
func (s *Streamer) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/listen", s)
}

// ServeHTTP upgrades the request and writes one binary message per Opus
// packet until the client disconnects.
func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("monitor: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Listeners send nothing; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	l := &listener{ch: make(chan []byte, listenerBuffer)}
	s.add(ctx, l)
	s.log.Info("monitor: listener connected", "remote", r.RemoteAddr)
	defer func() {
		dropped := s.remove(context.WithoutCancel(ctx), l)
		s.log.Info("monitor: listener disconnected", "remote", r.RemoteAddr, "dropped_packets", dropped)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case pkt := <-l.ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageBinary, pkt)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
