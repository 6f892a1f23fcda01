// Package app wires all siggen subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the engine and the
// control surface, Run starts audio output and serves HTTP until the context
// is cancelled, and Shutdown tears everything down in order.
//
// The audio backend is created by main.go from the backend registry and
// passed in, so tests can run the whole application on the headless backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/siggen/internal/config"
	"github.com/MrWong99/siggen/internal/control"
	"github.com/MrWong99/siggen/internal/health"
	"github.com/MrWong99/siggen/internal/monitor"
	"github.com/MrWong99/siggen/internal/observe"
	"github.com/MrWong99/siggen/pkg/audio"
	"github.com/MrWong99/siggen/pkg/synth"
)

const (
	// tapDepth is how many rendered blocks may wait for the monitor.
	tapDepth = 8

	// renderStall is how long rendering may stop before /readyz fails.
	renderStall = 2 * time.Second

	// httpShutdownTimeout bounds draining of in-flight HTTP requests.
	httpShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	backend audio.Backend
	log     *slog.Logger

	// Subsystems, initialised in New.
	engine  *synth.Engine
	tap     *audio.Tap
	control *control.Server
	monitor *monitor.Streamer
	health  *health.Handler
	server  *http.Server

	metrics        *observe.Metrics
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	configPath     string
	watchInterval  time.Duration

	started atomic.Bool
	ready   chan struct{}
	addr    atomic.Pointer[string]

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMeterProvider sets the provider engine statistics are registered
// with. Default: the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *App) { a.meterProvider = mp }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the logger that
// was built around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithConfigWatch polls path while running and applies hot-reloadable
// changes. A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App rendering cfg's voices through backend. cfg must have
// passed [config.Validate].
func New(ctx context.Context, cfg *config.Config, backend audio.Backend, opts ...Option) (*App, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("app: audio backend is required")
	}
	a := &App{
		cfg:     cfg,
		backend: backend,
		ready:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.meterProvider == nil {
		a.meterProvider = otel.GetMeterProvider()
	}

	// ── 1. Engine ────────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 2. Metrics ───────────────────────────────────────────────────────
	reg, err := observe.RegisterEngineStats(a.meterProvider, a.engine)
	if err != nil {
		return nil, fmt.Errorf("app: register engine stats: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)

	// ── 3. Control surface and monitor ───────────────────────────────────
	a.control = control.New(a.engine, control.WithMetrics(a.metrics), control.WithLogger(a.log))
	if cfg.Monitor.Enabled {
		a.monitor, err = monitor.New(a.tap,
			monitor.WithBitrate(cfg.Monitor.Bitrate),
			monitor.WithMetrics(a.metrics),
			monitor.WithLogger(a.log),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init monitor: %w", err)
		}
	}

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Checker{Name: "backend", Check: a.checkBackend},
		health.Progress("render", func() uint64 { return a.engine.Stats().Blocks }, renderStall),
	)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(a.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// initEngine builds the engine and aligns it with the backend's real rate.
func (a *App) initEngine() error {
	specs, err := a.cfg.VoiceSpecs()
	if err != nil {
		return err
	}
	opts := append(a.cfg.EngineOptions(), synth.WithLogger(a.log))
	eng, err := synth.NewEngine(specs, opts...)
	if err != nil {
		return err
	}

	format := a.backend.Format()
	if format.SampleRate != a.cfg.Audio.SampleRate {
		a.log.Warn("audio backend overrides sample rate",
			"configured", a.cfg.Audio.SampleRate,
			"device", format.SampleRate,
		)
		if err := eng.SetOutputSampleRate(float64(format.SampleRate)); err != nil {
			return err
		}
		// Rendering has not started; apply now so the first block is right.
		eng.Flush()
	}

	a.engine = eng
	a.tap = audio.NewTap(eng, format.SampleRate, tapDepth)
	return nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.control.Register(mux)
	if a.monitor != nil {
		a.monitor.Register(mux)
	}
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return mux
}

func (a *App) checkBackend(context.Context) error {
	if !a.started.Load() {
		return fmt.Errorf("%s backend not started", a.backend.Name())
	}
	return nil
}

// Engine returns the synth engine.
func (a *App) Engine() *synth.Engine { return a.engine }

// Ready is closed once Run is listening for HTTP requests.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the address the HTTP server listens on, or "" before Ready.
func (a *App) Addr() string {
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts audio output and serves the HTTP API until ctx is cancelled or
// a subsystem fails. It returns ctx's error on a regular stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := a.backend.Start(gctx, a.tap); err != nil {
		ln.Close()
		return fmt.Errorf("app: start %s backend: %w", a.backend.Name(), err)
	}
	a.started.Store(true)

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		wopts = append(wopts, config.WithWatcherLogger(a.log))
		w, err := config.NewWatcher(a.configPath, func(old, new *config.Config) {
			a.ApplyConfig(gctx, old, new)
		}, wopts...)
		if err != nil {
			a.log.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			defer w.Stop()
		}
	}

	// Websocket handlers outlive Server.Shutdown; tie them to the run.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	if a.monitor != nil {
		g.Go(func() error { return a.monitor.Run(gctx) })
	}

	addr := ln.Addr().String()
	a.addr.Store(&addr)
	close(a.ready)
	a.log.Info("app running",
		"addr", addr,
		"backend", a.backend.Name(),
		"format", a.backend.Format().String(),
		"voices", a.engine.Len(),
		"monitor", a.monitor != nil,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new
// through the control surface, so reloads are logged and counted like any
// other command. Changes that need a restart are only logged.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, key := range d.RestartRequired {
		a.log.Warn("config change requires restart", "setting", key)
	}

	for _, vd := range d.Voices {
		for _, cmd := range voiceCommands(vd) {
			if err := a.control.Execute(ctx, cmd); err != nil && !synth.IsUsage(err) {
				a.log.Warn("config reload command failed", "op", cmd.Op, "voice", cmd.Voice, "err", err)
			}
		}
	}
}

// voiceCommands translates one voice diff into control commands. Role goes
// first so that a frequency change lands on the voice's new role.
func voiceCommands(vd config.VoiceDiff) []control.Command {
	var cmds []control.Command
	v := vd.New
	if vd.RoleChanged {
		if v.Role == "talker" {
			cmds = append(cmds, control.Command{Op: control.OpBecomeTalker, Voice: vd.ID})
		} else {
			cmds = append(cmds, control.Command{
				Op:     control.OpSetSyncState,
				Voice:  vd.ID,
				Synced: v.Role == "listener",
			})
		}
	}
	if vd.MultiplierChanged {
		m := v.Multiplier
		if m == 0 {
			m = 1
		}
		cmds = append(cmds, control.Command{Op: control.OpSetMultiplier, Voice: vd.ID, Value: m})
	}
	if vd.FrequencyChanged && v.Role != "listener" {
		hz := v.Frequency
		if hz == 0 {
			hz = synth.DefaultFrequency
		}
		cmds = append(cmds, control.Command{Op: control.OpSetFrequency, Voice: vd.ID, Value: hz})
	}
	if vd.AmplitudeChanged {
		cmds = append(cmds, control.Command{Op: control.OpSetAmplitude, Voice: vd.ID, Value: v.Amplitude})
	}
	if vd.MutedChanged {
		cmds = append(cmds, control.Command{Op: control.OpMute, Voice: vd.ID, Muted: v.Muted})
	}
	return cmds
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops audio output and releases all subsystems. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Stop audio first.
		a.tap.SetEnabled(false)
		if err := a.backend.Close(); err != nil {
			a.log.Warn("audio backend close error", "err", err)
		}
		a.started.Store(false)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		st := a.engine.Stats()
		a.log.Info("shutdown complete",
			"blocks", st.Blocks,
			"overruns", st.Overruns,
			"queue_rejections", st.QueueRejections,
		)
	})
	return shutdownErr
}
