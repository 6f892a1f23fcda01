// Command siggen is the main entry point for the siggen multi-voice signal
// generator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/siggen/internal/app"
	"github.com/MrWong99/siggen/internal/config"
	"github.com/MrWong99/siggen/internal/observe"
	"github.com/MrWong99/siggen/pkg/audio"
	"github.com/MrWong99/siggen/pkg/audio/headless"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	backendName := flag.String("backend", "", "override audio.backend from the config file")
	watch := flag.Bool("watch", true, "hot-reload voice parameters and log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "siggen: %v\n", err)
		return 1
	}
	if *backendName != "" {
		cfg.Audio = cfg.Audio.WithBackend(*backendName)
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "siggen: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("siggen starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"backend", cfg.Audio.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio backend ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, err := reg.CreateBackend(cfg.Audio)
	if err != nil {
		slog.Error("failed to open audio backend", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}
	slog.Info("audio backend opened", "backend", backend.Name(), "format", backend.Format().String())

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(&level),
		app.WithMeterProvider(provider.MeterProvider),
		app.WithMetricsHandler(provider.MetricsHandler),
	}
	if *watch && fileExists(*configPath) {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}

	application, err := app.New(ctx, cfg, backend, opts...)
	if err != nil {
		_ = backend.Close()
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads path, falling back to the built-in defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !flagSet("config") {
		fmt.Fprintf(os.Stderr, "siggen: %s not found, using built-in defaults\n", path)
		return config.Default(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return nil, err
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backends compiled into this binary.
// Device backends are added by build-tagged files.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend(headless.Name, func(c config.AudioConfig) (audio.Backend, error) {
		return headless.New(audioFormat(c), c.BlockSize)
	})
	for _, register := range deviceBackends {
		register(reg)
	}
	for _, name := range reg.Backends() {
		slog.Debug("registered audio backend", "name", name)
	}
}

// deviceBackends is appended to by build-tagged files.
var deviceBackends []func(*config.Registry)

func audioFormat(c config.AudioConfig) audio.Format {
	return audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}
}
