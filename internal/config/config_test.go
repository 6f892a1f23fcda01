package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/siggen/internal/config"
	"github.com/MrWong99/siggen/pkg/audio"
	"github.com/MrWong99/siggen/pkg/audio/headless"
	"github.com/MrWong99/siggen/pkg/synth"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
audio:
  backend: headless
  sample_rate: 44100
  block_size: 256
  channels: 1
engine:
  ramp_length: 512
  fallback_talker_frequency: 261.63
  noise_seed: 7
monitor:
  enabled: true
  bitrate: 32000
voices:
  - name: Hiss
    kind: noise
    amplitude: 0.05
    muted: true
  - name: Root
    kind: sine
    amplitude: 0.2
    frequency: 110
    role: talker
  - name: Octave
    kind: wavetable
    amplitude: 0.1
    role: listener
    multiplier: 2
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 1 {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if cfg.Audio.QueueCapacity != config.DefaultQueueCapacity {
		t.Errorf("queue_capacity default: got %d", cfg.Audio.QueueCapacity)
	}
	if cfg.Engine.WavetableSize != synth.DefaultTableSize {
		t.Errorf("wavetable_size default: got %d", cfg.Engine.WavetableSize)
	}
	if len(cfg.Voices) != 3 {
		t.Fatalf("voices: got %d, want 3", len(cfg.Voices))
	}

	specs, err := cfg.VoiceSpecs()
	if err != nil {
		t.Fatalf("VoiceSpecs: %v", err)
	}
	if specs[0].Kind != synth.KindNoise || !specs[0].Muted {
		t.Errorf("voice 0: got %+v", specs[0])
	}
	if specs[1].Role != synth.RoleTalker || specs[1].Frequency != 110 {
		t.Errorf("voice 1: got %+v", specs[1])
	}
	if specs[2].Role != synth.RoleListener || specs[2].Multiplier != 2 {
		t.Errorf("voice 2: got %+v", specs[2])
	}

	e, err := synth.NewEngine(specs, cfg.EngineOptions()...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if hz, _ := e.EffectiveFrequency(2); hz != 220 {
		t.Errorf("listener frequency: got %v, want 220", hz)
	}
	if hz, ok := e.TalkerFrequency(9); ok || hz != 261.63 {
		t.Errorf("fallback: got %v, %v", hz, ok)
	}
}

func TestLoadFromReader_EmptyIsDefault(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should be valid, got: %v", err)
	}
	if cfg.Audio.Backend != config.DefaultBackend || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Voices) != synth.DefaultPeriodicVoices+1 {
		t.Fatalf("default voices: got %d", len(cfg.Voices))
	}
	if cfg.Voices[0].Kind != "noise" || !cfg.Voices[0].Muted {
		t.Errorf("default voice 0: got %+v", cfg.Voices[0])
	}
	if cfg.Voices[1].Role != "talker" {
		t.Errorf("default voice 1 role: got %q", cfg.Voices[1].Role)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "zero channels",
			mutate:  func(c *config.Config) { c.Audio.Channels = 0 },
			wantErr: "audio.channels",
		},
		{
			name:    "ramp length mismatch",
			mutate:  func(c *config.Config) { c.Engine.RampLength = 256 },
			wantErr: "engine.ramp_length",
		},
		{
			name:    "tiny wavetable",
			mutate:  func(c *config.Config) { c.Engine.WavetableSize = 1 },
			wantErr: "engine.wavetable_size",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *config.Config) { c.Voices[1].Kind = "triangle" },
			wantErr: "voices[1].kind",
		},
		{
			name:    "unknown role",
			mutate:  func(c *config.Config) { c.Voices[1].Role = "leader" },
			wantErr: "voices[1].role",
		},
		{
			name:    "noise talker",
			mutate:  func(c *config.Config) { c.Voices[0].Role = "talker" },
			wantErr: "noise voices cannot take sync role",
		},
		{
			name:    "negative amplitude",
			mutate:  func(c *config.Config) { c.Voices[2].Amplitude = -1 },
			wantErr: "voices[2].amplitude",
		},
		{
			name:    "frequency above limit",
			mutate:  func(c *config.Config) { c.Voices[1].Frequency = synth.MaxFrequency * 2 },
			wantErr: "voices[1].frequency",
		},
		{
			name:    "sample rate above limit",
			mutate:  func(c *config.Config) { c.Audio.SampleRate = 2_000_000 },
			wantErr: "audio.sample_rate",
		},
		{
			name:    "duplicate name",
			mutate:  func(c *config.Config) { c.Voices[2].Name = c.Voices[1].Name },
			wantErr: "duplicate of voices[1]",
		},
		{
			name:    "monitor bitrate",
			mutate:  func(c *config.Config) { c.Monitor.Enabled = true; c.Monitor.Bitrate = 100 },
			wantErr: "monitor.bitrate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.Audio.SampleRate = -1
	cfg.Voices[3].Multiplier = -2

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "audio.sample_rate", "voices[3].multiplier"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestRegistry_UnknownBackend(t *testing.T) {
	r := config.NewRegistry()
	_, err := r.CreateBackend(config.AudioConfig{Backend: "alsa"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_RegisteredBackend(t *testing.T) {
	r := config.NewRegistry()
	r.RegisterBackend(headless.Name, func(c config.AudioConfig) (audio.Backend, error) {
		return headless.New(audio.Format{SampleRate: c.SampleRate, Channels: c.Channels}, c.BlockSize)
	})

	b, err := r.CreateBackend(config.Default().Audio.WithBackend(headless.Name))
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer b.Close()
	if b.Name() != headless.Name {
		t.Errorf("Name: got %q", b.Name())
	}
	if got := r.Backends(); len(got) != 1 || got[0] != headless.Name {
		t.Errorf("Backends: got %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	r := config.NewRegistry()
	boom := errors.New("no device")
	r.RegisterBackend("broken", func(config.AudioConfig) (audio.Backend, error) { return nil, boom })
	if _, err := r.CreateBackend(config.AudioConfig{Backend: "broken"}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestLogLevel_Level(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
