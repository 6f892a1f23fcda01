// Package config provides the configuration schema, loader, hot-reload
// watcher and backend registry for siggen.
package config

import (
	"log/slog"

	"github.com/MrWong99/siggen/pkg/synth"
)

// LogLevel controls log verbosity for the siggen server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for siggen.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	Monitor MonitorConfig `yaml:"monitor"`
	Voices  []VoiceConfig `yaml:"voices"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects and parameterises the output backend. Changes require
// a restart.
type AudioConfig struct {
	// Backend is the registered backend name: "oto", "portaudio" or
	// "headless".
	Backend string `yaml:"backend"`

	// SampleRate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of frames rendered per device callback.
	BlockSize int `yaml:"block_size"`

	// Channels is the output channel count. Every channel carries the same mix.
	Channels int `yaml:"channels"`

	// QueueCapacity bounds the control events pending between two blocks.
	QueueCapacity int `yaml:"queue_capacity"`
}

// EngineConfig tunes the synth engine.
type EngineConfig struct {
	// RampLength is informational; when set it must equal [synth.RampLength].
	RampLength int `yaml:"ramp_length"`

	// FallbackTalkerFrequency is reported for sync groups without a talker.
	FallbackTalkerFrequency float64 `yaml:"fallback_talker_frequency"`

	// WavetableSize is the resolution of the built-in sine wavetable.
	WavetableSize int `yaml:"wavetable_size"`

	// NoiseSeed seeds the noise voices deterministically.
	NoiseSeed uint64 `yaml:"noise_seed"`
}

// MonitorConfig configures the Opus listen stream.
type MonitorConfig struct {
	// Enabled exposes /v1/listen.
	Enabled bool `yaml:"enabled"`

	// Bitrate of the Opus encoder in bits per second.
	Bitrate int `yaml:"bitrate"`
}

// VoiceConfig describes one voice. The voice id is its index in the list.
type VoiceConfig struct {
	// Name is a display name.
	Name string `yaml:"name"`

	// Kind is one of noise, sine, square, wavetable.
	Kind string `yaml:"kind"`

	// Amplitude is the unmuted level.
	Amplitude float64 `yaml:"amplitude"`

	// Muted starts the voice muted.
	Muted bool `yaml:"muted"`

	// Frequency is the absolute frequency of talkers and unsynced voices.
	Frequency float64 `yaml:"frequency"`

	// Group is the sync group id.
	Group int `yaml:"group"`

	// Role is one of talker, listener, unsynced (default).
	Role string `yaml:"role"`

	// Multiplier is the listener frequency multiplier. Zero means 1.
	Multiplier float64 `yaml:"multiplier"`
}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultBackend       = "oto"
	DefaultSampleRate    = 48000
	DefaultBlockSize     = 512
	DefaultChannels      = 2
	DefaultQueueCapacity = 1024
	DefaultBitrate       = 64000
)

// ApplyDefaults fills zero fields of cfg. An empty voice list becomes
// [DefaultVoices].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultBackend
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.QueueCapacity == 0 {
		cfg.Audio.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Engine.FallbackTalkerFrequency == 0 {
		cfg.Engine.FallbackTalkerFrequency = synth.DefaultTalkerFrequency
	}
	if cfg.Engine.WavetableSize == 0 {
		cfg.Engine.WavetableSize = synth.DefaultTableSize
	}
	if cfg.Engine.NoiseSeed == 0 {
		cfg.Engine.NoiseSeed = 1
	}
	if cfg.Monitor.Bitrate == 0 {
		cfg.Monitor.Bitrate = DefaultBitrate
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = DefaultVoices()
	}
}

// DefaultVoices returns the stock voice bank in configuration form.
func DefaultVoices() []VoiceConfig {
	bank := synth.DefaultVoiceBank()
	out := make([]VoiceConfig, len(bank))
	for i, s := range bank {
		out[i] = VoiceConfig{
			Name:       s.Name,
			Kind:       s.Kind.String(),
			Amplitude:  s.Level,
			Muted:      s.Muted,
			Frequency:  s.Frequency,
			Group:      s.Group,
			Role:       s.Role.String(),
			Multiplier: s.Multiplier,
		}
	}
	return out
}

// VoiceSpecs converts the voice list to engine specs. cfg must have passed
// [Validate].
func (cfg *Config) VoiceSpecs() ([]synth.VoiceSpec, error) {
	specs := make([]synth.VoiceSpec, len(cfg.Voices))
	for i, v := range cfg.Voices {
		kind, err := synth.ParseKind(v.Kind)
		if err != nil {
			return nil, err
		}
		role, err := synth.ParseRole(v.Role)
		if err != nil {
			return nil, err
		}
		specs[i] = synth.VoiceSpec{
			Name:       v.Name,
			Kind:       kind,
			Level:      v.Amplitude,
			Muted:      v.Muted,
			Frequency:  v.Frequency,
			Group:      v.Group,
			Role:       role,
			Multiplier: v.Multiplier,
		}
	}
	return specs, nil
}

// EngineOptions returns the engine options derived from cfg.
func (cfg *Config) EngineOptions() []synth.Option {
	return []synth.Option{
		synth.WithSampleRate(float64(cfg.Audio.SampleRate)),
		synth.WithQueueCapacity(cfg.Audio.QueueCapacity),
		synth.WithTalkerFallback(cfg.Engine.FallbackTalkerFrequency),
		synth.WithNoiseSeed(cfg.Engine.NoiseSeed),
		synth.WithWavetable(synth.SineTable(cfg.Engine.WavetableSize)),
	}
}

// WithBackend returns a copy of a with Backend replaced.
func (a AudioConfig) WithBackend(name string) AudioConfig {
	a.Backend = name
	return a
}
