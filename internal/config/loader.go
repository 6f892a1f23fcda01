package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/siggen/pkg/synth"
)

// ValidBackends lists the audio backend names siggen ships with.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackends = []string{"oto", "portaudio", "headless"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.Backend == "" {
		errs = append(errs, errors.New("audio.backend is required"))
	} else if !slices.Contains(ValidBackends, a.Backend) {
		slog.Warn("unknown audio backend; may be a typo or an out-of-tree backend",
			"name", a.Backend,
			"known", ValidBackends,
		)
	}
	if float64(a.SampleRate) < synth.MinSampleRate || float64(a.SampleRate) > synth.MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [%g, %g]", a.SampleRate, synth.MinSampleRate, synth.MaxSampleRate))
	}
	if a.BlockSize <= 0 || a.BlockSize > 16384 {
		errs = append(errs, fmt.Errorf("audio.block_size %d is out of range [1, 16384]", a.BlockSize))
	}
	if a.Channels < 1 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 8]", a.Channels))
	}
	if a.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be > 0", a.QueueCapacity))
	}

	// Engine
	e := cfg.Engine
	if e.RampLength != 0 && e.RampLength != synth.RampLength {
		errs = append(errs, fmt.Errorf("engine.ramp_length %d is fixed at %d", e.RampLength, synth.RampLength))
	}
	if !positiveFinite(e.FallbackTalkerFrequency) {
		errs = append(errs, fmt.Errorf("engine.fallback_talker_frequency %v must be a positive number", e.FallbackTalkerFrequency))
	}
	if e.WavetableSize < 2 {
		errs = append(errs, fmt.Errorf("engine.wavetable_size %d must be >= 2", e.WavetableSize))
	}

	// Monitor
	if cfg.Monitor.Enabled && (cfg.Monitor.Bitrate < 6000 || cfg.Monitor.Bitrate > 510000) {
		errs = append(errs, fmt.Errorf("monitor.bitrate %d is out of range [6000, 510000]", cfg.Monitor.Bitrate))
	}

	// Voices
	namesSeen := make(map[string]int, len(cfg.Voices))
	talkers := make(map[int]int)
	for i, v := range cfg.Voices {
		prefix := fmt.Sprintf("voices[%d]", i)
		if v.Name != "" {
			if prev, ok := namesSeen[v.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of voices[%d]", prefix, v.Name, prev))
			}
			namesSeen[v.Name] = i
		}
		kind, kerr := synth.ParseKind(v.Kind)
		if kerr != nil {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: noise, sine, square, wavetable", prefix, v.Kind))
		}
		role, rerr := synth.ParseRole(v.Role)
		if rerr != nil {
			errs = append(errs, fmt.Errorf("%s.role %q is invalid; valid values: talker, listener, unsynced", prefix, v.Role))
		}
		if kerr == nil && rerr == nil && kind == synth.KindNoise && role != synth.RoleUnsynced {
			errs = append(errs, fmt.Errorf("%s: noise voices cannot take sync role %q", prefix, v.Role))
		}
		if !nonNegativeFinite(v.Amplitude) {
			errs = append(errs, fmt.Errorf("%s.amplitude %v must be a non-negative number", prefix, v.Amplitude))
		}
		if !nonNegativeFinite(v.Frequency) || v.Frequency > synth.MaxFrequency {
			errs = append(errs, fmt.Errorf("%s.frequency %v must be a number in [0, %g]", prefix, v.Frequency, synth.MaxFrequency))
		}
		if !nonNegativeFinite(v.Multiplier) {
			errs = append(errs, fmt.Errorf("%s.multiplier %v must be a non-negative number", prefix, v.Multiplier))
		}
		if v.Frequency > float64(a.SampleRate)/2 && a.SampleRate > 0 {
			slog.Warn("voice frequency above Nyquist will alias",
				"voice", i,
				"frequency", v.Frequency,
				"sample_rate", a.SampleRate,
			)
		}
		if role == synth.RoleTalker {
			if prev, ok := talkers[v.Group]; ok {
				slog.Warn("several talkers configured for one sync group; the last one wins",
					"group", v.Group,
					"voice", i,
					"previous", prev,
				)
			}
			talkers[v.Group] = i
		}
	}
	for i, v := range cfg.Voices {
		if v.Role == synth.RoleListener.String() {
			if _, ok := talkers[v.Group]; !ok {
				slog.Warn("listener has no talker in its group; it follows the fallback frequency",
					"voice", i,
					"group", v.Group,
					"fallback", e.FallbackTalkerFrequency,
				)
			}
		}
	}

	return errors.Join(errs...)
}

func nonNegativeFinite(x float64) bool {
	return x >= 0 && !math.IsInf(x, 0)
}

func positiveFinite(x float64) bool {
	return x > 0 && !math.IsInf(x, 0)
}
