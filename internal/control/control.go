// Package control is the external control surface of siggen. It translates
// JSON commands arriving over HTTP or a websocket into [synth.Engine] calls,
// and reports outcomes as metrics and structured logs.
//
// Every transport funnels into [Server.Execute], so a command behaves the
// same whichever way it arrives.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/siggen/internal/observe"
	"github.com/MrWong99/siggen/pkg/synth"
)

// Engine is the subset of [synth.Engine] the control surface drives.
type Engine interface {
	SetAmplitude(id synth.VoiceID, level float64) error
	Mute(id synth.VoiceID, state bool) error
	SetFrequency(id synth.VoiceID, hz float64) error
	SetSampleRate(id synth.VoiceID, hz float64) error
	SetOutputSampleRate(hz float64) error
	BecomeTalker(id synth.VoiceID) error
	SetSyncState(id synth.VoiceID, isTalker, isSynced bool) error
	SetRelativeMultiplier(id synth.VoiceID, m float64) error
	ResyncListener(id synth.VoiceID) error

	Voices() []synth.VoiceInfo
	Voice(id synth.VoiceID) (synth.VoiceInfo, bool)
	EffectiveFrequency(id synth.VoiceID) (float64, error)
	TalkerFrequency(group int) (float64, bool)
}

var _ Engine = (*synth.Engine)(nil)

// Command operations.
const (
	OpSetAmplitude        = "set_amplitude"
	OpMute                = "mute"
	OpSetFrequency        = "set_frequency"
	OpSetSampleRate       = "set_sample_rate"
	OpSetOutputSampleRate = "set_output_sample_rate"
	OpBecomeTalker        = "become_talker"
	OpSetSyncState        = "set_sync_state"
	OpSetMultiplier       = "set_multiplier"
	OpResync              = "resync"
)

// ErrUnknownOp is returned for commands with an unrecognised op.
var ErrUnknownOp = errors.New("control: unknown op")

// Command is one control instruction. Fields that an op does not use are
// ignored.
type Command struct {
	Op    string  `json:"op"`
	Voice int     `json:"voice"`
	Value float64 `json:"value,omitempty"`

	// Muted is the target state for [OpMute].
	Muted bool `json:"muted,omitempty"`

	// Talker and Synced are the flags for [OpSetSyncState].
	Talker bool `json:"talker,omitempty"`
	Synced bool `json:"synced,omitempty"`
}

// Server executes commands against an [Engine]. It is safe for concurrent
// use.
type Server struct {
	eng     Engine
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a [Server] driving eng.
func New(eng Engine, opts ...Option) *Server {
	s := &Server{eng: eng}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Execute runs cmd. Usage errors are logged at warn level and returned like
// any other failure; the engine state is unchanged when an error is returned.
func (s *Server) Execute(ctx context.Context, cmd Command) error {
	ctx, span := observe.StartSpan(ctx, "control "+cmd.Op)
	defer span.End()

	start := time.Now()
	err := s.dispatch(cmd)
	status, _ := classify(err)
	s.metrics.RecordCommand(ctx, cmd.Op, status, time.Since(start))

	log := observe.Logger(ctx, s.log)
	switch status {
	case observe.StatusOK:
		log.DebugContext(ctx, "control command applied", "op", cmd.Op, "voice", cmd.Voice)
	case observe.StatusUsage:
		log.WarnContext(ctx, "control usage warning", "op", cmd.Op, "voice", cmd.Voice, "err", err)
	default:
		span.RecordError(err)
	}
	return err
}

func (s *Server) dispatch(cmd Command) error {
	id := synth.VoiceID(cmd.Voice)
	switch cmd.Op {
	case OpSetAmplitude:
		return s.eng.SetAmplitude(id, cmd.Value)
	case OpMute:
		return s.eng.Mute(id, cmd.Muted)
	case OpSetFrequency:
		return s.eng.SetFrequency(id, cmd.Value)
	case OpSetSampleRate:
		return s.eng.SetSampleRate(id, cmd.Value)
	case OpSetOutputSampleRate:
		return s.eng.SetOutputSampleRate(cmd.Value)
	case OpBecomeTalker:
		return s.eng.BecomeTalker(id)
	case OpSetSyncState:
		return s.eng.SetSyncState(id, cmd.Talker, cmd.Synced)
	case OpSetMultiplier:
		return s.eng.SetRelativeMultiplier(id, cmd.Value)
	case OpResync:
		return s.eng.ResyncListener(id)
	default:
		return fmt.Errorf("%w %q", ErrUnknownOp, cmd.Op)
	}
}

// classify maps a command error to a metric status and HTTP status code.
func classify(err error) (string, int) {
	switch {
	case err == nil:
		return observe.StatusOK, http.StatusOK
	case errors.Is(err, synth.ErrUnknownVoice):
		return observe.StatusNotFound, http.StatusNotFound
	case synth.IsUsage(err), errors.Is(err, synth.ErrNoFrequency):
		return observe.StatusUsage, http.StatusConflict
	case errors.Is(err, synth.ErrQueueFull):
		return observe.StatusQueueFull, http.StatusServiceUnavailable
	default:
		return observe.StatusInvalid, http.StatusBadRequest
	}
}

// VoiceView is the JSON representation of a voice snapshot.
type VoiceView struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Group      int     `json:"group"`
	Role       string  `json:"role"`
	Amplitude  float64 `json:"amplitude"`
	Muted      bool    `json:"muted"`
	Frequency  float64 `json:"frequency,omitempty"`
	Multiplier float64 `json:"multiplier"`
	SampleRate float64 `json:"sample_rate"`
}

func viewOf(v synth.VoiceInfo) VoiceView {
	return VoiceView{
		ID:         int(v.ID),
		Name:       v.Name,
		Kind:       v.Kind.String(),
		Group:      v.Group,
		Role:       v.Role.String(),
		Amplitude:  v.Level,
		Muted:      v.Muted,
		Frequency:  v.Frequency,
		Multiplier: v.Multiplier,
		SampleRate: v.SampleRate,
	}
}

func viewsOf(vs []synth.VoiceInfo) []VoiceView {
	out := make([]VoiceView, len(vs))
	for i, v := range vs {
		out[i] = viewOf(v)
	}
	return out
}
