package synth

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueCapacity = 1024

// VoiceSpec describes a voice to create in [NewEngine].
type VoiceSpec struct {
	// Name is a display name. Empty names become "Voice <id>".
	Name string

	// Kind selects the waveform. It cannot change later.
	Kind Kind

	// Level is the unmuted amplitude the voice ramps to after start.
	Level float64

	// Muted starts the voice muted; Level is restored on unmute.
	Muted bool

	// Frequency is the absolute start frequency of periodic voices. Zero
	// selects [DefaultFrequency]. Listeners ignore it.
	Frequency float64

	// Group is the sync group id.
	Group int

	// Role is the initial sync role. When several talkers share a group the
	// last one wins.
	Role Role

	// Multiplier is the listener frequency multiplier. Zero selects 1.
	Multiplier float64

	// Table overrides the engine wavetable for wavetable voices.
	Table *Wavetable
}

// Option configures an [Engine].
type Option func(*engineOptions)

type engineOptions struct {
	sampleRate    float64
	queueCapacity int
	fallback      float64
	seed          uint64
	table         *Wavetable
	logger        *slog.Logger
}

// WithSampleRate sets the initial sample rate of every voice.
func WithSampleRate(hz float64) Option {
	return func(o *engineOptions) {
		if validSampleRate(hz) {
			o.sampleRate = hz
		}
	}
}

// WithQueueCapacity sets how many control events can be pending between two
// render calls. It is rounded up to a power of two.
func WithQueueCapacity(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// WithTalkerFallback sets the frequency reported for groups without a
// talker.
func WithTalkerFallback(hz float64) Option {
	return func(o *engineOptions) {
		if validFrequency(hz) {
			o.fallback = hz
		}
	}
}

// WithNoiseSeed sets the base seed of the noise voices. Voice i is seeded
// with seed+i.
func WithNoiseSeed(seed uint64) Option {
	return func(o *engineOptions) { o.seed = seed }
}

// WithWavetable sets the table used by wavetable voices without their own.
func WithWavetable(t *Wavetable) Option {
	return func(o *engineOptions) {
		if t != nil {
			o.table = t
		}
	}
}

// WithLogger sets the logger for usage warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Stats is a snapshot of the render-side counters of an [Engine].
type Stats struct {
	Blocks          uint64
	Frames          uint64
	EventsApplied   uint64
	QueueRejections uint64
	Overruns        uint64
	Pending         int
	Voices          int
}

// Engine owns a fixed bank of voices and is the thread-safe entry point for
// both the control surface and the audio callback.
//
// Control methods may be called from any number of goroutines. [Engine.Render]
// and [Engine.Sample] must only be called from one audio goroutine; they
// never block, take locks or allocate.
type Engine struct {
	reg     *Registry
	queue   *eventQueue
	log     *slog.Logger
	applyFn func(event)

	mu         sync.Mutex // guards control-side voice state and the queue producer
	coord      *SyncCoordinator
	sampleRate float64
	ready      bool

	rate       atomic.Uint64 // float64 bits of the render sample rate
	blocks     atomic.Uint64
	frames     atomic.Uint64
	events     atomic.Uint64
	rejections atomic.Uint64
	overruns   atomic.Uint64
}

// NewEngine creates an engine with one voice per spec, ids assigned in order.
// Sync roles are resolved, frequencies propagated and initial levels armed
// before NewEngine returns.
func NewEngine(specs []VoiceSpec, opts ...Option) (*Engine, error) {
	o := engineOptions{
		sampleRate:    DefaultSampleRate,
		queueCapacity: defaultQueueCapacity,
		fallback:      DefaultTalkerFrequency,
		seed:          1,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.table == nil {
		o.table = SineTable(DefaultTableSize)
	}
	// A sync command may retune every voice in one batch.
	if o.queueCapacity < len(specs) {
		o.queueCapacity = len(specs)
	}

	e := &Engine{
		reg:        NewRegistry(len(specs)),
		queue:      newEventQueue(o.queueCapacity),
		log:        o.logger,
		sampleRate: o.sampleRate,
	}
	e.applyFn = e.apply
	e.rate.Store(math.Float64bits(o.sampleRate))
	e.coord = NewSyncCoordinator(e.reg, e.onFrequency,
		WithFallbackFrequency(o.fallback),
		WithCoordinatorLogger(o.logger),
	)

	for i, s := range specs {
		if err := validateSpec(s); err != nil {
			return nil, fmt.Errorf("synth: voice %d: %w", i, err)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("Voice %d", i)
		}
		freq := s.Frequency
		if freq == 0 {
			freq = DefaultFrequency
		}
		var wave Waveform
		switch s.Kind {
		case KindNoise:
			wave = NewNoise(o.seed + uint64(i))
			wave.sampleRate = o.sampleRate
		case KindSine:
			wave = NewSine(o.sampleRate, freq)
		case KindSquare:
			wave = NewSquare(o.sampleRate, freq)
		case KindWavetable:
			table := s.Table
			if table == nil {
				table = o.table
			}
			wave = NewWavetableOscillator(table, o.sampleRate, freq)
		}
		v := e.reg.Add(name, wave)
		v.ctl.group = s.Group
		v.ctl.level = s.Level
		v.ctl.muted = s.Muted
		if s.Multiplier != 0 {
			v.ctl.multiplier = s.Multiplier
		}
		if s.Kind.Periodic() && s.Role == RoleListener {
			v.ctl.role = RoleListener
		}
	}

	// Resolve talkers first so listeners can read their frequency.
	for i, s := range specs {
		if s.Kind.Periodic() && s.Role == RoleTalker {
			if err := e.coord.BecomeTalker(e.reg.voices[i]); err != nil {
				return nil, err
			}
		}
	}
	for _, v := range e.reg.voices {
		if v.ctl.role == RoleListener {
			if err := e.coord.SyncListener(v); err != nil {
				return nil, err
			}
		}
	}

	// Nothing renders yet, so the DSP side is primed directly.
	for _, v := range e.reg.voices {
		v.wave.SetFrequency(v.ctl.frequency)
		if v.ctl.muted {
			v.Mute(true)
		}
		v.SetAmplitude(v.ctl.level)
	}
	e.ready = true

	o.logger.Debug("synth engine created", "voices", e.reg.Len(), "sample_rate", o.sampleRate)
	return e, nil
}

func validateSpec(s VoiceSpec) error {
	if s.Kind > KindWavetable {
		return fmt.Errorf("unknown waveform kind %d", s.Kind)
	}
	if !finiteNonNegative(s.Level) {
		return ErrInvalidAmplitude
	}
	if !validFrequency(s.Frequency) {
		return ErrInvalidFrequency
	}
	if !finiteNonNegative(s.Multiplier) {
		return ErrInvalidMultiplier
	}
	if s.Role > RoleListener {
		return fmt.Errorf("role %d is invalid", s.Role)
	}
	return nil
}

// ── Audio side ──────────────────────────────────────────────────────────────

// Render applies every pending control batch and then fills out with
// interleaved frames of the summed voice output, writing the same value to
// each of the channels. A trailing partial frame is left untouched.
func (e *Engine) Render(out []float32, channels int) {
	start := time.Now()
	if channels <= 0 {
		channels = 1
	}
	e.events.Add(uint64(e.queue.drain(e.applyFn)))

	voices := e.reg.voices
	frames := len(out) / channels
	for f := range frames {
		var mix float32
		for _, v := range voices {
			mix += v.Sample()
		}
		base := f * channels
		for c := range channels {
			out[base+c] = mix
		}
	}

	e.blocks.Add(1)
	e.frames.Add(uint64(frames))
	if rate := math.Float64frombits(e.rate.Load()); rate > 0 && frames > 0 {
		budget := time.Duration(float64(frames) / rate * float64(time.Second))
		if time.Since(start) > budget {
			e.overruns.Add(1)
		}
	}
}

// Sample returns the next sample of a single voice. It does not apply pending
// control events; those are applied at the next [Engine.Render]. ok is false
// for unknown ids.
func (e *Engine) Sample(id VoiceID) (s float32, ok bool) {
	v, ok := e.reg.Get(id)
	if !ok {
		return 0, false
	}
	return v.Sample(), true
}

// Flush applies pending control events without rendering. Like Render it
// must only be called from the audio goroutine, or when no audio goroutine
// is running.
func (e *Engine) Flush() int {
	n := e.queue.drain(e.applyFn)
	e.events.Add(uint64(n))
	return n
}

func (e *Engine) apply(ev event) {
	v := e.reg.voices[ev.voice]
	switch ev.op {
	case opAmplitude:
		v.SetAmplitude(ev.value)
	case opMute:
		v.Mute(ev.flag)
	case opFrequency:
		v.SetFrequency(ev.value)
	case opSampleRate:
		v.SetSampleRate(ev.value)
	}
}

// ── Control side ────────────────────────────────────────────────────────────

// onFrequency forwards a coordinator frequency change to the audio side.
// Called with e.mu held; capacity was reserved by command.
func (e *Engine) onFrequency(v *Voice, hz float64) {
	if !e.ready {
		return
	}
	e.queue.stage(event{op: opFrequency, voice: v.id, value: hz})
}

// command runs fn for voice id under the control lock after reserving need
// queue slots, and publishes whatever fn staged as one batch.
func (e *Engine) command(op string, id VoiceID, need int, fn func(v *Voice) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.reg.Get(id)
	if !ok {
		return fmt.Errorf("synth: %s voice %d: %w", op, id, ErrUnknownVoice)
	}
	if e.queue.free() < need {
		e.rejections.Add(1)
		e.log.Warn("synth: control queue full", "op", op, "voice", id, "pending", e.queue.pending())
		return fmt.Errorf("synth: %s voice %d: %w", op, id, ErrQueueFull)
	}
	if err := fn(v); err != nil {
		e.queue.rollback()
		return err
	}
	e.queue.commit()
	return nil
}

// syncBudget is the worst-case number of events a sync operation stages: one
// per voice in the registry.
func (e *Engine) syncBudget() int { return e.reg.Len() }

// SetAmplitude sets the unmuted level of a voice. While muted the level is
// only recorded and takes effect on unmute.
func (e *Engine) SetAmplitude(id VoiceID, level float64) error {
	if !finiteNonNegative(level) {
		return fmt.Errorf("synth: set amplitude %v: %w", level, ErrInvalidAmplitude)
	}
	return e.command("set amplitude", id, 1, func(v *Voice) error {
		v.ctl.level = level
		e.queue.stage(event{op: opAmplitude, voice: id, value: level})
		return nil
	})
}

// Mute ramps a voice to silence (true) or back to its level (false).
func (e *Engine) Mute(id VoiceID, state bool) error {
	return e.command("mute", id, 1, func(v *Voice) error {
		v.ctl.muted = state
		e.queue.stage(event{op: opMute, voice: id, flag: state})
		return nil
	})
}

// SetFrequency sets the absolute frequency of a talker or unsynced voice. A
// talker propagates the change to its listeners. Noise voices and synced
// listeners reject the call.
func (e *Engine) SetFrequency(id VoiceID, hz float64) error {
	if !validFrequency(hz) {
		return fmt.Errorf("synth: set frequency %v: %w", hz, ErrInvalidFrequency)
	}
	return e.command("set frequency", id, e.syncBudget(), func(v *Voice) error {
		return e.coord.SetFrequency(v, hz)
	})
}

// SetSampleRate changes the sample rate of one voice.
func (e *Engine) SetSampleRate(id VoiceID, hz float64) error {
	if !validSampleRate(hz) {
		return fmt.Errorf("synth: set sample rate %v: %w", hz, ErrInvalidSampleRate)
	}
	return e.command("set sample rate", id, 1, func(v *Voice) error {
		v.ctl.sampleRate = hz
		e.queue.stage(event{op: opSampleRate, voice: id, value: hz})
		return nil
	})
}

// SetOutputSampleRate changes the sample rate of every voice in one batch.
// Hosts call it when the output device reports its rate.
func (e *Engine) SetOutputSampleRate(hz float64) error {
	if !validSampleRate(hz) {
		return fmt.Errorf("synth: set output sample rate %v: %w", hz, ErrInvalidSampleRate)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queue.free() < e.reg.Len() {
		e.rejections.Add(1)
		return fmt.Errorf("synth: set output sample rate: %w", ErrQueueFull)
	}
	for _, v := range e.reg.voices {
		v.ctl.sampleRate = hz
		e.queue.stage(event{op: opSampleRate, voice: v.id, value: hz})
	}
	e.queue.commit()
	e.sampleRate = hz
	e.rate.Store(math.Float64bits(hz))
	return nil
}

// BecomeTalker makes a voice the talker of its group, demoting any previous
// talker of that group to a synced listener.
func (e *Engine) BecomeTalker(id VoiceID) error {
	return e.command("become talker", id, e.syncBudget(), func(v *Voice) error {
		return e.coord.BecomeTalker(v)
	})
}

// SetSyncState sets the talker and synced flags of a voice.
func (e *Engine) SetSyncState(id VoiceID, isTalker, isSynced bool) error {
	return e.command("set sync state", id, e.syncBudget(), func(v *Voice) error {
		return e.coord.SetSyncState(v, isTalker, isSynced)
	})
}

// SetRelativeMultiplier sets the listener multiplier of a voice, retuning it
// immediately when it is a synced listener.
func (e *Engine) SetRelativeMultiplier(id VoiceID, m float64) error {
	if !finiteNonNegative(m) {
		return fmt.Errorf("synth: set relative multiplier %v: %w", m, ErrInvalidMultiplier)
	}
	return e.command("set relative multiplier", id, 1, func(v *Voice) error {
		return e.coord.SetRelativeMultiplier(v, m)
	})
}

// ResyncListener recomputes a listener's frequency from its talker. It is a
// usage error on talkers and unsynced voices.
func (e *Engine) ResyncListener(id VoiceID) error {
	return e.command("sync listener", id, 1, func(v *Voice) error {
		return e.coord.SyncListener(v)
	})
}

// ── Queries ─────────────────────────────────────────────────────────────────

// VoiceInfo is a control-side snapshot of one voice.
type VoiceInfo struct {
	ID         VoiceID
	Name       string
	Kind       Kind
	Group      int
	Role       Role
	Level      float64
	Muted      bool
	Frequency  float64
	Multiplier float64
	SampleRate float64
}

func infoOf(v *Voice) VoiceInfo {
	return VoiceInfo{
		ID:         v.id,
		Name:       v.name,
		Kind:       v.wave.kind,
		Group:      v.ctl.group,
		Role:       v.ctl.role,
		Level:      v.ctl.level,
		Muted:      v.ctl.muted,
		Frequency:  v.ctl.frequency,
		Multiplier: v.ctl.multiplier,
		SampleRate: v.ctl.sampleRate,
	}
}

// Voices returns a snapshot of every voice in id order.
func (e *Engine) Voices() []VoiceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]VoiceInfo, 0, e.reg.Len())
	for _, v := range e.reg.voices {
		out = append(out, infoOf(v))
	}
	return out
}

// Voice returns a snapshot of one voice. ok is false for unknown ids.
func (e *Engine) Voice(id VoiceID) (info VoiceInfo, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.reg.Get(id)
	if !ok {
		return VoiceInfo{}, false
	}
	return infoOf(v), true
}

// EffectiveFrequency returns the frequency a voice has been commanded to
// play: absolute for talkers and unsynced voices, talker × multiplier for
// synced listeners.
func (e *Engine) EffectiveFrequency(id VoiceID) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.reg.Get(id)
	if !ok {
		return 0, fmt.Errorf("synth: effective frequency voice %d: %w", id, ErrUnknownVoice)
	}
	if !v.Kind().Periodic() {
		return 0, fmt.Errorf("synth: effective frequency voice %d: %w", id, ErrNoFrequency)
	}
	return v.ctl.frequency, nil
}

// TalkerFrequency returns the frequency of group's talker, or the fallback
// frequency with ok=false when the group has no talker.
func (e *Engine) TalkerFrequency(group int) (hz float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coord.TalkerFrequency(group)
}

// Len returns the number of voices.
func (e *Engine) Len() int { return e.reg.Len() }

// SampleRate returns the output sample rate last set.
func (e *Engine) SampleRate() float64 {
	return math.Float64frombits(e.rate.Load())
}

// Stats returns a snapshot of the render counters. It is safe to call from
// any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:          e.blocks.Load(),
		Frames:          e.frames.Load(),
		EventsApplied:   e.events.Load(),
		QueueRejections: e.rejections.Load(),
		Overruns:        e.overruns.Load(),
		Pending:         e.queue.pending(),
		Voices:          e.reg.Len(),
	}
}
