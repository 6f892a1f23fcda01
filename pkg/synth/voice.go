package synth

import "fmt"

// VoiceID is the stable small-integer address of a voice in a [Registry].
type VoiceID int

// Role is the sync state of a voice within its group.
type Role uint8

const (
	// RoleUnsynced voices take absolute frequencies.
	RoleUnsynced Role = iota

	// RoleTalker is the single voice per group whose frequency is
	// authoritative.
	RoleTalker

	// RoleListener voices play talkerFrequency × multiplier.
	RoleListener
)

// String returns the configuration name of the role.
func (r Role) String() string {
	switch r {
	case RoleUnsynced:
		return "unsynced"
	case RoleTalker:
		return "talker"
	case RoleListener:
		return "listener"
	default:
		return "unknown"
	}
}

// ParseRole maps a configuration name to a [Role]. The empty string is
// [RoleUnsynced].
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "unsynced":
		return RoleUnsynced, nil
	case "talker":
		return RoleTalker, nil
	case "listener":
		return RoleListener, nil
	}
	return 0, fmt.Errorf("synth: unknown sync role %q", s)
}

// voiceControl is the control-side view of a voice: what has been commanded,
// as opposed to what the audio goroutine is currently playing. In an [Engine]
// it is guarded by the engine's control mutex.
type voiceControl struct {
	group      int
	role       Role
	multiplier float64
	frequency  float64
	level      float64
	muted      bool
	sampleRate float64
}

// Voice is one independently controllable sound source: an amplitude
// [Ramper], a [Waveform] and a mute state.
//
// The DSP methods (Sample, Fill, SetAmplitude, Mute, SetFrequency,
// SetSampleRate) are not safe for concurrent use; inside an [Engine] they are
// only called from the render goroutine.
type Voice struct {
	id   VoiceID
	name string
	ramp Ramper
	wave Waveform
	ctl  voiceControl
}

// NewVoice returns a silent voice playing wave. The voice starts unsynced in
// group 0 with a relative multiplier of 1.
func NewVoice(id VoiceID, name string, wave Waveform) *Voice {
	return &Voice{
		id:   id,
		name: name,
		wave: wave,
		ctl: voiceControl{
			multiplier: 1,
			frequency:  wave.frequency,
			sampleRate: wave.sampleRate,
		},
	}
}

// Sample advances the amplitude ramp and returns the next scaled sample. It
// is O(1) and does not allocate.
func (v *Voice) Sample() float32 {
	amp := v.ramp.Tick()
	return float32(amp * v.wave.Next())
}

// Fill writes len(buf) consecutive samples into buf.
func (v *Voice) Fill(buf []float32) {
	for i := range buf {
		buf[i] = v.Sample()
	}
}

// SetAmplitude ramps to level, or only records it while muted.
func (v *Voice) SetAmplitude(level float64) { v.ramp.SetAmplitude(level) }

// Mute ramps to silence or back to the cached level.
func (v *Voice) Mute(state bool) { v.ramp.Mute(state) }

// SetFrequency changes the oscillator frequency without resetting phase.
func (v *Voice) SetFrequency(hz float64) { v.wave.SetFrequency(hz) }

// SetSampleRate updates the oscillator sample rate.
func (v *Voice) SetSampleRate(hz float64) { v.wave.SetSampleRate(hz) }

// ID returns the registry id of the voice.
func (v *Voice) ID() VoiceID { return v.id }

// Name returns the display name of the voice.
func (v *Voice) Name() string { return v.name }

// Kind returns the waveform kind, fixed at construction.
func (v *Voice) Kind() Kind { return v.wave.kind }

// Ramp exposes the amplitude ramper for inspection.
func (v *Voice) Ramp() *Ramper { return &v.ramp }

// Waveform exposes the oscillator for inspection.
func (v *Voice) Waveform() *Waveform { return &v.wave }

// Group returns the sync group id.
func (v *Voice) Group() int { return v.ctl.group }

// SetGroup moves the voice to another sync group. It is meant for
// configuration before the voice takes part in sync operations.
func (v *Voice) SetGroup(group int) { v.ctl.group = group }

// Role returns the sync role.
func (v *Voice) Role() Role { return v.ctl.role }

// IsSyncTalker reports whether the voice is its group's talker.
func (v *Voice) IsSyncTalker() bool { return v.ctl.role == RoleTalker }

// IsSynced reports whether the voice derives its frequency from the talker.
func (v *Voice) IsSynced() bool { return v.ctl.role == RoleListener }

// Multiplier returns the listener frequency multiplier.
func (v *Voice) Multiplier() float64 { return v.ctl.multiplier }

// EffectiveFrequency returns the most recently commanded frequency: absolute
// for talkers and unsynced voices, talker × multiplier for listeners.
func (v *Voice) EffectiveFrequency() float64 { return v.ctl.frequency }
