package synth

// Ramper smooths amplitude changes into linear ramps of exactly [RampLength]
// samples so that level changes and mutes do not click.
//
// Every call to [Ramper.SetAmplitude] or [Ramper.Mute] re-arms a fresh
// full-length ramp from the current amplitude; the remainder of any ramp in
// progress is discarded. When no ramp is pending the current amplitude equals
// the target exactly.
//
// The zero value is a silent, unmuted ramper. A Ramper is not safe for
// concurrent use.
type Ramper struct {
	current   float64
	target    float64
	from      float64
	step      float64
	remaining uint32

	// unmuted is the level restored by Mute(false).
	unmuted float64
	muted   bool
}

// SetAmplitude sets the target level. While muted only the level restored on
// unmute is updated and no ramp is scheduled.
func (r *Ramper) SetAmplitude(level float64) {
	if r.muted {
		r.unmuted = level
		return
	}
	r.rampTo(level)
}

// Mute ramps to silence when state is true, caching the current target, and
// ramps back to the cached level when state is false. Repeating the current
// state is a no-op so that a double mute cannot overwrite the cached level
// with zero.
func (r *Ramper) Mute(state bool) {
	if state == r.muted {
		return
	}
	r.muted = state
	if state {
		r.unmuted = r.target
		r.rampTo(0)
		return
	}
	r.rampTo(r.unmuted)
}

// Tick advances the ramp by one sample and returns the amplitude to apply to
// that sample.
func (r *Ramper) Tick() float64 {
	if r.remaining == 0 {
		return r.current
	}
	r.remaining--
	if r.remaining == 0 {
		r.current = r.target
		return r.current
	}
	// Computed from the ramp origin rather than accumulated so that the
	// trajectory stays monotonic under rounding.
	r.current = r.from + r.step*float64(RampLength-r.remaining)
	return r.current
}

func (r *Ramper) rampTo(level float64) {
	r.target = level
	r.from = r.current
	r.step = (level - r.current) / RampLength
	r.remaining = RampLength
}

// Current returns the amplitude applied to the most recent sample.
func (r *Ramper) Current() float64 { return r.current }

// Target returns the level the ramp is heading to.
func (r *Ramper) Target() float64 { return r.target }

// Step returns the per-sample increment of the active ramp.
func (r *Ramper) Step() float64 { return r.step }

// Remaining returns the number of samples left in the active ramp.
func (r *Ramper) Remaining() int { return int(r.remaining) }

// Muted reports whether the ramper is muted.
func (r *Ramper) Muted() bool { return r.muted }

// Level returns the level the voice plays at when unmuted.
func (r *Ramper) Level() float64 {
	if r.muted {
		return r.unmuted
	}
	return r.target
}
