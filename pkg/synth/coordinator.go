package synth

import (
	"fmt"
	"log/slog"
	"math"
)

// SyncCoordinator manages talker/listener relationships between voices that
// share a group id. It reads and writes only the control-side state of the
// voices in its [Registry]; every resulting frequency change is reported
// through the apply callback so the owner can forward it to the audio side.
//
// Invariants maintained:
//   - at most one talker per group;
//   - a talker is never synced;
//   - a listener's frequency is talkerFrequency × multiplier, recomputed
//     whenever either operand changes.
//
// A SyncCoordinator is not safe for concurrent use.
type SyncCoordinator struct {
	reg      *Registry
	apply    func(v *Voice, hz float64)
	fallback float64
	log      *slog.Logger
}

// CoordinatorOption configures a [SyncCoordinator].
type CoordinatorOption func(*SyncCoordinator)

// WithFallbackFrequency sets the frequency reported for groups without a
// talker. The default is [DefaultTalkerFrequency].
func WithFallbackFrequency(hz float64) CoordinatorOption {
	return func(c *SyncCoordinator) {
		if validFrequency(hz) {
			c.fallback = hz
		}
	}
}

// WithCoordinatorLogger sets the logger used for sync diagnostics. Rejected
// calls are logged at debug level; the returned [*UsageError] is what callers
// surface.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *SyncCoordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewSyncCoordinator returns a coordinator over reg. apply is invoked after
// the commanded frequency of a voice changes; it may be nil.
func NewSyncCoordinator(reg *Registry, apply func(v *Voice, hz float64), opts ...CoordinatorOption) *SyncCoordinator {
	c := &SyncCoordinator{
		reg:      reg,
		apply:    apply,
		fallback: DefaultTalkerFrequency,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BecomeTalker makes v the talker of its group. Any other talker in the group
// is demoted to a synced listener, and all listeners of the group are
// retuned to v's frequency. If any resulting listener frequency would be
// invalid nothing changes.
func (c *SyncCoordinator) BecomeTalker(v *Voice) error {
	if !v.Kind().Periodic() {
		return c.warn("become talker", v, ErrNoFrequency)
	}
	if err := c.checkGroup(v, v.ctl.frequency); err != nil {
		return err
	}
	for _, o := range c.reg.All() {
		if o != v && o.ctl.group == v.ctl.group && o.ctl.role == RoleTalker {
			o.ctl.role = RoleListener
			c.log.Debug("sync talker demoted", "voice", o.id, "group", o.ctl.group, "new_talker", v.id)
		}
	}
	v.ctl.role = RoleTalker
	c.log.Debug("sync talker set", "voice", v.id, "group", v.ctl.group)
	c.retune(v, v.ctl.frequency)
	return nil
}

// PropagateTalkerFrequency sets the talker's own frequency to hz and retunes
// every synced listener of its group to hz × multiplier. Every product is
// checked before anything is mutated.
func (c *SyncCoordinator) PropagateTalkerFrequency(talker *Voice, hz float64) error {
	if !validFrequency(hz) {
		return ErrInvalidFrequency
	}
	if talker.ctl.role != RoleTalker {
		return c.warn("propagate talker frequency", talker, ErrNotTalker)
	}
	if err := c.checkGroup(talker, hz); err != nil {
		return err
	}
	c.retune(talker, hz)
	return nil
}

// SetSyncState applies an explicit sync state. isTalker=true is equivalent to
// [SyncCoordinator.BecomeTalker] and forces isSynced=false. Otherwise
// isSynced=true turns v into a listener and retunes it immediately, and
// isSynced=false makes it unsynced, keeping its last frequency as the new
// absolute value.
func (c *SyncCoordinator) SetSyncState(v *Voice, isTalker, isSynced bool) error {
	if !v.Kind().Periodic() {
		return c.warn("set sync state", v, ErrNoFrequency)
	}
	if isTalker {
		return c.BecomeTalker(v)
	}
	if !isSynced {
		v.ctl.role = RoleUnsynced
		return nil
	}
	prev := v.ctl.role
	v.ctl.role = RoleListener
	if err := c.SyncListener(v); err != nil {
		v.ctl.role = prev
		return err
	}
	return nil
}

// SyncListener recomputes the frequency of a synced listener from its
// group's talker. Calling it on a talker or an unsynced voice is a usage
// error and changes nothing.
func (c *SyncCoordinator) SyncListener(v *Voice) error {
	if v.ctl.role != RoleListener {
		return c.warn("sync listener", v, ErrNotListener)
	}
	hz, _ := c.TalkerFrequency(v.ctl.group)
	f := hz * v.ctl.multiplier
	if !validFrequency(f) {
		return derivedFrequencyError(v, f)
	}
	c.set(v, f)
	return nil
}

// SetRelativeMultiplier stores the listener multiplier of v and retunes it if
// it is currently a synced listener.
func (c *SyncCoordinator) SetRelativeMultiplier(v *Voice, m float64) error {
	if !v.Kind().Periodic() {
		return c.warn("set relative multiplier", v, ErrNoFrequency)
	}
	if !finiteNonNegative(m) {
		return ErrInvalidMultiplier
	}
	if v.ctl.role == RoleListener {
		hz, _ := c.TalkerFrequency(v.ctl.group)
		if f := hz * m; !validFrequency(f) {
			return derivedFrequencyError(v, f)
		}
	}
	v.ctl.multiplier = m
	if v.ctl.role == RoleListener {
		return c.SyncListener(v)
	}
	return nil
}

// SetFrequency applies an absolute frequency command to v: talkers propagate
// to their listeners, unsynced voices retune alone, and synced listeners
// reject the command.
func (c *SyncCoordinator) SetFrequency(v *Voice, hz float64) error {
	if !v.Kind().Periodic() {
		return c.warn("set frequency", v, ErrNoFrequency)
	}
	if !validFrequency(hz) {
		return ErrInvalidFrequency
	}
	switch v.ctl.role {
	case RoleTalker:
		return c.PropagateTalkerFrequency(v, hz)
	case RoleListener:
		return c.warn("set frequency", v, ErrListenerFrequency)
	}
	c.set(v, hz)
	return nil
}

// Talker returns the talker of group, if any.
func (c *SyncCoordinator) Talker(group int) (*Voice, bool) {
	for _, v := range c.reg.All() {
		if v.ctl.group == group && v.ctl.role == RoleTalker {
			return v, true
		}
	}
	return nil, false
}

// TalkerFrequency returns the frequency of group's talker. When the group has
// no talker it returns the fallback frequency and ok=false; this is a
// degraded but defined result, not an error.
func (c *SyncCoordinator) TalkerFrequency(group int) (hz float64, ok bool) {
	if t, found := c.Talker(group); found {
		return t.ctl.frequency, true
	}
	return c.fallback, false
}

// Fallback returns the frequency reported for groups without a talker.
func (c *SyncCoordinator) Fallback() float64 { return c.fallback }

// checkGroup reports whether every voice that would follow talker at hz,
// including talkers about to be demoted, stays within [MaxFrequency].
func (c *SyncCoordinator) checkGroup(talker *Voice, hz float64) error {
	for _, o := range c.reg.All() {
		if o == talker || o.ctl.group != talker.ctl.group || o.ctl.role == RoleUnsynced {
			continue
		}
		if f := hz * o.ctl.multiplier; !validFrequency(f) {
			return derivedFrequencyError(o, f)
		}
	}
	return nil
}

// retune sets the talker to hz and every listener of its group to
// hz × multiplier.
func (c *SyncCoordinator) retune(talker *Voice, hz float64) {
	c.set(talker, hz)
	for _, o := range c.reg.All() {
		if o != talker && o.ctl.group == talker.ctl.group && o.ctl.role == RoleListener {
			c.set(o, hz*o.ctl.multiplier)
		}
	}
}

func (c *SyncCoordinator) set(v *Voice, hz float64) {
	v.ctl.frequency = hz
	if c.apply != nil {
		c.apply(v, hz)
	}
}

func (c *SyncCoordinator) warn(op string, v *Voice, err error) error {
	c.log.Debug("sync: rejected call",
		"op", op,
		"voice", v.id,
		"group", v.ctl.group,
		"role", v.ctl.role.String(),
		"err", err,
	)
	return usage(op, v.id, err)
}

func derivedFrequencyError(v *Voice, hz float64) error {
	return fmt.Errorf("synth: voice %d in group %d would run at %g Hz: %w",
		v.id, v.ctl.group, hz, ErrInvalidFrequency)
}

func finiteNonNegative(x float64) bool {
	return x >= 0 && !math.IsInf(x, 0)
}

func validFrequency(hz float64) bool { return finiteNonNegative(hz) && hz <= MaxFrequency }

func validSampleRate(hz float64) bool { return hz >= MinSampleRate && hz <= MaxSampleRate }
