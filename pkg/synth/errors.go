package synth

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by control operations. Callers should test with
// [errors.Is]; the concrete value is usually a [*UsageError] or a wrapped
// validation error.
var (
	// ErrUnknownVoice is returned when a voice id does not exist.
	ErrUnknownVoice = errors.New("synth: unknown voice")

	// ErrNotListener is returned when a listener-relative frequency update is
	// requested for a voice that is a talker or is not synced.
	ErrNotListener = errors.New("synth: voice is not a synced listener")

	// ErrNotTalker is returned when talker frequency propagation is requested
	// for a voice that is not its group's talker.
	ErrNotTalker = errors.New("synth: voice is not a sync talker")

	// ErrNoFrequency is returned for frequency or sync operations on a voice
	// without frequency semantics (noise).
	ErrNoFrequency = errors.New("synth: voice has no frequency control")

	// ErrListenerFrequency is returned when an absolute frequency is sent to a
	// synced listener, whose frequency is derived from its talker.
	ErrListenerFrequency = errors.New("synth: synced listener frequency is relative to its talker")

	// ErrInvalidFrequency is returned for frequencies that are negative, NaN
	// or above [MaxFrequency], including listener frequencies derived from a
	// talker and a multiplier.
	ErrInvalidFrequency = errors.New("synth: invalid frequency")

	// ErrInvalidSampleRate is returned for sample rates outside
	// [MinSampleRate, MaxSampleRate].
	ErrInvalidSampleRate = errors.New("synth: invalid sample rate")

	// ErrInvalidMultiplier is returned for negative, NaN or infinite multipliers.
	ErrInvalidMultiplier = errors.New("synth: invalid relative multiplier")

	// ErrInvalidAmplitude is returned for negative, NaN or infinite levels.
	ErrInvalidAmplitude = errors.New("synth: invalid amplitude")

	// ErrQueueFull is returned when the control queue cannot hold the events a
	// command would produce. The command is not applied.
	ErrQueueFull = errors.New("synth: control queue full")
)

// UsageError reports a control call that is invalid for the current state of
// a voice. The call was rejected and nothing was mutated.
type UsageError struct {
	Op    string
	Voice VoiceID
	Err   error
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("synth: %s on voice %d: %v", e.Op, e.Voice, e.Err)
}

func (e *UsageError) Unwrap() error { return e.Err }

// IsUsage reports whether err is a recoverable usage warning rather than an
// input validation or capacity failure.
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

func usage(op string, id VoiceID, err error) error {
	return &UsageError{Op: op, Voice: id, Err: err}
}
