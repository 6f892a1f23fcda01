package synth

import "fmt"

// Default bank layout.
const (
	DefaultPeriodicVoices = 9
	DefaultLevel          = 0.1
	DefaultMultiplierStep = 1.333333
)

// DefaultVoiceBank returns the stock scene: one muted noise voice followed by
// nine muted periodic voices in sync group 0 cycling through sine, square and
// wavetable. The first periodic voice is the group talker at
// [DefaultFrequency]; periodic voice n (n >= 1) listens with a multiplier of
// n × [DefaultMultiplierStep].
func DefaultVoiceBank() []VoiceSpec {
	kinds := [...]Kind{KindSine, KindSquare, KindWavetable}

	specs := make([]VoiceSpec, 0, DefaultPeriodicVoices+1)
	specs = append(specs, VoiceSpec{
		Name:  "White Noise",
		Kind:  KindNoise,
		Level: DefaultLevel,
		Muted: true,
	})
	for n := range DefaultPeriodicVoices {
		s := VoiceSpec{
			Name:       fmt.Sprintf("Oscillator %d", n+1),
			Kind:       kinds[n%len(kinds)],
			Level:      DefaultLevel,
			Muted:      true,
			Frequency:  DefaultFrequency,
			Role:       RoleListener,
			Multiplier: float64(n) * DefaultMultiplierStep,
		}
		if n == 0 {
			s.Role = RoleTalker
			s.Multiplier = 1
		}
		specs = append(specs, s)
	}
	return specs
}
