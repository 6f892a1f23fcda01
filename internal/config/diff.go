package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Voice parameters and the log level can be applied to a running engine;
// anything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Voices lists per-voice changes in id order.
	Voices []VoiceDiff

	// RestartRequired names the settings that changed but only take effect
	// after a restart (e.g. "audio", "voices[3].kind").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.Voices) == 0 && len(d.RestartRequired) == 0
}

// VoiceDiff describes the hot-reloadable changes of one voice.
type VoiceDiff struct {
	ID  int
	New VoiceConfig

	AmplitudeChanged  bool
	MutedChanged      bool
	FrequencyChanged  bool
	MultiplierChanged bool
	RoleChanged       bool
}

func (v VoiceDiff) changed() bool {
	return v.AmplitudeChanged || v.MutedChanged || v.FrequencyChanged || v.MultiplierChanged || v.RoleChanged
}

// Diff compares old and new configs and returns what changed. Voices are
// matched by position, which is their id.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Monitor != new.Monitor {
		d.RestartRequired = append(d.RestartRequired, "monitor")
	}
	if len(old.Voices) != len(new.Voices) {
		d.RestartRequired = append(d.RestartRequired, "voices")
	}

	for i := range min(len(old.Voices), len(new.Voices)) {
		o, n := old.Voices[i], new.Voices[i]
		if o.Kind != n.Kind {
			d.RestartRequired = append(d.RestartRequired, voiceField(i, "kind"))
			continue
		}
		if o.Group != n.Group {
			d.RestartRequired = append(d.RestartRequired, voiceField(i, "group"))
			continue
		}
		vd := VoiceDiff{
			ID:                i,
			New:               n,
			AmplitudeChanged:  o.Amplitude != n.Amplitude,
			MutedChanged:      o.Muted != n.Muted,
			FrequencyChanged:  o.Frequency != n.Frequency,
			MultiplierChanged: o.Multiplier != n.Multiplier,
			RoleChanged:       normalRole(o.Role) != normalRole(n.Role),
		}
		if vd.changed() {
			d.Voices = append(d.Voices, vd)
		}
	}
	slices.Sort(d.RestartRequired)
	return d
}

func voiceField(i int, field string) string {
	return fmt.Sprintf("voices[%d].%s", i, field)
}

func normalRole(r string) string {
	if r == "" {
		return "unsynced"
	}
	return r
}
