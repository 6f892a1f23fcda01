package synth_test

import (
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/MrWong99/siggen/pkg/synth"
)

type applied struct {
	voice synth.VoiceID
	hz    float64
}

func newCoordinator(t *testing.T, groups ...int) (*synth.Registry, *synth.SyncCoordinator, *[]applied) {
	t.Helper()
	reg := synth.NewRegistry(len(groups))
	for i, g := range groups {
		v := reg.Add("", synth.NewSine(48000, 100*float64(i+1)))
		v.SetGroup(g)
	}
	var calls []applied
	c := synth.NewSyncCoordinator(reg, func(v *synth.Voice, hz float64) {
		calls = append(calls, applied{voice: v.ID(), hz: hz})
	}, synth.WithCoordinatorLogger(slog.New(slog.DiscardHandler)))
	return reg, c, &calls
}

func voice(t *testing.T, reg *synth.Registry, id synth.VoiceID) *synth.Voice {
	t.Helper()
	v, ok := reg.Get(id)
	if !ok {
		t.Fatalf("voice %d not registered", id)
	}
	return v
}

func TestSyncCoordinator_ListenerFollowsTalker(t *testing.T) {
	reg, c, _ := newCoordinator(t, 0, 0)
	a, b := voice(t, reg, 0), voice(t, reg, 1)

	if err := c.BecomeTalker(a); err != nil {
		t.Fatalf("BecomeTalker: %v", err)
	}
	if err := c.SetFrequency(a, 440); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if err := c.SetSyncState(b, false, true); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	if err := c.SetRelativeMultiplier(b, 0.5); err != nil {
		t.Fatalf("SetRelativeMultiplier: %v", err)
	}
	if got := b.EffectiveFrequency(); got != 220 {
		t.Fatalf("listener frequency = %v, want 220", got)
	}

	if err := c.SetFrequency(a, 300); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := b.EffectiveFrequency(); got != 150 {
		t.Fatalf("listener frequency after talker change = %v, want 150", got)
	}
	if err := c.SetRelativeMultiplier(b, 2); err != nil {
		t.Fatalf("SetRelativeMultiplier: %v", err)
	}
	if got := b.EffectiveFrequency(); got != 600 {
		t.Fatalf("listener frequency after multiplier change = %v, want 600", got)
	}
}

func TestSyncCoordinator_BecomeTalkerDemotesOnePerGroup(t *testing.T) {
	reg, c, _ := newCoordinator(t, 0, 0, 1, 1)
	a0, b0 := voice(t, reg, 0), voice(t, reg, 1)
	a1 := voice(t, reg, 2)

	for _, v := range []*synth.Voice{a0, a1} {
		if err := c.BecomeTalker(v); err != nil {
			t.Fatalf("BecomeTalker(%d): %v", v.ID(), err)
		}
	}
	if err := c.BecomeTalker(b0); err != nil {
		t.Fatalf("BecomeTalker(b0): %v", err)
	}

	if !b0.IsSyncTalker() {
		t.Fatal("b0 is not talker")
	}
	if a0.IsSyncTalker() || !a0.IsSynced() {
		t.Fatalf("a0 role = %v, want listener", a0.Role())
	}
	if !a1.IsSyncTalker() {
		t.Fatal("talker of group 1 was touched")
	}

	talkers := 0
	for _, v := range reg.All() {
		if v.Group() == 0 && v.IsSyncTalker() {
			talkers++
		}
	}
	if talkers != 1 {
		t.Fatalf("group 0 has %d talkers, want 1", talkers)
	}
	// The demoted talker now follows the new one.
	if got, want := a0.EffectiveFrequency(), b0.EffectiveFrequency(); got != want {
		t.Fatalf("demoted talker frequency = %v, want %v", got, want)
	}
}

func TestSyncCoordinator_TalkerFrequencyFallback(t *testing.T) {
	_, c, _ := newCoordinator(t, 0)
	hz, ok := c.TalkerFrequency(5)
	if ok {
		t.Fatal("ok = true for group without talker")
	}
	if hz != synth.DefaultTalkerFrequency {
		t.Fatalf("fallback = %v, want %v", hz, synth.DefaultTalkerFrequency)
	}

	reg := synth.NewRegistry(0)
	c = synth.NewSyncCoordinator(reg, nil, synth.WithFallbackFrequency(330))
	if hz, _ := c.TalkerFrequency(0); hz != 330 {
		t.Fatalf("custom fallback = %v, want 330", hz)
	}
}

func TestSyncCoordinator_ListenerWithoutTalkerUsesFallback(t *testing.T) {
	reg, c, _ := newCoordinator(t, 3)
	v := voice(t, reg, 0)
	if err := c.SetRelativeMultiplier(v, 0.5); err != nil {
		t.Fatalf("SetRelativeMultiplier: %v", err)
	}
	if err := c.SetSyncState(v, false, true); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	if got := v.EffectiveFrequency(); got != synth.DefaultTalkerFrequency*0.5 {
		t.Fatalf("frequency = %v, want %v", got, synth.DefaultTalkerFrequency*0.5)
	}
}

func TestSyncCoordinator_UsageErrorsDoNotMutate(t *testing.T) {
	reg, c, calls := newCoordinator(t, 0, 0)
	a, b := voice(t, reg, 0), voice(t, reg, 1)
	if err := c.BecomeTalker(a); err != nil {
		t.Fatalf("BecomeTalker: %v", err)
	}
	if err := c.SetSyncState(b, false, true); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	noiseReg := synth.NewRegistry(1)
	noise := noiseReg.Add("noise", synth.NewNoise(1))
	cn := synth.NewSyncCoordinator(noiseReg, nil, synth.WithCoordinatorLogger(slog.New(slog.DiscardHandler)))

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{name: "resync talker", call: func() error { return c.SyncListener(a) }, want: synth.ErrNotListener},
		{name: "propagate from listener", call: func() error { return c.PropagateTalkerFrequency(b, 500) }, want: synth.ErrNotTalker},
		{name: "absolute on listener", call: func() error { return c.SetFrequency(b, 500) }, want: synth.ErrListenerFrequency},
		{name: "noise talker", call: func() error { return cn.BecomeTalker(noise) }, want: synth.ErrNoFrequency},
		{name: "noise frequency", call: func() error { return cn.SetFrequency(noise, 100) }, want: synth.ErrNoFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(*calls)
			fa, fb := a.EffectiveFrequency(), b.EffectiveFrequency()
			ra, rb := a.Role(), b.Role()

			err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !synth.IsUsage(err) {
				t.Fatalf("IsUsage(%v) = false", err)
			}
			if len(*calls) != before {
				t.Fatal("rejected call produced frequency updates")
			}
			if a.EffectiveFrequency() != fa || b.EffectiveFrequency() != fb || a.Role() != ra || b.Role() != rb {
				t.Fatal("rejected call mutated voice state")
			}
		})
	}
}

func TestSyncCoordinator_ValidationErrors(t *testing.T) {
	reg, c, _ := newCoordinator(t, 0)
	v := voice(t, reg, 0)
	if err := c.SetFrequency(v, -1); !errors.Is(err, synth.ErrInvalidFrequency) {
		t.Fatalf("negative frequency: err = %v", err)
	}
	if err := c.SetRelativeMultiplier(v, -2); !errors.Is(err, synth.ErrInvalidMultiplier) {
		t.Fatalf("negative multiplier: err = %v", err)
	}
	if synth.IsUsage(c.SetFrequency(v, -1)) {
		t.Fatal("validation error reported as usage")
	}
}

func TestSyncCoordinator_DerivedFrequencyIsChecked(t *testing.T) {
	reg, c, calls := newCoordinator(t, 0, 0, 0)
	a, b, d := voice(t, reg, 0), voice(t, reg, 1), voice(t, reg, 2)
	if err := c.BecomeTalker(a); err != nil {
		t.Fatalf("BecomeTalker: %v", err)
	}
	for _, v := range []*synth.Voice{b, d} {
		if err := c.SetSyncState(v, false, true); err != nil {
			t.Fatalf("SetSyncState: %v", err)
		}
	}
	if err := c.SetRelativeMultiplier(d, 4); err != nil {
		t.Fatalf("SetRelativeMultiplier: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{name: "overflowing multiplier", call: func() error { return c.SetRelativeMultiplier(b, math.MaxFloat64) }},
		{name: "multiplier above limit", call: func() error { return c.SetRelativeMultiplier(b, synth.MaxFrequency) }},
		{name: "talker frequency above listener limit", call: func() error { return c.PropagateTalkerFrequency(a, synth.MaxFrequency/2) }},
		{name: "absolute frequency above limit", call: func() error { return c.SetFrequency(a, math.MaxFloat64) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(*calls)
			fa, fb, fd := a.EffectiveFrequency(), b.EffectiveFrequency(), d.EffectiveFrequency()
			mb := b.Multiplier()

			err := tt.call()
			if !errors.Is(err, synth.ErrInvalidFrequency) {
				t.Fatalf("err = %v, want ErrInvalidFrequency", err)
			}
			if synth.IsUsage(err) {
				t.Fatal("out-of-range frequency reported as usage")
			}
			if len(*calls) != before {
				t.Fatal("rejected call produced frequency updates")
			}
			if a.EffectiveFrequency() != fa || b.EffectiveFrequency() != fb || d.EffectiveFrequency() != fd || b.Multiplier() != mb {
				t.Fatal("rejected call mutated voice state")
			}
		})
	}
}

func TestSyncCoordinator_UnsyncFreezesFrequency(t *testing.T) {
	reg, c, _ := newCoordinator(t, 0, 0)
	a, b := voice(t, reg, 0), voice(t, reg, 1)
	_ = c.BecomeTalker(a)
	_ = c.SetSyncState(b, false, true)
	_ = c.SetRelativeMultiplier(b, 3)
	frozen := b.EffectiveFrequency()

	if err := c.SetSyncState(b, false, false); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}
	_ = c.SetFrequency(a, 1000)
	if got := b.EffectiveFrequency(); got != frozen {
		t.Fatalf("unsynced voice frequency = %v, want frozen %v", got, frozen)
	}
	if err := c.SetFrequency(b, 123); err != nil {
		t.Fatalf("SetFrequency on unsynced: %v", err)
	}
	if b.EffectiveFrequency() != 123 {
		t.Fatalf("frequency = %v, want 123", b.EffectiveFrequency())
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := synth.NewRegistry(2)
	reg.Add("a", synth.NewSine(48000, 1))
	reg.Add("b", synth.NewNoise(1))
	for _, id := range []synth.VoiceID{-1, 2, 100} {
		if _, ok := reg.Get(id); ok {
			t.Fatalf("Get(%d) ok = true", id)
		}
	}
	v, ok := reg.Get(1)
	if !ok || v.Name() != "b" || v.ID() != 1 {
		t.Fatalf("Get(1) = %v, %v", v, ok)
	}
}
