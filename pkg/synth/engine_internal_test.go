package synth

import (
	"log/slog"
	"testing"
)

func TestEngine_SyncCommandIsOneBatch(t *testing.T) {
	specs := []VoiceSpec{
		{Kind: KindSine, Role: RoleTalker, Frequency: 200},
		{Kind: KindSine, Role: RoleListener, Multiplier: 2},
		{Kind: KindSquare, Role: RoleListener, Multiplier: 3},
		{Kind: KindWavetable, Role: RoleListener, Multiplier: 0.5},
		{Kind: KindSine, Group: 1, Frequency: 50},
	}
	e, err := NewEngine(specs, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := e.SetFrequency(0, 500); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := e.queue.pending(); got != 4 {
		t.Fatalf("pending = %d, want talker plus 3 listeners in one batch", got)
	}
	for _, v := range e.reg.voices[1:4] {
		if v.wave.frequency == v.ctl.frequency {
			t.Fatalf("voice %d retuned before the batch was drained", v.id)
		}
	}

	if n := e.Flush(); n != 4 {
		t.Fatalf("Flush applied %d events, want 4", n)
	}
	for _, v := range e.reg.voices {
		if v.wave.frequency != v.ctl.frequency {
			t.Fatalf("voice %d plays %v, commanded %v", v.id, v.wave.frequency, v.ctl.frequency)
		}
	}
	if got := e.reg.voices[3].wave.frequency; got != 250 {
		t.Fatalf("listener frequency = %v, want 250", got)
	}
	if got := e.reg.voices[4].wave.frequency; got != 50 {
		t.Fatalf("other group retuned to %v", got)
	}
}

func TestEngine_RejectedSyncCallStagesNothing(t *testing.T) {
	specs := []VoiceSpec{
		{Kind: KindSine, Role: RoleTalker},
		{Kind: KindSine, Role: RoleListener},
	}
	e, err := NewEngine(specs, WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.ResyncListener(0); !IsUsage(err) {
		t.Fatalf("ResyncListener(talker) err = %v, want usage error", err)
	}
	if e.queue.pending() != 0 || e.queue.staged != e.queue.tail.Load() {
		t.Fatal("rejected call left events in the queue")
	}
}
