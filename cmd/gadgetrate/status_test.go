package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStatusBoard_SnapshotKeepsLatestPerDirection(t *testing.T) {
	b := NewStatusBoard(0)
	if got := b.Snapshot(); len(got) != 0 {
		t.Fatalf("empty board snapshot = %v", got)
	}

	b.Publish(DirectionStatus{Direction: Playback, State: StateDebouncing, Rate: 48000})
	b.Publish(DirectionStatus{Direction: Capture, State: StateStopped})
	b.Publish(DirectionStatus{Direction: Playback, State: StateRunning, Rate: 48000, Pid: 11})

	got := b.Snapshot()
	if len(got) != 2 {
		t.Fatalf("snapshot = %v", got)
	}
	if got[0].Direction != Capture || got[1].Direction != Playback {
		t.Fatalf("snapshot order = %v, want capture first", got)
	}
	if got[1].State != StateRunning || got[1].Pid != 11 {
		t.Fatalf("playback = %+v", got[1])
	}
	if got[1].At.IsZero() {
		t.Fatalf("publish did not stamp At")
	}
	if b.Updates() != nil {
		t.Fatalf("board without buffer should have no updates channel")
	}
}

func TestStatusBoard_UpdatesDropWhenFull(t *testing.T) {
	b := NewStatusBoard(1)
	b.Publish(DirectionStatus{Direction: Capture, State: StateStopped})
	b.Publish(DirectionStatus{Direction: Capture, State: StateRunning, Rate: 44100})

	if n := len(b.Updates()); n != 1 {
		t.Fatalf("queued updates = %d, want 1", n)
	}
	if first := <-b.Updates(); first.State != StateStopped {
		t.Fatalf("first update = %+v", first)
	}
	// The snapshot still has the update the listeners missed.
	if s := b.Snapshot()[0]; s.State != StateRunning {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestDirectionStatusJSON(t *testing.T) {
	b, err := json.Marshal(DirectionStatus{Direction: Playback, State: StateRunning, Rate: 96000, Pid: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"direction":"playback"`, `"state":"running"`, `"rate":96000`, `"pid":5`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"error"`) {
		t.Fatalf("empty error should be omitted: %s", s)
	}
}
