package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{
		mailbox:    NewMailbox(),
		timer:      NewDebounceTimer(),
		debouncing: new(atomic.Bool),
		now:        time.Now,
		logger:     testLogger(),
	}
}

func drain(t *testing.T, m *Mailbox) []Instruction {
	t.Helper()
	var out []Instruction
	for m.Len() > 0 {
		in, err := m.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		out = append(out, in)
	}
	return out
}

func TestDispatcher_PositiveRateSendsStart(t *testing.T) {
	d := newTestDispatcher()
	if err := d.HandleRate(48000); err != nil {
		t.Fatalf("HandleRate: %v", err)
	}
	got := drain(t, d.mailbox)
	if len(got) != 1 || got[0] != (Start{Rate: 48000}) {
		t.Fatalf("queued %v, want [Start(rate=48000)]", got)
	}
}

func TestDispatcher_ZeroDiscardsPendingStarts(t *testing.T) {
	d := newTestDispatcher()
	for _, r := range []int{44100, 48000, 96000} {
		if err := d.HandleRate(r); err != nil {
			t.Fatalf("HandleRate(%d): %v", r, err)
		}
	}
	if err := d.HandleRate(0); err != nil {
		t.Fatalf("HandleRate(0): %v", err)
	}
	got := drain(t, d.mailbox)
	if len(got) != 1 || got[0] != (Stop{}) {
		t.Fatalf("queued %v, want [Stop()]", got)
	}
}

func TestDispatcher_NegativeRateIgnored(t *testing.T) {
	d := newTestDispatcher()
	if err := d.HandleRate(-1); err != nil {
		t.Fatalf("HandleRate: %v", err)
	}
	if n := d.mailbox.Len(); n != 0 {
		t.Fatalf("queued %d instructions, want 0", n)
	}
}

func TestDispatcher_ZeroCancelsDebounceWait(t *testing.T) {
	d := newTestDispatcher()
	d.debouncing.Store(true)

	res := make(chan SleepResult, 1)
	go func() { res <- d.timer.Sleep(context.Background(), 5*time.Second) }()
	waitUntil(t, time.Second, func() bool {
		d.timer.mu.Lock()
		defer d.timer.mu.Unlock()
		return d.timer.cancel != nil
	}, "sleep registered")

	if err := d.HandleRate(0); err != nil {
		t.Fatalf("HandleRate(0): %v", err)
	}
	select {
	case r := <-res:
		if r != Cancelled {
			t.Fatalf("sleep result = %v, want cancelled", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("sleep was not cancelled")
	}
}

func TestDispatcher_NotDebouncingLeavesTimerAlone(t *testing.T) {
	d := newTestDispatcher()

	res := make(chan SleepResult, 1)
	go func() { res <- d.timer.Sleep(context.Background(), 50*time.Millisecond) }()
	waitUntil(t, time.Second, func() bool {
		d.timer.mu.Lock()
		defer d.timer.mu.Unlock()
		return d.timer.cancel != nil
	}, "sleep registered")

	if err := d.HandleRate(0); err != nil {
		t.Fatalf("HandleRate(0): %v", err)
	}
	if r := <-res; r != Elapsed {
		t.Fatalf("sleep result = %v, want elapsed", r)
	}
}

func TestDispatcher_ClosedExecutor(t *testing.T) {
	d := newTestDispatcher()
	d.mailbox.Close()
	if err := d.HandleRate(48000); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("HandleRate(48000) = %v, want ErrMailboxClosed", err)
	}

	d.timer.Close()
	d.debouncing.Store(true)
	if err := d.HandleRate(0); !errors.Is(err, ErrTimerClosed) {
		t.Fatalf("HandleRate(0) = %v, want ErrTimerClosed", err)
	}
}

func TestDispatcher_ShowTiming(t *testing.T) {
	var buf bytes.Buffer
	d := newTestDispatcher()
	d.logger = slog.New(slog.NewTextHandler(&buf, nil))
	d.showTiming = true

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if err := d.HandleRate(48000); err != nil {
		t.Fatalf("HandleRate: %v", err)
	}
	now = now.Add(250 * time.Millisecond)
	if err := d.HandleRate(0); err != nil {
		t.Fatalf("HandleRate: %v", err)
	}

	if !strings.Contains(buf.String(), "elapsed_ms=250") {
		t.Fatalf("log output missing elapsed_ms=250:\n%s", buf.String())
	}
}
