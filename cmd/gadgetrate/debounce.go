package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimerClosed is returned by Cancel after the timer's executor has exited.
var ErrTimerClosed = errors.New("debounce timer closed")

// SleepResult reports how a debounce sleep ended.
type SleepResult int

const (
	Elapsed SleepResult = iota
	Cancelled
)

func (r SleepResult) String() string {
	if r == Elapsed {
		return "elapsed"
	}
	return "cancelled"
}

// DebounceTimer is a sleep that another goroutine can cut short.
//
// Each sleep gets its own cancel channel, installed by Arm (or by Sleep
// itself) and dropped when Sleep returns, so a Cancel issued while the timer
// is idle has no effect on the next Sleep.
type DebounceTimer struct {
	mu     sync.Mutex
	cancel chan struct{} // non-nil from Arm until the Sleep returns
	fired  bool          // cancel has been closed
	closed bool
}

func NewDebounceTimer() *DebounceTimer {
	return &DebounceTimer{}
}

// Arm installs the cancel channel for the next Sleep. A Cancel between Arm
// and Sleep makes that Sleep return Cancelled at once.
func (t *DebounceTimer) Arm() {
	t.mu.Lock()
	if t.cancel == nil {
		t.cancel = make(chan struct{})
		t.fired = false
	}
	t.mu.Unlock()
}

// Sleep blocks for d unless Cancel is called or ctx ends first.
// Only one Sleep may be outstanding at a time.
func (t *DebounceTimer) Sleep(ctx context.Context, d time.Duration) SleepResult {
	t.Arm()
	t.mu.Lock()
	ch := t.cancel
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.cancel == ch {
			t.cancel = nil
			t.fired = false
		}
		t.mu.Unlock()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Elapsed
	case <-ch:
		return Cancelled
	case <-ctx.Done():
		return Cancelled
	}
}

// Cancel ends an armed or in-progress Sleep. It is a no-op when the timer is idle.
func (t *DebounceTimer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTimerClosed
	}
	if t.cancel != nil && !t.fired {
		close(t.cancel)
		t.fired = true
	}
	return nil
}

// Close marks the timer unusable. Further Cancel calls fail.
func (t *DebounceTimer) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
