package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Dispatcher turns rate readings for one direction into instructions for its
// executor. It runs on the event loop goroutine.
type Dispatcher struct {
	mailbox    *Mailbox
	timer      *DebounceTimer
	debouncing *atomic.Bool

	showTiming bool
	lastStart  time.Time
	now        func() time.Time

	logger *slog.Logger
}

// HandleRate forwards one reading. Rate 0 stops the direction: queued
// instructions are discarded and an in-progress debounce wait is cancelled
// before Stop is sent.
func (d *Dispatcher) HandleRate(rate int) error {
	d.logger.Debug("new rate value", "rate", rate)
	if rate < 0 {
		d.logger.Warn("ignoring negative rate", "rate", rate)
		return nil
	}
	if d.showTiming {
		d.recordTiming(rate)
	}

	if rate > 0 {
		if err := d.mailbox.Send(Start{Rate: rate}); err != nil {
			return fmt.Errorf("send start: %w", err)
		}
		return nil
	}

	if n := d.mailbox.DiscardPending(); n > 0 {
		d.logger.Log(context.Background(), LevelTrace, "discarded pending instructions", "count", n)
	}
	if d.debouncing.Load() {
		d.logger.Debug("cancelling debounce wait")
		if err := d.timer.Cancel(); err != nil {
			return fmt.Errorf("cancel debounce: %w", err)
		}
	}
	if err := d.mailbox.Send(Stop{}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	return nil
}

func (d *Dispatcher) recordTiming(rate int) {
	now := d.now()
	if rate > 0 {
		d.lastStart = now
		return
	}
	if !d.lastStart.IsZero() {
		d.logger.Info("stop received after start", "elapsed_ms", now.Sub(d.lastStart).Milliseconds())
	}
}
