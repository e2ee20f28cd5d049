package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Executor owns one direction's loopback child. It consumes instructions in
// order, decides whether to kill and/or start, and debounces starts.
//
// All fields below mailbox are touched only by the Run goroutine, except
// debouncing (read by the dispatcher) and timer (cancelled by the dispatcher).
// The timer is armed before debouncing is set, so a cancel issued after the
// flag is seen always interrupts the wait.
type Executor struct {
	dir      Direction
	cmd      CommandTemplate
	debounce time.Duration

	mailbox    *Mailbox
	timer      *DebounceTimer
	debouncing *atomic.Bool

	runner Runner
	sink   StatusSink
	logger *slog.Logger

	// rate is the last processed instruction's rate, not necessarily what is
	// running: a cancelled debounced start still records its rate.
	rate  int
	child *trackedChild
}

// trackedChild marks children we are stopping on purpose so the exit watcher
// can tell them apart from crashes.
type trackedChild struct {
	Child
	stopping atomic.Bool
}

// Run processes instructions until Quit, a fatal error, or ctx ends.
// The mailbox and timer are closed on return.
func (e *Executor) Run(ctx context.Context) (err error) {
	defer func() {
		e.mailbox.Close()
		e.timer.Close()
		e.debouncing.Store(false)
	}()

	for {
		in, rerr := e.mailbox.Receive(ctx)
		if rerr != nil {
			if ctx.Err() != nil {
				e.logger.Debug("executor stopping (context canceled)")
				return e.killChild()
			}
			return fmt.Errorf("receive instruction: %w", rerr)
		}

		e.logger.Log(ctx, LevelTrace, "instruction", "instruction", in.String())

		switch in := in.(type) {
		case Start:
			err = e.handleRate(ctx, in.Rate)
		case Stop:
			err = e.handleRate(ctx, 0)
		case Quit:
			e.logger.Debug("ordered to quit")
			if err := e.killChild(); err != nil {
				return err
			}
			e.publish(StateStopped, "")
			return nil
		default:
			e.logger.Warn("ignoring unknown instruction", "type", fmt.Sprintf("%T", in))
		}
		if err != nil {
			return err
		}
	}
}

func (e *Executor) handleRate(ctx context.Context, rate int) error {
	e.logger.Debug("received new rate", "rate", rate, "current", e.rate)

	kill, start := decide(e.rate, rate)
	if kill {
		if err := e.killChild(); err != nil {
			return err
		}
	}

	if start {
		if e.debounce > 0 {
			e.logger.Log(ctx, LevelTrace, "debouncing, delaying start", "delay", e.debounce)
			// Armed before the flag goes up so a Stop that sees the flag
			// always reaches this sleep.
			e.timer.Arm()
			e.debouncing.Store(true)
			e.publishRate(StateDebouncing, rate)
			res := e.timer.Sleep(ctx, e.debounce)
			e.debouncing.Store(false)

			if res == Elapsed {
				e.logger.Log(ctx, LevelTrace, "debounce elapsed, starting loopback")
				e.spawn(rate)
			} else {
				e.logger.Log(ctx, LevelTrace, "debounce cancelled, not starting loopback")
			}
		} else {
			e.logger.Log(ctx, LevelTrace, "starting loopback without debouncing")
			e.spawn(rate)
		}
	}

	e.rate = rate

	if kill || start {
		if e.child != nil {
			e.publish(StateRunning, "")
		} else {
			e.publish(StateStopped, "")
		}
	}
	return nil
}

// killChild stops the running child, if any. A child that already exited is
// fine; any other failure is returned and ends the executor.
func (e *Executor) killChild() error {
	if e.child == nil {
		return nil
	}
	c := e.child
	pid := c.Pid()
	e.logger.Debug("killing loopback", "pid", pid)

	c.stopping.Store(true)
	err := c.Terminate()
	switch {
	case err == nil:
		e.logger.Info("stopped loopback", "pid", pid)
	case errors.Is(err, ErrAlreadyExited):
		e.logger.Debug("loopback had already exited", "pid", pid)
	default:
		e.logger.Warn("failed to stop loopback", "pid", pid, "error", err)
		return fmt.Errorf("stop loopback pid %d: %w", pid, err)
	}
	e.child = nil
	return nil
}

// spawn starts the command at rate. Failure is logged and leaves no child.
func (e *Executor) spawn(rate int) {
	args := e.cmd.Resolve(rate)
	c, err := e.runner.Start(e.cmd.Program, args)
	if err != nil {
		e.logger.Warn("failed to start loopback", "program", e.cmd.Program, "rate", rate, "error", err)
		return
	}

	tc := &trackedChild{Child: c}
	e.child = tc
	e.logger.Info("started loopback", "rate", rate, "pid", c.Pid())
	e.logger.Debug("loopback command", "program", e.cmd.Program, "args", args)

	go e.watch(tc, rate)
}

// watch reports children that exit without being asked to.
func (e *Executor) watch(c *trackedChild, rate int) {
	<-c.Exited()
	if c.stopping.Load() {
		return
	}
	msg := "exited"
	if err := c.ExitErr(); err != nil {
		msg = err.Error()
	}
	e.logger.Warn("loopback exited unexpectedly", "pid", c.Pid(), "rate", rate, "status", msg)
	e.sink.Publish(DirectionStatus{
		Direction: e.dir,
		State:     StateStopped,
		Rate:      rate,
		Error:     msg,
	})
}

func (e *Executor) publish(state PipelineState, errMsg string) {
	s := DirectionStatus{
		Direction: e.dir,
		State:     state,
		Rate:      e.rate,
		Error:     errMsg,
	}
	if e.child != nil {
		s.Pid = e.child.Pid()
	}
	e.sink.Publish(s)
}

func (e *Executor) publishRate(state PipelineState, rate int) {
	e.sink.Publish(DirectionStatus{Direction: e.dir, State: state, Rate: rate})
}
