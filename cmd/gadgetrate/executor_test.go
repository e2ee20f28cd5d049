package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestPipeline(t *testing.T, debounce time.Duration, runner Runner, sink StatusSink) *Pipeline {
	t.Helper()
	tmpl, err := ParseCommand("alsaloop -r {R} -t 500000")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	return NewPipeline(PipelineConfig{
		Direction: Playback,
		Command:   tmpl,
		Debounce:  debounce,
	}, runner, sink, testLogger())
}

func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	p.Go(ctx)
	t.Cleanup(func() {
		_ = p.Quit()
		select {
		case <-p.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("pipeline did not stop")
		}
		cancel()
	})
}

func mustHandle(t *testing.T, p *Pipeline, rate int) {
	t.Helper()
	if err := p.HandleRate(rate); err != nil {
		t.Fatalf("HandleRate(%d): %v", rate, err)
	}
}

func TestPipeline_SameRateIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 0, runner, nil)
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	mustHandle(t, p, 48000)
	mustHandle(t, p, 48000)

	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "first start")
	waitUntil(t, time.Second, func() bool { return p.mailbox.Len() == 0 }, "mailbox drained")
	time.Sleep(30 * time.Millisecond)

	if n := runner.startCount(); n != 1 {
		t.Fatalf("starts = %d, want 1", n)
	}
	if n := runner.child(0).terminated.Load(); n != 0 {
		t.Fatalf("child terminated %d times, want 0", n)
	}
}

func TestPipeline_StopDuringDebounceSuppressesStart(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 100*time.Millisecond, runner, nil)
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return p.dispatcher.debouncing.Load() }, "debounce wait")
	time.Sleep(20 * time.Millisecond)
	mustHandle(t, p, 0)

	time.Sleep(250 * time.Millisecond)
	if n := runner.startCount(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}
}

// stopOnDebounceSink sends a stop the moment the executor reports it is
// debouncing, before its sleep has begun.
type stopOnDebounceSink struct {
	p    *Pipeline
	once sync.Once
	errc chan error
}

func (s *stopOnDebounceSink) Publish(st DirectionStatus) {
	if st.State != StateDebouncing {
		return
	}
	s.once.Do(func() { s.errc <- s.p.HandleRate(0) })
}

func TestPipeline_StopRightAfterDebounceBeginsSuppressesStart(t *testing.T) {
	runner := &fakeRunner{}
	sink := &stopOnDebounceSink{errc: make(chan error, 1)}
	p := newTestPipeline(t, 100*time.Millisecond, runner, sink)
	sink.p = p
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	select {
	case err := <-sink.errc:
		if err != nil {
			t.Fatalf("HandleRate(0) from sink: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("executor never reported debouncing")
	}
	time.Sleep(250 * time.Millisecond)

	if n := runner.startCount(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}
}

func TestPipeline_DebounceElapsedStarts(t *testing.T) {
	runner := &fakeRunner{}
	sink := &recordingSink{}
	p := newTestPipeline(t, 50*time.Millisecond, runner, sink)
	startPipeline(t, p)

	begin := time.Now()
	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "debounced start")
	if elapsed := time.Since(begin); elapsed < 50*time.Millisecond {
		t.Fatalf("started after %v, want >= 50ms", elapsed)
	}

	c := runner.child(0)
	want := []string{"-r", "48000", "-t", "500000"}
	if len(c.args) != len(want) {
		t.Fatalf("args = %v, want %v", c.args, want)
	}
	for i := range want {
		if c.args[i] != want[i] {
			t.Fatalf("args = %v, want %v", c.args, want)
		}
	}
	if c.program != "alsaloop" {
		t.Fatalf("program = %q, want alsaloop", c.program)
	}

	if !sink.has(func(s DirectionStatus) bool { return s.State == StateDebouncing && s.Rate == 48000 }) {
		t.Fatalf("expected a debouncing status")
	}
	waitUntil(t, time.Second, func() bool {
		s, ok := sink.last()
		return ok && s.State == StateRunning && s.Pid == c.pid
	}, "running status")
}

func TestPipeline_RateChangeRestarts(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 0, runner, nil)
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "first start")
	mustHandle(t, p, 96000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 2 }, "restart")

	if n := runner.child(0).terminated.Load(); n != 1 {
		t.Fatalf("first child terminated %d times, want 1", n)
	}
	if got := runner.child(1).args[1]; got != "96000" {
		t.Fatalf("second child rate arg = %q, want 96000", got)
	}
}

func TestPipeline_StopKillsChild(t *testing.T) {
	runner := &fakeRunner{}
	sink := &recordingSink{}
	p := newTestPipeline(t, 0, runner, sink)
	startPipeline(t, p)

	mustHandle(t, p, 44100)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start")
	mustHandle(t, p, 0)
	waitUntil(t, time.Second, func() bool { return runner.child(0).terminated.Load() == 1 }, "stop")

	waitUntil(t, time.Second, func() bool {
		s, ok := sink.last()
		return ok && s.State == StateStopped && s.Rate == 0
	}, "stopped status")

	// A second stop has nothing to kill.
	mustHandle(t, p, 0)
	time.Sleep(30 * time.Millisecond)
	if n := runner.child(0).terminated.Load(); n != 1 {
		t.Fatalf("child terminated %d times, want 1", n)
	}
}

func TestPipeline_QuitStopsChildOnce(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 0, runner, nil)
	p.Go(context.Background())

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start")

	if err := p.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("executor did not exit after Quit")
	}
	if err := p.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
	if n := runner.child(0).terminated.Load(); n != 1 {
		t.Fatalf("child terminated %d times, want 1", n)
	}

	if err := p.HandleRate(96000); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("HandleRate after exit = %v, want ErrMailboxClosed", err)
	}
}

func TestPipeline_QuitCutsDebounceShort(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 5*time.Second, runner, nil)
	p.Go(context.Background())

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return p.dispatcher.debouncing.Load() }, "debounce wait")
	time.Sleep(20 * time.Millisecond)

	if err := p.Quit(); err != nil {
		t.Fatalf("Quit: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("executor still waiting out the debounce")
	}
	if n := runner.startCount(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}
}

func TestPipeline_SpawnFailureIsRecoverable(t *testing.T) {
	runner := &fakeRunner{}
	runner.setStartErr(errors.New("no such file"))
	sink := &recordingSink{}
	p := newTestPipeline(t, 0, runner, sink)
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool {
		return sink.has(func(s DirectionStatus) bool { return s.State == StateStopped && s.Rate == 48000 })
	}, "stopped status after failed spawn")

	runner.setStartErr(nil)

	// The failed rate stays recorded, so the same rate again is a no-op.
	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return p.mailbox.Len() == 0 }, "mailbox drained")
	time.Sleep(30 * time.Millisecond)
	if n := runner.startCount(); n != 0 {
		t.Fatalf("starts = %d, want 0", n)
	}

	mustHandle(t, p, 44100)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start after rate change")

	select {
	case <-p.Done():
		t.Fatalf("executor exited after a spawn failure: %v", p.Err())
	default:
	}
}

func TestPipeline_KillFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{termErrFor: map[string]error{"alsaloop": errBoom}}
	sink := &recordingSink{}
	p := newTestPipeline(t, 0, runner, sink)
	p.Go(context.Background())

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start")
	mustHandle(t, p, 96000)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("executor did not exit after kill failure")
	}
	if err := p.Err(); !errors.Is(err, errBoom) {
		t.Fatalf("Err = %v, want wrapping errBoom", err)
	}
	if n := runner.startCount(); n != 1 {
		t.Fatalf("starts = %d, want 1", n)
	}
	s, ok := sink.last()
	if !ok || s.State != StateFailed {
		t.Fatalf("last status = %+v, want failed", s)
	}
}

func TestPipeline_AlreadyExitedChildIsBenign(t *testing.T) {
	runner := &fakeRunner{}
	sink := &recordingSink{}
	p := newTestPipeline(t, 0, runner, sink)
	startPipeline(t, p)

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start")

	runner.child(0).exit(errors.New("exit status 1"))
	waitUntil(t, time.Second, func() bool {
		return sink.has(func(s DirectionStatus) bool { return s.Error == "exit status 1" })
	}, "unexpected exit reported")

	mustHandle(t, p, 96000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 2 }, "restart after crash")

	select {
	case <-p.Done():
		t.Fatalf("executor exited: %v", p.Err())
	default:
	}
}

func TestPipeline_ContextCancelStopsChild(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestPipeline(t, 0, runner, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Go(ctx)

	mustHandle(t, p, 48000)
	waitUntil(t, time.Second, func() bool { return runner.startCount() == 1 }, "start")
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("executor did not exit on cancel")
	}
	if err := p.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
	if n := runner.child(0).terminated.Load(); n != 1 {
		t.Fatalf("child terminated %d times, want 1", n)
	}
}
