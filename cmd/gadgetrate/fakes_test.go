package main

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelTrace}))
}

// fakeChild is a Child that exits when terminated or when exit is called.
type fakeChild struct {
	pid     int
	program string
	args    []string

	termErr    error
	terminated atomic.Int32

	exited  chan struct{}
	once    sync.Once
	exitErr error
}

func (c *fakeChild) Pid() int                { return c.pid }
func (c *fakeChild) Exited() <-chan struct{} { return c.exited }
func (c *fakeChild) ExitErr() error          { return c.exitErr }

func (c *fakeChild) Terminate() error {
	c.terminated.Add(1)
	if c.termErr != nil {
		return c.termErr
	}
	select {
	case <-c.exited:
		return ErrAlreadyExited
	default:
	}
	c.exit(nil)
	return nil
}

// exit simulates the process going away on its own.
func (c *fakeChild) exit(err error) {
	c.once.Do(func() {
		c.exitErr = err
		close(c.exited)
	})
}

// fakeRunner records every spawn.
type fakeRunner struct {
	mu       sync.Mutex
	children []*fakeChild
	nextPid  int

	startErr   error
	termErrFor map[string]error // by program
}

func (r *fakeRunner) Start(program string, args []string) (Child, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.nextPid++
	c := &fakeChild{
		pid:     1000 + r.nextPid,
		program: program,
		args:    append([]string(nil), args...),
		termErr: r.termErrFor[program],
		exited:  make(chan struct{}),
	}
	r.children = append(r.children, c)
	return c, nil
}

func (r *fakeRunner) setStartErr(err error) {
	r.mu.Lock()
	r.startErr = err
	r.mu.Unlock()
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

func (r *fakeRunner) child(i int) *fakeChild {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.children) {
		return nil
	}
	return r.children[i]
}

// spawned returns the children started for program.
func (r *fakeRunner) spawned(program string) []*fakeChild {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*fakeChild
	for _, c := range r.children {
		if c.program == program {
			out = append(out, c)
		}
	}
	return out
}

// recordingSink keeps every published status.
type recordingSink struct {
	mu  sync.Mutex
	all []DirectionStatus
}

func (s *recordingSink) Publish(st DirectionStatus) {
	s.mu.Lock()
	s.all = append(s.all, st)
	s.mu.Unlock()
}

func (s *recordingSink) has(match func(DirectionStatus) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.all {
		if match(st) {
			return true
		}
	}
	return false
}

func (s *recordingSink) last() (DirectionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.all) == 0 {
		return DirectionStatus{}, false
	}
	return s.all[len(s.all)-1], true
}

var errBoom = errors.New("boom")
