package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrAlreadyExited is returned by Terminate when the child was already gone.
// Callers treat it as success.
var ErrAlreadyExited = errors.New("process already exited")

// Child is a running loopback process owned by one executor.
type Child interface {
	Pid() int
	// Terminate stops the process and reaps it.
	Terminate() error
	// Exited is closed once the process has been reaped.
	Exited() <-chan struct{}
	// ExitErr is the result of the wait; valid after Exited is closed.
	ExitErr() error
}

// Runner spawns loopback processes.
type Runner interface {
	Start(program string, args []string) (Child, error)
}

// ProcessConfig controls how children are stopped.
type ProcessConfig struct {
	StopSignal  syscall.Signal
	StopTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// execRunner starts real OS processes via os/exec.
type execRunner struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

func newExecRunner(cfg ProcessConfig, logger *slog.Logger) *execRunner {
	if cfg.StopSignal == 0 {
		cfg.StopSignal = unix.SIGTERM
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &execRunner{cfg: cfg, logger: logger}
}

func (r *execRunner) Start(program string, args []string) (Child, error) {
	cmd := exec.Command(program, args...)
	cmd.Stdout = r.cfg.Stdout
	cmd.Stderr = r.cfg.Stderr
	// Own process group: Ctrl-C on the terminal reaches only the supervisor,
	// which then stops children in order.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", program, err)
	}

	c := &execChild{
		cmd:         cmd,
		exited:      make(chan struct{}),
		stopSignal:  r.cfg.StopSignal,
		stopTimeout: r.cfg.StopTimeout,
		logger:      r.logger,
	}
	go c.wait()
	return c, nil
}

type execChild struct {
	cmd         *exec.Cmd
	stopSignal  syscall.Signal
	stopTimeout time.Duration
	logger      *slog.Logger

	exited  chan struct{}
	once    sync.Once
	waitErr error
}

func (c *execChild) wait() {
	err := c.cmd.Wait()
	c.once.Do(func() {
		c.waitErr = err
		close(c.exited)
	})
}

func (c *execChild) Pid() int                { return c.cmd.Process.Pid }
func (c *execChild) Exited() <-chan struct{} { return c.exited }
func (c *execChild) ExitErr() error          { return c.waitErr }

func (c *execChild) Terminate() error {
	select {
	case <-c.exited:
		return ErrAlreadyExited
	default:
	}

	if err := c.cmd.Process.Signal(c.stopSignal); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-c.exited
			return ErrAlreadyExited
		}
		return fmt.Errorf("signal pid %d: %w", c.Pid(), err)
	}

	if c.stopTimeout <= 0 {
		<-c.exited
		return nil
	}

	select {
	case <-c.exited:
		return nil
	case <-time.After(c.stopTimeout):
	}

	c.logger.Warn("child ignored stop signal, killing", "pid", c.Pid(), "signal", unix.SignalName(c.stopSignal), "timeout", c.stopTimeout)
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", c.Pid(), err)
	}
	<-c.exited
	return nil
}

// parseSignal accepts names like "SIGTERM", "term" or a number.
func parseSignal(s string) (syscall.Signal, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return 0, errors.New("signal name is empty")
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}
