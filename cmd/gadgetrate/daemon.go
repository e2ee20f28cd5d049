package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Supervisor Loop
// ============================================================================
//
// One goroutine (this loop) consumes rate events for both directions and runs
// their dispatchers. Each direction's executor runs in its own goroutine.
//
// Shutdown semantics:
//   - ctx canceled: every live pipeline gets Quit, the loop waits for the
//     executors to stop their children, returns nil unless a pipeline failed
//   - rate source failure: same teardown, returns the source error
//   - a failed pipeline is dropped; the other direction keeps running. When
//     no pipeline is left the loop returns an error.
// ============================================================================

// runSupervisor builds a pipeline per direction present in src and routes
// events until shutdown. external carries injected readings (IPC); it may be nil.
func runSupervisor(
	ctx context.Context,
	cfg *Config,
	src RateSource,
	runner Runner,
	board *StatusBoard,
	external <-chan RateEvent,
	logger *slog.Logger,
) error {
	// Executors outlive ctx so Quit can stop children in order; this context
	// is only the last resort if they do not finish in time.
	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()

	pipes := make(map[Direction]*Pipeline)
	exited := make(chan Direction, len(allDirections))

	for _, d := range src.Directions() {
		dc, _ := cfg.DirectionConfig(d)
		if !dc.Enabled {
			continue
		}
		tmpl, err := ParseCommand(dc.Command)
		if err != nil {
			return fmt.Errorf("%s command: %w", d, err)
		}
		p := NewPipeline(PipelineConfig{
			Direction:  d,
			Command:    tmpl,
			Debounce:   cfg.Debounce(),
			ShowTiming: cfg.ShowTiming,
		}, runner, board, logger)
		p.Go(execCtx)
		pipes[d] = p

		go func(p *Pipeline) {
			<-p.Done()
			exited <- p.Direction()
		}(p)

		logger.Debug("pipeline started", "direction", d.String(), "command", tmpl.String(), "debounce", cfg.Debounce())
	}
	if len(pipes) == 0 {
		return errors.New("no direction to supervise")
	}

	var failed []error

	dispatch := func(ev RateEvent) {
		p, ok := pipes[ev.Direction]
		if !ok {
			logger.Debug("no pipeline for direction, ignoring rate", "direction", ev.Direction.String(), "rate", ev.Rate)
			return
		}
		if err := p.HandleRate(ev.Rate); err != nil {
			// The executor is gone; its exit is collected from exited.
			logger.Error("dispatch failed", "direction", ev.Direction.String(), "rate", ev.Rate, "error", err)
		}
	}

	if cfg.Gadget.SyncOnStart {
		for d := range pipes {
			rate, err := src.Current(d)
			if err != nil {
				logger.Warn("could not read initial rate", "direction", d.String(), "error", err)
				continue
			}
			logger.Info("initial rate", "direction", d.String(), "rate", rate)
			if rate > 0 {
				dispatch(RateEvent{Direction: d, Rate: rate})
			}
		}
	}

	events := make(chan RateEvent, 64)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	readerExited := make(chan struct{})
	go func() {
		defer close(readerExited)
		readRateEvents(src, events, readErr, readDone)
	}()

	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			break loop

		case err := <-readErr:
			runErr = fmt.Errorf("rate source: %w", err)
			logger.Error("rate source stopped", "error", err)
			break loop

		case ev := <-events:
			logger.Log(ctx, LevelTrace, "rate event", "direction", ev.Direction.String(), "rate", ev.Rate)
			dispatch(ev)

		case ev := <-external:
			logger.Debug("injected rate", "direction", ev.Direction.String(), "rate", ev.Rate)
			dispatch(ev)

		case d := <-exited:
			p := pipes[d]
			delete(pipes, d)
			if err := p.Err(); err != nil {
				failed = append(failed, fmt.Errorf("%s: %w", d, err))
			}
			if len(pipes) == 0 {
				runErr = errors.New("no pipeline left running")
				break loop
			}
		}
	}

	stopPipelines(pipes, cfg.ToProcessConfig().StopTimeout+shutdownTimeout, logger)
	cancelExec()
	for d, p := range pipes {
		if err := p.Err(); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", d, err))
		}
	}
	close(readDone)
	if err := src.Close(); err != nil && !errors.Is(err, ErrSourceClosed) {
		logger.Debug("rate source close", "error", err)
	}
	<-readerExited

	if len(failed) > 0 {
		runErr = errors.Join(runErr, fmt.Errorf("pipeline failure: %w", errors.Join(failed...)))
	}
	return runErr
}

// stopPipelines sends Quit to every pipeline and waits up to timeout for all
// executors to exit.
func stopPipelines(pipes map[Direction]*Pipeline, timeout time.Duration, logger *slog.Logger) {
	for d, p := range pipes {
		if err := p.Quit(); err != nil {
			logger.Warn("quit failed", "direction", d.String(), "error", err)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for d, p := range pipes {
		select {
		case <-p.Done():
			logger.Debug("pipeline stopped", "direction", d.String())
		case <-deadline.C:
			logger.Warn("pipeline did not stop in time", "direction", d.String(), "timeout", timeout)
			return
		}
	}
}
