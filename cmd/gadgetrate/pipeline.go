package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineConfig describes one direction's supervised command.
type PipelineConfig struct {
	Direction  Direction
	Command    CommandTemplate
	Debounce   time.Duration
	ShowTiming bool
}

// Pipeline pairs a Dispatcher with its Executor. Each pipeline fails on its
// own; nothing here is shared between directions.
type Pipeline struct {
	dir        Direction
	dispatcher *Dispatcher
	executor   *Executor
	mailbox    *Mailbox
	sink       StatusSink
	logger     *slog.Logger

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// NewPipeline wires a direction. Call Go to start the executor.
func NewPipeline(cfg PipelineConfig, runner Runner, sink StatusSink, logger *slog.Logger) *Pipeline {
	if sink == nil {
		sink = discardSink{}
	}
	logger = logger.With("direction", cfg.Direction.String())

	mb := NewMailbox()
	timer := NewDebounceTimer()
	debouncing := new(atomic.Bool)

	return &Pipeline{
		dir: cfg.Direction,
		dispatcher: &Dispatcher{
			mailbox:    mb,
			timer:      timer,
			debouncing: debouncing,
			showTiming: cfg.ShowTiming,
			now:        time.Now,
			logger:     logger,
		},
		executor: &Executor{
			dir:        cfg.Direction,
			cmd:        cfg.Command,
			debounce:   cfg.Debounce,
			mailbox:    mb,
			timer:      timer,
			debouncing: debouncing,
			runner:     runner,
			sink:       sink,
			logger:     logger,
		},
		mailbox: mb,
		sink:    sink,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (p *Pipeline) Direction() Direction { return p.dir }

// Go starts the executor goroutine.
func (p *Pipeline) Go(ctx context.Context) {
	p.sink.Publish(DirectionStatus{Direction: p.dir, State: StateStopped})
	go func() {
		defer close(p.done)
		err := p.executor.Run(ctx)
		if err != nil {
			p.logger.Error("pipeline failed", "error", err)
			p.sink.Publish(DirectionStatus{Direction: p.dir, State: StateFailed, Error: err.Error()})
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
	}()
}

// HandleRate feeds one reading through the dispatcher.
func (p *Pipeline) HandleRate(rate int) error {
	return p.dispatcher.HandleRate(rate)
}

// Quit discards pending work, cuts a debounce wait short and asks the executor
// to stop its child and exit.
func (p *Pipeline) Quit() error {
	p.mailbox.DiscardPending()
	if p.dispatcher.debouncing.Load() {
		if err := p.dispatcher.timer.Cancel(); err != nil {
			return err
		}
	}
	return p.mailbox.Send(Quit{})
}

// Done is closed when the executor has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err is the executor's exit error; valid after Done is closed.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
