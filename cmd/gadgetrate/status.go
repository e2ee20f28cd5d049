package main

import (
	"sync"
	"time"
)

// PipelineState is the externally visible lifecycle phase of a direction.
type PipelineState string

const (
	StateStopped    PipelineState = "stopped"
	StateDebouncing PipelineState = "debouncing"
	StateRunning    PipelineState = "running"
	StateFailed     PipelineState = "failed"
)

// DirectionStatus is a snapshot of one pipeline, published on every transition.
type DirectionStatus struct {
	Direction Direction     `json:"direction"`
	State     PipelineState `json:"state"`
	Rate      int           `json:"rate"`          // last processed rate (0 = stopped)
	Pid       int           `json:"pid,omitempty"` // running child, if any
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// StatusSink receives executor transitions. Implementations must not block.
type StatusSink interface {
	Publish(DirectionStatus)
}

// StatusBoard keeps the latest status per direction and forwards every update
// to an optional broadcast channel (the state WebSocket).
type StatusBoard struct {
	mu     sync.Mutex
	latest map[Direction]DirectionStatus

	out chan DirectionStatus
}

// NewStatusBoard creates a board. If buf > 0, updates are also queued on
// Updates(); when that queue is full the update is dropped for listeners
// (the snapshot is still current).
func NewStatusBoard(buf int) *StatusBoard {
	b := &StatusBoard{latest: make(map[Direction]DirectionStatus)}
	if buf > 0 {
		b.out = make(chan DirectionStatus, buf)
	}
	return b
}

func (b *StatusBoard) Publish(s DirectionStatus) {
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	b.mu.Lock()
	b.latest[s.Direction] = s
	b.mu.Unlock()

	if b.out == nil {
		return
	}
	select {
	case b.out <- s:
	default:
	}
}

// Updates returns the broadcast queue, or nil when the board was built without one.
func (b *StatusBoard) Updates() <-chan DirectionStatus { return b.out }

// Snapshot returns the latest status of every known direction, capture first.
func (b *StatusBoard) Snapshot() []DirectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DirectionStatus, 0, len(b.latest))
	for _, d := range allDirections {
		if s, ok := b.latest[d]; ok {
			out = append(out, s)
		}
	}
	return out
}

type discardSink struct{}

func (discardSink) Publish(DirectionStatus) {}
