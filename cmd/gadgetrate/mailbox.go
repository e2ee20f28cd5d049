package main

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Send once the consuming executor is gone.
var ErrMailboxClosed = errors.New("instruction mailbox closed")

// Mailbox is an unbounded FIFO of instructions with a single consumer.
//
// DiscardPending lets the producer drop queued-but-unconsumed instructions.
// It runs under the same lock as Receive, so every instruction is either
// consumed or discarded, never both.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Instruction
	notify chan struct{} // capacity 1, signals "queue became non-empty"
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{}, 1)}
}

// Send appends an instruction. It never blocks.
func (m *Mailbox) Send(in Instruction) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.queue = append(m.queue, in)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until an instruction is available or ctx ends.
func (m *Mailbox) Receive(ctx context.Context) (Instruction, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			in := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return in, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrMailboxClosed
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

// DiscardPending drops every queued instruction and returns how many.
func (m *Mailbox) DiscardPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	m.queue = nil
	return n
}

// Len reports the number of queued instructions.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close rejects further sends and drops anything still queued. Called by the
// consumer when it exits.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}
