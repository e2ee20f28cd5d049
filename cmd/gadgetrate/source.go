package main

import "errors"

var (
	// ErrControlNotFound means a configured rate control does not exist on the card.
	ErrControlNotFound = errors.New("rate control not found")
	// ErrCardNotFound means no sound card matched the configured id.
	ErrCardNotFound = errors.New("sound card not found")
	// ErrSourceClosed is returned by Next after Close.
	ErrSourceClosed = errors.New("rate source closed")
)

// RateSource yields rate readings, already resolved to a direction.
type RateSource interface {
	// Directions lists the directions whose control was found.
	Directions() []Direction
	// Current reads a direction's rate right now. Not safe to call while
	// another goroutine is blocked in Next.
	Current(d Direction) (int, error)
	// Next blocks until a rate control changes.
	Next() (RateEvent, error)
	// Close unblocks Next and releases the device.
	Close() error
}

// readRateEvents forwards events from src until it fails or done is closed.
// This runs in a dedicated goroutine and blocks on Next; closing src
// unblocks it.
func readRateEvents(src RateSource, events chan<- RateEvent, readErr chan<- error, done <-chan struct{}) {
	for {
		ev, err := src.Next()
		if err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}
