package main

import (
	"fmt"
	"strings"
)

// Direction tags one of the two independent audio pipelines.
type Direction int

const (
	Capture Direction = iota
	Playback
)

// allDirections lists directions in a stable order (capture first, as the
// gadget driver registers its controls).
var allDirections = []Direction{Capture, Playback}

func (d Direction) String() string {
	switch d {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "capture" or "playback" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "capture":
		return Capture, nil
	case "playback":
		return Playback, nil
	default:
		return 0, fmt.Errorf("invalid direction %q (must be capture or playback)", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// RateEvent is one rate reading for a direction. Rate 0 means stop.
type RateEvent struct {
	Direction Direction `json:"direction"`
	Rate      int       `json:"rate"`
}
