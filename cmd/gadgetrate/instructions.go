package main

import "fmt"

// ==============================
// Instructions (dispatcher -> executor)
// ==============================

// Instruction is a lifecycle request sent over a direction's mailbox.
type Instruction interface {
	instructionMarker()
	String() string
}

// Start requests the loopback command to run at Rate (always > 0).
type Start struct {
	Rate int
}

func (Start) instructionMarker() {}
func (s Start) String() string   { return fmt.Sprintf("Start(rate=%d)", s.Rate) }

// Stop requests the running command (if any) to be stopped.
type Stop struct{}

func (Stop) instructionMarker() {}
func (Stop) String() string     { return "Stop()" }

// Quit terminates the executor after stopping its child.
type Quit struct{}

func (Quit) instructionMarker() {}
func (Quit) String() string     { return "Quit()" }
