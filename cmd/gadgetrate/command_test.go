package main

import (
	"slices"
	"testing"
)

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("  alsaloop  -C hw:UAC2Gadget   -r {R}\t-f S32_LE ")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if c.Program != "alsaloop" {
		t.Fatalf("Program = %q", c.Program)
	}
	want := []string{"-C", "hw:UAC2Gadget", "-r", "{R}", "-f", "S32_LE"}
	if !slices.Equal(c.Args, want) {
		t.Fatalf("Args = %v, want %v", c.Args, want)
	}

	for _, line := range []string{"", "   ", "\t\n"} {
		if _, err := ParseCommand(line); err == nil {
			t.Errorf("ParseCommand(%q): expected error", line)
		}
	}
}

func TestCommandTemplate_Resolve(t *testing.T) {
	c, err := ParseCommand("alsaloop -r {R} --tag rate={R}Hz -t 500000")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}

	got := c.Resolve(48000)
	want := []string{"-r", "48000", "--tag", "rate=48000Hz", "-t", "500000"}
	if !slices.Equal(got, want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}

	// The template itself is untouched so the next spawn resolves again.
	if again := c.Resolve(96000); again[1] != "96000" {
		t.Fatalf("second Resolve = %v", again)
	}
	if c.Args[1] != "{R}" {
		t.Fatalf("template mutated: %v", c.Args)
	}
}

func TestDefaultCommandsParse(t *testing.T) {
	for _, line := range []string{defaultPlaybackCmd, defaultCaptureCmd} {
		c, err := ParseCommand(line)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", line, err)
		}
		if !slices.Contains(c.Resolve(44100), "44100") {
			t.Errorf("default command %q has no rate placeholder", line)
		}
	}
}
