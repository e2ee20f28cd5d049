package main

import (
	"errors"
	"strconv"
	"strings"
)

// CommandTemplate is the loopback command for one direction. Tokens containing
// the rate placeholder are resolved at spawn time.
type CommandTemplate struct {
	Program string
	Args    []string
}

// ParseCommand splits a command line on whitespace. No shell quoting is
// interpreted.
func ParseCommand(line string) (CommandTemplate, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return CommandTemplate{}, errors.New("command is empty")
	}
	return CommandTemplate{
		Program: fields[0],
		Args:    append([]string(nil), fields[1:]...),
	}, nil
}

// Resolve returns a fresh argument list with the placeholder replaced by rate.
func (c CommandTemplate) Resolve(rate int) []string {
	r := strconv.Itoa(rate)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		if strings.Contains(a, ratePlaceholder) {
			a = strings.ReplaceAll(a, ratePlaceholder, r)
		}
		out[i] = a
	}
	return out
}

func (c CommandTemplate) String() string {
	return strings.Join(append([]string{c.Program}, c.Args...), " ")
}
