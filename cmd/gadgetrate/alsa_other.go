//go:build !linux

package main

import (
	"errors"
	"log/slog"
)

// OpenALSASource is only implemented on linux.
func OpenALSASource(card string, controls map[Direction]string, logger *slog.Logger) (RateSource, error) {
	return nil, errors.New("ALSA control events are only supported on linux")
}
