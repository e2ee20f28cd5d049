package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the gadgetrate daemon.
//
// Defaults, file and flag overrides are layered in that order, then Validate
// runs once so the rest of the code can assume a well-formed config.
type Config struct {
	// Gadget card and rate controls
	Gadget GadgetConfig `yaml:"gadget"`

	// Debounce window for starts in milliseconds (0 disables)
	DebounceMS int `yaml:"debounce_ms"`

	// Log elapsed time between a start and the following stop
	ShowTiming bool `yaml:"show_timing"`

	Playback DirectionConfig `yaml:"playback"`
	Capture  DirectionConfig `yaml:"capture"`

	// How loopback children are stopped
	Process ProcessFileConfig `yaml:"process"`

	IPC     IPCConfig     `yaml:"ipc"`
	StateWS StateWSConfig `yaml:"state_ws"`
	Lock    LockConfig    `yaml:"lock"`
	Logging LoggingConfig `yaml:"logging"`
}

type GadgetConfig struct {
	Card        string `yaml:"card"`         // ALSA card id, e.g. "UAC2Gadget" (hw:UAC2Gadget)
	PlaybackCtl string `yaml:"playback_ctl"` // PCM control carrying the playback rate
	CaptureCtl  string `yaml:"capture_ctl"`  // PCM control carrying the capture rate

	// RequireAll makes a missing control fatal. When false, a direction whose
	// control is missing is skipped with a warning.
	RequireAll bool `yaml:"require_all"`

	// SyncOnStart dispatches the current control values right after subscribing.
	SyncOnStart bool `yaml:"sync_on_start"`
}

type DirectionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"` // {R} is replaced with the rate
}

type ProcessFileConfig struct {
	StopSignal    string `yaml:"stop_signal"`
	StopTimeoutMS int    `yaml:"stop_timeout_ms"` // 0 waits forever after the stop signal
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"` // empty disables
}

type StateWSConfig struct {
	Listen string `yaml:"listen"` // e.g. ":3002"; empty disables
}

type LockConfig struct {
	PIDFile string `yaml:"pid_file"` // empty disables
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Gadget: GadgetConfig{
			Card:        defaultGadgetCard,
			PlaybackCtl: defaultPlaybackCtl,
			CaptureCtl:  defaultCaptureCtl,
			RequireAll:  true,
			SyncOnStart: true,
		},
		DebounceMS: defaultDebounceMS,
		Playback: DirectionConfig{
			Enabled: true,
			Command: defaultPlaybackCmd,
		},
		Capture: DirectionConfig{
			Enabled: true,
			Command: defaultCaptureCmd,
		},
		Process: ProcessFileConfig{
			StopSignal:    defaultStopSignal,
			StopTimeoutMS: defaultStopTimeoutMS,
		},
		IPC:     IPCConfig{SocketPath: defaultIPCSocket},
		StateWS: StateWSConfig{Listen: defaultStateWS},
		Lock:    LockConfig{PIDFile: defaultPIDFile},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file or comments only
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds values from flags that were explicitly set on the
// command line. Nil pointers are ignored.
type FlagOverrides struct {
	GadgetCard  *string
	PlaybackCtl *string
	CaptureCtl  *string

	DebounceMS *int
	ShowTiming *bool

	PlaybackCmd *string
	CaptureCmd  *string

	StopSignal    *string
	StopTimeoutMS *int

	IPCSocketPath *string
	StateWSListen *string
	PIDFile       *string

	LogLevel *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.GadgetCard != nil {
		cfg.Gadget.Card = *o.GadgetCard
	}
	if o.PlaybackCtl != nil {
		cfg.Gadget.PlaybackCtl = *o.PlaybackCtl
	}
	if o.CaptureCtl != nil {
		cfg.Gadget.CaptureCtl = *o.CaptureCtl
	}
	if o.DebounceMS != nil {
		cfg.DebounceMS = *o.DebounceMS
	}
	if o.ShowTiming != nil {
		cfg.ShowTiming = *o.ShowTiming
	}
	if o.PlaybackCmd != nil {
		cfg.Playback.Command = *o.PlaybackCmd
	}
	if o.CaptureCmd != nil {
		cfg.Capture.Command = *o.CaptureCmd
	}
	if o.StopSignal != nil {
		cfg.Process.StopSignal = *o.StopSignal
	}
	if o.StopTimeoutMS != nil {
		cfg.Process.StopTimeoutMS = *o.StopTimeoutMS
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}
	if o.PIDFile != nil {
		cfg.Lock.PIDFile = *o.PIDFile
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.Gadget.Card == "" {
		return errors.New("gadget.card must not be empty")
	}
	if !c.Playback.Enabled && !c.Capture.Enabled {
		return errors.New("at least one of playback.enabled or capture.enabled must be true")
	}
	if c.Playback.Enabled {
		if c.Gadget.PlaybackCtl == "" {
			return errors.New("gadget.playback_ctl must not be empty when playback is enabled")
		}
		if _, err := ParseCommand(c.Playback.Command); err != nil {
			return fmt.Errorf("playback.command: %w", err)
		}
	}
	if c.Capture.Enabled {
		if c.Gadget.CaptureCtl == "" {
			return errors.New("gadget.capture_ctl must not be empty when capture is enabled")
		}
		if _, err := ParseCommand(c.Capture.Command); err != nil {
			return fmt.Errorf("capture.command: %w", err)
		}
	}

	if c.DebounceMS < 0 {
		return errors.New("debounce_ms must be >= 0")
	}
	if _, err := parseSignal(c.Process.StopSignal); err != nil {
		return fmt.Errorf("process.stop_signal: %w", err)
	}
	if c.Process.StopTimeoutMS < 0 {
		return errors.New("process.stop_timeout_ms must be >= 0")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// DirectionConfig returns the per-direction section and its control name.
func (c *Config) DirectionConfig(d Direction) (DirectionConfig, string) {
	if d == Playback {
		return c.Playback, c.Gadget.PlaybackCtl
	}
	return c.Capture, c.Gadget.CaptureCtl
}

// ToProcessConfig converts the file config into runner settings.
// Validate must have passed.
func (c *Config) ToProcessConfig() ProcessConfig {
	sig, _ := parseSignal(c.Process.StopSignal)
	return ProcessConfig{
		StopSignal:  sig,
		StopTimeout: time.Duration(c.Process.StopTimeoutMS) * time.Millisecond,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
