package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("gadgetrate v%s\n", version)
	fmt.Println("Sample-rate driven loopback supervisor for USB audio gadgets")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  gadgetrate [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Watches the playback and capture rate controls of a UAC2 gadget card and")
	fmt.Println("  runs one loopback command per direction at the rate the host selected.")
	fmt.Println("  Rate changes restart the command; rate 0 stops it. Starts are debounced so")
	fmt.Println("  short rate flapping does not spawn processes.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string          YAML config file (flags override file values)")
	fmt.Printf("  -debounce-ms int        Debounce window in ms, 0 disables (default %d)\n", defaultDebounceMS)
	fmt.Printf("  -gadget-card string     Gadget card id (default %q)\n", defaultGadgetCard)
	fmt.Printf("  -playback-ctl string    Playback rate control (default %q)\n", defaultPlaybackCtl)
	fmt.Printf("  -capture-ctl string     Capture rate control (default %q)\n", defaultCaptureCtl)
	fmt.Println("  -playback-cmd string    Playback command, {R} is replaced with the rate")
	fmt.Println("  -capture-cmd string     Capture command, {R} is replaced with the rate")
	fmt.Printf("  -stop-signal string     Signal used to stop a command (default %q)\n", defaultStopSignal)
	fmt.Printf("  -stop-timeout-ms int    SIGKILL a command this long after the stop signal (default %d)\n", defaultStopTimeoutMS)
	fmt.Println("  -show-timing            Log time between a start and the following stop")
	fmt.Printf("  -ipc-socket string      IPC socket path, empty disables (default %q)\n", defaultIPCSocket)
	fmt.Println("  -state-ws-listen string State websocket listen address, e.g. :3002 (default disabled)")
	fmt.Printf("  -pid-file string        Single-instance lock file, empty disables (default %q)\n", defaultPIDFile)
	fmt.Println("  -log-level string       error, warn, info, debug, trace (default \"info\")")
	fmt.Println("  -version                Print version and exit")
	fmt.Println("  -help                   Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  gadgetrate -debounce-ms 200 -log-level debug")
	fmt.Println("  gadgetrate -config /etc/gadgetrate.yml -state-ws-listen :3002")
	fmt.Println()
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    = flag.String("config", "", "YAML config file")
		debounceMS    = flag.Int("debounce-ms", defaultDebounceMS, "Debounce window in ms (0 disables)")
		gadgetCard    = flag.String("gadget-card", defaultGadgetCard, "Gadget card id")
		playbackCtl   = flag.String("playback-ctl", defaultPlaybackCtl, "Playback rate control name")
		captureCtl    = flag.String("capture-ctl", defaultCaptureCtl, "Capture rate control name")
		playbackCmd   = flag.String("playback-cmd", defaultPlaybackCmd, "Playback command ({R} replaced with rate)")
		captureCmd    = flag.String("capture-cmd", defaultCaptureCmd, "Capture command ({R} replaced with rate)")
		stopSignal    = flag.String("stop-signal", defaultStopSignal, "Signal used to stop a command")
		stopTimeoutMS = flag.Int("stop-timeout-ms", defaultStopTimeoutMS, "SIGKILL delay after the stop signal in ms")
		showTiming    = flag.Bool("show-timing", false, "Log start/stop timing")
		ipcSocket     = flag.String("ipc-socket", defaultIPCSocket, "IPC socket path (empty disables)")
		stateWSListen = flag.String("state-ws-listen", defaultStateWS, "State websocket listen address (empty disables)")
		pidFile       = flag.String("pid-file", defaultPIDFile, "Single-instance lock file (empty disables)")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug, trace")
		showVersion   = flag.Bool("version", false, "Print version and exit")
		showHelp      = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		printVersion()
		return 0
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
	}

	// Only flags given on the command line override the config file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "gadget-card":
			ov.GadgetCard = gadgetCard
		case "playback-ctl":
			ov.PlaybackCtl = playbackCtl
		case "capture-ctl":
			ov.CaptureCtl = captureCtl
		case "debounce-ms":
			ov.DebounceMS = debounceMS
		case "show-timing":
			ov.ShowTiming = showTiming
		case "playback-cmd":
			ov.PlaybackCmd = playbackCmd
		case "capture-cmd":
			ov.CaptureCmd = captureCmd
		case "stop-signal":
			ov.StopSignal = stopSignal
		case "stop-timeout-ms":
			ov.StopTimeoutMS = stopTimeoutMS
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "state-ws-listen":
			ov.StateWSListen = stateWSListen
		case "pid-file":
			ov.PIDFile = pidFile
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, os.Stdout)
	logger.Debug("configuration",
		"gadget_card", cfg.Gadget.Card,
		"playback_ctl", cfg.Gadget.PlaybackCtl,
		"capture_ctl", cfg.Gadget.CaptureCtl,
		"playback_enabled", cfg.Playback.Enabled,
		"capture_enabled", cfg.Capture.Enabled,
		"debounce_ms", cfg.DebounceMS,
		"stop_signal", cfg.Process.StopSignal,
		"stop_timeout_ms", cfg.Process.StopTimeoutMS,
		"ipc_socket", cfg.IPC.SocketPath,
		"state_ws_listen", cfg.StateWS.Listen,
		"pid_file", cfg.Lock.PIDFile)

	if cfg.Lock.PIDFile != "" {
		lock, err := acquirePIDLock(cfg.Lock.PIDFile)
		if err != nil {
			logger.Error("failed to acquire instance lock", "path", cfg.Lock.PIDFile, "error", err)
			return 1
		}
		defer lock.Release()
	}

	controls := make(map[Direction]string)
	for _, d := range allDirections {
		dc, ctl := cfg.DirectionConfig(d)
		if dc.Enabled {
			controls[d] = ctl
		}
	}

	src, err := OpenALSASource(cfg.Gadget.Card, controls, logger)
	if err != nil {
		logger.Error("failed to open gadget controls", "card", cfg.Gadget.Card, "error", err)
		return 1
	}
	defer src.Close()

	if err := checkDirections(controls, src.Directions(), cfg.Gadget.RequireAll, logger); err != nil {
		logger.Error("gadget configuration", "card", cfg.Gadget.Card, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boardBuf := 0
	if cfg.StateWS.Listen != "" {
		boardBuf = 128
	}
	board := NewStatusBoard(boardBuf)
	external := make(chan RateEvent, 64)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.IPC.SocketPath != "" {
		g.Go(func() error {
			return runIPCServer(gctx, cfg.IPC.SocketPath, external, board, logger)
		})
	}
	if cfg.StateWS.Listen != "" {
		ws := NewStateServer(logger, board, HubConfig{})
		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, ws.Hub(), board.Updates(), logger)
			return nil
		})
		g.Go(func() error {
			return runStateServer(gctx, cfg.StateWS.Listen, ws, logger)
		})
	}

	logger.Info("supervising", "card", cfg.Gadget.Card, "directions", fmt.Sprint(src.Directions()), "debounce", cfg.Debounce())

	runner := newExecRunner(cfg.ToProcessConfig(), logger)
	supErr := runSupervisor(gctx, &cfg, src, runner, board, external, logger)
	stop()

	code := 0
	if supErr != nil {
		logger.Error("supervisor stopped", "error", supErr)
		code = 1
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service error", "error", err)
		code = 1
	}
	return code
}

// checkDirections reports enabled directions whose control was not found.
// With requireAll any missing control is fatal.
func checkDirections(want map[Direction]string, present []Direction, requireAll bool, logger *slog.Logger) error {
	found := make(map[Direction]bool, len(present))
	for _, d := range present {
		found[d] = true
	}
	var missing []error
	for _, d := range allDirections {
		ctl, ok := want[d]
		if !ok || found[d] {
			continue
		}
		err := fmt.Errorf("%w: %s control %q", ErrControlNotFound, d, ctl)
		if requireAll {
			missing = append(missing, err)
			continue
		}
		logger.Warn("direction disabled, rate control missing", "direction", d.String(), "control", ctl)
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}
	if len(present) == 0 {
		return ErrControlNotFound
	}
	return nil
}
