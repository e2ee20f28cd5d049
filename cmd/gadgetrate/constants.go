package main

import "time"

// Gadget defaults (f_uac2 gadget driver control names)
const (
	defaultGadgetCard  = "UAC2Gadget"
	defaultPlaybackCtl = "Playback Rate"
	defaultCaptureCtl  = "Capture Rate"
)

// Loopback command defaults. {R} is replaced with the requested rate.
const (
	ratePlaceholder = "{R}"

	defaultPlaybackCmd = "alsaloop -vv -r {R} --latency=1000 -f S32_LE -S playshift -C hw:Loopback,1 -P hw:UAC2Gadget"
	defaultCaptureCmd  = "alsaloop -vv -r {R} --latency=1000 -f S32_LE -S captshift -C hw:UAC2Gadget -P hw:Loopback,1"
)

// Lifecycle defaults
const (
	defaultDebounceMS    = 100  // 0 disables debouncing
	defaultStopSignal    = "SIGTERM"
	defaultStopTimeoutMS = 2000 // SIGKILL after this long without exit
)

// Ambient surfaces
const (
	defaultIPCSocket = "/tmp/gadgetrate.sock"
	defaultPIDFile   = "/tmp/gadgetrate.pid"
	defaultStateWS   = "" // disabled
	stateWSPath      = "/ws/state"

	shutdownTimeout = 5 * time.Second
)
