package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

// ============================================================================
// gadgetrate-ctl - Command-line IPC Client
// ============================================================================
// Talks to a running gadgetrate daemon over its Unix domain socket.
//
// Usage:
//   gadgetrate-ctl status
//   gadgetrate-ctl rate playback 48000
//   gadgetrate-ctl stop capture
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/gadgetrate.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary)

type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type setRate struct {
	Direction string `json:"direction"`
	Rate      int    `json:"rate"`
}

type directionStatus struct {
	Direction string    `json:"direction"`
	State     string    `json:"state"`
	Rate      int       `json:"rate"`
	Pid       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func main() {
	socketPath := "/tmp/gadgetrate.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req IPCRequest

	switch args[0] {
	case "status":
		req.Type = "status"

	case "rate", "set-rate":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: rate requires a direction and a rate\n")
			os.Exit(1)
		}
		rate, err := strconv.Atoi(args[2])
		if err != nil || rate < 0 {
			fmt.Fprintf(os.Stderr, "error: invalid rate: %q\n", args[2])
			os.Exit(1)
		}
		req = mustSetRate(args[1], rate)

	case "stop":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: stop requires a direction\n")
			os.Exit(1)
		}
		req = mustSetRate(args[1], 0)

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if req.Type == "status" {
		if err := printStatus(resp.Data); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Println("ok")
}

func mustSetRate(direction string, rate int) IPCRequest {
	if direction != "capture" && direction != "playback" {
		fmt.Fprintf(os.Stderr, "error: direction must be capture or playback, got %q\n", direction)
		os.Exit(1)
	}
	data, err := json.Marshal(setRate{Direction: direction, Rate: rate})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal request: %v\n", err)
		os.Exit(1)
	}
	return IPCRequest{Type: "set_rate", Data: data}
}

func send(socketPath string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printStatus(raw json.RawMessage) error {
	var statuses []directionStatus
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &statuses); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIRECTION\tSTATE\tRATE\tPID\tSINCE\tERROR")
	for _, s := range statuses {
		pid := "-"
		if s.Pid > 0 {
			pid = strconv.Itoa(s.Pid)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", s.Direction, s.State, s.Rate, pid, s.At.Local().Format(time.TimeOnly), s.Error)
	}
	return w.Flush()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `gadgetrate-ctl - Control the gadgetrate daemon via IPC

Usage:
  gadgetrate-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/gadgetrate.sock)

Commands:
  status                          Show per-direction state
  rate, set-rate <direction> <hz> Inject a rate reading (0 stops)
  stop <direction>                Inject rate 0
  help, -h, --help                Show this help message

Directions: capture, playback

Examples:
  gadgetrate-ctl status
  gadgetrate-ctl rate playback 96000
  gadgetrate-ctl -socket /run/gadgetrate.sock stop capture
`)
}
