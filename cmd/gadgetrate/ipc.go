package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON.
//   - {"type":"status"}
//       -> {"status":"ok","data":[DirectionStatus...]}
//   - {"type":"set_rate","data":{"direction":"playback","rate":48000}}
//       -> {"status":"ok"}; the reading goes through the same dispatcher path
//          as a hardware event (rate 0 = stop)
//   - errors: {"status":"error","error":"msg"}
// ============================================================================

// IPCRequest is one client line.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
	Data   any    `json:"data,omitempty"`
}

type setRateRequest struct {
	Direction *Direction `json:"direction"`
	Rate      *int       `json:"rate"`
}

// runIPCServer serves the control socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- RateEvent, board *StatusBoard, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(conn, events, board, logger)
	}
}

// handleIPCConnection answers requests on one connection until it closes.
func handleIPCConnection(conn net.Conn, events chan<- RateEvent, board *StatusBoard, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := handleIPCRequest(line, events, board)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	logger.Debug("IPC connection closed")
}

func handleIPCRequest(line []byte, events chan<- RateEvent, board *StatusBoard) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case "status":
		return IPCResponse{Status: "ok", Data: board.Snapshot()}

	case "set_rate":
		var sr setRateRequest
		if err := json.Unmarshal(req.Data, &sr); err != nil {
			return ipcError(fmt.Errorf("parse set_rate: %w", err))
		}
		if sr.Direction == nil {
			return ipcError(errors.New("set_rate: direction is required"))
		}
		if sr.Rate == nil {
			return ipcError(errors.New("set_rate: rate is required"))
		}
		if *sr.Rate < 0 {
			return ipcError(errors.New("set_rate: rate must be >= 0"))
		}
		select {
		case events <- RateEvent{Direction: *sr.Direction, Rate: *sr.Rate}:
			return IPCResponse{Status: "ok"}
		default:
			return ipcError(errors.New("event queue full"))
		}

	default:
		return ipcError(fmt.Errorf("unknown request type: %q", req.Type))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}
