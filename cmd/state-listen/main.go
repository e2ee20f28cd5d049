package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// state-listen prints gadgetrate state events from its state websocket.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type directionStatus struct {
	Direction string `json:"direction"`
	State     string `json:"state"`
	Rate      int    `json:"rate"`
	Pid       int    `json:"pid,omitempty"`
	Error     string `json:"error,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "gadgetrate state websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	// The server pings every 20s; any inbound frame extends the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000")
	}

	switch env.Type {
	case "state_init":
		var all []directionStatus
		if err := json.Unmarshal(env.Data, &all); err != nil {
			fmt.Printf("[INIT] %s\n", string(env.Data))
			return
		}
		for _, s := range all {
			fmt.Printf("%s [INIT] %s\n", ts, formatStatus(s))
		}

	case "direction_status":
		var s directionStatus
		if err := json.Unmarshal(env.Data, &s); err != nil {
			fmt.Printf("[STATUS] %s\n", string(env.Data))
			return
		}
		fmt.Printf("%s [STATUS] %s\n", ts, formatStatus(s))

	default:
		fmt.Printf("%s [%s] %s\n", ts, env.Type, string(env.Data))
	}
}

func formatStatus(s directionStatus) string {
	out := fmt.Sprintf("%-8s %-10s rate=%d", s.Direction, s.State, s.Rate)
	if s.Pid > 0 {
		out += fmt.Sprintf(" pid=%d", s.Pid)
	}
	if s.Error != "" {
		out += " error=" + s.Error
	}
	return out
}
