package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Clients connecting to /ws/state get a "state_init" message with every
// direction's status, then one "direction_status" message per executor
// transition. Messages are JSON text frames: {type, ts, data}.
// Slow clients are disconnected when their send buffer fills.
// ============================================================================

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, data any, at time.Time) ([]byte, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "client_id", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
	h.logger.Info("ws client disconnected", "client_id", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a pre-serialized frame. It never blocks; a full
// queue drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	id         string
	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// closeSend signals writePump to exit. Safe to call more than once.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "client_id", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "client_id", c.id, "error", err)
}

// writePump writes queued frames and keepalive pings until send is closed or
// a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages to detect disconnects, then unregisters.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

// StateServer serves the state WebSocket and a small JSON status API.
type StateServer struct {
	logger *slog.Logger
	hub    *Hub
	board  *StatusBoard
}

func NewStateServer(logger *slog.Logger, board *StatusBoard, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		board:  board,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Routes builds the HTTP router:
//
//	GET /ws/state            websocket (state_init, then direction_status)
//	GET /status              all directions
//	GET /status/{direction}  one direction
//	GET /healthz             liveness
func (s *StateServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Upgraded connections must see the raw ResponseWriter (Hijacker).
	r.Get(stateWSPath, s.handleStateWS)

	r.Group(func(r chi.Router) {
		r.Use(s.loggingMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/status/{direction}", s.handleDirectionStatus)
		r.Get("/healthz", s.handleHealthz)
	})
	return r
}

func (s *StateServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *StateServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *StateServer) handleDirectionStatus(w http.ResponseWriter, r *http.Request) {
	d, err := ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, st := range s.board.Snapshot() {
		if st.Direction == d {
			s.writeJSON(w, http.StatusOK, st)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, d.String()+" is not supervised")
}

func (s *StateServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.clientCount(),
	})
}

func (s *StateServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("http response write failed", "error", err)
	}
}

func (s *StateServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame the client sees.
	initMsg, err := marshalEnvelope("state_init", s.board.Snapshot(), time.Time{})
	if err != nil {
		s.logger.Warn("ws snapshot marshal failed", "error", err)
		_ = conn.Close()
		return
	}
	client.send <- initMsg
	s.hub.register <- client

	// Pump lifetime is owned by the hub and the connection, not r.Context():
	// net/http cancels the request context as soon as this handler returns.
	go client.writePump()
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals status updates and fans them out to hub clients.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan DirectionStatus, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return

		case st, ok := <-src:
			if !ok {
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}
			msg, err := marshalEnvelope("direction_status", st, st.At)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}

// runStateServer serves HTTP on addr until ctx is canceled.
func runStateServer(ctx context.Context, addr string, s *StateServer, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	logger.Info("state websocket listening", "addr", addr, "path", stateWSPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
