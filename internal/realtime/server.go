package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/motion"
	"brake-to-pause/internal/protocol"
	"brake-to-pause/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Bridges connect from the local network.
	},
}

// ConfigSource returns the preferences a new session starts from.
type ConfigSource func() motion.Config

// Server bridges platform clients and the session manager over WebSocket
// and REST.
type Server struct {
	sessionMgr *session.Manager
	hub        *Hub
	prefs      ConfigSource
	staticDir  string
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	subID  string
	mu     sync.Mutex
	closed bool
}

// New creates a new realtime server.
func New(sessionMgr *session.Manager, hub *Hub, prefs ConfigSource, staticDir string) *Server {
	if prefs == nil {
		prefs = motion.DefaultConfig
	}
	return &Server{
		sessionMgr: sessionMgr,
		hub:        hub,
		prefs:      prefs,
		staticDir:  staticDir,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /session", s.handleStartSession)
	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("DELETE /session", s.handleStopSession)
	mux.HandleFunc("GET /session/events", s.handleSessionEvents)
	mux.HandleFunc("POST /motion/transition", s.handleTransition)
	mux.HandleFunc("POST /motion/location", s.handleLocation)
	mux.HandleFunc("POST /motion/speed", s.handleSpeed)
	mux.HandleFunc("POST /audio/focus-lost", s.handleFocusLost)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("realtime: websocket upgrade")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.hub.addClient(c)

	// Bring the new client up to date: the session, the notification it
	// should be showing and the feeds it should be delivering.
	s.sendSession(c)
	s.hub.replayState(c)
	s.subscribeClient(c)

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("realtime: websocket read")
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) sendMessage(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.sendRaw(data)
}

// sendRaw queues data unless the client is gone or its buffer is full.
func (c *client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	if !s.hub.removeClient(c) {
		return
	}
	if c.subID != "" {
		s.sessionMgr.Unsubscribe(c.subID)
	}
	c.close()
}

// subscribeClient forwards session events to c, starting with the
// buffered history.
func (s *Server) subscribeClient(c *client) {
	subID, ch, history := s.sessionMgr.Subscribe()
	c.subID = subID

	for _, event := range history {
		c.sendMessage(sessionEventMessage(event))
	}

	go func() {
		for event := range ch {
			c.sendMessage(sessionEventMessage(event))
			s.sendSession(c)
		}
	}()
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeSessionStart:
		var payload protocol.SessionStartPayload
		json.Unmarshal(msg.Payload, &payload)
		cfg, err := protocol.ApplyConfig(s.prefs(), payload.Config)
		if err != nil {
			s.sendError(c, protocol.ErrInvalidMessage, err.Error())
			return
		}
		if _, err := s.sessionMgr.Start(cfg, payload.Label); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeSessionStop:
		if err := s.sessionMgr.Stop(); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeMotionTransition:
		var payload protocol.TransitionPayload
		json.Unmarshal(msg.Payload, &payload)
		activity, _ := motion.ParseActivity(payload.Activity)
		if err := s.sessionMgr.Transition(activity, payload.Entering); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeMotionLocation:
		var payload protocol.LocationPayload
		json.Unmarshal(msg.Payload, &payload)
		loc := motion.Location{SpeedMps: payload.SpeedMps, HasSpeed: payload.HasSpeed, Time: msg.Timestamp}
		if err := s.sessionMgr.Location(loc); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeMotionSpeed:
		var payload protocol.SpeedPayload
		json.Unmarshal(msg.Payload, &payload)
		if err := s.sessionMgr.SpeedSample(payload.Kph); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeAudioFocusLost:
		if err := s.sessionMgr.AudioFocusLost(); err != nil {
			s.sendError(c, errorCode(err), err.Error())
		}

	case protocol.TypeHostPermissions:
		var payload protocol.PermissionsPayload
		json.Unmarshal(msg.Payload, &payload)
		s.hub.SetLocationPermitted(payload.Location)
	}
}

// sendSession sends the current session record to a client.
func (s *Server) sendSession(c *client) {
	sess, err := s.sessionMgr.Get()
	if err != nil {
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, sessionPayload(sess))
	if err != nil {
		return
	}
	c.sendMessage(msg)
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	c.sendMessage(msg)
}

func sessionPayload(sess *session.Session) protocol.SessionUpdatePayload {
	p := protocol.SessionUpdatePayload{
		ID:         sess.ID,
		State:      string(sess.State),
		Label:      sess.Label,
		StartedAt:  sess.StartedAt.Format(time.RFC3339Nano),
		StopReason: sess.StopReason,
		Config:     protocol.ConfigToPayload(sess.Config),
	}
	if sess.StoppedAt != nil {
		p.StoppedAt = sess.StoppedAt.Format(time.RFC3339Nano)
	}
	return p
}

func sessionEventMessage(e session.Event) *protocol.Message {
	msg, _ := protocol.NewMessage(protocol.TypeSessionEvent, protocol.SessionEventPayload{
		SessionID: e.SessionID,
		Event:     string(e.Type),
		State:     string(e.State),
		Reason:    e.Reason,
	})
	return msg
}

// errorCode maps manager and controller errors to protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return protocol.ErrNoSession
	case errors.Is(err, control.ErrAlreadyEnabled):
		return protocol.ErrAlreadyEnabled
	case errors.Is(err, control.ErrNotEnabled):
		return protocol.ErrNotEnabled
	default:
		return protocol.ErrInternal
	}
}
