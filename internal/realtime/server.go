package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultReadLimit   = 1 << 20 // full documents travel on this connection
	defaultSendBuffer  = 64
	defaultCursorRate  = 30 // movements per second per connection
	defaultCursorBurst = 10

	readDeadline = 60 * time.Second
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// ServerConfig tunes the relay endpoint. Zero values select the defaults
// above.
type ServerConfig struct {
	ReadLimit   int64
	SendBuffer  int
	CursorRate  float64
	CursorBurst int
	Logger      Logger
}

// Server is the websocket relay endpoint. Each accepted connection belongs to
// exactly one room, fixed by its first joinRoom message.
type Server struct {
	hub       *Hub
	validator *Validator
	upgrader  websocket.Upgrader
	cfg       ServerConfig
	logger    Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.CursorRate <= 0 {
		cfg.CursorRate = defaultCursorRate
	}
	if cfg.CursorBurst <= 0 {
		cfg.CursorBurst = defaultCursorBurst
	}
	return &Server{
		hub:       NewHub(cfg.Logger),
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("realtime: upgrade failed: %v", err)
		return
	}
	go s.handleConn(conn)
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	m, ok := s.awaitJoin(conn)
	if !ok {
		return
	}
	defer s.hub.Leave(m)

	done := make(chan struct{})
	defer close(done)
	go s.writeLoop(conn, m, done)

	for {
		env, ok := s.readEnvelope(conn, m)
		if !ok {
			return
		}
		switch env.Event {
		case EventNoteChange:
			var change NoteChange
			if err := json.Unmarshal(env.Data, &change); err != nil {
				s.logf("realtime: %s: bad noteChange: %v", m.id, err)
				continue
			}
			s.hub.RelayNote(m, change)
		case EventCursorMove:
			var move CursorMove
			if err := json.Unmarshal(env.Data, &move); err != nil {
				s.logf("realtime: %s: bad cursor move: %v", m.id, err)
				continue
			}
			s.hub.RelayCursor(m, move)
		case EventJoinRoom:
			// Already joined; a second join on a live connection is a
			// protocol violation and the message is dropped.
			s.logf("realtime: %s: duplicate join ignored", m.id)
		}
	}
}

// awaitJoin reads the mandatory first message, registers the member, and
// sends the ack.
func (s *Server) awaitJoin(conn *websocket.Conn) (*member, bool) {
	env, ok := s.readEnvelope(conn, nil)
	if !ok {
		return nil, false
	}
	if env.Event != EventJoinRoom {
		s.logf("realtime: expected %s, got %q", EventJoinRoom, env.Event)
		return nil, false
	}
	var join JoinRoom
	if err := json.Unmarshal(env.Data, &join); err != nil {
		s.logf("realtime: bad join payload: %v", err)
		return nil, false
	}
	m, ack, ok := s.hub.Join(join.RoomID, s.cfg.SendBuffer, rate.Limit(s.cfg.CursorRate), s.cfg.CursorBurst)
	if !ok {
		return nil, false
	}
	env, err := NewEnvelope(EventRoomJoined, ack)
	if err != nil {
		s.logf("realtime: encode join ack: %v", err)
		s.hub.Leave(m)
		return nil, false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		s.logf("realtime: send join ack: %v", err)
		s.hub.Leave(m)
		return nil, false
	}
	return m, true
}

// readEnvelope reads and validates one inbound message. Validation failures
// are logged and skipped; only transport errors end the loop.
func (s *Server) readEnvelope(conn *websocket.Conn, m *member) (Envelope, bool) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if m != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logf("realtime: %s: read failed: %v", m.id, err)
			}
			return Envelope{}, false
		}
		if err := s.validator.Validate(env.Event, env.Data); err != nil {
			s.logf("realtime: dropping message: %v", err)
			continue
		}
		return env, true
	}
}

// writeLoop drains the member's send channel and keeps the connection alive
// with pings. Exits when the hub closes the channel or the read side is done.
func (s *Server) writeLoop(conn *websocket.Conn, m *member, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-m.send:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Close shuts the hub down. Live connections observe their send channels
// closing and terminate.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
