// Package roomclient connects an editing session to the realtime relay. It
// implements collab.RoomChannel: reliable document broadcasts, best-effort
// cursor broadcasts, and a read loop that dispatches relayed events to a
// Handler.
package roomclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quillpad/noteroom/internal/collab"
	"github.com/quillpad/noteroom/internal/realtime"
)

var (
	// ErrDisabled means the options do not call for a live connection:
	// collaboration is off or the room is not addressable.
	ErrDisabled = errors.New("collaboration disabled for this session")
	ErrClosed   = errors.New("room channel closed")
)

const (
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// Handler receives relayed room events. collab.Session satisfies it.
type Handler interface {
	OnJoined(roomID string)
	OnDocumentChanged(update collab.DocumentUpdate)
	OnCursorMoved(rec collab.CursorRecord)
	OnParticipantLeft(participantID string)
	OnDisconnected(err error)
}

type Options struct {
	// Endpoint is the relay websocket URL, e.g. ws://host/realtime.
	Endpoint string
	// RoomID is the room token; the relay replies with its canonical form.
	RoomID string
	// Collaborative gates the connection: when false, Connect returns
	// ErrDisabled and the session runs purely locally.
	Collaborative bool
	Handler       Handler
	DialTimeout   time.Duration
	Logger        collab.Logger
}

// Client is a live connection to one room.
type Client struct {
	conn          *websocket.Conn
	handler       Handler
	roomID        string
	participantID string
	logger        collab.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Connect dials the relay, joins the room, and starts dispatching events.
// The returned client has already received its join ack, so RoomID and
// ParticipantID are valid immediately.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if !opts.Collaborative || opts.Endpoint == "" || opts.RoomID == "" {
		return nil, ErrDisabled
	}
	if opts.Handler == nil {
		return nil, errors.New("roomclient: handler is required")
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, opts.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c := &Client{
		conn:    conn,
		handler: opts.Handler,
		logger:  opts.Logger,
		closed:  make(chan struct{}),
	}
	ack, err := c.join(dialCtx, opts.RoomID)
	if err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "join failed")
		return nil, err
	}
	c.roomID = ack.RoomID
	c.participantID = ack.ParticipantID

	c.handler.OnJoined(c.roomID)
	go c.readLoop()
	return c, nil
}

func (c *Client) join(ctx context.Context, roomID string) (realtime.RoomJoined, error) {
	env, err := realtime.NewEnvelope(realtime.EventJoinRoom, realtime.JoinRoom{RoomID: roomID})
	if err != nil {
		return realtime.RoomJoined{}, err
	}
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return realtime.RoomJoined{}, fmt.Errorf("send join: %w", err)
	}
	var reply realtime.Envelope
	if err := wsjson.Read(ctx, c.conn, &reply); err != nil {
		return realtime.RoomJoined{}, fmt.Errorf("await join ack: %w", err)
	}
	if reply.Event != realtime.EventRoomJoined {
		return realtime.RoomJoined{}, fmt.Errorf("expected %s, got %q", realtime.EventRoomJoined, reply.Event)
	}
	var ack realtime.RoomJoined
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		return realtime.RoomJoined{}, fmt.Errorf("decode join ack: %w", err)
	}
	if ack.ParticipantID == "" {
		return realtime.RoomJoined{}, errors.New("join ack missing participant id")
	}
	return ack, nil
}

// RoomID returns the canonical room token assigned by the relay.
func (c *Client) RoomID() string { return c.roomID }

// ParticipantID returns the id the relay assigned to this connection.
func (c *Client) ParticipantID() string { return c.participantID }

// BroadcastDocumentChanged sends a full-document replacement. Delivery is
// reliable: failures surface to the caller.
func (c *Client) BroadcastDocumentChanged(doc collab.Document, cursorOffset int) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	env, err := realtime.NewEnvelope(realtime.EventNoteChange, realtime.NoteChange{
		RoomID:         c.roomID,
		Content:        doc,
		CursorPosition: &cursorOffset,
	})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("broadcast document: %w", err)
	}
	return nil
}

// BroadcastCursorMoved sends the caret position, best effort. When the writer
// is busy or the channel is down the update is dropped; the next movement
// supersedes it.
func (c *Client) BroadcastCursorMoved(from, to int, screen *collab.ScreenPoint) {
	select {
	case <-c.closed:
		return
	default:
	}
	move := realtime.CursorMove{RoomID: c.roomID, From: from, To: to}
	if screen != nil {
		x, y := screen.Left, screen.Top
		move.X, move.Y = &x, &y
	}
	env, err := realtime.NewEnvelope(realtime.EventCursorMove, move)
	if err != nil {
		c.logf("roomclient: encode cursor move: %v", err)
		return
	}
	if !c.writeMu.TryLock() {
		return
	}
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		c.logf("roomclient: cursor move dropped: %v", err)
	}
}

func (c *Client) readLoop() {
	for {
		var env realtime.Envelope
		if err := wsjson.Read(context.Background(), c.conn, &env); err != nil {
			select {
			case <-c.closed:
				// Deliberate teardown, not a transport failure.
			default:
				c.handler.OnDisconnected(err)
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env realtime.Envelope) {
	switch env.Event {
	case realtime.EventNoteUpdated:
		var update realtime.NoteUpdated
		if err := json.Unmarshal(env.Data, &update); err != nil {
			c.logf("roomclient: bad %s payload: %v", env.Event, err)
			return
		}
		c.handler.OnDocumentChanged(collab.DocumentUpdate{
			Content:      update.Content,
			CursorOffset: update.CursorPosition,
			UpdatedBy:    update.UpdatedBy,
		})
	case realtime.EventCursorUpdate:
		var update realtime.CursorUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			c.logf("roomclient: bad %s payload: %v", env.Event, err)
			return
		}
		rec := collab.CursorRecord{
			ParticipantID: update.UpdatedBy,
			From:          update.From,
			To:            update.To,
		}
		if update.X != nil && update.Y != nil {
			rec.Screen = &collab.ScreenPoint{Top: *update.Y, Left: *update.X}
		}
		c.handler.OnCursorMoved(rec)
	case realtime.EventUserDisconnected:
		var gone realtime.UserDisconnected
		if err := json.Unmarshal(env.Data, &gone); err != nil {
			c.logf("roomclient: bad %s payload: %v", env.Event, err)
			return
		}
		c.handler.OnParticipantLeft(gone.SocketID)
	default:
		c.logf("roomclient: ignoring unknown event %q", env.Event)
	}
}

// Close releases the connection. OnDisconnected does not fire for a close
// initiated here. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return err
}

func (c *Client) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
