package realtime

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Delivery classes. Reliable messages must reach every member or the member
// is disconnected; volatile messages are dropped for members that cannot keep
// up, since the next one supersedes them.
const (
	classReliable = iota
	classVolatile
)

type member struct {
	id     string
	room   string
	send   chan []byte
	cursor *rate.Limiter
}

type joinRequest struct {
	m      *member
	roomID string
	ack    chan RoomJoined
}

type relayRequest struct {
	from  *member
	class int
	data  []byte
}

// Hub routes messages between the members of each room. All room state is
// owned by the run loop; the exported methods only pass messages to it.
type Hub struct {
	rooms map[string]map[*member]bool

	join      chan joinRequest
	leave     chan *member
	relay     chan relayRequest
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	logger Logger
}

// Logger matches the stdlib logger.
type Logger interface {
	Printf(format string, args ...any)
}

func NewHub(logger Logger) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*member]bool),
		join:   make(chan joinRequest),
		leave:  make(chan *member),
		relay:  make(chan relayRequest),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.closed)
	for {
		select {
		case <-h.done:
			for _, members := range h.rooms {
				for m := range members {
					close(m.send)
				}
			}
			h.rooms = nil
			return
		case req := <-h.join:
			h.handleJoin(req)
		case m := <-h.leave:
			h.handleLeave(m)
		case req := <-h.relay:
			h.handleRelay(req)
		}
	}
}

func (h *Hub) handleJoin(req joinRequest) {
	room := canonicalRoomID(req.roomID)
	req.m.room = room
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*member]bool)
		h.rooms[room] = members
	}
	members[req.m] = true
	req.ack <- RoomJoined{RoomID: room, ParticipantID: req.m.id}
}

func (h *Hub) handleLeave(m *member) {
	members, ok := h.rooms[m.room]
	if !ok || !members[m] {
		return
	}
	delete(members, m)
	close(m.send)
	if len(members) == 0 {
		delete(h.rooms, m.room)
		return
	}
	env, err := NewEnvelope(EventUserDisconnected, UserDisconnected{SocketID: m.id})
	if err != nil {
		h.logf("realtime: encode disconnect notice: %v", err)
		return
	}
	h.fanOut(members, m, classReliable, mustMarshal(env))
}

func (h *Hub) handleRelay(req relayRequest) {
	members, ok := h.rooms[req.from.room]
	if !ok || !members[req.from] {
		return
	}
	h.fanOut(members, req.from, req.class, req.data)
}

// fanOut delivers to every member of the room except the sender. A reliable
// message that cannot be buffered disconnects the receiver; a volatile one is
// silently skipped.
func (h *Hub) fanOut(members map[*member]bool, sender *member, class int, data []byte) {
	var evicted []*member
	for m := range members {
		if m == sender {
			continue
		}
		select {
		case m.send <- data:
		default:
			if class == classVolatile {
				continue
			}
			h.logf("realtime: member %s too slow, disconnecting", m.id)
			evicted = append(evicted, m)
		}
	}
	for _, m := range evicted {
		delete(members, m)
		close(m.send)
	}
}

// Join registers a connection with the hub and returns the ack to send back.
// The returned member must be passed to Leave exactly once when the
// connection ends.
func (h *Hub) Join(roomID string, sendBuffer int, cursorLimit rate.Limit, cursorBurst int) (*member, RoomJoined, bool) {
	m := &member{
		id:     uuid.NewString(),
		send:   make(chan []byte, sendBuffer),
		cursor: rate.NewLimiter(cursorLimit, cursorBurst),
	}
	req := joinRequest{m: m, roomID: roomID, ack: make(chan RoomJoined, 1)}
	select {
	case h.join <- req:
		return m, <-req.ack, true
	case <-h.done:
		return nil, RoomJoined{}, false
	}
}

func (h *Hub) Leave(m *member) {
	select {
	case h.leave <- m:
	case <-h.done:
	}
}

// RelayNote fans a document replacement out to the sender's room, stamped
// with the sender's id.
func (h *Hub) RelayNote(m *member, change NoteChange) {
	env, err := NewEnvelope(EventNoteUpdated, NoteUpdated{
		Content:        change.Content,
		CursorPosition: change.CursorPosition,
		UpdatedBy:      m.id,
	})
	if err != nil {
		h.logf("realtime: encode note update: %v", err)
		return
	}
	h.submit(relayRequest{from: m, class: classReliable, data: mustMarshal(env)})
}

// RelayCursor fans a cursor movement out to the sender's room. Movements
// beyond the sender's rate cap are dropped.
func (h *Hub) RelayCursor(m *member, move CursorMove) {
	if !m.cursor.Allow() {
		return
	}
	env, err := NewEnvelope(EventCursorUpdate, CursorUpdate{
		From:      move.From,
		To:        move.To,
		UpdatedBy: m.id,
		X:         move.X,
		Y:         move.Y,
	})
	if err != nil {
		h.logf("realtime: encode cursor update: %v", err)
		return
	}
	h.submit(relayRequest{from: m, class: classVolatile, data: mustMarshal(env)})
}

func (h *Hub) submit(req relayRequest) {
	select {
	case h.relay <- req:
	case <-h.done:
	}
}

// Close stops the run loop and closes every member's send channel. Blocks
// until the loop has exited.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.closed
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Printf(format, args...)
}

// canonicalRoomID normalizes the client-supplied room token; members joining
// with incidental whitespace or case differences land in the same room.
func canonicalRoomID(roomID string) string {
	return strings.ToLower(strings.TrimSpace(roomID))
}

func mustMarshal(env Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		// Envelope marshalling cannot fail: both fields are marshal-safe.
		panic(err)
	}
	return data
}
