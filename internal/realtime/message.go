// Package realtime defines the wire contract between collaboration clients and
// the relay, and implements the server side of it: payload validation at
// ingress, per-room fan-out, and the websocket endpoint.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/quillpad/noteroom/internal/collab"
)

// Event names are part of the wire contract and must not change without a
// protocol version bump.
const (
	EventJoinRoom         = "joinRoom"
	EventRoomJoined       = "roomJoined"
	EventNoteChange       = "noteChange"
	EventNoteUpdated      = "noteUpdated"
	EventCursorMove       = "textCursorMove"
	EventCursorUpdate     = "textCursorUpdate"
	EventUserDisconnected = "userDisconnected"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinRoom is the first client message on a fresh connection.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// RoomJoined acknowledges a join with the canonical room token and the id
// assigned to this connection.
type RoomJoined struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
}

// NoteChange carries a full-document replacement from the editing client.
type NoteChange struct {
	RoomID         string          `json:"roomId"`
	Content        collab.Document `json:"content"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
}

// NoteUpdated is the relayed form of NoteChange, stamped with the sender.
type NoteUpdated struct {
	Content        collab.Document `json:"content"`
	CursorPosition *int            `json:"cursorPosition,omitempty"`
	UpdatedBy      string          `json:"updatedBy,omitempty"`
}

// CursorMove reports the sender's selection. X and Y are the sender-computed
// viewport coordinates; absent when the sender could not resolve them.
type CursorMove struct {
	RoomID string   `json:"roomId"`
	From   int      `json:"from"`
	To     int      `json:"to"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

// UnmarshalJSON accepts the legacy single-offset form on ingress, where older
// senders put "position" instead of a from/to pair.
func (c *CursorMove) UnmarshalJSON(data []byte) error {
	var aux struct {
		RoomID   string   `json:"roomId"`
		From     *int     `json:"from"`
		To       *int     `json:"to"`
		Position *int     `json:"position"`
		X        *float64 `json:"x"`
		Y        *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.RoomID = aux.RoomID
	c.X, c.Y = aux.X, aux.Y
	c.From, c.To = canonicalRange(aux.From, aux.To, aux.Position)
	return nil
}

// CursorUpdate is the relayed form of CursorMove.
type CursorUpdate struct {
	From      int      `json:"from"`
	To        int      `json:"to"`
	UpdatedBy string   `json:"updatedBy"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
}

// UnmarshalJSON accepts the legacy single-offset form, where peers sent
// "position" instead of a from/to pair. The alias is canonicalized here so
// nothing downstream sees it.
func (c *CursorUpdate) UnmarshalJSON(data []byte) error {
	var aux struct {
		From      *int     `json:"from"`
		To        *int     `json:"to"`
		Position  *int     `json:"position"`
		UpdatedBy string   `json:"updatedBy"`
		X         *float64 `json:"x"`
		Y         *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.UpdatedBy = aux.UpdatedBy
	c.X, c.Y = aux.X, aux.Y
	c.From, c.To = canonicalRange(aux.From, aux.To, aux.Position)
	return nil
}

// canonicalRange resolves the modern from/to pair against the legacy
// "position" alias. An explicit from wins; a lone from collapses to a caret.
func canonicalRange(from, to, position *int) (int, int) {
	switch {
	case from != nil:
		f, t := *from, *from
		if to != nil {
			t = *to
		}
		return f, t
	case position != nil:
		return *position, *position
	default:
		return 0, 0
	}
}

// UserDisconnected notifies remaining members that a participant left.
type UserDisconnected struct {
	SocketID string `json:"socketId"`
}
