package collab

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrMissingSurface = errors.New("editor surface is required")
	ErrMissingChannel = errors.New("room channel is required")
)

type Logger interface {
	Printf(format string, args ...any)
}

// RoomChannel is the per-session connection to the realtime relay, scoped to
// one room. BroadcastCursorMoved is best effort: when the transport cannot
// deliver immediately the update is dropped, since the next movement
// supersedes it anyway.
type RoomChannel interface {
	RoomID() string
	ParticipantID() string
	BroadcastDocumentChanged(doc Document, cursorOffset int) error
	BroadcastCursorMoved(from, to int, screen *ScreenPoint)
	Close() error
}

type SessionConfig struct {
	Surface       EditorSurface
	Channel       RoomChannel
	CursorTTL     time.Duration // defaults to CursorTTL
	SweepInterval time.Duration // defaults to SweepInterval
	CaretWindow   time.Duration // defaults to DefaultCaretWindow
	Logger        Logger
}

// Session owns all collaboration state for one note in one tab: the remote
// cursor registry and its sweeper, the sync bridge with its echo gate, and
// the caret broadcaster. It is constructed when collaboration mode is entered
// for a room and must be Closed when the session ends or the room changes;
// nothing fires after Close.
type Session struct {
	surface  EditorSurface
	channel  RoomChannel
	registry *Registry
	bridge   *SyncBridge
	caret    *CaretBroadcaster
	sweeper  *Sweeper
	logger   Logger
	now      func() time.Time

	mu     sync.Mutex
	closed bool
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Surface == nil {
		return nil, ErrMissingSurface
	}
	if cfg.Channel == nil {
		return nil, ErrMissingChannel
	}
	s := &Session{
		surface:  cfg.Surface,
		channel:  cfg.Channel,
		registry: NewRegistry(),
		logger:   cfg.Logger,
		now:      time.Now,
	}
	s.bridge = NewSyncBridge(cfg.Surface, cfg.Channel, s.registry, true)
	s.caret = NewCaretBroadcaster(cfg.CaretWindow, s.emitCaret)
	s.sweeper = StartSweeper(s.registry, cfg.SweepInterval, cfg.CursorTTL)
	return s, nil
}

// HandleLocalChange is wired to the editing surface's change notification.
func (s *Session) HandleLocalChange(doc Document) {
	if s.isClosed() {
		return
	}
	if err := s.bridge.OnLocalDocumentChanged(doc); err != nil {
		s.logf("collab: document broadcast failed: %v", err)
	}
}

// HandleSelectionChanged is wired to the surface's selection notification.
func (s *Session) HandleSelectionChanged(before, after Document, from, to int) {
	if s.isClosed() {
		return
	}
	s.caret.OnSelectionChanged(before, after, from, to)
}

func (s *Session) emitCaret(from, to int) {
	if s.isClosed() {
		return
	}
	// Compute viewport coordinates on the sender so receivers can skip the
	// projection. A lookup failure just omits them.
	var screen *ScreenPoint
	if abs, err := s.surface.CoordsAtOffset(from); err == nil {
		screen = &abs
	}
	s.channel.BroadcastCursorMoved(from, to, screen)
}

// OnJoined implements the room channel handler.
func (s *Session) OnJoined(roomID string) {
	s.logf("collab: joined room %s as %s", roomID, s.channel.ParticipantID())
}

// OnDocumentChanged applies a remote replacement through the sync bridge.
// A cursor record is only kept for other participants; our own updates
// relayed back must not appear in our registry.
func (s *Session) OnDocumentChanged(update DocumentUpdate) {
	if s.isClosed() {
		return
	}
	if update.UpdatedBy != "" && update.UpdatedBy == s.channel.ParticipantID() {
		update.UpdatedBy = ""
	}
	s.bridge.ApplyRemote(update, s.now())
}

// OnCursorMoved refreshes the registry for a remote participant. Self events
// are excluded.
func (s *Session) OnCursorMoved(rec CursorRecord) {
	if s.isClosed() {
		return
	}
	if rec.ParticipantID == "" || rec.ParticipantID == s.channel.ParticipantID() {
		return
	}
	s.registry.Upsert(rec, s.now())
}

func (s *Session) OnParticipantLeft(participantID string) {
	if s.isClosed() {
		return
	}
	s.registry.Remove(participantID)
}

// OnDisconnected clears all remote cursor state: once the channel is gone,
// presence can no longer be trusted. Reconnection is the caller's concern.
func (s *Session) OnDisconnected(err error) {
	if s.isClosed() {
		return
	}
	s.registry.Clear()
	if err != nil {
		s.logf("collab: room channel disconnected: %v", err)
	}
}

// RenderedCursor is a remote cursor placed and styled for rendering.
type RenderedCursor struct {
	ParticipantID string
	Name          string
	Color         string
	Position      ScreenPoint
}

// Cursors projects the live registry against the editing container. Records
// that cannot be placed inside the container are omitted, never errors.
func (s *Session) Cursors(container Rect) []RenderedCursor {
	records := s.registry.Snapshot()
	out := make([]RenderedCursor, 0, len(records))
	for _, rec := range records {
		pos, ok := Project(s.surface, rec, container)
		if !ok {
			continue
		}
		out = append(out, RenderedCursor{
			ParticipantID: rec.ParticipantID,
			Name:          DisplayName(rec.ParticipantID),
			Color:         DisplayColor(rec.ParticipantID),
			Position:      pos,
		})
	}
	return out
}

func (s *Session) Registry() *Registry { return s.registry }

// Close tears the session down synchronously: sweeper stopped, debounce
// cancelled, registry cleared, channel released. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sweeper.Stop()
	s.caret.Close()
	s.registry.Clear()
	return s.channel.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
