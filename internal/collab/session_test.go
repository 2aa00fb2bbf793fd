package collab

import (
	"errors"
	"testing"
	"time"
)

func newTestSession(t *testing.T, surface *fakeSurface, channel *captureChannel) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		Surface:     surface,
		Channel:     channel,
		CaretWindow: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRequiresSurfaceAndChannel(t *testing.T) {
	if _, err := NewSession(SessionConfig{Channel: &captureChannel{}}); !errors.Is(err, ErrMissingSurface) {
		t.Fatalf("expected ErrMissingSurface, got %v", err)
	}
	if _, err := NewSession(SessionConfig{Surface: &fakeSurface{}}); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("expected ErrMissingChannel, got %v", err)
	}
}

func TestSessionDisconnectClearsAllCursors(t *testing.T) {
	s := newTestSession(t, &fakeSurface{}, &captureChannel{selfID: "me"})
	now := time.Now()
	s.OnCursorMoved(CursorRecord{ParticipantID: "p1", From: 2, UpdatedAt: now})
	s.OnCursorMoved(CursorRecord{ParticipantID: "p2", From: 7, UpdatedAt: now})
	if s.Registry().Len() != 2 {
		t.Fatalf("expected 2 records before disconnect")
	}

	s.OnDisconnected(errors.New("transport gone"))

	if got := s.Registry().Snapshot(); len(got) != 0 {
		t.Fatalf("registry must be empty after disconnect, got %d", len(got))
	}
}

func TestSessionExcludesOwnCursorEvents(t *testing.T) {
	s := newTestSession(t, &fakeSurface{}, &captureChannel{selfID: "me"})

	s.OnCursorMoved(CursorRecord{ParticipantID: "me", From: 3})
	s.OnCursorMoved(CursorRecord{ParticipantID: "peer", From: 5})

	snap := s.Registry().Snapshot()
	if len(snap) != 1 || snap[0].ParticipantID != "peer" {
		t.Fatalf("own events must be excluded, got %+v", snap)
	}
}

func TestSessionParticipantLeftRemovesCursor(t *testing.T) {
	s := newTestSession(t, &fakeSurface{}, &captureChannel{selfID: "me"})
	s.OnCursorMoved(CursorRecord{ParticipantID: "peer", From: 5})

	s.OnParticipantLeft("peer")
	s.OnParticipantLeft("peer") // idempotent

	if s.Registry().Len() != 0 {
		t.Fatalf("expected empty registry after participant left")
	}
}

func TestSessionRemoteUpdateAppliesAndTracksSender(t *testing.T) {
	surface := &fakeSurface{}
	channel := &captureChannel{selfID: "me"}
	s := newTestSession(t, surface, channel)

	s.OnDocumentChanged(DocumentUpdate{
		Content:      PlainText("from peer"),
		CursorOffset: intPtr(10),
		UpdatedBy:    "peer",
	})

	if !surface.Document().Equal(PlainText("from peer")) {
		t.Fatalf("remote content not applied")
	}
	snap := s.Registry().Snapshot()
	if len(snap) != 1 || snap[0].ParticipantID != "peer" || snap[0].From != 10 {
		t.Fatalf("sender cursor not recorded: %+v", snap)
	}
}

func TestSessionIgnoresOwnRelayedUpdateCursor(t *testing.T) {
	surface := &fakeSurface{}
	s := newTestSession(t, surface, &captureChannel{selfID: "me"})

	s.OnDocumentChanged(DocumentUpdate{
		Content:      PlainText("echo"),
		CursorOffset: intPtr(4),
		UpdatedBy:    "me",
	})

	if s.Registry().Len() != 0 {
		t.Fatalf("own relayed update must not create a cursor record")
	}
}

func TestSessionCaretPathBroadcastsWithSenderCoords(t *testing.T) {
	surface := &fakeSurface{
		size:   50,
		coords: map[int]ScreenPoint{12: {Top: 220, Left: 80}},
	}
	channel := &captureChannel{selfID: "me"}
	s := newTestSession(t, surface, channel)

	doc := PlainText("unchanged")
	s.HandleSelectionChanged(doc, doc, 12, 12)

	deadline := time.Now().Add(time.Second)
	for len(channel.cursorBroadcasts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	calls := channel.cursorBroadcasts()
	if len(calls) != 1 {
		t.Fatalf("expected one cursor broadcast, got %d", len(calls))
	}
	if calls[0].From != 12 || calls[0].Screen == nil {
		t.Fatalf("broadcast missing position or precomputed coords: %+v", calls[0])
	}
	if *calls[0].Screen != (ScreenPoint{Top: 220, Left: 80}) {
		t.Fatalf("wrong precomputed coords: %+v", *calls[0].Screen)
	}
}

func TestSessionLocalChangeGoesThroughBridge(t *testing.T) {
	surface := &fakeSurface{selection: 6}
	channel := &captureChannel{selfID: "me"}
	s := newTestSession(t, surface, channel)

	s.HandleLocalChange(PlainText("typed"))

	calls := channel.docBroadcasts()
	if len(calls) != 1 || calls[0].cursor != 6 {
		t.Fatalf("expected one document broadcast with offset 6, got %+v", calls)
	}
}

func TestSessionCloseTearsDownSynchronously(t *testing.T) {
	surface := &fakeSurface{size: 10, coords: map[int]ScreenPoint{1: {Top: 1, Left: 1}}}
	channel := &captureChannel{selfID: "me"}
	s, err := NewSession(SessionConfig{Surface: surface, Channel: channel, CaretWindow: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new session failed: %v", err)
	}
	s.OnCursorMoved(CursorRecord{ParticipantID: "peer", From: 1})
	doc := PlainText("x")
	s.HandleSelectionChanged(doc, doc, 2, 2)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if !channel.closed {
		t.Fatalf("channel not released on close")
	}
	if s.Registry().Len() != 0 {
		t.Fatalf("residual cursors after teardown")
	}
	// Pending debounce must not fire after teardown.
	time.Sleep(30 * time.Millisecond)
	if got := channel.cursorBroadcasts(); len(got) != 0 {
		t.Fatalf("debounce fired after close: %+v", got)
	}
	// Events after teardown are inert.
	s.OnCursorMoved(CursorRecord{ParticipantID: "late", From: 1})
	s.HandleLocalChange(PlainText("late"))
	if s.Registry().Len() != 0 || len(channel.docBroadcasts()) != 0 {
		t.Fatalf("session handled events after close")
	}
}

func TestSessionCursorsProjectsVisibleRecords(t *testing.T) {
	surface := &fakeSurface{
		size: 30,
		coords: map[int]ScreenPoint{
			5: {Top: 150, Left: 100},
		},
	}
	s := newTestSession(t, surface, &captureChannel{selfID: "me"})
	container := Rect{Top: 100, Left: 50, Width: 600, Height: 400}

	offscreen := ScreenPoint{Top: -40, Left: 10}
	s.OnCursorMoved(CursorRecord{ParticipantID: "visible-peer", From: 5})
	s.OnCursorMoved(CursorRecord{ParticipantID: "hidden-peer", Screen: &offscreen})

	cursors := s.Cursors(container)
	if len(cursors) != 1 {
		t.Fatalf("expected one rendered cursor, got %d", len(cursors))
	}
	c := cursors[0]
	if c.ParticipantID != "visible-peer" {
		t.Fatalf("wrong cursor rendered: %+v", c)
	}
	if c.Position != (ScreenPoint{Top: 50, Left: 50}) {
		t.Fatalf("wrong projected position: %+v", c.Position)
	}
	if c.Name != DisplayName("visible-peer") || c.Color != DisplayColor("visible-peer") {
		t.Fatalf("identity not derived: %+v", c)
	}
}
