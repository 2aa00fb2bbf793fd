package collab

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSurface mimics the editing widget: SetDocument fires the change
// notification synchronously, the way a real editor does when content is
// replaced programmatically.
type fakeSurface struct {
	mu        sync.Mutex
	doc       Document
	size      int
	selection int
	coords    map[int]ScreenPoint
	coordsErr error
	onChange  func(doc Document)
}

func (f *fakeSurface) Document() Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc
}

func (f *fakeSurface) DocumentSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *fakeSurface) SelectionOffset() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selection
}

func (f *fakeSurface) SetDocument(doc Document, suppressNotify bool) {
	f.mu.Lock()
	f.doc = doc
	notify := f.onChange
	f.mu.Unlock()
	if !suppressNotify && notify != nil {
		notify(doc)
	}
}

func (f *fakeSurface) CoordsAtOffset(offset int) (ScreenPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coordsErr != nil {
		return ScreenPoint{}, f.coordsErr
	}
	if p, ok := f.coords[offset]; ok {
		return p, nil
	}
	return ScreenPoint{}, errors.New("no coords for offset")
}

type broadcastCall struct {
	doc    Document
	cursor int
}

type captureChannel struct {
	mu        sync.Mutex
	roomID    string
	selfID    string
	docCalls  []broadcastCall
	cursorLog []CursorRecord
	closed    bool
}

func (c *captureChannel) RoomID() string        { return c.roomID }
func (c *captureChannel) ParticipantID() string { return c.selfID }

func (c *captureChannel) BroadcastDocumentChanged(doc Document, cursorOffset int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docCalls = append(c.docCalls, broadcastCall{doc: doc, cursor: cursorOffset})
	return nil
}

func (c *captureChannel) BroadcastCursorMoved(from, to int, screen *ScreenPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursorLog = append(c.cursorLog, CursorRecord{From: from, To: to, Screen: screen})
}

func (c *captureChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureChannel) docBroadcasts() []broadcastCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcastCall(nil), c.docCalls...)
}

func (c *captureChannel) cursorBroadcasts() []CursorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CursorRecord(nil), c.cursorLog...)
}

func intPtr(v int) *int { return &v }

func TestBridgeLocalChangeBroadcastsWithSelectionOffset(t *testing.T) {
	surface := &fakeSurface{selection: 7}
	channel := &captureChannel{}
	bridge := NewSyncBridge(surface, channel, NewRegistry(), true)

	if err := bridge.OnLocalDocumentChanged(PlainText("hello")); err != nil {
		t.Fatalf("local change failed: %v", err)
	}
	calls := channel.docBroadcasts()
	if len(calls) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(calls))
	}
	if calls[0].cursor != 7 {
		t.Fatalf("expected cursor offset 7, got %d", calls[0].cursor)
	}
	if !calls[0].doc.Equal(PlainText("hello")) {
		t.Fatalf("broadcast carried wrong document")
	}
}

func TestBridgeDisabledIsInert(t *testing.T) {
	surface := &fakeSurface{}
	channel := &captureChannel{}
	bridge := NewSyncBridge(surface, channel, nil, false)

	if err := bridge.OnLocalDocumentChanged(PlainText("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(channel.docBroadcasts()); got != 0 {
		t.Fatalf("disabled bridge broadcast %d times", got)
	}
}

func TestBridgeEchoSuppressionPreventsLoopback(t *testing.T) {
	surface := &fakeSurface{}
	channel := &captureChannel{}
	bridge := NewSyncBridge(surface, channel, NewRegistry(), true)
	// Replacing the document makes the surface fire its change notification,
	// which re-enters the bridge exactly as a user edit would.
	surface.onChange = func(doc Document) {
		if err := bridge.OnLocalDocumentChanged(doc); err != nil {
			t.Errorf("change notification failed: %v", err)
		}
	}

	bridge.ApplyRemote(DocumentUpdate{Content: PlainText("remote edit")}, time.Now())

	if got := len(channel.docBroadcasts()); got != 0 {
		t.Fatalf("remote apply leaked %d outbound broadcasts", got)
	}
	if !surface.Document().Equal(PlainText("remote edit")) {
		t.Fatalf("remote content was not applied")
	}

	// The gate must be consumed: the next genuine local edit broadcasts.
	if err := bridge.OnLocalDocumentChanged(PlainText("local edit")); err != nil {
		t.Fatalf("local change failed: %v", err)
	}
	if got := len(channel.docBroadcasts()); got != 1 {
		t.Fatalf("expected 1 broadcast after gate cleared, got %d", got)
	}
}

func TestBridgeGateClearsWhenSurfaceSuppressesNotification(t *testing.T) {
	surface := &fakeSurface{}
	channel := &captureChannel{}
	bridge := NewSyncBridge(surface, channel, NewRegistry(), true)
	// No onChange wired: the surface applies silently.

	bridge.ApplyRemote(DocumentUpdate{Content: PlainText("silent")}, time.Now())

	if err := bridge.OnLocalDocumentChanged(PlainText("after")); err != nil {
		t.Fatalf("local change failed: %v", err)
	}
	if got := len(channel.docBroadcasts()); got != 1 {
		t.Fatalf("gate outlived the remote apply: got %d broadcasts", got)
	}
}

func TestBridgeRemoteUpdateRecordsSenderCursor(t *testing.T) {
	surface := &fakeSurface{}
	channel := &captureChannel{}
	registry := NewRegistry()
	bridge := NewSyncBridge(surface, channel, registry, true)

	bridge.ApplyRemote(DocumentUpdate{
		Content:      PlainText("doc"),
		CursorOffset: intPtr(10),
		UpdatedBy:    "peer-1",
	}, time.Now())

	snap := registry.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 cursor record, got %d", len(snap))
	}
	if snap[0].ParticipantID != "peer-1" || snap[0].From != 10 {
		t.Fatalf("unexpected record %+v", snap[0])
	}
}

func TestBridgeRemoteUpdateWithoutSenderSkipsRegistry(t *testing.T) {
	registry := NewRegistry()
	bridge := NewSyncBridge(&fakeSurface{}, &captureChannel{}, registry, true)

	bridge.ApplyRemote(DocumentUpdate{Content: PlainText("doc"), CursorOffset: intPtr(4)}, time.Now())

	if registry.Len() != 0 {
		t.Fatalf("anonymous update must not create cursor records")
	}
}
