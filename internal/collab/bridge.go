package collab

import (
	"sync"
	"time"
)

// DocumentUpdate is a remote full-document replacement, optionally carrying
// the sender's cursor offset.
type DocumentUpdate struct {
	Content      Document
	CursorOffset *int
	UpdatedBy    string
}

// DocumentBroadcaster is the reliable outbound half of the room channel.
type DocumentBroadcaster interface {
	BroadcastDocumentChanged(doc Document, cursorOffset int) error
}

// applyState is the echo-suppression gate. ApplyingRemote is entered only
// when a remote replacement starts and exited when the surface's own change
// notification (triggered synchronously by the replacement) has been observed
// and discarded once, or when the apply finishes without one.
type applyState int

const (
	stateIdle applyState = iota
	stateApplyingRemote
)

// SyncBridge wires local document changes to outbound broadcasts and remote
// updates to document replacement. Without the gate, a remote update would be
// mistaken for a new local edit and re-broadcast, creating an infinite relay
// loop between clients.
type SyncBridge struct {
	mu       sync.Mutex
	state    applyState
	surface  EditorSurface
	channel  DocumentBroadcaster
	registry *Registry
	enabled  bool
}

func NewSyncBridge(surface EditorSurface, channel DocumentBroadcaster, registry *Registry, enabled bool) *SyncBridge {
	return &SyncBridge{
		surface:  surface,
		channel:  channel,
		registry: registry,
		enabled:  enabled,
	}
}

// OnLocalDocumentChanged is the surface's change notification. The first
// notification observed while a remote apply is in progress is the echo of
// that apply and is discarded.
func (b *SyncBridge) OnLocalDocumentChanged(doc Document) error {
	b.mu.Lock()
	if b.state == stateApplyingRemote {
		b.state = stateIdle
		b.mu.Unlock()
		return nil
	}
	enabled := b.enabled
	b.mu.Unlock()
	if !enabled {
		return nil
	}
	offset := b.surface.SelectionOffset()
	return b.channel.BroadcastDocumentChanged(doc, offset)
}

// ApplyRemote replaces the surface's document with a remotely received one.
// Last writer wins at whole-document granularity; nothing is merged. If the
// update names its sender and cursor offset, the registry is refreshed as a
// dedicated cursor event would.
func (b *SyncBridge) ApplyRemote(update DocumentUpdate, now time.Time) {
	b.mu.Lock()
	if !b.enabled {
		b.mu.Unlock()
		return
	}
	b.state = stateApplyingRemote
	b.mu.Unlock()

	// The surface's change notification re-enters OnLocalDocumentChanged
	// synchronously here and consumes the gate.
	b.surface.SetDocument(update.Content, false)

	b.mu.Lock()
	// Surfaces configured to suppress their notification never consume the
	// gate; it must not stay set past the apply.
	b.state = stateIdle
	b.mu.Unlock()

	if b.registry != nil && update.CursorOffset != nil && update.UpdatedBy != "" {
		b.registry.Upsert(CursorRecord{
			ParticipantID: update.UpdatedBy,
			From:          *update.CursorOffset,
			To:            *update.CursorOffset,
		}, now)
	}
}
