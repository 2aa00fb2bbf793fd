package collab

import (
	"sync"
	"time"
)

// DefaultCaretWindow bounds the cursor broadcast rate under rapid caret
// movement (arrow-key repeat, drag select).
const DefaultCaretWindow = 100 * time.Millisecond

// CaretBroadcaster turns local selection changes into rate-limited cursor
// broadcasts. Selection changes caused by a content edit are ignored here:
// the document-change path already broadcasts those, and emitting both would
// double-send.
type CaretBroadcaster struct {
	mu      sync.Mutex
	window  time.Duration
	emit    func(from, to int)
	timer   *time.Timer
	pending struct{ from, to int }
	armed   bool
	closed  bool
}

func NewCaretBroadcaster(window time.Duration, emit func(from, to int)) *CaretBroadcaster {
	if window <= 0 {
		window = DefaultCaretWindow
	}
	return &CaretBroadcaster{window: window, emit: emit}
}

// OnSelectionChanged coalesces pure caret movements: the first event in a
// window arms the timer, later events overwrite the pending position, and the
// timer fire emits only the most recent one.
func (b *CaretBroadcaster) OnSelectionChanged(before, after Document, from, to int) {
	if !before.Equal(after) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.pending.from, b.pending.to = from, to
	if b.armed {
		return
	}
	b.armed = true
	b.timer = time.AfterFunc(b.window, b.fire)
}

func (b *CaretBroadcaster) fire() {
	b.mu.Lock()
	if b.closed || !b.armed {
		b.mu.Unlock()
		return
	}
	b.armed = false
	from, to := b.pending.from, b.pending.to
	emit := b.emit
	b.mu.Unlock()
	if emit != nil {
		emit(from, to)
	}
}

// Close cancels any pending emit. Nothing fires after Close returns.
func (b *CaretBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
}
