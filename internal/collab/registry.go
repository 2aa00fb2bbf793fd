package collab

import (
	"sync"
	"time"
)

// Cursor expiry cadence. Two cadences existed historically (a coarse 30s/5s
// pair and this one); the fine pair won because a cursor that has not moved
// for a few seconds is stale for all practical purposes.
const (
	CursorTTL     = 3 * time.Second
	SweepInterval = 1 * time.Second
)

// ScreenPoint is a coordinate relative to the editing container's top-left
// corner.
type ScreenPoint struct {
	Top  float64
	Left float64
}

// CursorRecord is the last-known selection of one remote participant. Screen
// is set when the sender included precomputed viewport coordinates; receivers
// then skip the offset projection entirely.
type CursorRecord struct {
	ParticipantID string
	From          int
	To            int
	Screen        *ScreenPoint
	UpdatedAt     time.Time
}

// Registry holds at most one live CursorRecord per participant. It is private
// to one editing session; a new registry is created when collaboration mode is
// entered and cleared when the session ends.
type Registry struct {
	mu      sync.Mutex
	records map[string]CursorRecord
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]CursorRecord)}
}

// Upsert replaces any existing record for the participant in place. The
// record's UpdatedAt is overwritten with now.
func (r *Registry) Upsert(rec CursorRecord, now time.Time) {
	if rec.ParticipantID == "" {
		return
	}
	rec.UpdatedAt = now
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ParticipantID]; !ok {
		r.order = append(r.order, rec.ParticipantID)
	}
	r.records[rec.ParticipantID] = rec
}

// Remove drops the participant's record. Removing an absent id is a no-op.
func (r *Registry) Remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[participantID]; !ok {
		return
	}
	delete(r.records, participantID)
	r.dropFromOrder(participantID)
}

// Sweep evicts every record older than now-ttl and reports how many were
// removed.
func (r *Registry) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(r.records, id)
			r.dropFromOrder(id)
			removed++
		}
	}
	return removed
}

// Snapshot returns the live records in insertion order.
func (r *Registry) Snapshot() []CursorRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CursorRecord, 0, len(r.records))
	for _, id := range r.order {
		if rec, ok := r.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]CursorRecord)
	r.order = nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Registry) dropFromOrder(participantID string) {
	for i, id := range r.order {
		if id == participantID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Sweeper runs Registry.Sweep on a fixed cadence while collaboration mode is
// active. Stop is synchronous: once it returns, no further sweep runs.
type Sweeper struct {
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

func StartSweeper(registry *Registry, interval, ttl time.Duration) *Sweeper {
	if interval <= 0 {
		interval = SweepInterval
	}
	if ttl <= 0 {
		ttl = CursorTTL
	}
	s := &Sweeper{
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case now := <-ticker.C:
				registry.Sweep(now, ttl)
			}
		}
	}()
	return s
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
}
