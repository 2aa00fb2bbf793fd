// Package notes is the persistence side of the product: the note model, the
// Store implementations behind the REST API, and the HTTP client used by the
// mirror agent. Collaboration is last-writer-wins, so updates replace the
// whole document.
package notes

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillpad/noteroom/internal/collab"
)

var (
	ErrNotFound     = errors.New("note not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Note struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	Title     string          `json:"title"`
	Content   collab.Document `json:"content"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists notes. Implementations must be safe for concurrent use.
type Store interface {
	Create(note Note) (Note, error)
	Get(id string) (Note, error)
	// Update replaces title and content wholesale and bumps UpdatedAt.
	Update(note Note) (Note, error)
	Delete(id string) error
	// List returns the owner's notes, most recently updated first.
	List(ownerID string) ([]Note, error)
	Close() error
}

// MemoryStore is the default backend when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]Note
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes: make(map[string]Note),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(note Note) (Note, error) {
	if strings.TrimSpace(note.OwnerID) == "" {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	} else if _, exists := s.notes[note.ID]; exists {
		return Note{}, ErrInvalidInput
	}
	now := s.now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now
	s.notes[note.ID] = note
	return note, nil
}

func (s *MemoryStore) Get(id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return note, nil
}

func (s *MemoryStore) Update(note Note) (Note, error) {
	if strings.TrimSpace(note.ID) == "" {
		return Note{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.notes[note.ID]
	if !ok {
		return Note{}, ErrNotFound
	}
	current.Title = note.Title
	current.Content = note.Content
	current.UpdatedAt = s.now().UTC()
	s.notes[note.ID] = current
	return current, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *MemoryStore) List(ownerID string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Note, 0)
	for _, note := range s.notes {
		if note.OwnerID == ownerID {
			out = append(out, note)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
