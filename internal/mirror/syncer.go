// Package mirror keeps a local directory in sync with a user's notes: each
// note is one JSON file, local edits are pushed back, remote edits are pulled
// down. Conflicts resolve last-writer-wins, matching the collaboration model.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillpad/noteroom/internal/collab"
	"github.com/quillpad/noteroom/internal/notes"
)

const (
	defaultDebounce = 500 * time.Millisecond
	mirrorFileExt   = ".json"
)

// NotesAPI is the slice of the notes client the syncer needs.
type NotesAPI interface {
	List(ctx context.Context) ([]notes.Note, error)
	Get(ctx context.Context, id string) (notes.Note, error)
	Update(ctx context.Context, id, title string, content collab.Document) (notes.Note, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

// noteFile is the on-disk shape of a mirrored note.
type noteFile struct {
	Title   string          `json:"title"`
	Content collab.Document `json:"content"`
}

// syncState remembers, per note, the content hash as of the last successful
// sync. A local file differing from its recorded hash is a local edit; a
// remote note differing from it is a remote edit.
type syncState struct {
	Hashes map[string]string `json:"hashes"`
}

type Config struct {
	API       NotesAPI
	LocalDir  string
	StatePath string
	Debounce  time.Duration
	Logger    Logger
}

type Syncer struct {
	api       NotesAPI
	localDir  string
	statePath string
	debounce  time.Duration
	logger    Logger

	mu sync.Mutex // one sync pass at a time
}

func NewSyncer(cfg Config) (*Syncer, error) {
	if cfg.API == nil {
		return nil, errors.New("mirror: notes API is required")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, errors.New("mirror: local directory is required")
	}
	statePath := cfg.StatePath
	if statePath == "" {
		statePath = filepath.Join(cfg.LocalDir, ".noteroom-state.json")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Syncer{
		api:       cfg.API,
		localDir:  cfg.LocalDir,
		statePath: statePath,
		debounce:  debounce,
		logger:    cfg.Logger,
	}, nil
}

// Sync runs one full pass: push local edits, then pull remote changes and
// prune files for notes that no longer exist.
func (s *Syncer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.localDir, 0o755); err != nil {
		return fmt.Errorf("mirror: prepare local dir: %w", err)
	}
	state, err := s.loadState()
	if err != nil {
		return err
	}
	if err := s.pushLocal(ctx, state); err != nil {
		return err
	}
	if err := s.pullRemote(ctx, state); err != nil {
		return err
	}
	return s.saveState(state)
}

func (s *Syncer) pushLocal(ctx context.Context, state *syncState) error {
	entries, err := os.ReadDir(s.localDir)
	if err != nil {
		return fmt.Errorf("mirror: scan local dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), mirrorFileExt) {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), mirrorFileExt)
		path := filepath.Join(s.localDir, entry.Name())
		file, err := readNoteFile(path)
		if err != nil {
			s.logf("mirror: skipping unreadable %s: %v", entry.Name(), err)
			continue
		}
		hash := noteHash(file.Title, file.Content)
		if state.Hashes[id] == hash {
			continue
		}
		updated, err := s.api.Update(ctx, id, file.Title, file.Content)
		if err != nil {
			var httpErr *notes.HTTPError
			if errors.As(err, &httpErr) && httpErr.Status == 404 {
				s.logf("mirror: %s no longer exists upstream, leaving local copy", id)
				continue
			}
			return fmt.Errorf("mirror: push %s: %w", id, err)
		}
		state.Hashes[id] = noteHash(updated.Title, updated.Content)
	}
	return nil
}

func (s *Syncer) pullRemote(ctx context.Context, state *syncState) error {
	remote, err := s.api.List(ctx)
	if err != nil {
		return fmt.Errorf("mirror: list notes: %w", err)
	}
	seen := make(map[string]bool, len(remote))
	for _, note := range remote {
		seen[note.ID] = true
		remoteHash := noteHash(note.Title, note.Content)
		if state.Hashes[note.ID] == remoteHash {
			continue
		}
		// A concurrent local edit wins; it gets pushed on the next pass.
		if local, err := readNoteFile(s.filePath(note.ID)); err == nil {
			if noteHash(local.Title, local.Content) != state.Hashes[note.ID] {
				continue
			}
		}
		if err := writeNoteFile(s.filePath(note.ID), noteFile{Title: note.Title, Content: note.Content}); err != nil {
			return fmt.Errorf("mirror: pull %s: %w", note.ID, err)
		}
		state.Hashes[note.ID] = remoteHash
	}
	for id := range state.Hashes {
		if seen[id] {
			continue
		}
		if err := os.Remove(s.filePath(id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("mirror: prune %s: %w", id, err)
		}
		delete(state.Hashes, id)
	}
	return nil
}

// Watch runs Sync on local filesystem activity (debounced) and on a fixed
// interval to pick up remote drift. Blocks until ctx is done.
func (s *Syncer) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	if err := os.MkdirAll(s.localDir, 0o755); err != nil {
		return fmt.Errorf("mirror: prepare local dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mirror: start watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.localDir); err != nil {
		return fmt.Errorf("mirror: watch %s: %w", s.localDir, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debounce := time.NewTimer(s.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("mirror: watcher closed")
			}
			if !s.relevantEvent(event) {
				continue
			}
			debounce.Reset(s.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("mirror: watcher closed")
			}
			s.logf("mirror: watch error: %v", err)
		case <-debounce.C:
			if err := s.Sync(ctx); err != nil {
				s.logf("mirror: sync after local change failed: %v", err)
			}
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logf("mirror: interval sync failed: %v", err)
			}
		}
	}
}

func (s *Syncer) relevantEvent(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, mirrorFileExt)
}

func (s *Syncer) filePath(id string) string {
	return filepath.Join(s.localDir, id+mirrorFileExt)
}

func (s *Syncer) loadState() (*syncState, error) {
	state := &syncState{Hashes: make(map[string]string)}
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mirror: read state: %w", err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		// A corrupt state file means every note looks changed; resync from
		// scratch rather than fail.
		s.logf("mirror: state file corrupt, resyncing: %v", err)
		return &syncState{Hashes: make(map[string]string)}, nil
	}
	if state.Hashes == nil {
		state.Hashes = make(map[string]string)
	}
	return state, nil
}

func (s *Syncer) saveState(state *syncState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("mirror: write state: %w", err)
	}
	return os.Rename(tmp, s.statePath)
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func readNoteFile(path string) (noteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return noteFile{}, err
	}
	var file noteFile
	if err := json.Unmarshal(data, &file); err != nil {
		return noteFile{}, err
	}
	return file, nil
}

func writeNoteFile(path string, file noteFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func noteHash(title string, content collab.Document) string {
	h := sha256.New()
	_, _ = h.Write([]byte(title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(content.Hash()))
	return hex.EncodeToString(h.Sum(nil))
}
