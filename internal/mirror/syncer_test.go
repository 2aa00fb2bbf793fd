package mirror

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quillpad/noteroom/internal/collab"
	"github.com/quillpad/noteroom/internal/notes"
)

type fakeAPI struct {
	mu      sync.Mutex
	notes   map[string]notes.Note
	updates []string
}

func newFakeAPI(seed ...notes.Note) *fakeAPI {
	api := &fakeAPI{notes: make(map[string]notes.Note)}
	for _, n := range seed {
		api.notes[n.ID] = n
	}
	return api
}

func (f *fakeAPI) List(ctx context.Context) ([]notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notes.Note, 0, len(f.notes))
	for _, n := range f.notes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeAPI) Get(ctx context.Context, id string) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return notes.Note{}, &notes.HTTPError{Status: 404, Code: "not_found", Message: "note not found"}
	}
	return n, nil
}

func (f *fakeAPI) Update(ctx context.Context, id, title string, content collab.Document) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return notes.Note{}, &notes.HTTPError{Status: 404, Code: "not_found", Message: "note not found"}
	}
	n.Title = title
	n.Content = content
	f.notes[id] = n
	f.updates = append(f.updates, id)
	return n, nil
}

func (f *fakeAPI) updateLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updates...)
}

func newTestSyncer(t *testing.T, api NotesAPI) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSyncer(Config{API: api, LocalDir: dir})
	if err != nil {
		t.Fatalf("syncer setup: %v", err)
	}
	return s, dir
}

func readMirrored(t *testing.T, dir, id string) noteFile {
	t.Helper()
	file, err := readNoteFile(filepath.Join(dir, id+mirrorFileExt))
	if err != nil {
		t.Fatalf("read mirrored %s: %v", id, err)
	}
	return file
}

func TestSyncPullsRemoteNotes(t *testing.T) {
	api := newFakeAPI(
		notes.Note{ID: "n1", Title: "groceries", Content: collab.PlainText("milk")},
		notes.Note{ID: "n2", Title: "ideas", Content: collab.PlainText("none yet")},
	)
	s, dir := newTestSyncer(t, api)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	got := readMirrored(t, dir, "n1")
	if got.Title != "groceries" || !got.Content.Equal(collab.PlainText("milk")) {
		t.Fatalf("n1 mirrored wrong: %+v", got)
	}
	readMirrored(t, dir, "n2")
	if len(api.updateLog()) != 0 {
		t.Fatalf("pull must not push: %v", api.updateLog())
	}
}

func TestSyncPushesLocalEdits(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "draft", Content: collab.PlainText("v1")})
	s, dir := newTestSyncer(t, api)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	edited, _ := json.Marshal(noteFile{Title: "draft", Content: collab.PlainText("v2 local")})
	if err := os.WriteFile(filepath.Join(dir, "n1.json"), edited, 0o644); err != nil {
		t.Fatalf("edit local file: %v", err)
	}

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	remote, err := api.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !remote.Content.Equal(collab.PlainText("v2 local")) {
		t.Fatalf("local edit not pushed: %+v", remote.Content)
	}
	if log := api.updateLog(); len(log) != 1 || log[0] != "n1" {
		t.Fatalf("expected one push for n1, got %v", log)
	}
}

func TestSyncIsIdempotentWithoutChanges(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "stable", Content: collab.PlainText("same")})
	s, _ := newTestSyncer(t, api)

	for i := 0; i < 3; i++ {
		if err := s.Sync(context.Background()); err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}
	if len(api.updateLog()) != 0 {
		t.Fatalf("no-op syncs must not push: %v", api.updateLog())
	}
}

func TestSyncLocalEditWinsOverRemoteChange(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "t", Content: collab.PlainText("base")})
	s, dir := newTestSyncer(t, api)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	// Both sides move, with the local edit landing in the same pass.
	edited, _ := json.Marshal(noteFile{Title: "t", Content: collab.PlainText("local wins")})
	if err := os.WriteFile(filepath.Join(dir, "n1.json"), edited, 0o644); err != nil {
		t.Fatalf("edit local file: %v", err)
	}
	api.mu.Lock()
	n := api.notes["n1"]
	n.Content = collab.PlainText("remote change")
	api.notes["n1"] = n
	api.mu.Unlock()

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	remote, _ := api.Get(context.Background(), "n1")
	if !remote.Content.Equal(collab.PlainText("local wins")) {
		t.Fatalf("last writer must win: %+v", remote.Content)
	}
	local := readMirrored(t, dir, "n1")
	if !local.Content.Equal(collab.PlainText("local wins")) {
		t.Fatalf("local copy clobbered: %+v", local)
	}
}

func TestSyncPrunesDeletedNotes(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "doomed", Content: collab.PlainText("x")})
	s, dir := newTestSyncer(t, api)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	api.mu.Lock()
	delete(api.notes, "n1")
	api.mu.Unlock()

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "n1.json")); !os.IsNotExist(err) {
		t.Fatalf("deleted note's file must be pruned, stat err: %v", err)
	}
}

func TestSyncSkipsUnparsableLocalFiles(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "fine", Content: collab.PlainText("ok")})
	s, dir := newTestSyncer(t, api)

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync must tolerate broken files: %v", err)
	}
	readMirrored(t, dir, "n1")
}

func TestSyncSurvivesCorruptStateFile(t *testing.T) {
	api := newFakeAPI(notes.Note{ID: "n1", Title: "t", Content: collab.PlainText("x")})
	s, dir := newTestSyncer(t, api)

	if err := os.WriteFile(filepath.Join(dir, ".noteroom-state.json"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt state: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync must recover from corrupt state: %v", err)
	}
	readMirrored(t, dir, "n1")
}
