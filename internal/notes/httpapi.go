package notes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type APIConfig struct {
	JWTSecret    string
	MaxBodyBytes int64
}

// API serves the note CRUD surface under /v1/notes. Every route requires a
// bearer token; notes are visible only to their owner.
type API struct {
	store Store
	cfg   APIConfig
	now   func() time.Time
}

func NewAPI(store Store, cfg APIConfig) *API {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &API{store: store, cfg: cfg, now: time.Now}
}

// Register mounts the note routes on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/notes", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/notes", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/v1/notes/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/notes/{id}", a.handleUpdate).Methods(http.MethodPut)
	r.HandleFunc("/v1/notes/{id}", a.handleDelete).Methods(http.MethodDelete)
}

type notePayload struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	claims, authErr := a.authorize(r, ScopeNotesRead)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	list, err := a.store.List(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": list})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	claims, authErr := a.authorize(r, ScopeNotesWrite)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	payload, note, ok := a.decodeNote(w, r)
	if !ok {
		return
	}
	note.OwnerID = claims.Subject
	note.Title = strings.TrimSpace(payload.Title)
	created, err := a.store.Create(note)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	claims, authErr := a.authorize(r, ScopeNotesRead)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	note, ok := a.ownedNote(w, r, claims)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	claims, authErr := a.authorize(r, ScopeNotesWrite)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	current, ok := a.ownedNote(w, r, claims)
	if !ok {
		return
	}
	payload, note, ok := a.decodeNote(w, r)
	if !ok {
		return
	}
	note.ID = current.ID
	note.Title = strings.TrimSpace(payload.Title)
	updated, err := a.store.Update(note)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "note not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "update failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims, authErr := a.authorize(r, ScopeNotesWrite)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	note, ok := a.ownedNote(w, r, claims)
	if !ok {
		return
	}
	if err := a.store.Delete(note.ID); err != nil && !errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal", "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) authorize(r *http.Request, scope string) (tokenClaims, *authError) {
	return authorizeBearer(r.Header.Get("Authorization"), a.cfg.JWTSecret, scope, a.now())
}

// ownedNote loads the routed note and enforces ownership. Foreign notes read
// as 404 so their existence leaks nothing.
func (a *API) ownedNote(w http.ResponseWriter, r *http.Request, claims tokenClaims) (Note, bool) {
	id := mux.Vars(r)["id"]
	note, err := a.store.Get(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "note not found")
		return Note{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return Note{}, false
	}
	if note.OwnerID != claims.Subject {
		writeError(w, http.StatusNotFound, "not_found", "note not found")
		return Note{}, false
	}
	return note, true
}

func (a *API) decodeNote(w http.ResponseWriter, r *http.Request) (notePayload, Note, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		return notePayload{}, Note{}, false
	}
	var payload notePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed json body")
		return notePayload{}, Note{}, false
	}
	var note Note
	if len(payload.Content) > 0 {
		if err := json.Unmarshal(payload.Content, &note.Content); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed note content")
			return notePayload{}, Note{}, false
		}
	}
	return payload, note, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
