package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/quillpad/noteroom/internal/notes"
	"github.com/quillpad/noteroom/internal/realtime"
)

func main() {
	// Best effort: a missing .env just means everything comes from the
	// environment.
	_ = godotenv.Load()

	addr := envOrDefault("NOTEROOM_ADDR", ":8080")

	store, err := buildStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize note store: %v", err)
	}
	defer store.Close()

	relay, err := realtime.NewServer(realtime.ServerConfig{
		ReadLimit:   int64Env("NOTEROOM_READ_LIMIT_BYTES", 0),
		SendBuffer:  intEnv("NOTEROOM_ROOM_BUFFER", 0),
		CursorRate:  floatEnv("NOTEROOM_CURSOR_RATE", 0),
		CursorBurst: intEnv("NOTEROOM_CURSOR_BURST", 0),
		Logger:      log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize realtime relay: %v", err)
	}
	defer relay.Close()

	api := notes.NewAPI(store, notes.APIConfig{
		JWTSecret:    os.Getenv("NOTEROOM_JWT_SECRET"),
		MaxBodyBytes: int64Env("NOTEROOM_MAX_BODY_BYTES", 0),
	})

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	api.Register(router)
	router.Handle("/realtime", relay)

	log.Printf("noteroom listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildStoreFromEnv() (notes.Store, error) {
	dsn := strings.TrimSpace(os.Getenv("NOTEROOM_POSTGRES_DSN"))
	if dsn == "" {
		log.Printf("NOTEROOM_POSTGRES_DSN not set, using in-memory note store")
		return notes.NewMemoryStore(), nil
	}
	return notes.NewPostgresStore(dsn)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
