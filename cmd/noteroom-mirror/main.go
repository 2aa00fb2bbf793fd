package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quillpad/noteroom/internal/mirror"
	"github.com/quillpad/noteroom/internal/notes"
)

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base-url", envOrDefault("NOTEROOM_BASE_URL", "http://127.0.0.1:8080"), "noteroom base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("NOTEROOM_TOKEN")), "bearer token")
	localDir := flag.String("local-dir", strings.TrimSpace(os.Getenv("NOTEROOM_LOCAL_DIR")), "local mirror directory")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("NOTEROOM_MIRROR_STATE_FILE")), "state file path")
	interval := flag.Duration("interval", durationEnv("NOTEROOM_MIRROR_INTERVAL", time.Minute), "remote poll interval")
	debounce := flag.Duration("debounce", durationEnv("NOTEROOM_MIRROR_DEBOUNCE", 0), "local change debounce window")
	once := flag.Bool("once", false, "run one sync cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or NOTEROOM_TOKEN)")
	}
	if strings.TrimSpace(*localDir) == "" {
		log.Fatalf("local-dir is required (--local-dir or NOTEROOM_LOCAL_DIR)")
	}

	client, err := notes.NewClient(*baseURL, *token)
	if err != nil {
		log.Fatalf("failed to initialize notes client: %v", err)
	}
	syncer, err := mirror.NewSyncer(mirror.Config{
		API:       client,
		LocalDir:  *localDir,
		StatePath: *stateFile,
		Debounce:  *debounce,
		Logger:    log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize mirror syncer: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syncer.Sync(rootCtx); err != nil {
		log.Printf("initial sync failed: %v", err)
	} else {
		log.Printf("initial sync completed")
	}
	if *once {
		return
	}

	if err := syncer.Watch(rootCtx, *interval); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mirror stopped: %v", err)
	}
	log.Printf("mirror stopping: %v", rootCtx.Err())
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
