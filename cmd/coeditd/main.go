package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coedit.org/internal/chatcipher"
	"coedit.org/internal/content"
	"coedit.org/internal/obs"
	"coedit.org/internal/server"
	"coedit.org/internal/store"
	"coedit.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("COEDIT_COMMIT"))

	addr := envOr("COEDIT_ADDR", ":8820")
	metricsAddr := envOr("COEDIT_METRICS_ADDR", ":8821")
	filesDir := envOr("COEDIT_FILES_DIR", "files")

	files, err := content.New(filesDir)
	if err != nil {
		log.Fatalf("content dir: %v", err)
	}

	// Постоянное хранилище: postgres при заданном DSN, иначе in-memory
	var st store.Store
	var pgStore *pg.Store
	if dsn := os.Getenv("COEDIT_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		st = pgStore
	} else {
		st = store.NewMemory()
	}

	var cipher chatcipher.Codec = chatcipher.Plain{}
	if cmd := os.Getenv("COEDIT_CIPHER_CMD"); cmd != "" {
		cipher = chatcipher.New(cmd)
	}

	var window time.Duration
	if raw := os.Getenv("COEDIT_RETENTION_WINDOW"); raw != "" {
		window, err = time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse COEDIT_RETENTION_WINDOW: %v", err)
		}
	}

	srv := server.New(server.Config{
		Store:           st,
		Content:         files,
		Cipher:          cipher,
		RetentionWindow: window,
	})

	// Метрики на отдельном HTTP-листенере
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics listener: %v", err)
		}
	}()

	log.Printf("Starting coeditd %s on %s", version, addr)

	errCh := make(chan error, 1)
	go func() {
		// Bind failure is fatal; nothing works without the listener.
		errCh <- srv.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("listen: %v", err)
		}
	case <-stop:
	}
	log.Println("Shutting down...")

	_ = srv.Close()
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
