package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"famcal/internal/kv"
	appLog "famcal/internal/log"
	"famcal/internal/remote"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	listen   string
	backend  string
	path     string
	key      string
	logLevel string
	pretty   bool
}

func main() {
	flags := parseFlags()
	if flags.pretty {
		appLog.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))

	store, err := openStore(flags.backend, flags.path)
	if err != nil {
		appLog.Error("failed to open store", err, "backend", flags.backend, "path", flags.path)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              flags.listen,
		Handler:           remote.NewHandler(store, flags.key),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}()

	appLog.Info("famcal-remote listening", "listen", "http://"+flags.listen, "backend", flags.backend, "key", flags.key)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}
	appLog.Info("famcal-remote exiting")
}

func openStore(backend, path string) (kv.Store, error) {
	if backend == "sqlite" {
		s, err := kv.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := kv.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.listen, "listen", "127.0.0.1:8090", "HTTP listen address")
	flag.StringVar(&cfg.backend, "backend", "file", "Storage backend: file or sqlite")
	flag.StringVar(&cfg.path, "path", "/var/lib/famcal-remote", "Store directory (file) or database path (sqlite)")
	flag.StringVar(&cfg.key, "key", remote.DefaultBackupKey, "Key the snapshot is stored under")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.BoolVar(&cfg.pretty, "pretty", false, "Human-readable console logs instead of JSON")

	flag.Parse()

	return cfg
}
