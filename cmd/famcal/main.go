package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"famcal/internal/config"
	"famcal/internal/engine"
	"famcal/internal/kv"
	"famcal/internal/local"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/netstatus"
	"famcal/internal/remote"
	"famcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	pretty     bool
}

func main() {
	flags := parseFlags()
	if flags.pretty {
		appLog.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	appLog.Info("famcal starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"store_backend", conf.Store.Backend,
		"store_path", conf.StorePath(),
		"remote_mode", conf.Remote.Mode,
		"drift_watch", conf.DriftWatch,
		"device_id", conf.DeviceID,
	)

	if err := run(conf); err != nil {
		appLog.Error("famcal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("famcal exiting")
}

func run(conf *config.Config) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(conf)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	timeout := time.Duration(conf.Remote.TimeoutSeconds) * time.Second
	monitor := netstatus.NewMonitor(conf.Remote.Mode != config.RemoteHTTP)

	var rs engine.RemoteStore
	var prober *netstatus.Prober
	switch conf.Remote.Mode {
	case config.RemoteMirror:
		rs = remote.NewMirror(store, conf.Store.BackupKey, conf.DeviceID, timeout)
	case config.RemoteHTTP:
		rs = remote.NewHTTPClient(conf.Remote.BaseURL, conf.DeviceID, timeout)
		prober = netstatus.NewProber(conf.Remote.BaseURL, monitor, timeout)
	}

	// The prober runs first so the engine starts with a measured state.
	if prober != nil {
		if err := prober.Start(ctx, conf.Remote.Probe); err != nil {
			return fmt.Errorf("start prober: %w", err)
		}
		defer prober.Stop()
	}

	eng := engine.New(local.New(store, conf.Store.Key), rs, monitor, engine.Options{
		DriftSchedule: conf.DriftWatch,
		OnChange: func(events []model.Event) {
			appLog.Debug("calendar changed", "count", len(events))
		},
	})
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, eng, monitor).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case serveErr = <-errCh:
		appLog.Error("HTTP server failed", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	if err := eng.Close(shutdownCtx); err != nil {
		appLog.Error("engine close failed", err)
	}
	return serveErr
}

// openStore builds the configured key/value medium.
func openStore(conf *config.Config) (kv.Store, error) {
	switch conf.Store.Backend {
	case config.BackendSQLite:
		s, err := kv.OpenSQLite(conf.StorePath())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		appLog.Warn("using in-memory store; events are lost on exit")
		return kv.NewMemoryStore(), nil
	default:
		s, err := kv.NewFileStore(conf.StorePath())
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/famcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.pretty, "pretty", false, "Human-readable console logs instead of JSON")

	flag.Parse()

	return cfg
}
