package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/npmint/verdadesk/internal/config"
	"github.com/npmint/verdadesk/internal/history"
	"github.com/npmint/verdadesk/internal/history/factory"
	"github.com/npmint/verdadesk/internal/metrics"
	"github.com/npmint/verdadesk/internal/packages"
	"github.com/npmint/verdadesk/internal/registry"
	"github.com/npmint/verdadesk/internal/server"
	"github.com/npmint/verdadesk/internal/settings"
	"github.com/npmint/verdadesk/internal/supervisor"
	"github.com/npmint/verdadesk/internal/users"
)

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slogger := cfg.Log.NewSlogger()
	slog.SetDefault(slogger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slogger.Warn("metrics registration failed", "error", err)
	}

	var sink history.Sink
	if cfg.HistoryDSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		defer func() { _ = history.Close(sink) }()
	}

	paths := registry.DefaultPaths()
	if cfg.Registry.Root != "" {
		paths = registry.Paths{Root: cfg.Registry.Root}
	}

	sup := supervisor.New(supervisor.Options{
		Paths:          paths,
		Runtime:        cfg.Registry.Runtime,
		Env:            cfg.Registry.Env,
		EntryResolvers: registry.EntryResolvers(cfg.Registry.ResourceDir),
		Logger:         slogger,
		ProcessWriters: cfg.Log.ProcessWriters,
		RecordStart:    recordStart(sink),
		RecordStop:     recordStop(sink),
		RecordExit:     recordExit(sink),
	})

	settingsStore := settings.DefaultStore()

	srv, err := server.NewServer(cfg.Listen, server.Options{
		Supervisor:           sup,
		Catalog:              packages.NewCatalog(paths.StoragePath()),
		Users:                users.NewStore(paths.HtpasswdPath()),
		Settings:             settingsStore,
		PackageJSONResolvers: registry.PackageJSONResolvers(cfg.Registry.ResourceDir),
	})
	if err != nil {
		return fmt.Errorf("start API server: %w", err)
	}
	slogger.Info("daemon listening", "addr", cfg.Listen)

	autoStartRegistry(sup, settingsStore, cfg, slogger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slogger.Info("shutting down")
	if err := sup.Stop(); err != nil {
		slogger.Warn("registry stop failed during shutdown", "error", err)
	}
	return srv.Close()
}

// autoStartRegistry launches the registry at daemon startup when the
// saved preferences ask for it.
func autoStartRegistry(sup *supervisor.Supervisor, store *settings.Store, cfg config.Config, logger *slog.Logger) {
	prefs, err := store.Load()
	if err != nil {
		logger.Warn("settings unreadable, skipping registry auto-start", "error", err)
		return
	}
	if !prefs.AutoStartRegistry {
		return
	}
	port := prefs.DefaultPort
	if port == 0 {
		port = cfg.Registry.DefaultPort
	}
	allowLAN := prefs.AllowLAN || cfg.Registry.AllowLAN
	if _, err := sup.Start(port, allowLAN); err != nil {
		logger.Warn("registry auto-start failed", "error", err)
		return
	}
	logger.Info("registry auto-started", "port", port)
}

func recordStart(sink history.Sink) func(supervisor.Status) {
	if sink == nil {
		return nil
	}
	return func(st supervisor.Status) {
		sendEvent(sink, history.Event{
			Type:       history.EventStarted,
			OccurredAt: time.Now().UTC(),
			PID:        st.PID,
			Port:       st.Port,
		})
	}
}

func recordStop(sink history.Sink) func(supervisor.Status, error) {
	if sink == nil {
		return nil
	}
	return func(st supervisor.Status, stopErr error) {
		e := history.Event{
			Type:       history.EventStopped,
			OccurredAt: time.Now().UTC(),
			Port:       st.Port,
		}
		if stopErr != nil {
			e.Detail = stopErr.Error()
		}
		sendEvent(sink, e)
	}
}

func recordExit(sink history.Sink) func(supervisor.Status, int) {
	if sink == nil {
		return nil
	}
	return func(st supervisor.Status, code int) {
		sendEvent(sink, history.Event{
			Type:       history.EventExited,
			OccurredAt: time.Now().UTC(),
			Port:       st.Port,
			ExitCode:   code,
		})
	}
}

func sendEvent(sink history.Sink, e history.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Send(ctx, e); err != nil {
		slog.Warn("history event dropped", "type", e.Type, "error", err)
	}
}
