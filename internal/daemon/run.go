package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"orchmux/internal/config"
	"orchmux/internal/history"
	"orchmux/internal/mux"
	"orchmux/internal/protocol"
	"orchmux/internal/rpc"
	"orchmux/internal/server"
	"orchmux/internal/state"
)

// Run wires every component and serves until a termination signal or a
// server_shutdown request. Fatal conditions (bind failure, unwritable data
// directory) return an error; the CLI exits non-zero.
func Run(cfg config.Config, version string) error {
	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	saver := state.NewSaver(store, state.DefaultFlushInterval)
	saver.Start()
	defer saver.Close()

	hist, err := history.Open(cfg.DataDir)
	if err != nil {
		// History is an amenity; the daemon serves without it.
		slog.Warn("[daemon] history store unavailable", "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	broker := server.NewBroker()
	manager := mux.NewManager(mux.Limits{
		MaxSessions:        cfg.MaxSessions,
		MaxPanesPerSession: cfg.MaxPanesPerSession,
		ScrollbackLines:    cfg.ScrollbackLines,
		OutputBufferSize:   cfg.OutputBufferSize,
	}, broker.Publish, saver)

	sessions, err := store.LoadSessions()
	if err != nil {
		slog.Warn("[daemon] session restore failed", "error", err)
	}
	panes, err := store.LoadPanes()
	if err != nil {
		slog.Warn("[daemon] pane restore failed", "error", err)
	}
	manager.Restore(sessions, panes)

	dispatcher := rpc.NewDispatcher(rpc.Options{
		Manager:     manager,
		History:     hist,
		Version:     version,
		AuthEnabled: cfg.AuthEnabled,
		AuthToken:   cfg.AuthToken,
	})

	shutdownRequested := make(chan struct{}, 1)
	srv := server.New(server.Options{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		OutboundQueueSize: cfg.OutboundQueueSize,
	}, dispatcher, broker, func() {
		shutdownRequested <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		return err
	}

	watcher, err := state.NewWatcher(store, func(key string) {
		broker.Publish(mux.Event{
			Method: protocol.EventSettingChanged,
			Params: protocol.SettingChangedParams{Key: key},
		})
	})
	if err != nil {
		slog.Warn("[daemon] settings watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	slog.Info("[daemon] running", "port", cfg.Port, "dataDir", cfg.DataDir, "version", version)
	select {
	case sig := <-signals:
		slog.Info("[daemon] terminating on signal", "signal", sig.String())
	case <-shutdownRequested:
		slog.Info("[daemon] terminating on shutdown request")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Warn("[daemon] server shutdown error", "error", err)
	}
	manager.CloseAll()
	return nil
}
