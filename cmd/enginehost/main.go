// Command enginehost runs the Download Engine as a standalone process,
// speaking the JSON/websocket wire contract described in spec §6 to
// whatever UI shell is launched alongside it. Grounded on the teacher's
// main.go lifecycle (context-scoped startup, signal-driven shutdown)
// minus the Wails application bootstrap it used to wrap.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"romvault-engine/internal/config"
	"romvault-engine/internal/engine"
	"romvault-engine/internal/eventbus"
	"romvault-engine/internal/ipc"
	"romvault-engine/internal/logger"
	"romvault-engine/internal/storage"
)

func main() {
	configPath := flag.String("config", "enginehost.yaml", "path to the engine's YAML config")
	addr := flag.String("addr", "127.0.0.1:8787", "address to serve the IPC bus on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New(50 * time.Millisecond)
	log := logger.New(os.Stdout, os.Stderr, busPublisher{bus})

	store, err := storage.Open(cfg.DBPath, busPublisher{bus})
	if err != nil {
		log.Error("open state store", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, log, store, bus)
	if err != nil {
		log.Error("construct engine", "error", err)
		os.Exit(1)
	}

	server := ipc.NewServer(eng, bus, log)
	httpServer := &http.Server{Addr: *addr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("ipc listening", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ipc server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("ipc shutdown", "error", err)
	}
	eng.Shutdown()
}

// busPublisher adapts *eventbus.Bus to the narrower interfaces the storage
// and logger packages depend on, so neither imports eventbus directly.
type busPublisher struct{ bus *eventbus.Bus }

func (b busPublisher) Publish(event string, payload any) { b.bus.Publish(event, payload) }
