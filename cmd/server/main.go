package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/chatroom/internal/history"
	"github.com/Tyrowin/chatroom/internal/identity"
	"github.com/Tyrowin/chatroom/internal/server"
	"github.com/Tyrowin/chatroom/internal/session"
	"github.com/Tyrowin/chatroom/internal/transcript"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and blocks until SIGINT/SIGTERM. Deferred closes run
// before main exits.
func run() error {
	_ = godotenv.Load()
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := identity.New(cfg.IdentityOptions())
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}
	if identity.Provider(cfg.IdentityProvider) == identity.ProviderInsecure {
		log.Warn("Insecure identity provider enabled; credentials are trusted as display names")
	}

	store, err := history.Open(ctx, cfg.HistoryOptions(), log)
	if err != nil {
		return fmt.Errorf("history store: %w", err)
	}
	defer func() {
		log.Info("Closing history store...")
		_ = store.Close()
	}()

	sink, err := transcript.Open(ctx, cfg.TranscriptOptions())
	if err != nil {
		return fmt.Errorf("transcript sink: %w", err)
	}
	dispatcher := transcript.NewDispatcher(sink, cfg.SinkTimeout, log)
	defer func() {
		log.Info("Closing transcript sink...")
		_ = dispatcher.Close()
	}()

	hub := server.NewHub(*cfg, server.Dependencies{
		Log:        log,
		Verifier:   verifier,
		History:    store,
		Transcript: dispatcher,
		Registry:   session.NewRegistry(),
	})
	server.StartHub(hub)

	policy := server.NewOriginPolicy(cfg.Origins(), log)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, policy))

	serverErr := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("Hub did not shut down cleanly", "error", err)
	}
	log.Info("Server stopped")
	return nil
}
