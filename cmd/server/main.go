package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/presencechat/internal/server"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	hub := server.NewHub(log, cfg)
	go hub.Run()

	router := server.SetupRoutes(server.NewHandlers(log, hub))
	httpServer := server.CreateServer(cfg.Port, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(log, httpServer)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownErr := server.ShutdownServer(log, httpServer, cfg.ShutdownTimeout)
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	log.Info("Server stopped")
	return shutdownErr
}
