package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaidashi/order-processing-api/internal/api"
	"github.com/vaidashi/order-processing-api/internal/config"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel, cfg.IsProduction())
	defer l.Sync()

	l.Info("Starting order processing API", "env", cfg.Env, "port", cfg.Port)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	server, err := api.NewServer(startupCtx, cfg, l)
	cancelStartup()

	if err != nil {
		l.Error("Failed to initialise server", "error", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- server.Start()
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		l.Info("Shutting down server...", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			l.Error("HTTP server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
		return
	}

	l.Info("Server exiting")
}
