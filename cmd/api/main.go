package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nakliyeci/carrier-jobs/internal/api"
	"github.com/nakliyeci/carrier-jobs/internal/config"
	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel).With("service", "carrier-jobs", "env", cfg.Env)
	l.Info("Starting API server...", "storage", cfg.StorageDriver, "kafka", cfg.Kafka.Enabled)

	server, err := api.NewServer(cfg, l)
	if err != nil {
		l.Error("Failed to initialise server", "error", err)
		os.Exit(1)
	}

	// Start the server in a goroutine
	go func() {
		l.Info("Server is starting", "port", cfg.Port)

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}
}
