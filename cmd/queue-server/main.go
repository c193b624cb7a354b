package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qms/patient-queue/internal/config"
	"qms/patient-queue/internal/logging"
	"qms/patient-queue/internal/server"
	"qms/patient-queue/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "queue-server")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	shutdownTelemetry := telemetry.Setup("queue-server", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := server.OpenBackend(ctx, cfg, logger.Named("backend"))
	if err != nil {
		logger.Fatal("open backend", zap.String("backend", cfg.Backend), zap.Error(err))
	}

	srv := server.New(cfg, backend, logger)
	srv.Start(ctx)

	// WriteTimeout stays zero: streams hold the response open and set their own deadlines.
	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("queue-server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("backend", cfg.Backend),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Streams never finish on their own, so viewers go first. In-flight
	// mutations drain before the backend closes.
	srv.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := srv.Close(); err != nil {
		logger.Warn("close backend", zap.Error(err))
	}
}
