// Package server assembles the queue server from its configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"qms/patient-queue/internal/config"
	"qms/patient-queue/internal/feed"
	"qms/patient-queue/internal/gateway"
	"qms/patient-queue/internal/httpapi"
	"qms/patient-queue/internal/hub"
	"qms/patient-queue/internal/store"
	"qms/patient-queue/internal/store/filestore"
	"qms/patient-queue/internal/store/memory"
	"qms/patient-queue/internal/store/postgres"
	"qms/patient-queue/internal/store/redisstore"
	"qms/patient-queue/internal/store/sqlite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "queue-server"

// OpenBackend connects the storage backend named by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendFile:
		backend, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case config.BackendRedis:
		backend := redisstore.New(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Logger:   logger,
		})
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, err
		}
		return backend, nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DB_DSN is required for the %s backend", cfg.Backend)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: db connect: %v", store.ErrStorageUnavailable, err)
		}
		backend := postgres.NewStore(pool, logger)
		if err := backend.EnsureSchema(ctx); err != nil {
			backend.Close()
			return nil, err
		}
		return backend, nil
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLiteDSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create %s: %v", store.ErrStorageUnavailable, dir, err)
			}
		}
		backend, err := sqlite.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Server owns the running pieces: queue, change feed, hub and HTTP surface.
type Server struct {
	backend store.Backend
	queue   *store.Queue
	hub     *hub.Hub
	feed    *feed.Feed
	handler http.Handler
	logger  *zap.Logger

	stopOnce sync.Once
}

func New(cfg config.Config, backend store.Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := store.NewQueue(backend, store.Options{
		FixedDoctors: cfg.FixedDoctors,
		MaxHistory:   cfg.MaxHistory,
		Logger:       logger.Named("store"),
	})
	h := hub.New(cfg.ClientBuffer, logger.Named("hub"))
	changes := feed.New(queue, backend, h, feed.Options{
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger.Named("feed"),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpapi.NewHandler(queue, httpapi.Options{Snapshots: changes, Logger: logger}).Register(mux)
	gateway.New(h, gateway.Options{Heartbeat: cfg.HeartbeatInterval, Logger: logger.Named("gateway")}).Register(mux)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		TrustForwardedFor: cfg.TrustForwardedFor,
	})
	handler := otelhttp.NewHandler(httpapi.LoggingMiddleware(logger)(limiter.Middleware(mux)), serviceName)

	return &Server{
		backend: backend,
		queue:   queue,
		hub:     h,
		feed:    changes,
		handler: handler,
		logger:  logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Queue() *store.Queue {
	return s.queue
}

// Start emits the first snapshot and begins following the store.
func (s *Server) Start(ctx context.Context) {
	s.feed.Start(ctx)
	s.logger.Info("change feed started")
}

// Stop ends the change feed and disconnects every viewer. The HTTP API keeps
// working against the backend until Close.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.feed.Stop()
		s.hub.Close()
	})
}

// Close stops the server if needed and closes the backend.
func (s *Server) Close() error {
	s.Stop()
	return s.backend.Close()
}
