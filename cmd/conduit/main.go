package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/conduit/internal/auth"
	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/dispatch"
	"github.com/af-corp/conduit/internal/gateway"
	"github.com/af-corp/conduit/internal/ratelimit"
	"github.com/af-corp/conduit/internal/retry"
	"github.com/af-corp/conduit/internal/telemetry"
	"github.com/af-corp/conduit/internal/tracker"
	"github.com/af-corp/conduit/internal/transport"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	// Connect to PostgreSQL
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (server will start but auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (auth cache and usage mirror disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Build provider registry
	registry := transport.BuildFromConfig(loader.Providers())
	loader.OnReload(func() {
		registry.Replace(transport.ClientsFromConfig(loader.Providers()))
		logger.Info("provider registry reloaded")
	})

	// Core components
	metrics := telemetry.NewMetrics()

	scheduler := ratelimit.NewScheduler(ratelimit.Config{
		RequestsPerMinute: cfg.Dispatch.RequestsPerMinute,
		BurstCapacity:     cfg.Dispatch.BurstCapacity,
		PollInterval:      cfg.Dispatch.PollInterval,
		QueueWarnDepth:    cfg.Dispatch.QueueWarnDepth,
	}, logger, metrics)

	applyLimits := func() {
		for model, limit := range loader.Limits().Models {
			if limit.BurstCapacity > 0 {
				scheduler.SetModelLimit(model, limit.RequestsPerMinute, limit.BurstCapacity)
			} else {
				scheduler.SetModelLimit(model, limit.RequestsPerMinute)
			}
		}
	}
	applyLimits()
	loader.OnReload(applyLimits)

	executor := retry.NewExecutor(retry.Policy{
		MaxRetries:  cfg.Dispatch.MaxRetries,
		BaseBackoff: cfg.Dispatch.BaseBackoff,
		MaxBackoff:  cfg.Dispatch.MaxBackoff,
	}, logger)

	trk := tracker.New(logger, tracker.NewUsageCache(rdb))
	service := dispatch.NewService(trk, scheduler, executor, registry, loader.Models(), logger, metrics)

	// Build handler
	keyStore := auth.NewCachedKeyStore(dbPool, rdb)
	handler := gateway.NewHandler(service, func() *config.ModelsConfig {
		return loader.Models()
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/conduit/v1/health", handler.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keyStore))
		r.Post("/v1/dispatch", handler.Dispatch)
		r.Get("/v1/requests", handler.ListRequests)
		r.Get("/v1/requests/{id}", handler.GetRequest)
		r.Delete("/v1/requests/{id}", handler.CancelRequest)
		r.Get("/v1/usage", handler.Usage)
		r.Get("/v1/limits/{model}", handler.GetModelLimit)
		r.Put("/v1/limits/{model}", handler.SetModelLimit)
		r.Delete("/v1/queue", handler.ClearQueue)
		r.Get("/v1/models", handler.ListModels)
	})

	// Metrics server
	if cfg.Telemetry.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics server starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("conduit starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	// Stop admitting new work before closing the HTTP listener so queued
	// calls are not stranded mid-drain.
	if err := scheduler.Shutdown(ctx); err != nil {
		logger.Warn("scheduler shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conduit stopped")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("http_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
