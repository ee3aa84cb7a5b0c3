package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldline/dispatch/internal/api"
	"github.com/fieldline/dispatch/internal/assign"
	"github.com/fieldline/dispatch/internal/config"
	"github.com/fieldline/dispatch/internal/merge"
	"github.com/fieldline/dispatch/internal/queue"
	"github.com/fieldline/dispatch/internal/ratelimit"
	"github.com/fieldline/dispatch/internal/schema"
	"github.com/fieldline/dispatch/internal/store"
	"github.com/fieldline/dispatch/internal/telemetry"
	"github.com/fieldline/dispatch/internal/webhook"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "dispatch-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	dispatchStore := openStore(logger, "dispatch", cfg.Stores.DispatchDSN)
	commerceStore := openStore(logger, "commerce", cfg.Stores.CommerceDSN)
	ledgerStore := openStore(logger, "ledger", cfg.Stores.LedgerDSN)

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	coordinator := assign.NewCoordinator(dispatchStore, queueClient, logger)
	coordinator.UseTables(cfg.Dispatch.JobTables, cfg.Dispatch.AssignmentTables)
	coordinator.NotifyVia(webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
	}), cfg.Webhook.Endpoint)

	loader := merge.NewLoader(dispatchStore, commerceStore, ledgerStore, cfg.Dispatch.PayoutShare, logger)
	loader.UseJobTables(cfg.Dispatch.JobTables)

	var limiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err = ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "dispatch:ratelimit")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
	}

	app := api.NewServer(logger, coordinator, loader, schema.NewResolver(dispatchStore), limiter)
	app.UseTables(cfg.Dispatch.JobTables, cfg.Dispatch.AssignmentTables)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// openStore connects one physical store. An empty DSN leaves that store
// unconfigured; the core degrades instead of failing startup.
func openStore(logger *log.Logger, name, dsn string) store.Store {
	if dsn == "" {
		logger.Printf("%s store not configured", name)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		logger.Printf("%s store unavailable err=%v", name, err)
		return nil
	}
	return s
}
