package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fieldline/dispatch/internal/assign"
	"github.com/fieldline/dispatch/internal/config"
	"github.com/fieldline/dispatch/internal/queue"
	"github.com/fieldline/dispatch/internal/storage"
	"github.com/fieldline/dispatch/internal/store"
	"github.com/fieldline/dispatch/internal/telemetry"
	"github.com/fieldline/dispatch/internal/webhook"
	"github.com/fieldline/dispatch/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "dispatch-worker",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	cancel()
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	dispatchStore := openStore(logger, cfg.Stores.DispatchDSN)

	coordinator := assign.NewCoordinator(dispatchStore, nil, logger)
	coordinator.UseTables(cfg.Dispatch.JobTables, cfg.Dispatch.AssignmentTables)

	reconciler := worker.NewReconciler(dispatchStore, logger)
	reconciler.UseAssignmentTables(cfg.Dispatch.AssignmentTables)

	archive := openArchive(logger, cfg.Archive)

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       10 * time.Second,
		MaxAttempts:   3,
	})

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		coordinator,
		reconciler,
		webhookClient,
		cfg.Webhook.Endpoint,
		archive,
	)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	if cfg.Dispatch.ReconcileInterval > 0 {
		go scheduleReconcile(logger, cfg, cfg.Dispatch.ReconcileInterval)
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, srv.MetricsHandler()); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)
	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}

// scheduleReconcile enqueues a full sweep on a fixed interval. The task is
// idempotent, so overlapping runs only cost redundant scans.
func scheduleReconcile(logger *log.Logger, cfg config.Config, interval time.Duration) {
	client := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := client.EnqueueReconcileAssignments(ctx, queue.ReconcileAssignmentsPayload{
			RequestedAt: time.Now().UTC(),
		})
		cancel()
		if err != nil {
			logger.Printf("reconcile enqueue failed err=%v", err)
		}
	}
}

func openStore(logger *log.Logger, dsn string) store.Store {
	if dsn == "" {
		logger.Printf("dispatch store not configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		logger.Printf("dispatch store unavailable err=%v", err)
		return nil
	}
	return s
}

// openArchive is optional wiring: without an object store the worker still
// repairs data, it just cannot archive drift reports.
func openArchive(logger *log.Logger, cfg config.ArchiveConfig) *storage.Archive {
	archive, err := storage.NewArchive(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("drift report archive unavailable err=%v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := archive.EnsureBucket(ctx); err != nil {
		logger.Printf("drift report bucket unavailable err=%v", err)
	}
	return archive
}
