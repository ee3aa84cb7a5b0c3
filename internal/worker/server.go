package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fieldline/dispatch/internal/config"
	"github.com/fieldline/dispatch/internal/queue"
	"github.com/fieldline/dispatch/internal/storage"
	"github.com/fieldline/dispatch/internal/upsert"
	"github.com/fieldline/dispatch/internal/webhook"
)

// Server consumes the repair and reconcile queues. Repairs retry the
// jobs-table status write that failed inline after an assignment landed;
// reconciliation sweeps demote duplicate accepted rows and archive a drift
// report.
type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	statuses        statusWriter
	reconciler      *Reconciler
	webhookClient   webhookSender
	webhookEndpoint string
	reports         reportWriter
	metrics         *metrics
	tracer          trace.Tracer
}

type statusWriter interface {
	WriteJobStatus(ctx context.Context, jobID, status string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type reportWriter interface {
	WriteReport(ctx context.Context, name string, report any) (string, error)
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	statuses statusWriter,
	reconciler *Reconciler,
	webhookClient webhookSender,
	webhookEndpoint string,
	archive *storage.Archive,
) (*Server, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status writer is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}

	var reports reportWriter
	if archive != nil {
		reports = archive
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		statuses:        statuses,
		reconciler:      reconciler,
		webhookClient:   webhookClient,
		webhookEndpoint: webhookEndpoint,
		reports:         reports,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("dispatch/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRepairJobStatus, s.handleRepairJobStatus)
	mux.HandleFunc(queue.TypeReconcileAssignments, s.handleReconcileAssignments)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRepairJobStatus(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseRepairJobStatusPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.repair_job_status", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.status", payload.Status),
	)
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(queue.TypeRepairJobStatus, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.repairsTotal.WithLabelValues(outcome).Inc()
	}()

	s.logger.Printf("repairing job status job_id=%s status=%s reason=%q", payload.JobID, payload.Status, payload.Reason)

	if err := s.statuses.WriteJobStatus(ctx, payload.JobID, payload.Status); err != nil {
		span.RecordError(err)
		if errors.Is(err, upsert.ErrNoShapeMatched) {
			// The jobs table exists but holds no such row; retrying will
			// not manufacture one.
			outcome = "skipped"
			span.SetStatus(codes.Error, "job row not found")
			s.logger.Printf("job status repair skipped job_id=%s err=%v", payload.JobID, err)
			return fmt.Errorf("job row not found: %v: %w", err, asynq.SkipRetry)
		}
		span.SetStatus(codes.Error, "status write failed")
		return fmt.Errorf("write job status: %w", err)
	}

	s.dispatchWebhook(ctx, webhook.EventStatusRepaired, map[string]any{
		"job_id":       payload.JobID,
		"status":       payload.Status,
		"pro":          payload.Pro,
		"requested_at": payload.RequestedAt,
		"repaired_at":  time.Now().UTC(),
	})

	outcome = "repaired"
	span.SetStatus(codes.Ok, "repaired")
	return nil
}

func (s *Server) handleReconcileAssignments(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := "failed"

	payload, err := queue.ParseReconcileAssignmentsPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.reconcile_assignments", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("job.id", payload.JobID))
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(queue.TypeReconcileAssignments, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.reconcileRuns.WithLabelValues(outcome).Inc()
	}()

	report, err := s.reconciler.Sweep(ctx, payload.JobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep failed")
		return fmt.Errorf("reconcile assignments: %w", err)
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.duplicates", len(report.Duplicates)),
	)
	s.logger.Printf("reconcile sweep done table=%s scanned=%d duplicates=%d", report.Table, report.Scanned, len(report.Duplicates))

	demoted := 0
	for _, dup := range report.Duplicates {
		demoted += len(dup.Demoted)
	}
	s.metrics.duplicatesDemoted.Add(float64(demoted))

	if len(report.Duplicates) > 0 {
		s.archiveReport(ctx, report)
	}

	outcome = "swept"
	span.SetStatus(codes.Ok, "swept")
	return nil
}

// archiveReport is best-effort: a lost report never fails the sweep that
// already repaired the data.
func (s *Server) archiveReport(ctx context.Context, report DriftReport) {
	if s.reports == nil {
		return
	}
	key, err := s.reports.WriteReport(ctx, "assignment-drift", report)
	if err != nil {
		s.logger.Printf("drift report archive failed err=%v", err)
		return
	}
	s.logger.Printf("drift report archived key=%s", key)
}

func (s *Server) dispatchWebhook(ctx context.Context, event string, body map[string]any) {
	if s.webhookEndpoint == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, s.webhookEndpoint, event, body); err != nil {
		s.logger.Printf("webhook delivery failed event=%s err=%v", event, err)
	}
}
