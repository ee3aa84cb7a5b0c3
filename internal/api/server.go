package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/fieldline/dispatch/internal/assign"
	"github.com/fieldline/dispatch/internal/domain"
	"github.com/fieldline/dispatch/internal/merge"
	"github.com/fieldline/dispatch/internal/schema"
	"github.com/fieldline/dispatch/internal/store"
	"github.com/fieldline/dispatch/internal/upsert"
)

// Server exposes the dispatch core over HTTP. Handlers stay thin: they
// parse, call the coordinator or loader, and map the core's error taxonomy
// onto status codes.
type Server struct {
	logger                *log.Logger
	coordinator           assignmentCoordinator
	lister                jobLister
	resolver              schemaResolver
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	jobCand               schema.Candidates
	assignmentCand        schema.Candidates
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type assignmentCoordinator interface {
	EnsureOffer(ctx context.Context, jobID string, pro domain.ProRef, state string) (assign.Outcome, error)
	Accept(ctx context.Context, jobID string, pro domain.ProRef) (assign.Outcome, error)
	Decline(ctx context.Context, jobID string, pro domain.ProRef) (assign.Outcome, error)
}

type jobLister interface {
	ListEnrichedJobs(ctx context.Context, filter merge.Filter) ([]merge.EnrichedJob, error)
}

type schemaResolver interface {
	Resolve(ctx context.Context, cand schema.Candidates, hints schema.Hints) (*schema.Descriptor, error)
}

func NewServer(logger *log.Logger, coordinator assignmentCoordinator, lister jobLister, resolver schemaResolver, limiter RateLimiter) *Server {
	s := &Server{
		logger:                logger,
		coordinator:           coordinator,
		lister:                lister,
		resolver:              resolver,
		rateLimiter:           limiter,
		rateLimitUserIDHeader: "X-User-ID",
		jobCand:               schema.JobCandidates(),
		assignmentCand:        schema.AssignmentCandidates(),
		metrics:               newMetrics(),
		tracer:                otel.Tracer("dispatch/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

// UseTables overrides the candidate table lists surfaced by the schema
// endpoint. Empty lists keep defaults.
func (s *Server) UseTables(jobTables, assignmentTables []string) {
	s.jobCand = s.jobCand.WithTables(jobTables)
	s.assignmentCand = s.assignmentCand.WithTables(assignmentTables)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /v1/schema/{kind}", s.handleResolveSchema)
	s.mux.HandleFunc("POST /v1/jobs/{id}/offer", s.handleOffer)
	s.mux.HandleFunc("POST /v1/jobs/{id}/accept", s.handleAccept)
	s.mux.HandleFunc("POST /v1/jobs/{id}/decline", s.handleDecline)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.metricsHandler().ServeHTTP(w, r)
}

type assignmentRequest struct {
	domain.ProRef
	State string `json:"state,omitempty"`
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	s.handleAssignment(w, r, "offer", func(ctx context.Context, jobID string, req assignmentRequest) (assign.Outcome, error) {
		return s.coordinator.EnsureOffer(ctx, jobID, req.ProRef, req.State)
	})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handleAssignment(w, r, "accept", func(ctx context.Context, jobID string, req assignmentRequest) (assign.Outcome, error) {
		return s.coordinator.Accept(ctx, jobID, req.ProRef)
	})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	s.handleAssignment(w, r, "decline", func(ctx context.Context, jobID string, req assignmentRequest) (assign.Outcome, error) {
		return s.coordinator.Decline(ctx, jobID, req.ProRef)
	})
}

func (s *Server) handleAssignment(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	call func(ctx context.Context, jobID string, req assignmentRequest) (assign.Outcome, error),
) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	var req assignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.ProRef.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	out, err := call(r.Context(), jobID, req)
	if err != nil {
		s.writeCoreError(w, action, jobID, err)
		return
	}

	s.metrics.assignmentsTotal.WithLabelValues(action, createdLabel(out.Created)).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":        jobID,
		"created":       out.Created,
		"assignment_id": out.Assignment.ID,
		"state":         out.Assignment.State,
		"status_sync":   out.StatusSync,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := merge.Filter{
		Status: strings.TrimSpace(query.Get("status")),
		ProID:  strings.TrimSpace(query.Get("pro_id")),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	view, err := s.lister.ListEnrichedJobs(r.Context(), filter)
	if err != nil {
		s.logger.Printf("list jobs failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list jobs"})
		return
	}

	entries := make([]map[string]any, 0, len(view))
	for _, entry := range view {
		entries = append(entries, enrichedJobJSON(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  entries,
		"count": len(entries),
	})
}

func (s *Server) handleResolveSchema(w http.ResponseWriter, r *http.Request) {
	var cand schema.Candidates
	switch r.PathValue("kind") {
	case "jobs":
		cand = s.jobCand
	case "assignments":
		cand = s.assignmentCand
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown schema kind"})
		return
	}

	hints := schema.Hints{Values: map[schema.Role]string{}}
	if v := r.URL.Query().Get("pro_id"); v != "" {
		hints.Values[schema.RoleProID] = v
	}
	if v := r.URL.Query().Get("pro_email"); v != "" {
		hints.Values[schema.RoleProEmail] = v
	}

	d, err := s.resolver.Resolve(r.Context(), cand, hints)
	if err != nil {
		s.writeCoreError(w, "resolve_schema", r.PathValue("kind"), err)
		return
	}

	fields := make([]string, 0, len(d.Fields))
	for field := range d.Fields {
		fields = append(fields, field)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":           d.Table,
		"observed_fields": fields,
	})
}

// writeCoreError maps the core's error taxonomy onto HTTP statuses: the
// store being down is 503, a miss after exhausting candidates is 404, and
// anything else stays a logged 500.
func (s *Server) writeCoreError(w http.ResponseWriter, action, subject string, err error) {
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store is not configured"})
	case errors.Is(err, schema.ErrSchemaNotFound), errors.Is(err, upsert.ErrNoShapeMatched):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		s.logger.Printf("%s failed subject=%s err=%v", action, subject, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func enrichedJobJSON(entry merge.EnrichedJob) map[string]any {
	out := map[string]any{
		"kind":          entry.Kind,
		"id":            entry.Job.ID,
		"status":        entry.Job.Status,
		"pro_id":        entry.Job.ProID,
		"service":       entry.Job.Service,
		"customer":      entry.Job.Customer,
		"address":       entry.Job.Address,
		"amount":        entry.Amount,
		"amount_source": entry.AmountSource,
	}
	if entry.Order != nil {
		out["order_id"] = entry.Order.ID
		out["payment_status"] = entry.Order.PaymentStatus
	}
	if entry.Payout != nil {
		out["payout_id"] = entry.Payout.ID
		out["payout_status"] = entry.Payout.Status
	}
	return out
}

func createdLabel(created bool) string {
	if created {
		return "created"
	}
	return "updated"
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
