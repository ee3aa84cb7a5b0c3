// Package assign implements the job/pro assignment state machine on top of
// the schema resolver and the upsert engine.
package assign

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldline/dispatch/internal/domain"
	"github.com/fieldline/dispatch/internal/id"
	"github.com/fieldline/dispatch/internal/queue"
	"github.com/fieldline/dispatch/internal/schema"
	"github.com/fieldline/dispatch/internal/store"
	"github.com/fieldline/dispatch/internal/upsert"
	"github.com/fieldline/dispatch/internal/webhook"
)

// StatusSync records the outcome of the best-effort jobs-table status write
// that follows a successful assignment write. The assignment row is the
// source of truth; the job status is a cache of it, repaired asynchronously
// when the inline write fails.
type StatusSync string

const (
	StatusSyncApplied StatusSync = "applied"
	StatusSyncPending StatusSync = "pending"
	StatusSyncFailed  StatusSync = "failed"
	StatusSyncSkipped StatusSync = "skipped"
)

// Outcome reports what one coordinator call did.
type Outcome struct {
	Created    bool
	Assignment domain.Assignment
	Shape      string
	StatusSync StatusSync
}

// RepairEnqueuer hands failed status writes to the reconciliation queue.
type RepairEnqueuer interface {
	EnqueueRepairJobStatus(ctx context.Context, payload queue.RepairJobStatusPayload) (*asynq.TaskInfo, error)
}

// EventSender delivers signed assignment events to a configured endpoint.
type EventSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Coordinator drives offer, accept, and decline against whatever physical
// assignment schema the resolver finds. All store writes go through the
// upsert engine; nothing here is transactional.
type Coordinator struct {
	store          store.Store
	resolver       *schema.Resolver
	engine         *upsert.Engine
	repairs        RepairEnqueuer
	events         EventSender
	eventEndpoint  string
	logger         *log.Logger
	jobCand        schema.Candidates
	assignmentCand schema.Candidates
	now            func() time.Time
	newID          func() string
}

func NewCoordinator(s store.Store, repairs RepairEnqueuer, logger *log.Logger) *Coordinator {
	return &Coordinator{
		store:          s,
		resolver:       schema.NewResolver(s),
		engine:         upsert.New(s, logger),
		repairs:        repairs,
		logger:         logger,
		jobCand:        schema.JobCandidates(),
		assignmentCand: schema.AssignmentCandidates(),
		now:            time.Now,
		newID:          func() string { return id.WithPrefix("asg") },
	}
}

// NotifyVia wires signed event delivery for accepts and declines. A nil
// sender or empty endpoint disables it.
func (c *Coordinator) NotifyVia(sender EventSender, endpoint string) {
	c.events = sender
	c.eventEndpoint = endpoint
}

// UseTables overrides the candidate table lists for deployments that name
// their tables outside the built-in spellings. Empty lists keep defaults.
func (c *Coordinator) UseTables(jobTables, assignmentTables []string) {
	c.jobCand = c.jobCand.WithTables(jobTables)
	c.assignmentCand = c.assignmentCand.WithTables(assignmentTables)
}

// EnsureOffer records that a job was offered to a pro, updating an existing
// (job, pro) row or creating one. state defaults to offer_sent; accepted and
// declined targets are routed through the guarded transition path.
func (c *Coordinator) EnsureOffer(ctx context.Context, jobID string, pro domain.ProRef, state string) (Outcome, error) {
	if state == "" {
		state = domain.AssignmentOfferSent
	}
	switch state {
	case domain.AssignmentAccepted:
		return c.Accept(ctx, jobID, pro)
	case domain.AssignmentDeclined:
		return c.Decline(ctx, jobID, pro)
	}

	if err := pro.Validate(); err != nil {
		return Outcome{}, err
	}

	d, attempts, err := c.prepare(ctx, pro)
	if err != nil {
		return Outcome{}, err
	}

	for _, a := range attempts {
		res, err := c.engine.Apply(ctx, upsert.Request{
			Table:  d.Table,
			Shapes: a.shapes,
			Match:  map[string]any{"job": jobID, "pro": a.value},
			Patch:  map[string]any{"state": state},
		})
		if err == nil {
			return c.outcome(d, res, jobID, pro, state, StatusSyncSkipped), nil
		}
	}

	return c.insert(ctx, d, attempts, jobID, pro, state, StatusSyncSkipped)
}

// Accept moves the (job, pro) assignment into accepted. An assignment
// already accepted short-circuits; a standing offer is updated; otherwise a
// row is created directly in accepted so the accept is never lost. On
// success the job's own status is synced best-effort.
func (c *Coordinator) Accept(ctx context.Context, jobID string, pro domain.ProRef) (Outcome, error) {
	out, err := c.transition(ctx, jobID, pro, domain.AssignmentAccepted)
	if err != nil {
		return out, err
	}
	out.StatusSync = c.syncJobStatus(ctx, jobID, pro, domain.JobStatusAccepted)
	c.notify(ctx, webhook.EventAssignmentAccepted, jobID, pro, out)
	return out, nil
}

// Decline moves the (job, pro) assignment into declined, creating the row
// if no offer was ever recorded.
func (c *Coordinator) Decline(ctx context.Context, jobID string, pro domain.ProRef) (Outcome, error) {
	out, err := c.transition(ctx, jobID, pro, domain.AssignmentDeclined)
	if err != nil {
		return out, err
	}
	c.notify(ctx, webhook.EventAssignmentDeclined, jobID, pro, out)
	return out, nil
}

// attempt binds one pro-identifying value to the shapes that can express it.
type attempt struct {
	value  string
	shapes []upsert.Shape
}

func (c *Coordinator) prepare(ctx context.Context, pro domain.ProRef) (*schema.Descriptor, []attempt, error) {
	hints := schema.Hints{Values: map[schema.Role]string{}}
	if pro.ID != "" {
		hints.Values[schema.RoleProID] = pro.ID
	}
	if pro.Email != "" {
		hints.Values[schema.RoleProEmail] = pro.Email
	}

	d, err := c.resolver.Resolve(ctx, c.assignmentCand, hints)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve assignment schema: %w", err)
	}

	var attempts []attempt
	if pro.ID != "" {
		attempts = append(attempts, attempt{value: pro.ID, shapes: proShapes(d, schema.RoleProID)})
	}
	if pro.Email != "" {
		attempts = append(attempts, attempt{value: pro.Email, shapes: proShapes(d, schema.RoleProEmail)})
	}
	return d, attempts, nil
}

// proShapes builds one shape per candidate pro column, sharing the
// descriptor's best job-ref, state, and id columns.
func proShapes(d *schema.Descriptor, role schema.Role) []upsert.Shape {
	var shapes []upsert.Shape
	for _, proCol := range d.RankedColumns(role) {
		shapes = append(shapes, upsert.Shape{
			Name: string(role) + ":" + proCol,
			Columns: map[string]string{
				"id":    d.Column(schema.RoleID),
				"job":   d.Column(schema.RoleJobRef),
				"pro":   proCol,
				"state": d.Column(schema.RoleState),
			},
		})
	}
	return shapes
}

func (c *Coordinator) transition(ctx context.Context, jobID string, pro domain.ProRef, target string) (Outcome, error) {
	if err := pro.Validate(); err != nil {
		return Outcome{}, err
	}

	d, attempts, err := c.prepare(ctx, pro)
	if err != nil {
		return Outcome{}, err
	}

	// Sequential idempotence: a row already in the target state means a
	// previous call landed, so repeating the write would only risk a
	// duplicate.
	for _, a := range attempts {
		row, shapeName, err := c.engine.Find(ctx, d.Table, a.shapes, map[string]any{
			"job": jobID, "pro": a.value, "state": target,
		})
		if err == nil {
			res := upsert.Result{Shape: shapeName, Row: row}
			return c.outcome(d, res, jobID, pro, target, StatusSyncSkipped), nil
		}
	}

	// Moves into accepted/declined are only taken from a standing offer, so
	// the update filters on offer_sent. Every pro value is tried against
	// every pro column before giving up on the update path.
	for _, a := range attempts {
		res, err := c.engine.Apply(ctx, upsert.Request{
			Table:  d.Table,
			Shapes: a.shapes,
			Match:  map[string]any{"job": jobID, "pro": a.value, "state": domain.AssignmentOfferSent},
			Patch:  map[string]any{"state": target},
		})
		if err == nil {
			return c.outcome(d, res, jobID, pro, target, StatusSyncSkipped), nil
		}
	}

	// Durability over offer tracking: an accept or decline with no recorded
	// offer still must land, so the row is created directly in the target
	// state.
	return c.insert(ctx, d, attempts, jobID, pro, target, StatusSyncSkipped)
}

func (c *Coordinator) insert(ctx context.Context, d *schema.Descriptor, attempts []attempt, jobID string, pro domain.ProRef, state string, sync StatusSync) (Outcome, error) {
	var lastErr error
	for _, a := range attempts {
		res, err := c.engine.Insert(ctx, d.Table, a.shapes, map[string]any{
			"id":    c.newID(),
			"job":   jobID,
			"pro":   a.value,
			"state": state,
		})
		if err != nil {
			lastErr = err
			continue
		}
		return c.outcome(d, res, jobID, pro, state, sync), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("assignment write %s: no pro identifier supplied", jobID)
	}
	return Outcome{}, lastErr
}

func (c *Coordinator) outcome(d *schema.Descriptor, res upsert.Result, jobID string, pro domain.ProRef, state string, sync StatusSync) Outcome {
	a := domain.Assignment{
		JobID: jobID,
		Pro:   pro,
		State: state,
	}
	if res.Row != nil {
		if v := res.Row[d.Column(schema.RoleID)]; v != nil {
			a.ID = domain.AsString(v)
		}
		if v := res.Row[d.Column(schema.RoleState)]; v != nil {
			a.State = domain.AsString(v)
		}
	}
	return Outcome{
		Created:    res.Created,
		Assignment: a,
		Shape:      res.Shape,
		StatusSync: sync,
	}
}

// syncJobStatus is step two of the accept saga: cache the accepted state on
// the job row itself. Failure never unwinds the assignment write; it is
// logged, handed to the repair queue when one is wired, and reported on the
// outcome.
func (c *Coordinator) syncJobStatus(ctx context.Context, jobID string, pro domain.ProRef, status string) StatusSync {
	err := c.WriteJobStatus(ctx, jobID, status)
	if err == nil {
		return StatusSyncApplied
	}
	c.logf("job status sync failed job_id=%s status=%s err=%v", jobID, status, err)

	if c.repairs == nil {
		return StatusSyncFailed
	}
	_, enqErr := c.repairs.EnqueueRepairJobStatus(ctx, queue.RepairJobStatusPayload{
		JobID:       jobID,
		Status:      status,
		Pro:         pro,
		Reason:      err.Error(),
		RequestedAt: c.now().UTC(),
	})
	if enqErr != nil {
		c.logf("status repair enqueue failed job_id=%s err=%v", jobID, enqErr)
		return StatusSyncFailed
	}
	return StatusSyncPending
}

// WriteJobStatus updates the status column on whatever jobs table the
// resolver finds. Shared by the inline saga step and the repair worker.
func (c *Coordinator) WriteJobStatus(ctx context.Context, jobID, status string) error {
	if !domain.ValidJobStatus(status) {
		return fmt.Errorf("refusing to write unknown job status %q", status)
	}

	d, err := c.resolver.Resolve(ctx, c.jobCand, schema.Hints{
		Values: map[schema.Role]string{schema.RoleID: jobID},
	})
	if err != nil {
		return fmt.Errorf("resolve job schema: %w", err)
	}

	var shapes []upsert.Shape
	for _, idCol := range d.RankedColumns(schema.RoleID) {
		for _, statusCol := range d.RankedColumns(schema.RoleStatus) {
			shapes = append(shapes, upsert.Shape{
				Name: idCol + "/" + statusCol,
				Columns: map[string]string{
					"id":     idCol,
					"status": statusCol,
				},
			})
		}
	}

	_, err = c.engine.Apply(ctx, upsert.Request{
		Table:  d.Table,
		Shapes: shapes,
		Match:  map[string]any{"id": jobID},
		Patch:  map[string]any{"status": status},
	})
	return err
}

// notify is best-effort: a lost event never fails the assignment write
// that already landed.
func (c *Coordinator) notify(ctx context.Context, event, jobID string, pro domain.ProRef, out Outcome) {
	if c.events == nil || c.eventEndpoint == "" {
		return
	}
	err := c.events.Send(ctx, c.eventEndpoint, event, map[string]any{
		"job_id":        jobID,
		"assignment_id": out.Assignment.ID,
		"state":         out.Assignment.State,
		"pro":           pro,
		"created":       out.Created,
		"at":            c.now().UTC(),
	})
	if err != nil {
		c.logf("event delivery failed event=%s job_id=%s err=%v", event, jobID, err)
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
