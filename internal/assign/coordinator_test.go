package assign

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/fieldline/dispatch/internal/domain"
	"github.com/fieldline/dispatch/internal/queue"
	"github.com/fieldline/dispatch/internal/store"
)

func testCoordinator(s store.Store, repairs RepairEnqueuer) *Coordinator {
	return NewCoordinator(s, repairs, log.New(io.Discard, "", 0))
}

func seedDispatchTables(s *store.MemoryStore) {
	s.CreateTable("job_assignments")
	s.Seed("jobs", store.Row{"id": "job-1", "status": domain.JobStatusOfferSent, "pro_id": ""})
}

func acceptedRows(s *store.MemoryStore, table string) []store.Row {
	var out []store.Row
	for _, row := range s.Rows(table) {
		if row["state"] == domain.AssignmentAccepted {
			out = append(out, row)
		}
	}
	return out
}

func TestAcceptWithNoPriorOfferCreatesRow(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)

	out, err := testCoordinator(s, nil).Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !out.Created {
		t.Fatal("expected created=true when no offer row existed")
	}
	if out.Assignment.State != domain.AssignmentAccepted {
		t.Fatalf("expected accepted state, got %s", out.Assignment.State)
	}
	if out.StatusSync != StatusSyncApplied {
		t.Fatalf("expected job status sync to apply, got %s", out.StatusSync)
	}

	jobs := s.Rows("jobs")
	if jobs[0]["status"] != domain.JobStatusAccepted {
		t.Fatalf("expected job status accepted, got %v", jobs[0]["status"])
	}
}

func TestAcceptTwiceIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)
	c := testCoordinator(s, nil)

	first, err := c.Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := c.Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}

	if !first.Created {
		t.Fatal("expected first accept to create the row")
	}
	if second.Created {
		t.Fatal("expected second accept to reuse the existing row")
	}
	if rows := acceptedRows(s, "job_assignments"); len(rows) != 1 {
		t.Fatalf("expected exactly one accepted row, got %d", len(rows))
	}
}

func TestOfferDeclineAcceptLeavesOneAcceptedRow(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)
	c := testCoordinator(s, nil)
	pro := domain.ProRef{ID: "pro-9"}

	if _, err := c.EnsureOffer(context.Background(), "job-1", pro, ""); err != nil {
		t.Fatalf("ensure offer: %v", err)
	}
	if _, err := c.Decline(context.Background(), "job-1", pro); err != nil {
		t.Fatalf("decline: %v", err)
	}
	out, err := c.Accept(context.Background(), "job-1", pro)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if !out.Created {
		t.Fatal("expected accept after decline to create a fresh row")
	}
	if rows := acceptedRows(s, "job_assignments"); len(rows) != 1 {
		t.Fatalf("expected exactly one accepted row, got %d", len(rows))
	}
	// The declined history row stays behind.
	if total := len(s.Rows("job_assignments")); total != 2 {
		t.Fatalf("expected declined + accepted rows, got %d", total)
	}
}

func TestAcceptUpdatesStandingOffer(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)
	c := testCoordinator(s, nil)
	pro := domain.ProRef{ID: "pro-9"}

	if _, err := c.EnsureOffer(context.Background(), "job-1", pro, ""); err != nil {
		t.Fatalf("ensure offer: %v", err)
	}
	out, err := c.Accept(context.Background(), "job-1", pro)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if out.Created {
		t.Fatal("expected the standing offer row to be updated, not a new row")
	}
	if total := len(s.Rows("job_assignments")); total != 1 {
		t.Fatalf("expected a single assignment row, got %d", total)
	}
}

func TestAcceptMatchesProByEmailColumn(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("job_assignments", store.Row{
		"id":        "a-1",
		"job_id":    "job-1",
		"pro_email": "tech@example.com",
		"state":     domain.AssignmentOfferSent,
	})
	s.Seed("jobs", store.Row{"id": "job-1", "status": domain.JobStatusOfferSent})

	out, err := testCoordinator(s, nil).Accept(context.Background(), "job-1", domain.ProRef{Email: "tech@example.com"})
	if err != nil {
		t.Fatalf("accept by email: %v", err)
	}
	if out.Created {
		t.Fatal("expected the email-keyed offer row to be updated")
	}
	if rows := acceptedRows(s, "job_assignments"); len(rows) != 1 {
		t.Fatalf("expected one accepted row, got %d", len(rows))
	}
}

func TestEnsureOfferIsIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)
	c := testCoordinator(s, nil)
	pro := domain.ProRef{ID: "pro-9"}

	first, err := c.EnsureOffer(context.Background(), "job-1", pro, "")
	if err != nil {
		t.Fatalf("first offer: %v", err)
	}
	second, err := c.EnsureOffer(context.Background(), "job-1", pro, "")
	if err != nil {
		t.Fatalf("second offer: %v", err)
	}

	if !first.Created || second.Created {
		t.Fatalf("expected create-then-update, got created=%v,%v", first.Created, second.Created)
	}
	if total := len(s.Rows("job_assignments")); total != 1 {
		t.Fatalf("expected one offer row, got %d", total)
	}
}

func TestAcceptRecordsPendingSyncWhenJobWriteFails(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("job_assignments")
	// No jobs table at all: step two of the saga cannot land.

	repairs := &captureRepairQueue{}
	out, err := testCoordinator(s, repairs).Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if out.StatusSync != StatusSyncPending {
		t.Fatalf("expected pending status sync, got %s", out.StatusSync)
	}
	if !repairs.called {
		t.Fatal("expected a repair task to be enqueued")
	}
	if repairs.payload.JobID != "job-1" || repairs.payload.Status != domain.JobStatusAccepted {
		t.Fatalf("unexpected repair payload: %+v", repairs.payload)
	}
	// The assignment write itself still stands.
	if rows := acceptedRows(s, "job_assignments"); len(rows) != 1 {
		t.Fatalf("expected the accept to survive the failed status write, got %d rows", len(rows))
	}
}

func TestAcceptFailedSyncWithoutQueue(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("job_assignments")

	out, err := testCoordinator(s, nil).Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if out.StatusSync != StatusSyncFailed {
		t.Fatalf("expected failed status sync with no repair queue, got %s", out.StatusSync)
	}
}

func TestTransitionRequiresProIdentity(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)

	if _, err := testCoordinator(s, nil).Accept(context.Background(), "job-1", domain.ProRef{}); err == nil {
		t.Fatal("expected error for empty pro ref")
	}
}

func TestCoordinatorStoreUnreachable(t *testing.T) {
	_, err := testCoordinator(nil, nil).Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"})
	if !errors.Is(err, store.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestWriteJobStatusRejectsUnknownStatus(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("jobs", store.Row{"id": "job-1", "status": "queued"})

	if err := testCoordinator(s, nil).WriteJobStatus(context.Background(), "job-1", "exploded"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}

type captureRepairQueue struct {
	called  bool
	payload queue.RepairJobStatusPayload
}

func (q *captureRepairQueue) EnqueueRepairJobStatus(_ context.Context, payload queue.RepairJobStatusPayload) (*asynq.TaskInfo, error) {
	q.called = true
	q.payload = payload
	return &asynq.TaskInfo{}, nil
}

type captureEvents struct {
	events []string
}

func (c *captureEvents) Send(_ context.Context, _, event string, _ any) error {
	c.events = append(c.events, event)
	return nil
}

func TestAcceptAndDeclineEmitEvents(t *testing.T) {
	s := store.NewMemoryStore()
	seedDispatchTables(s)

	events := &captureEvents{}
	c := testCoordinator(s, nil)
	c.NotifyVia(events, "https://example.com/hooks")

	if _, err := c.Accept(context.Background(), "job-1", domain.ProRef{ID: "pro-9"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := c.Decline(context.Background(), "job-1", domain.ProRef{ID: "pro-8"}); err != nil {
		t.Fatalf("decline: %v", err)
	}

	want := []string{"assignment.accepted", "assignment.declined"}
	if len(events.events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), events.events)
	}
	for i, event := range want {
		if events.events[i] != event {
			t.Fatalf("expected event %q at %d, got %q", event, i, events.events[i])
		}
	}
}
