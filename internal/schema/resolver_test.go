package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldline/dispatch/internal/store"
)

func TestProbeReturnsObservedFields(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("jobs", store.Row{"id": "job-1", "status": "queued", "pro_id": "pro-9"})

	fields := NewProber(s).Probe(context.Background(), "jobs")
	for _, want := range []string{"id", "status", "pro_id"} {
		if _, ok := fields[want]; !ok {
			t.Fatalf("expected field %s in probe result, got %v", want, fields)
		}
	}
}

func TestProbeNeverFails(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("jobs")

	p := NewProber(s)
	if fields := p.Probe(context.Background(), "jobs"); len(fields) != 0 {
		t.Fatalf("expected empty set for empty table, got %v", fields)
	}
	if fields := p.Probe(context.Background(), "missing"); len(fields) != 0 {
		t.Fatalf("expected empty set for missing table, got %v", fields)
	}
	if fields := NewProber(nil).Probe(context.Background(), "jobs"); len(fields) != 0 {
		t.Fatalf("expected empty set for unconfigured store, got %v", fields)
	}
}

func TestResolvePrefersTableContainingProbeValue(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("jobs_v2")
	s.Seed("jobs", store.Row{"id": "job-1", "status": "queued", "pro_id": "pro-123"})

	d, err := NewResolver(s).Resolve(context.Background(), JobCandidates(), Hints{
		Values: map[Role]string{RoleProID: "pro-123"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Table != "jobs" {
		t.Fatalf("expected data-bearing jobs table to win over empty jobs_v2, got %s", d.Table)
	}
	if got := d.Column(RoleProID); got != "pro_id" {
		t.Fatalf("expected hint-confirmed pro_id column, got %s", got)
	}
}

func TestResolveFallsBackToEmptyButPresentTable(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("assignments")

	d, err := NewResolver(s).Resolve(context.Background(), AssignmentCandidates(), Hints{
		Values: map[Role]string{RoleProID: "pro-9"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.Table != "assignments" {
		t.Fatalf("expected assignments, got %s", d.Table)
	}
	// Empty table: nothing can be ruled out, every spelling stays.
	if got := len(d.RankedColumns(RoleProID)); got != 4 {
		t.Fatalf("expected all 4 pro-id spellings to survive, got %d", got)
	}
}

func TestResolveAdaptsColumnsToObservedRow(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("job_assignments", store.Row{
		"id":      "a-1",
		"job_id":  "job-1",
		"tech_id": "pro-9",
		"status":  "offer_sent",
	})

	d, err := NewResolver(s).Resolve(context.Background(), AssignmentCandidates(), Hints{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := d.Column(RoleProID); got != "tech_id" {
		t.Fatalf("expected tech_id for the pro role, got %s", got)
	}
	if got := d.Column(RoleState); got != "status" {
		t.Fatalf("expected status for the state role, got %s", got)
	}
	if got := d.Column(RoleJobRef); got != "job_id" {
		t.Fatalf("expected job_id for the job ref role, got %s", got)
	}
}

func TestResolveStoreUnreachable(t *testing.T) {
	_, err := NewResolver(nil).Resolve(context.Background(), JobCandidates(), Hints{})
	if !errors.Is(err, store.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestResolveNoCandidateTable(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("unrelated")

	_, err := NewResolver(s).Resolve(context.Background(), JobCandidates(), Hints{})
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
}

func TestDescriptorKeepsAllSpellingsWhenRowMatchesNone(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("assignments", store.Row{"uuid": "a-1", "worker": "pro-9"})

	d, err := NewResolver(s).Resolve(context.Background(), AssignmentCandidates(), Hints{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := len(d.RankedColumns(RoleProID)); got != 4 {
		t.Fatalf("expected full candidate list when nothing matched, got %d", got)
	}
}
