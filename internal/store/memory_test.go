package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreSelectFiltersAndLimit(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("jobs",
		Row{"id": "job-1", "status": "accepted"},
		Row{"id": "job-2", "status": "accepted"},
		Row{"id": "job-3", "status": "declined"},
	)

	rows, err := s.Select(context.Background(), "jobs", []Filter{Eq("status", "accepted")}, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 accepted rows, got %d", len(rows))
	}

	limited, err := s.Select(context.Background(), "jobs", nil, 1)
	if err != nil {
		t.Fatalf("select with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit=1 to return one row, got %d", len(limited))
	}
}

func TestMemoryStoreMissingTable(t *testing.T) {
	s := NewMemoryStore()

	if _, err := s.Select(context.Background(), "jobs_v2", nil, 1); !errors.Is(err, ErrNoTable) {
		t.Fatalf("expected ErrNoTable, got %v", err)
	}
	if _, err := s.Insert(context.Background(), "jobs_v2", Row{"id": "x"}); !errors.Is(err, ErrNoTable) {
		t.Fatalf("expected ErrNoTable on insert, got %v", err)
	}
}

func TestMemoryStoreUpdateReturnsAffectedRows(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("assignments",
		Row{"job_id": "job-1", "pro_id": "pro-9", "state": "offer_sent"},
		Row{"job_id": "job-1", "pro_id": "pro-2", "state": "offer_sent"},
	)

	updated, err := s.Update(
		context.Background(),
		"assignments",
		[]Filter{Eq("job_id", "job-1"), Eq("pro_id", "pro-9")},
		Row{"state": "accepted"},
	)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated) != 1 {
		t.Fatalf("expected one affected row, got %d", len(updated))
	}
	if updated[0]["state"] != "accepted" {
		t.Fatalf("expected returned row to carry the patch, got %v", updated[0]["state"])
	}

	// Zero matches is an empty result, never an error.
	none, err := s.Update(
		context.Background(),
		"assignments",
		[]Filter{Eq("technician_id", "pro-9")},
		Row{"state": "accepted"},
	)
	if err != nil {
		t.Fatalf("update with unknown column: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected unknown filter column to match nothing, got %d rows", len(none))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("payouts",
		Row{"id": "p-1", "status": "pending"},
		Row{"id": "p-2", "status": "paid"},
	)

	removed, err := s.Delete(context.Background(), "payouts", []Filter{Eq("status", "pending")})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one row removed, got %d", removed)
	}
	if rows := s.Rows("payouts"); len(rows) != 1 || rows[0]["id"] != "p-2" {
		t.Fatalf("expected only p-2 to remain, got %v", rows)
	}
}

func TestMemoryStoreSelectCopiesRows(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("jobs", Row{"id": "job-1", "status": "queued"})

	rows, err := s.Select(context.Background(), "jobs", nil, 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	rows[0]["status"] = "mutated"

	fresh, _ := s.Select(context.Background(), "jobs", nil, 0)
	if fresh[0]["status"] != "queued" {
		t.Fatal("expected store contents to be isolated from returned rows")
	}
}
