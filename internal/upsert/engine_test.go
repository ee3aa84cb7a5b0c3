package upsert

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/fieldline/dispatch/internal/store"
)

func testShapes() []Shape {
	return []Shape{
		{
			Name: "pro_id",
			Columns: map[string]string{
				"job":   "job_id",
				"pro":   "pro_id",
				"state": "state",
			},
		},
		{
			Name: "tech_id",
			Columns: map[string]string{
				"job":   "job_id",
				"pro":   "tech_id",
				"state": "state",
			},
		},
	}
}

func newEngine(s store.Store) *Engine {
	return New(s, log.New(io.Discard, "", 0))
}

func TestApplyUpdatesWithFirstMatchingShape(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("assignments", store.Row{"job_id": "job-1", "pro_id": "pro-9", "state": "offer_sent"})

	res, err := newEngine(s).Apply(context.Background(), Request{
		Table:  "assignments",
		Shapes: testShapes(),
		Match:  map[string]any{"job": "job-1", "pro": "pro-9"},
		Patch:  map[string]any{"state": "accepted"},
		Insert: map[string]any{"job": "job-1", "pro": "pro-9", "state": "accepted"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Created {
		t.Fatal("expected update path, got insert")
	}
	if res.Shape != "pro_id" {
		t.Fatalf("expected pro_id shape to win, got %s", res.Shape)
	}
	if rows := s.Rows("assignments"); len(rows) != 1 || rows[0]["state"] != "accepted" {
		t.Fatalf("expected single accepted row, got %v", rows)
	}
}

func TestApplyFallsThroughToLaterShape(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("assignments", store.Row{"job_id": "job-1", "tech_id": "pro-9", "state": "offer_sent"})

	res, err := newEngine(s).Apply(context.Background(), Request{
		Table:  "assignments",
		Shapes: testShapes(),
		Match:  map[string]any{"job": "job-1", "pro": "pro-9"},
		Patch:  map[string]any{"state": "declined"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Shape != "tech_id" {
		t.Fatalf("expected tech_id shape after pro_id matched nothing, got %s", res.Shape)
	}
}

func TestApplyInsertsWhenNoUpdateMatched(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("assignments")

	res, err := newEngine(s).Apply(context.Background(), Request{
		Table:  "assignments",
		Shapes: testShapes(),
		Match:  map[string]any{"job": "job-1", "pro": "pro-9"},
		Patch:  map[string]any{"state": "accepted"},
		Insert: map[string]any{"job": "job-1", "pro": "pro-9", "state": "accepted"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Created {
		t.Fatal("expected insert fallback to run")
	}
	if rows := s.Rows("assignments"); len(rows) != 1 || rows[0]["pro_id"] != "pro-9" {
		t.Fatalf("expected one inserted row keyed by pro_id, got %v", rows)
	}
}

func TestApplyUpdateOnlyReportsNoMatch(t *testing.T) {
	s := store.NewMemoryStore()
	s.CreateTable("jobs")

	_, err := newEngine(s).Apply(context.Background(), Request{
		Table:  "jobs",
		Shapes: []Shape{{Name: "default", Columns: map[string]string{"id": "id", "status": "status"}}},
		Match:  map[string]any{"id": "job-404"},
		Patch:  map[string]any{"status": "accepted"},
	})
	if !errors.Is(err, ErrNoShapeMatched) {
		t.Fatalf("expected ErrNoShapeMatched for update-only miss, got %v", err)
	}
}

func TestApplySkipsShapesMissingRequiredFields(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("assignments", store.Row{"job_id": "job-1", "tech_email": "a@b.c", "state": "offer_sent"})

	shapes := []Shape{
		{Name: "email", Columns: map[string]string{"job": "job_id", "state": "state"}}, // no pro mapping
		{Name: "tech_email", Columns: map[string]string{"job": "job_id", "pro": "tech_email", "state": "state"}},
	}

	res, err := newEngine(s).Apply(context.Background(), Request{
		Table:  "assignments",
		Shapes: shapes,
		Match:  map[string]any{"job": "job-1", "pro": "a@b.c"},
		Patch:  map[string]any{"state": "accepted"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Shape != "tech_email" {
		t.Fatalf("expected incomplete shape to be skipped, got %s", res.Shape)
	}
}

func TestApplyNotConfigured(t *testing.T) {
	_, err := newEngine(nil).Apply(context.Background(), Request{
		Table:  "jobs",
		Shapes: testShapes(),
		Match:  map[string]any{"job": "x", "pro": "y"},
		Patch:  map[string]any{"state": "accepted"},
	})
	if !errors.Is(err, store.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFindReturnsFirstHit(t *testing.T) {
	s := store.NewMemoryStore()
	s.Seed("assignments", store.Row{"job_id": "job-1", "tech_id": "pro-9", "state": "accepted"})

	row, shape, err := newEngine(s).Find(context.Background(), "assignments", testShapes(), map[string]any{
		"job":   "job-1",
		"pro":   "pro-9",
		"state": "accepted",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if shape != "tech_id" {
		t.Fatalf("expected tech_id shape, got %s", shape)
	}
	if row["state"] != "accepted" {
		t.Fatalf("expected accepted row, got %v", row)
	}
}
