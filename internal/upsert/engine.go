// Package upsert writes logical patches to tables whose exact column set is
// unknown, by trying a ranked list of named column shapes until one works.
package upsert

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fieldline/dispatch/internal/store"
)

// ErrNoShapeMatched reports that every candidate shape was exhausted without
// a successful write.
var ErrNoShapeMatched = errors.New("no candidate shape matched")

// Shape is one guessed mapping from logical field names to physical column
// names. A shape that lacks a mapping for a required logical field is
// skipped, not failed.
type Shape struct {
	Name    string
	Columns map[string]string
}

// Request describes one logical upsert. Match selects the target rows,
// Patch is applied on update, and Insert is the full logical row written
// when no update matched. A nil Insert makes the request update-only.
type Request struct {
	Table  string
	Shapes []Shape
	Match  map[string]any
	Patch  map[string]any
	Insert map[string]any
}

// Result reports which path succeeded. Created is true when the insert
// fallback ran; Shape names the candidate that worked.
type Result struct {
	Created bool
	Shape   string
	Row     store.Row
}

// Engine applies Requests against a store. The store's zero-rows-affected
// signal is indistinguishable from "these columns don't exist here", so
// both advance to the next candidate shape. Writes are real per attempt and
// are never rolled back; at-least-one correct physical representation is
// the guarantee, duplicate rows across shapes the accepted risk.
type Engine struct {
	store  store.Store
	logger *log.Logger
}

func New(s store.Store, logger *log.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

func (e *Engine) Apply(ctx context.Context, req Request) (Result, error) {
	if e.store == nil {
		return Result{}, store.ErrNotConfigured
	}
	if len(req.Shapes) == 0 {
		return Result{}, fmt.Errorf("upsert %s: no shapes supplied", req.Table)
	}

	var lastErr error

	for _, shape := range req.Shapes {
		filters, ok := mapFilters(shape, req.Match)
		if !ok {
			continue
		}
		patch, ok := mapRow(shape, req.Patch)
		if !ok || len(patch) == 0 {
			continue
		}

		rows, err := e.store.Update(ctx, req.Table, filters, patch)
		if err != nil {
			lastErr = err
			e.logf("upsert update rejected table=%s shape=%s err=%v", req.Table, shape.Name, err)
			continue
		}
		if len(rows) > 0 {
			return Result{Shape: shape.Name, Row: rows[0]}, nil
		}
	}

	if req.Insert == nil {
		return Result{}, notMatched(req.Table, lastErr)
	}

	return e.Insert(ctx, req.Table, req.Shapes, req.Insert)
}

// Insert writes a logical row through the first shape the store accepts.
func (e *Engine) Insert(ctx context.Context, table string, shapes []Shape, fields map[string]any) (Result, error) {
	if e.store == nil {
		return Result{}, store.ErrNotConfigured
	}

	var lastErr error
	for _, shape := range shapes {
		row, ok := mapRow(shape, fields)
		if !ok || len(row) == 0 {
			continue
		}

		inserted, err := e.store.Insert(ctx, table, row)
		if err != nil {
			lastErr = err
			e.logf("upsert insert rejected table=%s shape=%s err=%v", table, shape.Name, err)
			continue
		}
		return Result{Created: true, Shape: shape.Name, Row: inserted}, nil
	}

	return Result{}, notMatched(table, lastErr)
}

// Find returns the first row matching the logical predicate under any
// candidate shape, without writing anything.
func (e *Engine) Find(ctx context.Context, table string, shapes []Shape, match map[string]any) (store.Row, string, error) {
	if e.store == nil {
		return nil, "", store.ErrNotConfigured
	}

	for _, shape := range shapes {
		filters, ok := mapFilters(shape, match)
		if !ok {
			continue
		}
		rows, err := e.store.Select(ctx, table, filters, 1)
		if err != nil {
			continue
		}
		if len(rows) > 0 {
			return rows[0], shape.Name, nil
		}
	}
	return nil, "", notMatched(table, nil)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func notMatched(table string, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("upsert %s: %w (last store error: %v)", table, ErrNoShapeMatched, lastErr)
	}
	return fmt.Errorf("upsert %s: %w", table, ErrNoShapeMatched)
}

func mapFilters(shape Shape, match map[string]any) ([]store.Filter, bool) {
	filters := make([]store.Filter, 0, len(match))
	for field, value := range match {
		column, ok := shape.Columns[field]
		if !ok || column == "" {
			return nil, false
		}
		filters = append(filters, store.Eq(column, value))
	}
	return filters, true
}

func mapRow(shape Shape, fields map[string]any) (store.Row, bool) {
	row := make(store.Row, len(fields))
	for field, value := range fields {
		column, ok := shape.Columns[field]
		if !ok || column == "" {
			return nil, false
		}
		row[column] = value
	}
	return row, true
}
