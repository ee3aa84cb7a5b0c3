package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in tests and local development.
// Tables must be declared up front (CreateTable) so that probing against a
// missing table fails the same way it does against Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

// CreateTable declares an empty table. Existing tables are left untouched.
func (s *MemoryStore) CreateTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		s.tables[name] = nil
	}
}

// Seed declares the table if needed and appends rows to it.
func (s *MemoryStore) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], cloneRow(row))
	}
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = nil
	}
}

func (s *MemoryStore) Select(_ context.Context, table string, filters []Filter, limit int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("select %s: %w", table, ErrNoTable)
	}

	var out []Row
	for _, row := range rows {
		if !matches(row, filters) {
			continue
		}
		out = append(out, cloneRow(row))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, table string, filters []Filter, patch Row) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", table, ErrNoTable)
	}

	var out []Row
	for i, row := range rows {
		if !matches(row, filters) {
			continue
		}
		for column, value := range patch {
			rows[i][column] = value
		}
		out = append(out, cloneRow(rows[i]))
	}
	return out, nil
}

func (s *MemoryStore) Insert(_ context.Context, table string, row Row) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; !ok {
		return nil, fmt.Errorf("insert %s: %w", table, ErrNoTable)
	}
	s.tables[table] = append(s.tables[table], cloneRow(row))
	return cloneRow(row), nil
}

func (s *MemoryStore) Delete(_ context.Context, table string, filters []Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("delete %s: %w", table, ErrNoTable)
	}

	var kept []Row
	var removed int64
	for _, row := range rows {
		if matches(row, filters) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return removed, nil
}

// Rows returns a copy of a table's contents for test assertions.
func (s *MemoryStore) Rows(table string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Row
	for _, row := range s.tables[table] {
		out = append(out, cloneRow(row))
	}
	return out
}

// matches applies ANDed equality filters. A filter naming a column the row
// does not carry matches nothing, which is exactly how a renamed physical
// column behaves against the real store.
func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		v, ok := row[f.Column]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
