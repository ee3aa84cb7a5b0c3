package store

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured reports that the backing store is unreachable or was
	// never wired up. Callers degrade to empty results rather than failing.
	ErrNotConfigured = errors.New("store not configured")

	// ErrNoTable reports that the named table does not exist in the store.
	ErrNoTable = errors.New("table not found")
)

// Row is one untyped record as the store returns it. Column sets differ
// between deployments, so rows are never mapped onto fixed structs at this
// layer.
type Row map[string]any

// Filter is a single equality predicate. Filters are ANDed together.
type Filter struct {
	Column string
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Store is the structured-store primitive set this system builds on. Each
// call is a single statement; there are no cross-statement transactions.
// Update returns the affected rows: an empty result means zero matched and
// is not an error, which is indistinguishable from "no such row shape".
type Store interface {
	Select(ctx context.Context, table string, filters []Filter, limit int) ([]Row, error)
	Update(ctx context.Context, table string, filters []Filter, patch Row) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Delete(ctx context.Context, table string, filters []Filter) (int64, error)
}
