package schema

import (
	"context"

	"github.com/fieldline/dispatch/internal/store"
)

// Prober samples one row from a table to learn its observed field names.
// Probing informs heuristics only: an empty table and an absent table both
// yield an empty set, so callers needing the distinction use sample's error.
type Prober struct {
	store store.Store
}

func NewProber(s store.Store) *Prober {
	return &Prober{store: s}
}

// Probe returns the field names observed on one sampled row. It never
// returns an error: unreachable stores, missing tables, and empty tables
// all come back as an empty set.
func (p *Prober) Probe(ctx context.Context, table string) map[string]struct{} {
	row, err := p.sample(ctx, table)
	if err != nil || row == nil {
		return map[string]struct{}{}
	}

	fields := make(map[string]struct{}, len(row))
	for field := range row {
		fields[field] = struct{}{}
	}
	return fields
}

// sample fetches at most one row. A nil row with a nil error means the
// table exists but is empty.
func (p *Prober) sample(ctx context.Context, table string) (store.Row, error) {
	if p.store == nil {
		return nil, store.ErrNotConfigured
	}
	rows, err := p.store.Select(ctx, table, nil, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
