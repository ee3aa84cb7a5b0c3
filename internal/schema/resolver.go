package schema

import (
	"context"
	"errors"

	"github.com/fieldline/dispatch/internal/store"
)

// Hints carries caller-supplied probe values, keyed by role. A table whose
// rows actually contain a hint value outranks a table that merely exists.
type Hints struct {
	Values map[Role]string
}

func (h Hints) empty() bool {
	for _, v := range h.Values {
		if v != "" {
			return false
		}
	}
	return true
}

// hintOrder fixes the iteration order over hint roles so resolution issues
// the same probes in the same order on every call.
var hintOrder = []Role{RoleProID, RoleProEmail, RoleJobRef, RoleID}

// Resolver picks one physical table out of a ranked candidate list and
// builds a Descriptor for it.
type Resolver struct {
	store  store.Store
	prober *Prober
}

func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, prober: NewProber(s)}
}

// Resolve runs two passes over the candidate tables. The first pass issues
// hint-filtered selects and stops at the first table holding a matching row,
// learning that table's real column set from the hit. The second pass
// accepts the first table that exists at all, even empty, so writes still
// have a destination.
//
// Errors: store.ErrNotConfigured when no candidate was reachable,
// ErrSchemaNotFound when the store responded but every candidate is absent.
// Both are expected conditions; callers degrade rather than fail.
func (r *Resolver) Resolve(ctx context.Context, cand Candidates, hints Hints) (*Descriptor, error) {
	if r.store == nil {
		return nil, store.ErrNotConfigured
	}

	sawStore := false

	if !hints.empty() {
		for _, table := range cand.Tables {
			for _, role := range hintOrder {
				value := hints.Values[role]
				if value == "" {
					continue
				}
				for _, column := range cand.Columns[role] {
					rows, err := r.store.Select(ctx, table, []store.Filter{store.Eq(column, value)}, 1)
					if err != nil {
						if errors.Is(err, store.ErrNoTable) {
							sawStore = true
						}
						// A rejected column spelling proves nothing about
						// the table; keep trying the rest.
						continue
					}
					sawStore = true
					if len(rows) > 0 {
						return newDescriptor(table, rows[0], cand, map[Role]string{role: column}), nil
					}
				}
			}
		}
	}

	for _, table := range cand.Tables {
		row, err := r.prober.sample(ctx, table)
		if err != nil {
			if errors.Is(err, store.ErrNoTable) {
				sawStore = true
			}
			continue
		}
		sawStore = true
		return newDescriptor(table, row, cand, nil), nil
	}

	if sawStore {
		return nil, ErrSchemaNotFound
	}
	return nil, store.ErrNotConfigured
}
