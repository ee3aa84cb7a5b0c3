package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/fieldline/dispatch/internal/domain"
	"github.com/fieldline/dispatch/internal/schema"
	"github.com/fieldline/dispatch/internal/store"
)

// DriftReport summarizes one reconciliation sweep over the assignments
// table. It is archived as-is for offline audit.
type DriftReport struct {
	SweptAt    time.Time        `json:"swept_at"`
	Table      string           `json:"table"`
	JobID      string           `json:"job_id,omitempty"`
	Scanned    int              `json:"scanned"`
	Duplicates []DuplicateGroup `json:"duplicates,omitempty"`
}

// DuplicateGroup records one job that ended up with more than one accepted
// assignment, which row won, and which rows were demoted to declined.
type DuplicateGroup struct {
	JobRef  string   `json:"job_ref"`
	Kept    string   `json:"kept"`
	Demoted []string `json:"demoted"`
}

// Reconciler repairs the double-accept race. Two pros accepting the same
// job concurrently can both land accepted rows; the sweep keeps the most
// recent one and demotes the rest to declined.
type Reconciler struct {
	store    store.Store
	resolver *schema.Resolver
	cand     schema.Candidates
	logger   *log.Logger
	now      func() time.Time
}

func NewReconciler(s store.Store, logger *log.Logger) *Reconciler {
	return &Reconciler{
		store:    s,
		resolver: schema.NewResolver(s),
		cand:     schema.AssignmentCandidates(),
		logger:   logger,
		now:      time.Now,
	}
}

// UseAssignmentTables overrides the candidate assignment tables. Empty
// keeps defaults.
func (r *Reconciler) UseAssignmentTables(tables []string) {
	r.cand = r.cand.WithTables(tables)
}

// Sweep scans accepted assignments, optionally restricted to one job, and
// demotes duplicates. The returned report is always populated, even when
// nothing drifted.
func (r *Reconciler) Sweep(ctx context.Context, jobID string) (DriftReport, error) {
	report := DriftReport{SweptAt: r.now().UTC(), JobID: jobID}

	if r.store == nil {
		return report, store.ErrNotConfigured
	}

	hints := schema.Hints{Values: map[schema.Role]string{}}
	if jobID != "" {
		hints.Values[schema.RoleJobRef] = jobID
	}
	d, err := r.resolver.Resolve(ctx, r.cand, hints)
	if err != nil {
		return report, fmt.Errorf("resolve assignment schema: %w", err)
	}
	report.Table = d.Table

	jobCol := d.Column(schema.RoleJobRef)
	stateCol := d.Column(schema.RoleState)
	idCol := d.Column(schema.RoleID)

	filters := []store.Filter{store.Eq(stateCol, domain.AssignmentAccepted)}
	if jobID != "" {
		filters = append(filters, store.Eq(jobCol, jobID))
	}
	rows, err := r.store.Select(ctx, d.Table, filters, 0)
	if err != nil {
		return report, fmt.Errorf("scan accepted assignments: %w", err)
	}
	report.Scanned = len(rows)

	groups := make(map[string][]store.Row)
	for _, row := range rows {
		ref := domain.AsString(row[jobCol])
		if ref == "" {
			continue
		}
		groups[ref] = append(groups[ref], row)
	}

	refs := make([]string, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		group := groups[ref]
		if len(group) < 2 {
			continue
		}

		winner := newestRow(group)
		dup := DuplicateGroup{
			JobRef: ref,
			Kept:   domain.AsString(winner[idCol]),
		}
		for _, row := range group {
			rowID := domain.AsString(row[idCol])
			if rowID == dup.Kept {
				continue
			}
			if _, err := r.store.Update(ctx, d.Table,
				[]store.Filter{store.Eq(idCol, rowID)},
				store.Row{stateCol: domain.AssignmentDeclined},
			); err != nil {
				return report, fmt.Errorf("demote assignment %s: %w", rowID, err)
			}
			dup.Demoted = append(dup.Demoted, rowID)
		}
		report.Duplicates = append(report.Duplicates, dup)
		r.logger.Printf("demoted duplicate accepted assignments job_ref=%s kept=%s demoted=%d", ref, dup.Kept, len(dup.Demoted))
	}

	return report, nil
}

// newestRow picks the winner of a duplicate group: latest timestamp when
// the rows carry one, otherwise the last row in scan order.
func newestRow(rows []store.Row) store.Row {
	winner := rows[len(rows)-1]
	winnerAt, ok := rowTime(winner)
	if !ok {
		return winner
	}
	for _, row := range rows {
		if at, ok := rowTime(row); ok && at.After(winnerAt) {
			winner, winnerAt = row, at
		}
	}
	return winner
}

var timestampColumns = []string{"updated_at", "accepted_at", "created_at"}

func rowTime(row store.Row) (time.Time, bool) {
	for _, col := range timestampColumns {
		switch v := row[col].(type) {
		case time.Time:
			return v, true
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, v); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}
