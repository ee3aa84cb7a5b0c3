// Package schema discovers, at runtime, which of several candidate physical
// tables and column spellings a deployment actually uses. Resolution is
// best-effort: it prefers candidates that demonstrably hold relevant data,
// falls back to candidates that merely exist, and degrades to an explicit
// error rather than ever guessing blind.
package schema

import (
	"errors"

	"github.com/fieldline/dispatch/internal/store"
)

// ErrSchemaNotFound reports that the store responded but no candidate table
// matched. Distinct from store.ErrNotConfigured, where the store itself was
// unreachable.
var ErrSchemaNotFound = errors.New("no candidate schema matched")

// Role names a logical column independent of its physical spelling.
type Role string

const (
	RoleID       Role = "id"
	RoleStatus   Role = "status"
	RoleState    Role = "state"
	RoleJobRef   Role = "job_ref"
	RoleProID    Role = "pro_id"
	RoleProEmail Role = "pro_email"
)

// Candidates is a ranked list of table names plus, per role, a ranked list
// of column spellings. Order is preference order and bounds how many probes
// a resolution pass may issue.
type Candidates struct {
	Tables  []string
	Columns map[Role][]string
}

// WithTables replaces the ranked table list, keeping the column spellings.
// Used for deployment-specific overrides; an empty list is a no-op.
func (c Candidates) WithTables(tables []string) Candidates {
	if len(tables) > 0 {
		c.Tables = tables
	}
	return c
}

// JobCandidates covers the spellings observed for the jobs table across
// deployments.
func JobCandidates() Candidates {
	return Candidates{
		Tables: []string{"jobs_v2", "jobs", "work_orders"},
		Columns: map[Role][]string{
			RoleID:     {"id", "job_id", "work_order_id"},
			RoleStatus: {"status", "job_status", "state"},
			RoleProID:  {"pro_id", "tech_id", "assigned_pro_id", "technician_id"},
		},
	}
}

// AssignmentCandidates covers the spellings observed for the assignments
// table.
func AssignmentCandidates() Candidates {
	return Candidates{
		Tables: []string{"job_assignments", "assignments", "job_offers"},
		Columns: map[Role][]string{
			RoleID:       {"id", "assignment_id"},
			RoleJobRef:   {"job_id", "work_order_id", "order_id"},
			RoleState:    {"state", "status"},
			RoleProID:    {"pro_id", "tech_id", "assigned_pro_id", "technician_id"},
			RoleProEmail: {"pro_email", "tech_email", "assigned_email"},
		},
	}
}

// OrderCandidates covers the commerce store's order table spellings.
func OrderCandidates() Candidates {
	return Candidates{
		Tables: []string{"orders", "customer_orders", "purchases"},
		Columns: map[Role][]string{
			RoleID:     {"id", "order_id"},
			RoleStatus: {"payment_status", "status"},
		},
	}
}

// PayoutCandidates covers the ledger store's payout table spellings.
func PayoutCandidates() Candidates {
	return Candidates{
		Tables: []string{"payouts", "pro_payouts", "ledger_payouts"},
		Columns: map[Role][]string{
			RoleID:     {"id", "payout_id"},
			RoleJobRef: {"job_id", "work_order_id"},
			RoleProID:  {"pro_id", "tech_id"},
			RoleStatus: {"status", "payout_status"},
		},
	}
}

// Descriptor is a resolved mapping from logical roles to physical columns on
// one physical table. It is valid for the duration of a single logical
// operation; schemas can change between deployments, so descriptors are
// never cached process-wide.
type Descriptor struct {
	Table string

	// Fields holds the column names observed on a sampled row. Empty when
	// the winning table was empty at resolution time.
	Fields map[string]struct{}

	ranked map[Role][]string
}

// Column returns the best physical column for a role.
func (d *Descriptor) Column(role Role) string {
	ranked := d.ranked[role]
	if len(ranked) == 0 {
		return ""
	}
	return ranked[0]
}

// RankedColumns returns every plausible physical column for a role, best
// first. Writers that must not lose data try all of them.
func (d *Descriptor) RankedColumns(role Role) []string {
	return d.ranked[role]
}

// newDescriptor narrows each role's candidate spellings to the ones present
// on the sampled row. An empty sample (empty-but-present table) keeps the
// full candidate list per role, since nothing can be ruled out. A column
// confirmed by a probe hint is pinned to the front of its role's ranking.
func newDescriptor(table string, sample store.Row, cand Candidates, confirmed map[Role]string) *Descriptor {
	d := &Descriptor{
		Table:  table,
		Fields: make(map[string]struct{}, len(sample)),
		ranked: make(map[Role][]string, len(cand.Columns)),
	}
	for field := range sample {
		d.Fields[field] = struct{}{}
	}

	for role, spellings := range cand.Columns {
		var ranked []string
		if pin := confirmed[role]; pin != "" {
			ranked = append(ranked, pin)
		}
		for _, column := range spellings {
			if column == confirmed[role] {
				continue
			}
			if len(d.Fields) == 0 {
				ranked = append(ranked, column)
				continue
			}
			if _, ok := d.Fields[column]; ok {
				ranked = append(ranked, column)
			}
		}
		if len(ranked) == 0 {
			// Observed row has none of the known spellings; keep the full
			// list so writes still have candidates to try.
			ranked = append(ranked, spellings...)
		}
		d.ranked[role] = ranked
	}
	return d
}
