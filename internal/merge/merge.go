// Package merge builds the unified job view out of three physically
// separate stores: dispatch jobs, commerce orders, and ledger payouts. The
// merge is rebuilt from scratch on every call, tolerates missing links, and
// never writes back.
package merge

import (
	"github.com/fieldline/dispatch/internal/domain"
)

// DefaultPayoutShare is the fraction of a job's price paid out to the pro.
// Inverting it turns a payout amount back into a price estimate of last
// resort.
const DefaultPayoutShare = 0.70

// JobKind distinguishes jobs backed by a physical row from jobs synthesized
// out of an undispatched order. Downstream code must handle both.
type JobKind string

const (
	JobPersisted   JobKind = "persisted"
	JobSynthesized JobKind = "synthesized"
)

// AmountSource names which record supplied the money figure.
type AmountSource string

const (
	AmountFromJob           AmountSource = "job"
	AmountFromOrder         AmountSource = "order"
	AmountDerivedFromPayout AmountSource = "payout_derived"
	AmountUnknown           AmountSource = "none"
)

// EnrichedJob is one entry of the unified view: a job plus whatever order
// and payout records could be linked to it.
type EnrichedJob struct {
	Kind         JobKind
	Job          domain.Job
	Order        *domain.Order
	Payout       *domain.Payout
	Amount       float64
	AmountSource AmountSource
}

// View merges the three record sets. Every job yields exactly one entry;
// every order that no job row claims yields one synthesized entry, so
// undispatched orders never drop out of operational views.
func View(jobs []domain.Job, orders []domain.Order, payouts []domain.Payout, payoutShare float64) []EnrichedJob {
	if payoutShare <= 0 || payoutShare > 1 {
		payoutShare = DefaultPayoutShare
	}

	ordersByJob := make(map[string]*domain.Order)
	ordersByID := make(map[string]*domain.Order)
	for i := range orders {
		o := &orders[i]
		ordersByID[o.ID] = o
		if jobID := o.JobID(); jobID != "" {
			ordersByJob[jobID] = o
		}
	}

	payoutsByJob := make(map[string]*domain.Payout)
	for i := range payouts {
		p := &payouts[i]
		if p.JobID != "" {
			if _, taken := payoutsByJob[p.JobID]; !taken {
				payoutsByJob[p.JobID] = p
			}
		}
	}

	claimed := make(map[string]struct{})
	out := make([]EnrichedJob, 0, len(jobs))

	for _, job := range jobs {
		entry := EnrichedJob{Kind: JobPersisted, Job: job}

		if order := ordersByJob[job.ID]; order != nil {
			entry.Order = order
			claimed[order.ID] = struct{}{}
		} else if job.OrderID != "" {
			if order := ordersByID[job.OrderID]; order != nil {
				entry.Order = order
				claimed[order.ID] = struct{}{}
			}
		}
		entry.Payout = payoutsByJob[job.ID]

		entry.Amount, entry.AmountSource = amountFor(entry, payoutShare)
		out = append(out, entry)
	}

	for i := range orders {
		o := &orders[i]
		if _, ok := claimed[o.ID]; ok {
			continue
		}
		entry := EnrichedJob{
			Kind:  JobSynthesized,
			Job:   synthesizeJob(*o),
			Order: o,
		}
		entry.Payout = payoutsByJob[entry.Job.ID]
		entry.Amount, entry.AmountSource = amountFor(entry, payoutShare)
		out = append(out, entry)
	}

	return out
}

// amountFor applies the financial precedence: the job's own figure, then
// the order's, then a payout-derived estimate.
func amountFor(entry EnrichedJob, payoutShare float64) (float64, AmountSource) {
	if entry.Job.Amount > 0 {
		return entry.Job.Amount, AmountFromJob
	}
	if entry.Order != nil && entry.Order.Amount > 0 {
		return entry.Order.Amount, AmountFromOrder
	}
	if entry.Payout != nil && entry.Payout.Amount > 0 {
		return entry.Payout.Amount / payoutShare, AmountDerivedFromPayout
	}
	return 0, AmountUnknown
}

// synthesizeJob projects an order into a virtual job. The job id reuses the
// order's embedded reference when present so payouts can still link up.
func synthesizeJob(o domain.Order) domain.Job {
	jobID := o.JobID()
	if jobID == "" {
		jobID = "order-" + o.ID
	}
	return domain.Job{
		ID:        jobID,
		Status:    domain.JobStatusForPayment(o.PaymentStatus),
		OrderID:   o.ID,
		Service:   o.Service,
		Customer:  o.Customer,
		Phone:     o.Phone,
		Address:   o.Address,
		Metadata:  o.Metadata,
		CreatedAt: o.CreatedAt,
	}
}
