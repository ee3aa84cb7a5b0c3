package merge

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/fieldline/dispatch/internal/domain"
	"github.com/fieldline/dispatch/internal/schema"
	"github.com/fieldline/dispatch/internal/store"
)

// Filter narrows the unified job list. Zero values mean "all".
type Filter struct {
	Status string
	ProID  string
	Limit  int
}

// Loader reads the three stores behind the unified view. Each store is
// optional: a missing or unreachable source contributes an empty record set
// instead of failing the whole view, because dashboards must stay usable
// when a secondary source is down.
type Loader struct {
	dispatch store.Store
	commerce store.Store
	ledger   store.Store

	payoutShare float64
	jobCand     schema.Candidates
	logger      *log.Logger
}

func NewLoader(dispatch, commerce, ledger store.Store, payoutShare float64, logger *log.Logger) *Loader {
	if payoutShare <= 0 || payoutShare > 1 {
		payoutShare = DefaultPayoutShare
	}
	return &Loader{
		dispatch:    dispatch,
		commerce:    commerce,
		ledger:      ledger,
		payoutShare: payoutShare,
		jobCand:     schema.JobCandidates(),
		logger:      logger,
	}
}

// UseJobTables overrides the candidate jobs tables. Empty keeps defaults.
func (l *Loader) UseJobTables(tables []string) {
	l.jobCand = l.jobCand.WithTables(tables)
}

// ListEnrichedJobs loads jobs, orders, and payouts and merges them. The
// only error condition is a context cancellation; every data-source failure
// degrades to an empty contribution.
func (l *Loader) ListEnrichedJobs(ctx context.Context, filter Filter) ([]EnrichedJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jobs := l.loadJobs(ctx, filter)
	orders := l.loadOrders(ctx)
	payouts := l.loadPayouts(ctx)

	view := View(jobs, orders, payouts, l.payoutShare)
	view = applyFilter(view, filter)

	if filter.Limit > 0 && len(view) > filter.Limit {
		view = view[:filter.Limit]
	}
	return view, nil
}

func (l *Loader) loadJobs(ctx context.Context, filter Filter) []domain.Job {
	if l.dispatch == nil {
		return nil
	}

	hints := schema.Hints{Values: map[schema.Role]string{}}
	if filter.ProID != "" {
		hints.Values[schema.RoleProID] = filter.ProID
	}

	d, err := schema.NewResolver(l.dispatch).Resolve(ctx, l.jobCand, hints)
	if err != nil {
		l.logf("jobs source unavailable err=%v", err)
		return nil
	}

	rows, err := l.dispatch.Select(ctx, d.Table, nil, 0)
	if err != nil {
		l.logf("jobs read failed table=%s err=%v", d.Table, err)
		return nil
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, jobFromRow(d, row))
	}
	return jobs
}

func (l *Loader) loadOrders(ctx context.Context) []domain.Order {
	if l.commerce == nil {
		return nil
	}

	d, err := schema.NewResolver(l.commerce).Resolve(ctx, schema.OrderCandidates(), schema.Hints{})
	if err != nil {
		l.logf("orders source unavailable err=%v", err)
		return nil
	}

	rows, err := l.commerce.Select(ctx, d.Table, nil, 0)
	if err != nil {
		l.logf("orders read failed table=%s err=%v", d.Table, err)
		return nil
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, orderFromRow(d, row))
	}
	return orders
}

func (l *Loader) loadPayouts(ctx context.Context) []domain.Payout {
	if l.ledger == nil {
		return nil
	}

	d, err := schema.NewResolver(l.ledger).Resolve(ctx, schema.PayoutCandidates(), schema.Hints{})
	if err != nil {
		l.logf("payouts source unavailable err=%v", err)
		return nil
	}

	rows, err := l.ledger.Select(ctx, d.Table, nil, 0)
	if err != nil {
		l.logf("payouts read failed table=%s err=%v", d.Table, err)
		return nil
	}

	payouts := make([]domain.Payout, 0, len(rows))
	for _, row := range rows {
		payouts = append(payouts, payoutFromRow(d, row))
	}
	return payouts
}

func applyFilter(view []EnrichedJob, filter Filter) []EnrichedJob {
	if filter.Status == "" && filter.ProID == "" {
		return view
	}
	out := view[:0]
	for _, entry := range view {
		if filter.Status != "" && entry.Job.Status != filter.Status {
			continue
		}
		if filter.ProID != "" && entry.Job.ProID != filter.ProID {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (l *Loader) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// jobFromRow maps an untyped row onto the Job type using the descriptor's
// resolved columns first and common fallbacks after.
func jobFromRow(d *schema.Descriptor, row store.Row) domain.Job {
	job := domain.Job{
		ID:       pickString(row, d.Column(schema.RoleID), "id", "job_id"),
		Status:   pickString(row, d.Column(schema.RoleStatus), "status"),
		ProID:    pickString(row, d.Column(schema.RoleProID), "pro_id", "tech_id"),
		OrderID:  pickString(row, "order_id", "source_order_id"),
		Service:  pickString(row, "service", "service_type", "description"),
		Customer: pickString(row, "customer", "customer_name", "client_name"),
		Phone:    pickString(row, "phone", "customer_phone"),
		Address:  pickString(row, "address", "service_address"),
		Amount:   pickFloat(row, "amount", "price", "total", "quote_total"),
		Metadata: pickMetadata(row),
	}
	if t, ok := pickTime(row, "scheduled_at", "scheduled_for", "window_start"); ok {
		job.ScheduledAt = &t
	}
	if t, ok := pickTime(row, "created_at"); ok {
		job.CreatedAt = t
	}
	if t, ok := pickTime(row, "updated_at"); ok {
		job.UpdatedAt = t
	}
	return job
}

func orderFromRow(d *schema.Descriptor, row store.Row) domain.Order {
	order := domain.Order{
		ID:            pickString(row, d.Column(schema.RoleID), "id", "order_id"),
		PaymentStatus: pickString(row, d.Column(schema.RoleStatus), "payment_status", "status"),
		Service:       pickString(row, "service", "service_type", "description"),
		Customer:      pickString(row, "customer", "customer_name"),
		Phone:         pickString(row, "phone", "customer_phone"),
		Address:       pickString(row, "address", "service_address"),
		Amount:        pickFloat(row, "amount", "total", "price"),
		Metadata:      pickMetadata(row),
	}
	if t, ok := pickTime(row, "created_at"); ok {
		order.CreatedAt = t
	}
	return order
}

func payoutFromRow(d *schema.Descriptor, row store.Row) domain.Payout {
	payout := domain.Payout{
		ID:     pickString(row, d.Column(schema.RoleID), "id"),
		JobID:  pickString(row, d.Column(schema.RoleJobRef), "job_id"),
		ProID:  pickString(row, d.Column(schema.RoleProID), "pro_id"),
		Amount: pickFloat(row, "amount", "payout_amount", "total"),
		Status: domain.NormalizePayoutStatus(pickString(row, d.Column(schema.RoleStatus), "status")),
	}
	if t, ok := pickTime(row, "created_at"); ok {
		payout.CreatedAt = t
	}
	return payout
}

func pickString(row store.Row, columns ...string) string {
	for _, column := range columns {
		if column == "" {
			continue
		}
		if v, ok := row[column]; ok && v != nil {
			if s := strings.TrimSpace(domain.AsString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func pickFloat(row store.Row, columns ...string) float64 {
	for _, column := range columns {
		if v, ok := row[column]; ok && v != nil {
			if f := domain.AsFloat(v); f != 0 {
				return f
			}
		}
	}
	return 0
}

func pickTime(row store.Row, columns ...string) (time.Time, bool) {
	for _, column := range columns {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case time.Time:
			return t, true
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed, true
				}
			}
		}
	}
	return time.Time{}, false
}

// pickMetadata reads the free-form bag, tolerating both native maps and
// JSON-encoded text columns.
func pickMetadata(row store.Row) map[string]any {
	for _, column := range []string{"metadata", "meta", "data", "extra"} {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			return t
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(t), &parsed); err == nil {
				return parsed
			}
		case []byte:
			var parsed map[string]any
			if err := json.Unmarshal(t, &parsed); err == nil {
				return parsed
			}
		}
	}
	return nil
}
