package domain

import (
	"strings"
	"time"
)

const (
	JobStatusPendingAssign  = "pending_assign"
	JobStatusOfferSent      = "offer_sent"
	JobStatusAccepted       = "accepted"
	JobStatusDeclined       = "declined"
	JobStatusScheduled      = "scheduled"
	JobStatusCompleted      = "completed"
	JobStatusPendingPayment = "pending_payment"
	JobStatusQueued         = "queued"
	JobStatusEnRoute        = "en_route"
	JobStatusCancelled      = "cancelled"
)

// Job is one unit of dispatched field work. Jobs live in the dispatch store;
// a Job may also be a projection of an Order that has no physical row yet
// (see the merge package).
type Job struct {
	ID          string
	Status      string
	ProID       string
	OrderID     string
	Service     string
	Customer    string
	Phone       string
	Address     string
	ScheduledAt *time.Time
	Amount      float64
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var jobStatuses = map[string]struct{}{
	JobStatusPendingAssign:  {},
	JobStatusOfferSent:      {},
	JobStatusAccepted:       {},
	JobStatusDeclined:       {},
	JobStatusScheduled:      {},
	JobStatusCompleted:      {},
	JobStatusPendingPayment: {},
	JobStatusQueued:         {},
	JobStatusEnRoute:        {},
	JobStatusCancelled:      {},
}

// ValidJobStatus reports whether s is a status this system writes. Unknown
// statuses read out of the store are passed through untouched; validation
// only gates writes.
func ValidJobStatus(s string) bool {
	_, ok := jobStatuses[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
