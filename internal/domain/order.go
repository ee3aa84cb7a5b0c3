package domain

import (
	"strings"
	"time"
)

const (
	OrderPaymentPaid     = "paid"
	OrderPaymentPending  = "pending"
	OrderPaymentFailed   = "failed"
	OrderPaymentRefunded = "refunded"
)

// Order is the commerce-side record a Job originates from. Orders are owned
// by a separate store; the link back to a job lives inside the order's
// metadata bag and may be absent.
type Order struct {
	ID            string
	PaymentStatus string
	Service       string
	Customer      string
	Phone         string
	Address       string
	Amount        float64
	Metadata      map[string]any
	CreatedAt     time.Time
}

// JobID digs the logical job reference out of the order's metadata bag.
// Different deployments have embedded it under different keys.
func (o Order) JobID() string {
	if o.Metadata == nil {
		return ""
	}
	for _, key := range []string{"job_id", "jobId", "dispatch_job_id", "work_order_id"} {
		if v, ok := o.Metadata[key]; ok {
			if s := strings.TrimSpace(toString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// JobStatusForPayment derives the status a synthesized job should carry
// from the order's payment state.
func JobStatusForPayment(paymentStatus string) string {
	switch strings.ToLower(strings.TrimSpace(paymentStatus)) {
	case OrderPaymentPaid, "succeeded", "complete", "completed":
		return JobStatusPendingAssign
	case OrderPaymentRefunded, "cancelled", "canceled", "voided":
		return JobStatusCancelled
	case OrderPaymentFailed:
		return JobStatusCancelled
	default:
		return JobStatusPendingPayment
	}
}
