package domain

import "testing"

func TestProRefValidate(t *testing.T) {
	if err := (ProRef{ID: "pro-1"}).Validate(); err != nil {
		t.Fatalf("expected id-only ref to be valid, got %v", err)
	}
	if err := (ProRef{Email: "tech@example.com"}).Validate(); err != nil {
		t.Fatalf("expected email-only ref to be valid, got %v", err)
	}
	if err := (ProRef{}).Validate(); err == nil {
		t.Fatal("expected validation error for empty pro ref")
	}
	if err := (ProRef{ID: "  "}).Validate(); err == nil {
		t.Fatal("expected validation error for blank pro id")
	}
}

func TestValidTransition(t *testing.T) {
	if !ValidTransition(AssignmentOfferSent, AssignmentAccepted) {
		t.Fatal("expected offer_sent -> accepted to be valid")
	}
	if !ValidTransition(AssignmentOfferSent, AssignmentDeclined) {
		t.Fatal("expected offer_sent -> declined to be valid")
	}
	if ValidTransition(AssignmentDeclined, AssignmentAccepted) {
		t.Fatal("expected declined -> accepted to be rejected")
	}
	if !ValidTransition(AssignmentAccepted, AssignmentOfferSent) {
		t.Fatal("expected moves into offer_sent to stay permissive")
	}
}

func TestOrderJobID(t *testing.T) {
	order := Order{Metadata: map[string]any{"job_id": "job-42"}}
	if got := order.JobID(); got != "job-42" {
		t.Fatalf("expected job-42, got %q", got)
	}

	alternate := Order{Metadata: map[string]any{"dispatch_job_id": float64(7)}}
	if got := alternate.JobID(); got != "7" {
		t.Fatalf("expected numeric id rendered as 7, got %q", got)
	}

	if got := (Order{}).JobID(); got != "" {
		t.Fatalf("expected empty job id for bare order, got %q", got)
	}
}

func TestJobStatusForPayment(t *testing.T) {
	cases := map[string]string{
		"paid":      JobStatusPendingAssign,
		"Completed": JobStatusPendingAssign,
		"refunded":  JobStatusCancelled,
		"failed":    JobStatusCancelled,
		"pending":   JobStatusPendingPayment,
		"":          JobStatusPendingPayment,
	}
	for payment, want := range cases {
		if got := JobStatusForPayment(payment); got != want {
			t.Fatalf("payment %q: expected %s, got %s", payment, want, got)
		}
	}
}

func TestNormalizePayoutStatus(t *testing.T) {
	cases := map[string]string{
		"PAID":       PayoutPaid,
		"settled":    PayoutPaid,
		"authorized": PayoutApproved,
		"denied":     PayoutRejected,
		"processing": PayoutPending,
		"":           PayoutPending,
	}
	for raw, want := range cases {
		if got := NormalizePayoutStatus(raw); got != want {
			t.Fatalf("status %q: expected %s, got %s", raw, want, got)
		}
	}
}

func TestAsFloat(t *testing.T) {
	if got := AsFloat("149.50"); got != 149.50 {
		t.Fatalf("expected 149.50, got %v", got)
	}
	if got := AsFloat(int64(80)); got != 80 {
		t.Fatalf("expected 80, got %v", got)
	}
	if got := AsFloat("not-a-number"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %v", got)
	}
}
