package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	AssignmentOfferSent = "offer_sent"
	AssignmentAccepted  = "accepted"
	AssignmentDeclined  = "declined"
)

// ProRef identifies a field technician by whichever values the caller has.
// Deployments disagree on whether assignment rows key pros by id or by
// email, so both are carried and both are tried against the store.
type ProRef struct {
	ID    string `json:"pro_id,omitempty"`
	Email string `json:"pro_email,omitempty"`
}

func (p ProRef) Empty() bool {
	return strings.TrimSpace(p.ID) == "" && strings.TrimSpace(p.Email) == ""
}

func (p ProRef) Validate() error {
	if p.Empty() {
		return errors.New("pro_id or pro_email is required")
	}
	return nil
}

// Assignment is the relationship record between one Job and one Pro. More
// than one row may exist per job (one per declined pro plus the accepted
// one); at most one should be accepted at a time, which the coordinator
// upholds best-effort only.
type Assignment struct {
	ID        string
	JobID     string
	Pro       ProRef
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidTransition reports whether an assignment may move from one state to
// target. Moves into accepted or declined require a standing offer; every
// other move is allowed, favoring availability over strict validation when
// the physical schema is uncertain.
func ValidTransition(from, target string) bool {
	switch target {
	case AssignmentAccepted, AssignmentDeclined:
		return from == AssignmentOfferSent
	default:
		return true
	}
}
