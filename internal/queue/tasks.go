package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldline/dispatch/internal/domain"
)

const (
	TypeRepairJobStatus      = "job:repair_status"
	TypeReconcileAssignments = "assignment:reconcile"
)

// RepairJobStatusPayload asks the worker to retry the jobs-table status
// write that failed after an assignment write succeeded. The assignment is
// the source of truth; the job status is a cache of it.
type RepairJobStatusPayload struct {
	JobID       string        `json:"job_id"`
	Status      string        `json:"status"`
	Pro         domain.ProRef `json:"pro"`
	Reason      string        `json:"reason,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

func NewRepairJobStatusTask(payload RepairJobStatusPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal repair payload: %w", err)
	}
	return asynq.NewTask(TypeRepairJobStatus, body), nil
}

func ParseRepairJobStatusPayload(task *asynq.Task) (RepairJobStatusPayload, error) {
	var payload RepairJobStatusPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RepairJobStatusPayload{}, fmt.Errorf("unmarshal repair payload: %w", err)
	}
	return payload, nil
}

// ReconcileAssignmentsPayload triggers a duplicate-accepted sweep. JobID is
// optional; empty means sweep everything the resolver can see.
type ReconcileAssignmentsPayload struct {
	JobID       string    `json:"job_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewReconcileAssignmentsTask(payload ReconcileAssignmentsPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal reconcile payload: %w", err)
	}
	return asynq.NewTask(TypeReconcileAssignments, body), nil
}

func ParseReconcileAssignmentsPayload(task *asynq.Task) (ReconcileAssignmentsPayload, error) {
	var payload ReconcileAssignmentsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReconcileAssignmentsPayload{}, fmt.Errorf("unmarshal reconcile payload: %w", err)
	}
	return payload, nil
}
