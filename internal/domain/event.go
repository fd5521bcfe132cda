package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionEvent is published on every execution status transition so
// downstream consumers (billing, case timelines) can react without polling.
type ExecutionEvent struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	CaseID         uuid.UUID `json:"case_id"`
	ProcessorName  string    `json:"processor"`
	ExecutionID    uuid.UUID `json:"execution_id"`
	Status         string    `json:"status"`
	CostCents      int64     `json:"cost_cents,omitempty"`
	FailureCode    string    `json:"failure_code,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
