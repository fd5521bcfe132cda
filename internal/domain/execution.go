package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusCancelled = "cancelled"
)

// Execution is one attempt to run a processor against one payload.
//
// Status machine: pending -> running -> {completed, failed};
// cancelled is terminal and reachable only from pending. Deduplication
// invariant: at most one non-superseded execution per
// (case_processor_config_id, payload_hash) unless an explicit duplicate was
// requested, in which case duplicate_of_id links the copies.
type Execution struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	CaseID                uuid.UUID      `gorm:"type:uuid;not null;index" json:"case_id"`
	CaseProcessorConfigID uuid.UUID      `gorm:"type:uuid;not null;index:idx_config_hash" json:"case_processor_config_id"`
	ProcessorName         string         `gorm:"column:processor;not null;index" json:"processor"`
	Status                string         `gorm:"column:status;not null;index" json:"status"`
	Enabled               bool           `gorm:"column:enabled;not null;default:true" json:"enabled"`
	Payload               datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	PayloadHash           string         `gorm:"column:payload_hash;not null;index:idx_config_hash" json:"payload_hash"`
	Output                datatypes.JSON `gorm:"column:output;type:jsonb" json:"output"`
	CostCents             int64          `gorm:"column:cost_cents;not null;default:0" json:"cost_cents"`
	CostBreakdown         datatypes.JSON `gorm:"column:cost_breakdown;type:jsonb" json:"cost_breakdown"`
	RevisionIDs           datatypes.JSON `gorm:"column:revision_ids;type:jsonb" json:"revision_ids"`
	StartedAt             *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt           *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailureCode           string         `gorm:"column:failure_code" json:"failure_code,omitempty"`
	FailurePhase          string         `gorm:"column:failure_phase" json:"failure_phase,omitempty"`
	FailureReason         string         `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	SupersededByID        *uuid.UUID     `gorm:"type:uuid;column:superseded_by_id;index" json:"superseded_by_id,omitempty"`
	DuplicateOfID         *uuid.UUID     `gorm:"type:uuid;column:duplicate_of_id" json:"duplicate_of_id,omitempty"`
	CreatedAt             time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
}

func (Execution) TableName() string { return "processor_execution" }

// Terminal reports whether the status admits no further transition.
func (e *Execution) Terminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to string) bool {
	switch from {
	case ExecutionStatusPending:
		return to == ExecutionStatusRunning || to == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		return to == ExecutionStatusCompleted || to == ExecutionStatusFailed
	}
	return false
}
