package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FactorStatusActive     = "active"
	FactorStatusSuperseded = "superseded"
	FactorStatusDeleted    = "deleted"

	FactorSourceProcessor = "processor"
	FactorSourceManual    = "manual"
)

// Factor is a named derived fact about a case. Exactly one row per
// (case_id, factor_key) is active at a time; replaced rows are kept with
// status superseded and chained through previous_factor_id, never deleted
// in place. Value is a text column rather than jsonb: it can hold a bare
// JSON scalar like 3000, which a typed column would coerce to a number and
// break the round trip.
type Factor struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	CaseID                uuid.UUID      `gorm:"type:uuid;not null;index:idx_case_key" json:"case_id"`
	CaseProcessorConfigID *uuid.UUID     `gorm:"type:uuid;index" json:"case_processor_config_id,omitempty"`
	ExecutionID           *uuid.UUID     `gorm:"type:uuid;index" json:"execution_id,omitempty"`
	FactorKey             string         `gorm:"column:factor_key;not null;index:idx_case_key" json:"factor_key"`
	Value                 datatypes.JSON `gorm:"column:value;type:text" json:"value"`
	Unit                  string         `gorm:"column:unit" json:"unit,omitempty"`
	Source                string         `gorm:"column:source;not null;default:'processor'" json:"source"`
	Status                string         `gorm:"column:status;not null;default:'active';index" json:"status"`
	ValueHash             string         `gorm:"column:value_hash;not null" json:"value_hash"`
	PreviousFactorID      *uuid.UUID     `gorm:"type:uuid;column:previous_factor_id" json:"previous_factor_id,omitempty"`
	CreatedAt             time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
}

func (Factor) TableName() string { return "factor" }

// FactorSet is a consolidated factor_key -> value mapping for one processor.
type FactorSet map[string]any
