package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Case is the unit of work (an underwriting application) that owns processor
// configs, executions and factors. The engine only reads case data.
type Case struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	Status         string         `gorm:"column:status;not null;default:'open'" json:"status"`
	Fields         datatypes.JSON `gorm:"column:fields;type:jsonb" json:"fields"`
	Owners         datatypes.JSON `gorm:"column:owners;type:jsonb" json:"owners"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Case) TableName() string { return "case_record" }

// CaseDocument is one uploaded document revision with its stipulation
// classification. Classification itself happens upstream.
type CaseDocument struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"case_id"`
	RevisionID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"revision_id"`
	StipulationType string         `gorm:"column:stipulation_type;not null;index" json:"stipulation_type"`
	URI             string         `gorm:"column:uri;not null" json:"uri"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (CaseDocument) TableName() string { return "case_document" }

// CaseSnapshot is the read-only view of a case the engine filters against.
type CaseSnapshot struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Fields         map[string]any
	Owners         []map[string]any
	Documents      []DocumentRef
}

// DocumentRef is a document entry inside a CaseSnapshot.
type DocumentRef struct {
	ID              uuid.UUID
	RevisionID      uuid.UUID
	StipulationType string
	URI             string
	Metadata        map[string]any
}

// Field returns the flattened dot-path field value, or nil when absent.
func (s *CaseSnapshot) Field(path string) any {
	if s == nil || s.Fields == nil {
		return nil
	}
	return s.Fields[path]
}

// DocumentsByStipulation returns documents whose classification matches any
// of the given stipulation types, in document-id order so the selection is
// stable regardless of storage ordering.
func (s *CaseSnapshot) DocumentsByStipulation(stipulationTypes []string) []DocumentRef {
	if s == nil || len(stipulationTypes) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(stipulationTypes))
	for _, st := range stipulationTypes {
		wanted[st] = struct{}{}
	}
	var out []DocumentRef
	for _, doc := range s.Documents {
		if _, ok := wanted[doc.StipulationType]; ok {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// DecodeJSONMap unmarshals a JSON column into a generic map, treating empty
// columns as empty maps.
func DecodeJSONMap(raw datatypes.JSON) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
