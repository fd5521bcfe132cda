package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/aurafin/underwriting-engine/internal/platform/canonhash"
)

// Payload is the immutable input snapshot an execution runs against. Its
// canonical hash deduplicates executions; config values and row ids are
// deliberately excluded so identical business inputs always collide.
type Payload struct {
	ApplicationForm map[string]any   `json:"application_form,omitempty"`
	OwnersList      []map[string]any `json:"owners_list,omitempty"`
	DocumentsList   []DocumentInput  `json:"documents_list,omitempty"`
	RevisionIDs     []string         `json:"revision_ids,omitempty"`
}

// DocumentInput is one document inside a payload.
type DocumentInput struct {
	DocumentID      string         `json:"document_id"`
	RevisionID      string         `json:"revision_id"`
	StipulationType string         `json:"stipulation_type"`
	URI             string         `json:"uri"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Hash computes the canonical content hash of the payload. Owners and
// documents are ordered lists and hash as such; revision ids are an
// unordered set.
func (p *Payload) Hash() (string, error) {
	m := map[string]any{}
	if p.ApplicationForm != nil {
		m["application_form"] = p.ApplicationForm
	}
	if p.OwnersList != nil {
		owners := make([]any, 0, len(p.OwnersList))
		for _, o := range p.OwnersList {
			owners = append(owners, o)
		}
		m["owners_list"] = owners
	}
	if p.DocumentsList != nil {
		docs := make([]any, 0, len(p.DocumentsList))
		for _, d := range p.DocumentsList {
			docs = append(docs, d)
		}
		m["documents_list"] = docs
	}
	if p.RevisionIDs != nil {
		revs := make(canonhash.Unordered, 0, len(p.RevisionIDs))
		for _, r := range p.RevisionIDs {
			revs = append(revs, r)
		}
		m["revision_ids"] = revs
	}
	return canonhash.Hash(m)
}

// Encode renders the payload for the execution row.
func (p *Payload) Encode() (datatypes.JSON, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodePayload reads a payload back from an execution row.
func DecodePayload(raw datatypes.JSON) (*Payload, error) {
	var p Payload
	if len(raw) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeRevisionIDs renders revision ids for the execution row column.
func EncodeRevisionIDs(ids []uuid.UUID) (datatypes.JSON, error) {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
