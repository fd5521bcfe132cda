package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type CaseRepo interface {
	Create(dbc dbctx.Context, c *domain.Case) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Case, error)
	AddDocument(dbc dbctx.Context, doc *domain.CaseDocument) error
	ListDocuments(dbc dbctx.Context, caseID uuid.UUID) ([]domain.CaseDocument, error)
	Snapshot(dbc dbctx.Context, caseID uuid.UUID) (*domain.CaseSnapshot, error)
}

type caseRepo struct {
	log *logger.Logger
}

func NewCaseRepo(log *logger.Logger) CaseRepo {
	return &caseRepo{log: log}
}

func (r *caseRepo) Create(dbc dbctx.Context, c *domain.Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(c).Error; err != nil {
		r.log.Error("failed to create case", "case_id", c.ID, "error", err)
		return err
	}
	return nil
}

func (r *caseRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Case, error) {
	var c domain.Case
	if err := dbc.Tx.WithContext(dbc.Ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *caseRepo) AddDocument(dbc dbctx.Context, doc *domain.CaseDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.RevisionID == uuid.Nil {
		doc.RevisionID = uuid.New()
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		r.log.Error("failed to add case document", "case_id", doc.CaseID, "error", err)
		return err
	}
	return nil
}

func (r *caseRepo) ListDocuments(dbc dbctx.Context, caseID uuid.UUID) ([]domain.CaseDocument, error) {
	var docs []domain.CaseDocument
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ?", caseID).
		Order("created_at asc").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// Snapshot assembles the read-only view filtration works against.
func (r *caseRepo) Snapshot(dbc dbctx.Context, caseID uuid.UUID) (*domain.CaseSnapshot, error) {
	c, err := r.GetByID(dbc, caseID)
	if err != nil {
		return nil, err
	}
	fields, err := domain.DecodeJSONMap(c.Fields)
	if err != nil {
		r.log.Error("malformed case fields column", "case_id", caseID, "error", err)
		return nil, err
	}

	var owners []map[string]any
	if len(c.Owners) > 0 {
		if err := unmarshalJSON(c.Owners, &owners); err != nil {
			r.log.Error("malformed case owners column", "case_id", caseID, "error", err)
			return nil, err
		}
	}

	docs, err := r.ListDocuments(dbc, caseID)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.DocumentRef, 0, len(docs))
	for _, d := range docs {
		meta, err := domain.DecodeJSONMap(d.Metadata)
		if err != nil {
			r.log.Error("malformed document metadata", "document_id", d.ID, "error", err)
			return nil, err
		}
		refs = append(refs, domain.DocumentRef{
			ID:              d.ID,
			RevisionID:      d.RevisionID,
			StipulationType: d.StipulationType,
			URI:             d.URI,
			Metadata:        meta,
		})
	}

	return &domain.CaseSnapshot{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Fields:         fields,
		Owners:         owners,
		Documents:      refs,
	}, nil
}
