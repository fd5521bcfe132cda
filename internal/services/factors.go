package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

// FactorService exposes the case's factor sheet and underwriter overrides.
type FactorService interface {
	ActiveForCase(ctx context.Context, caseID uuid.UUID) ([]domain.Factor, error)
	History(ctx context.Context, caseID uuid.UUID, factorKey string) ([]domain.Factor, error)
	CreateManual(ctx context.Context, caseID uuid.UUID, factorKey string, value any, unit string) (*domain.Factor, error)
}

type factorService struct {
	db      *gorm.DB
	log     *logger.Logger
	cases   repos.CaseRepo
	factors repos.FactorRepo
}

func NewFactorService(db *gorm.DB, log *logger.Logger, cases repos.CaseRepo, factors repos.FactorRepo) FactorService {
	return &factorService{db: db, log: log, cases: cases, factors: factors}
}

func (s *factorService) ActiveForCase(ctx context.Context, caseID uuid.UUID) ([]domain.Factor, error) {
	return s.factors.ActiveForCase(dbctx.New(ctx, s.db), caseID)
}

func (s *factorService) History(ctx context.Context, caseID uuid.UUID, factorKey string) ([]domain.Factor, error) {
	return s.factors.History(dbctx.New(ctx, s.db), caseID, factorKey)
}

// CreateManual records an underwriter override. The next consolidation of
// the owning processor may supersede it again; manual values are a judgment
// call at a point in time, not a lock.
func (s *factorService) CreateManual(ctx context.Context, caseID uuid.UUID, factorKey string, value any, unit string) (*domain.Factor, error) {
	if factorKey == "" {
		return nil, fmt.Errorf("factor key is empty: %w", apperr.ErrInvalidArgument)
	}
	dbc := dbctx.New(ctx, s.db)
	c, err := s.cases.GetByID(dbc, caseID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("factor value is not serializable: %w", apperr.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	f := &domain.Factor{
		ID:             uuid.New(),
		OrganizationID: c.OrganizationID,
		CaseID:         caseID,
		FactorKey:      factorKey,
		Value:          datatypes.JSON(raw),
		Unit:           unit,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.factors.CreateManual(dbc, f); err != nil {
		return nil, err
	}
	s.log.Info("manual factor recorded", "case_id", caseID, "factor_key", factorKey)
	return f, nil
}
