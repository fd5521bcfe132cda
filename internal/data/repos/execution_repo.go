package repos

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type ExecutionRepo interface {
	Create(dbc dbctx.Context, e *domain.Execution) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Execution, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]domain.Execution, error)
	ListForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.Execution, error)
	FindCurrentByHash(dbc dbctx.Context, configID uuid.UUID, payloadHash string) (*domain.Execution, error)
	MarkRunning(dbc dbctx.Context, id uuid.UUID) error
	SaveResult(dbc dbctx.Context, id uuid.UUID, output datatypes.JSON, costCents int64, costBreakdown datatypes.JSON) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, code, phase, reason string) error
	Cancel(dbc dbctx.Context, id uuid.UUID) error
	MarkSuperseded(dbc dbctx.Context, ids []uuid.UUID, byID uuid.UUID) error
	ClearSuperseded(dbc dbctx.Context, id uuid.UUID) error
	SetEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error
}

type executionRepo struct {
	log *logger.Logger
}

func NewExecutionRepo(log *logger.Logger) ExecutionRepo {
	return &executionRepo{log: log}
}

func (r *executionRepo) Create(dbc dbctx.Context, e *domain.Execution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = domain.ExecutionStatusPending
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(e).Error; err != nil {
		r.log.Error("failed to create execution", "case_id", e.CaseID, "processor", e.ProcessorName, "error", err)
		return err
	}
	return nil
}

func (r *executionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Execution, error) {
	var e domain.Execution
	if err := dbc.Tx.WithContext(dbc.Ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *executionRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]domain.Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Execution
	if err := dbc.Tx.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *executionRepo) ListForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.Execution, error) {
	var out []domain.Execution
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ?", caseID).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FindCurrentByHash returns the non-superseded, non-cancelled execution for
// this (config, payload hash) pair, the row the dedup invariant keys on.
func (r *executionRepo) FindCurrentByHash(dbc dbctx.Context, configID uuid.UUID, payloadHash string) (*domain.Execution, error) {
	var e domain.Execution
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_processor_config_id = ? AND payload_hash = ?", configID, payloadHash).
		Where("superseded_by_id IS NULL").
		Where("status <> ?", domain.ExecutionStatusCancelled).
		Where("duplicate_of_id IS NULL").
		Order("created_at desc").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// MarkRunning flips pending to running. The guard in the WHERE clause makes
// concurrent dispatchers lose cleanly instead of double-running.
func (r *executionRepo) MarkRunning(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionStatusPending).
		Updates(map[string]any{
			"status":     domain.ExecutionStatusRunning,
			"started_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution %s is not pending: %w", id, apperr.ErrConflict)
	}
	return nil
}

// SaveResult records a completed run. Output, cost and status land in one
// UPDATE so readers never see a half-written result.
func (r *executionRepo) SaveResult(dbc dbctx.Context, id uuid.UUID, output datatypes.JSON, costCents int64, costBreakdown datatypes.JSON) error {
	now := time.Now().UTC()
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionStatusRunning).
		Updates(map[string]any{
			"status":         domain.ExecutionStatusCompleted,
			"output":         output,
			"cost_cents":     costCents,
			"cost_breakdown": costBreakdown,
			"completed_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution %s is not running: %w", id, apperr.ErrConflict)
	}
	return nil
}

func (r *executionRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, code, phase, reason string) error {
	now := time.Now().UTC()
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionStatusRunning).
		Updates(map[string]any{
			"status":         domain.ExecutionStatusFailed,
			"failure_code":   code,
			"failure_phase":  phase,
			"failure_reason": reason,
			"completed_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution %s is not running: %w", id, apperr.ErrConflict)
	}
	return nil
}

// Cancel is only legal from pending. Running work is never interrupted.
func (r *executionRepo) Cancel(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.ExecutionStatusPending).
		Updates(map[string]any{
			"status":       domain.ExecutionStatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("execution %s is not pending: %w", id, apperr.ErrConflict)
	}
	return nil
}

func (r *executionRepo) MarkSuperseded(dbc dbctx.Context, ids []uuid.UUID, byID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id IN ? AND superseded_by_id IS NULL", ids).
		Update("superseded_by_id", byID).Error
}

// ClearSuperseded reinstates an execution during rollback.
func (r *executionRepo) ClearSuperseded(dbc dbctx.Context, id uuid.UUID) error {
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ?", id).
		Update("superseded_by_id", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *executionRepo) SetEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error {
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Execution{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
