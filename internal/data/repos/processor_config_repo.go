package repos

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

// replaceRetries bounds optimistic-concurrency retries on the
// current_executions_list column.
const replaceRetries = 5

type ProcessorConfigRepo interface {
	Create(dbc dbctx.Context, c *domain.CaseProcessorConfig) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CaseProcessorConfig, error)
	GetByCaseAndProcessor(dbc dbctx.Context, caseID uuid.UUID, processor string) (*domain.CaseProcessorConfig, error)
	ListForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.CaseProcessorConfig, error)
	UpdateEffectiveConfig(dbc dbctx.Context, id uuid.UUID, cfg []byte) error
	SetEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error
	ReplaceCurrentExecutions(dbc dbctx.Context, id uuid.UUID, ids []uuid.UUID) error
	MutateCurrentExecutions(dbc dbctx.Context, id uuid.UUID, mutate func(current []uuid.UUID) []uuid.UUID) error
}

type processorConfigRepo struct {
	log *logger.Logger
}

func NewProcessorConfigRepo(log *logger.Logger) ProcessorConfigRepo {
	return &processorConfigRepo{log: log}
}

func (r *processorConfigRepo) Create(dbc dbctx.Context, c *domain.CaseProcessorConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(c).Error; err != nil {
		r.log.Error("failed to create case processor config", "case_id", c.CaseID, "processor", c.ProcessorName, "error", err)
		return err
	}
	return nil
}

func (r *processorConfigRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.CaseProcessorConfig, error) {
	var c domain.CaseProcessorConfig
	if err := dbc.Tx.WithContext(dbc.Ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *processorConfigRepo) GetByCaseAndProcessor(dbc dbctx.Context, caseID uuid.UUID, processor string) (*domain.CaseProcessorConfig, error) {
	var c domain.CaseProcessorConfig
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ? AND processor = ?", caseID, processor).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *processorConfigRepo) ListForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.CaseProcessorConfig, error) {
	var out []domain.CaseProcessorConfig
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ?", caseID).
		Order("processor asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *processorConfigRepo) UpdateEffectiveConfig(dbc dbctx.Context, id uuid.UUID, cfg []byte) error {
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.CaseProcessorConfig{}).
		Where("id = ?", id).
		Update("effective_config", cfg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *processorConfigRepo) SetEnabled(dbc dbctx.Context, id uuid.UUID, enabled bool) error {
	res := dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.CaseProcessorConfig{}).
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

// ReplaceCurrentExecutions swaps the whole current_executions_list. The
// update is guarded by the row version so concurrent writers serialize
// instead of clobbering each other.
func (r *processorConfigRepo) ReplaceCurrentExecutions(dbc dbctx.Context, id uuid.UUID, ids []uuid.UUID) error {
	return r.MutateCurrentExecutions(dbc, id, func([]uuid.UUID) []uuid.UUID { return ids })
}

// MutateCurrentExecutions applies mutate to the freshly-read list and writes
// it back under a version guard, retrying on contention.
func (r *processorConfigRepo) MutateCurrentExecutions(dbc dbctx.Context, id uuid.UUID, mutate func(current []uuid.UUID) []uuid.UUID) error {
	for attempt := 0; attempt < replaceRetries; attempt++ {
		cfg, err := r.GetByID(dbc, id)
		if err != nil {
			return err
		}
		current, err := cfg.CurrentExecutionIDs()
		if err != nil {
			r.log.Error("malformed current_executions_list", "config_id", id, "error", err)
			return err
		}
		next, err := domain.EncodeExecutionIDs(mutate(current))
		if err != nil {
			return err
		}
		res := dbc.Tx.WithContext(dbc.Ctx).
			Model(&domain.CaseProcessorConfig{}).
			Where("id = ? AND version = ?", id, cfg.Version).
			Updates(map[string]any{
				"current_executions_list": next,
				"version":                 cfg.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	r.log.Warn("current_executions_list update contended out", "config_id", id)
	return fmt.Errorf("config %s: current executions update lost %d version races: %w", id, replaceRetries, apperr.ErrConflict)
}
