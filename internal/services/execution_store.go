package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

// ExecutionStore manages execution lifecycle outside of dispatch: reads,
// supersession, enable toggles and rollback. Consolidation afterwards is the
// caller's responsibility, so several lifecycle edits can be batched into a
// single reconsolidation.
type ExecutionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	ListForCase(ctx context.Context, caseID uuid.UUID) ([]domain.Execution, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) error
	Supersede(ctx context.Context, oldIDs []uuid.UUID, byID uuid.UUID) error
	Rollback(ctx context.Context, configID, executionID uuid.UUID) error
}

type executionStore struct {
	db      *gorm.DB
	log     *logger.Logger
	configs repos.ProcessorConfigRepo
	execs   repos.ExecutionRepo
}

func NewExecutionStore(db *gorm.DB, log *logger.Logger, configs repos.ProcessorConfigRepo, execs repos.ExecutionRepo) ExecutionStore {
	return &executionStore{db: db, log: log, configs: configs, execs: execs}
}

func (s *executionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return s.execs.GetByID(dbctx.New(ctx, s.db), id)
}

func (s *executionStore) ListForCase(ctx context.Context, caseID uuid.UUID) ([]domain.Execution, error) {
	return s.execs.ListForCase(dbctx.New(ctx, s.db), caseID)
}

// Deactivate excludes an execution from consolidation without destroying its
// result.
func (s *executionStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.execs.SetEnabled(dbctx.New(ctx, s.db), id, false)
}

func (s *executionStore) Activate(ctx context.Context, id uuid.UUID) error {
	return s.execs.SetEnabled(dbctx.New(ctx, s.db), id, true)
}

func (s *executionStore) Supersede(ctx context.Context, oldIDs []uuid.UUID, byID uuid.UUID) error {
	return s.execs.MarkSuperseded(dbctx.New(ctx, s.db), oldIDs, byID)
}

// Rollback restores a previously superseded completed execution as the sole
// current member of its config, superseding whatever is current now. The
// whole swap happens in one transaction.
func (s *executionStore) Rollback(ctx context.Context, configID, executionID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx, tx)

		target, err := s.execs.GetByID(dbc, executionID)
		if err != nil {
			return err
		}
		if target.CaseProcessorConfigID != configID {
			return fmt.Errorf("execution %s does not belong to config %s: %w", executionID, configID, apperr.ErrInvalidArgument)
		}
		if target.Status != domain.ExecutionStatusCompleted {
			return fmt.Errorf("cannot roll back to a %s execution: %w", target.Status, apperr.ErrConflict)
		}

		cfg, err := s.configs.GetByID(dbc, configID)
		if err != nil {
			return err
		}
		current, err := cfg.CurrentExecutionIDs()
		if err != nil {
			return err
		}
		var displaced []uuid.UUID
		for _, id := range current {
			if id != executionID {
				displaced = append(displaced, id)
			}
		}

		if err := s.execs.ClearSuperseded(dbc, executionID); err != nil {
			return err
		}
		if err := s.execs.MarkSuperseded(dbc, displaced, executionID); err != nil {
			return err
		}
		if err := s.configs.ReplaceCurrentExecutions(dbc, configID, []uuid.UUID{executionID}); err != nil {
			return err
		}
		s.log.Info("rolled back processor to earlier execution",
			"config_id", configID,
			"execution_id", executionID,
			"displaced", len(displaced))
		return nil
	})
}
