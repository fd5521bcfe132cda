package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
)

// ErrConsolidationNotReady means the current executions list still has
// pending or running members. The caller retries after dispatch finishes.
var ErrConsolidationNotReady = errors.New("current executions are not settled")

// ConsolidationEngine reduces a processor's current executions into its
// factor set and persists it. Failed executions count as members: their
// presence is the signal that the processor's view of the case changed, and
// when every member failed the factor set collapses to empty, clearing the
// processor's factors. That clearing is a successful consolidation.
type ConsolidationEngine interface {
	ConsolidateProcessor(ctx context.Context, configID uuid.UUID) (domain.FactorSet, error)
	ConsolidateCase(ctx context.Context, caseID uuid.UUID) error
}

type consolidationEngine struct {
	db       *gorm.DB
	log      *logger.Logger
	registry *processors.Registry
	configs  repos.ProcessorConfigRepo
	execs    repos.ExecutionRepo
	factors  repos.FactorRepo
}

func NewConsolidationEngine(
	db *gorm.DB,
	log *logger.Logger,
	registry *processors.Registry,
	configs repos.ProcessorConfigRepo,
	execs repos.ExecutionRepo,
	factors repos.FactorRepo,
) ConsolidationEngine {
	return &consolidationEngine{
		db:       db,
		log:      log,
		registry: registry,
		configs:  configs,
		execs:    execs,
		factors:  factors,
	}
}

func (e *consolidationEngine) ConsolidateProcessor(ctx context.Context, configID uuid.UUID) (domain.FactorSet, error) {
	var set domain.FactorSet
	// One transaction per processor: factors move from the old set to the
	// new one atomically or not at all.
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.New(ctx, tx)
		cfg, err := e.configs.GetByID(dbc, configID)
		if err != nil {
			return err
		}
		proc, ok := e.registry.Get(cfg.ProcessorName)
		if !ok {
			return fmt.Errorf("processor %q is not registered", cfg.ProcessorName)
		}

		members, attribution, err := e.collectMembers(dbc, cfg)
		if err != nil {
			return err
		}

		effective, err := DecodeConfig(cfg.EffectiveConfig)
		if err != nil {
			return err
		}
		set, err = proc.Consolidate(dbc.Ctx, members, effective)
		if err != nil {
			return fmt.Errorf("consolidate %s: %w", cfg.ProcessorName, err)
		}
		if set == nil {
			set = domain.FactorSet{}
		}
		if err := e.factors.SaveConsolidated(dbc, cfg, attribution, set); err != nil {
			return err
		}
		e.log.Info("consolidated processor",
			"case_id", cfg.CaseID,
			"processor", cfg.ProcessorName,
			"members", len(members),
			"factors", len(set))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// collectMembers loads the enabled members of the current executions list
// and shapes them for the processor's consolidator.
func (e *consolidationEngine) collectMembers(dbc dbctx.Context, cfg *domain.CaseProcessorConfig) ([]processors.ExecutionOutput, *uuid.UUID, error) {
	ids, err := cfg.CurrentExecutionIDs()
	if err != nil {
		e.log.Error("malformed current_executions_list", "config_id", cfg.ID, "error", err)
		return nil, nil, err
	}
	rows, err := e.execs.GetByIDs(dbc, ids)
	if err != nil {
		return nil, nil, err
	}

	var (
		members     []processors.ExecutionOutput
		attribution *uuid.UUID
	)
	for i := range rows {
		row := &rows[i]
		if !row.Enabled || row.Status == domain.ExecutionStatusCancelled {
			continue
		}
		switch row.Status {
		case domain.ExecutionStatusPending, domain.ExecutionStatusRunning:
			return nil, nil, fmt.Errorf("execution %s is %s: %w", row.ID, row.Status, ErrConsolidationNotReady)
		case domain.ExecutionStatusFailed:
			member := processors.ExecutionOutput{ExecutionID: row.ID, Failed: true}
			if row.CompletedAt != nil {
				member.CompletedAt = *row.CompletedAt
			}
			members = append(members, member)
		case domain.ExecutionStatusCompleted:
			var output map[string]any
			if len(row.Output) > 0 {
				if err := json.Unmarshal(row.Output, &output); err != nil {
					e.log.Error("malformed execution output", "execution_id", row.ID, "error", err)
					return nil, nil, err
				}
			}
			member := processors.ExecutionOutput{ExecutionID: row.ID, Output: output}
			if row.CompletedAt != nil {
				member.CompletedAt = *row.CompletedAt
			}
			members = append(members, member)
			id := row.ID
			if attribution == nil {
				attribution = &id
			} else if member.CompletedAt.After(completedAtOf(rows, *attribution)) {
				attribution = &id
			}
		}
	}
	return members, attribution, nil
}

func completedAtOf(rows []domain.Execution, id uuid.UUID) time.Time {
	for i := range rows {
		if rows[i].ID == id && rows[i].CompletedAt != nil {
			return *rows[i].CompletedAt
		}
	}
	return time.Time{}
}

func (e *consolidationEngine) ConsolidateCase(ctx context.Context, caseID uuid.UUID) error {
	dbc := dbctx.New(ctx, e.db)
	cfgs, err := e.configs.ListForCase(dbc, caseID)
	if err != nil {
		return err
	}
	for i := range cfgs {
		if !cfgs[i].Enabled {
			continue
		}
		if _, err := e.ConsolidateProcessor(ctx, cfgs[i].ID); err != nil {
			return err
		}
	}
	return nil
}
