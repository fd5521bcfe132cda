package repos

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/canonhash"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

type FactorRepo interface {
	ActiveForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.Factor, error)
	ActiveForConfig(dbc dbctx.Context, configID uuid.UUID) ([]domain.Factor, error)
	History(dbc dbctx.Context, caseID uuid.UUID, factorKey string) ([]domain.Factor, error)
	SaveConsolidated(dbc dbctx.Context, cfg *domain.CaseProcessorConfig, executionID *uuid.UUID, set domain.FactorSet) error
	CreateManual(dbc dbctx.Context, f *domain.Factor) error
}

type factorRepo struct {
	log *logger.Logger
}

func NewFactorRepo(log *logger.Logger) FactorRepo {
	return &factorRepo{log: log}
}

func (r *factorRepo) ActiveForCase(dbc dbctx.Context, caseID uuid.UUID) ([]domain.Factor, error) {
	var out []domain.Factor
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ? AND status = ?", caseID, domain.FactorStatusActive).
		Order("factor_key asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *factorRepo) ActiveForConfig(dbc dbctx.Context, configID uuid.UUID) ([]domain.Factor, error) {
	var out []domain.Factor
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_processor_config_id = ? AND status = ?", configID, domain.FactorStatusActive).
		Order("factor_key asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *factorRepo) History(dbc dbctx.Context, caseID uuid.UUID, factorKey string) ([]domain.Factor, error) {
	var out []domain.Factor
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ? AND factor_key = ?", caseID, factorKey).
		Order("created_at asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveConsolidated reconciles the processor's active factors with a newly
// consolidated set. Unchanged values (by canonical hash) are left alone;
// changed ones are superseded and replaced with a chained successor; keys
// absent from the new set are superseded with no successor. An empty set
// therefore clears the processor's factors, which is the correct outcome
// when every current execution failed. Keys under an active manual override
// are skipped entirely: an underwriter's entry stays the single active row
// until another manual entry replaces it.
func (r *factorRepo) SaveConsolidated(dbc dbctx.Context, cfg *domain.CaseProcessorConfig, executionID *uuid.UUID, set domain.FactorSet) error {
	active, err := r.ActiveForConfig(dbc, cfg.ID)
	if err != nil {
		return err
	}
	existing := make(map[string]*domain.Factor, len(active))
	for i := range active {
		existing[active[i].FactorKey] = &active[i]
	}
	overridden, err := r.manualOverrides(dbc, cfg.CaseID, keysOf(set))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, key := range canonhash.SortedStrings(keysOf(set)) {
		if _, ok := overridden[key]; ok {
			delete(existing, key)
			continue
		}
		value := set[key]
		hash, err := canonhash.Hash(map[string]any{"v": value})
		if err != nil {
			r.log.Error("failed to hash factor value", "factor_key", key, "error", err)
			return err
		}
		prev := existing[key]
		delete(existing, key)
		if prev != nil && prev.ValueHash == hash {
			continue
		}

		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		next := &domain.Factor{
			ID:                    uuid.New(),
			OrganizationID:        cfg.OrganizationID,
			CaseID:                cfg.CaseID,
			CaseProcessorConfigID: &cfg.ID,
			ExecutionID:           executionID,
			FactorKey:             key,
			Value:                 datatypes.JSON(raw),
			Source:                domain.FactorSourceProcessor,
			Status:                domain.FactorStatusActive,
			ValueHash:             hash,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if prev != nil {
			next.PreviousFactorID = &prev.ID
			if err := r.supersede(dbc, prev.ID, now); err != nil {
				return err
			}
		}
		if err := dbc.Tx.WithContext(dbc.Ctx).Create(next).Error; err != nil {
			r.log.Error("failed to create factor", "factor_key", key, "case_id", cfg.CaseID, "error", err)
			return err
		}
	}

	// Keys the new set no longer produces.
	for _, stale := range existing {
		if err := r.supersede(dbc, stale.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// manualOverrides returns the subset of keys that currently carry an active
// manual factor for the case.
func (r *factorRepo) manualOverrides(dbc dbctx.Context, caseID uuid.UUID, keys []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(keys) == 0 {
		return out, nil
	}
	var rows []domain.Factor
	err := dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ? AND status = ? AND source = ? AND factor_key IN ?",
			caseID, domain.FactorStatusActive, domain.FactorSourceManual, keys).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, f := range rows {
		out[f.FactorKey] = struct{}{}
	}
	return out, nil
}

func (r *factorRepo) supersede(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return dbc.Tx.WithContext(dbc.Ctx).
		Model(&domain.Factor{}).
		Where("id = ? AND status = ?", id, domain.FactorStatusActive).
		Updates(map[string]any{
			"status":     domain.FactorStatusSuperseded,
			"updated_at": at,
		}).Error
}

// CreateManual records an underwriter-entered factor, superseding any active
// row for the same key regardless of its source.
func (r *factorRepo) CreateManual(dbc dbctx.Context, f *domain.Factor) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.Source = domain.FactorSourceManual
	f.Status = domain.FactorStatusActive

	var value any
	if len(f.Value) > 0 {
		if err := json.Unmarshal(f.Value, &value); err != nil {
			return err
		}
	}
	hash, err := canonhash.Hash(map[string]any{"v": value})
	if err != nil {
		return err
	}
	f.ValueHash = hash

	now := time.Now().UTC()
	var prev domain.Factor
	err = dbc.Tx.WithContext(dbc.Ctx).
		Where("case_id = ? AND factor_key = ? AND status = ?", f.CaseID, f.FactorKey, domain.FactorStatusActive).
		First(&prev).Error
	switch {
	case err == nil:
		f.PreviousFactorID = &prev.ID
		if err := r.supersede(dbc, prev.ID, now); err != nil {
			return err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if err := dbc.Tx.WithContext(dbc.Ctx).Create(f).Error; err != nil {
		r.log.Error("failed to create manual factor", "factor_key", f.FactorKey, "case_id", f.CaseID, "error", err)
		return err
	}
	return nil
}

func keysOf(set domain.FactorSet) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}
