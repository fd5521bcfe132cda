package services

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
)

// ConfigResolver computes the effective configuration of a processor for a
// case: system defaults, then the tenant's subscription override, then the
// case override, each layer shallowly replacing keys of the one below.
type ConfigResolver interface {
	Resolve(def processors.Definition, sub *domain.Subscription, cfg *domain.CaseProcessorConfig) (domain.Config, error)
}

type configResolver struct {
	log *logger.Logger
}

func NewConfigResolver(log *logger.Logger) ConfigResolver {
	return &configResolver{log: log}
}

func (r *configResolver) Resolve(def processors.Definition, sub *domain.Subscription, cfg *domain.CaseProcessorConfig) (domain.Config, error) {
	out := domain.Config{}
	for k, v := range def.DefaultConfig {
		out[k] = v
	}
	if sub != nil {
		if err := mergeOverride(out, sub.ConfigOverride); err != nil {
			r.log.Error("malformed subscription config override", "processor", def.Name, "subscription_id", sub.ID, "error", err)
			return nil, domain.NewPhaseError(domain.FailureConfiguration, domain.PhaseTransform, "subscription config override is not a JSON object", err)
		}
	}
	if cfg != nil {
		if err := mergeOverride(out, cfg.ConfigOverride); err != nil {
			r.log.Error("malformed case config override", "processor", def.Name, "config_id", cfg.ID, "error", err)
			return nil, domain.NewPhaseError(domain.FailureConfiguration, domain.PhaseTransform, "case config override is not a JSON object", err)
		}
	}
	return out, nil
}

func mergeOverride(into domain.Config, raw datatypes.JSON) error {
	if len(raw) == 0 {
		return nil
	}
	var layer map[string]any
	if err := json.Unmarshal(raw, &layer); err != nil {
		return err
	}
	for k, v := range layer {
		into[k] = v
	}
	return nil
}

// EncodeConfig renders an effective config for persistence on the case
// processor config row.
func EncodeConfig(cfg domain.Config) (datatypes.JSON, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeConfig reads a stored effective config.
func DecodeConfig(raw datatypes.JSON) (domain.Config, error) {
	if len(raw) == 0 {
		return domain.Config{}, nil
	}
	var cfg domain.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
