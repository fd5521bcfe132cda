package processors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

// DriversLicense is a document processor that extracts owner identity from a
// single license image. Filtration fans out one execution per matching
// document; consolidation keeps the latest unexpired result.
type DriversLicense struct{}

func NewDriversLicense() *DriversLicense { return &DriversLicense{} }

func (p *DriversLicense) Definition() Definition {
	return Definition{
		Name:     "drivers_license",
		Category: domain.CategoryDocument,
		Triggers: domain.TriggerSet{
			DocumentsList: []string{"s_drivers_license"},
		},
		DefaultConfig: domain.Config{
			"ocr_cents": 45,
		},
		FactorKeys: []string{
			"owner.full_name",
			"owner.license_expired",
		},
		FanOut: true,
	}
}

func (p *DriversLicense) Transform(ctx context.Context, payload *domain.Payload, cfg domain.Config) (map[string]any, error) {
	if payload == nil || len(payload.DocumentsList) != 1 {
		return nil, domain.NewPhaseError(domain.FailureValidation, domain.PhaseTransform,
			fmt.Sprintf("expected exactly one document, got %d", len(payload.DocumentsList)), nil)
	}
	doc := payload.DocumentsList[0]
	return map[string]any{
		"document_id": doc.DocumentID,
		"uri":         doc.URI,
		"metadata":    doc.Metadata,
	}, nil
}

func (p *DriversLicense) ValidateInput(ctx context.Context, input map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	if uri, _ := input["uri"].(string); uri == "" {
		return domain.Invalid("document has no storage uri"), nil
	}
	return domain.Valid(), nil
}

// Extract reads the OCR fields attached by the upstream document pipeline.
func (p *DriversLicense) Extract(ctx context.Context, input map[string]any, cfg domain.Config, rec *Recorder) (map[string]any, error) {
	meta, _ := input["metadata"].(map[string]any)
	name, _ := meta["full_name"].(string)
	if strings.TrimSpace(name) == "" {
		return nil, domain.NewPhaseError(domain.FailureExternalCall, domain.PhaseExtract, "ocr produced no full_name", nil)
	}
	rec.Record("license_ocr", int64(cfg.Int("ocr_cents", 45)))

	out := map[string]any{"full_name": strings.TrimSpace(name)}
	if exp, ok := meta["expires_at"].(string); ok {
		if t, err := time.Parse("2006-01-02", exp); err == nil {
			out["expires_at"] = exp
			out["expired"] = t.Before(time.Now())
		}
	}
	return out, nil
}

func (p *DriversLicense) ValidateOutput(ctx context.Context, output map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	if v, _ := output["full_name"].(string); v == "" {
		return domain.Invalid("full_name is empty"), nil
	}
	return domain.Valid(), nil
}

// Consolidate keeps the most recently completed successful extraction. With
// several license uploads the newest scan is the one underwriters trust.
func (p *DriversLicense) Consolidate(ctx context.Context, outputs []ExecutionOutput, cfg domain.Config) (domain.FactorSet, error) {
	ok := successfulOutputs(outputs)
	if len(ok) == 0 {
		return domain.FactorSet{}, nil
	}
	latest := ok[len(ok)-1]
	set := domain.FactorSet{
		"owner.full_name": latest.Output["full_name"],
	}
	if expired, has := latest.Output["expired"]; has {
		set["owner.license_expired"] = expired
	}
	return set, nil
}
