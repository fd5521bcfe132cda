package processors

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

var einPattern = regexp.MustCompile(`^\d{2}-\d{7}$`)

// MerchantProfile is an application processor that normalizes the merchant's
// legal identity from the application form. Its consolidation passes the
// single current output through as factors.
type MerchantProfile struct{}

func NewMerchantProfile() *MerchantProfile { return &MerchantProfile{} }

func (p *MerchantProfile) Definition() Definition {
	return Definition{
		Name:     "merchant_profile",
		Category: domain.CategoryApplication,
		Triggers: domain.TriggerSet{
			ApplicationForm: []string{"merchant.name", "merchant.ein"},
		},
		DefaultConfig: domain.Config{
			"require_valid_ein": true,
		},
		FactorKeys: []string{
			"merchant.legal_name",
			"merchant.ein",
			"merchant.ein_valid",
		},
	}
}

func (p *MerchantProfile) Transform(ctx context.Context, payload *domain.Payload, cfg domain.Config) (map[string]any, error) {
	if payload == nil || payload.ApplicationForm == nil {
		return nil, domain.NewPhaseError(domain.FailureValidation, domain.PhaseTransform, "payload has no application form", nil)
	}
	return map[string]any{
		"name": payload.ApplicationForm["merchant.name"],
		"ein":  payload.ApplicationForm["merchant.ein"],
	}, nil
}

func (p *MerchantProfile) ValidateInput(ctx context.Context, input map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	var reasons []string
	name, _ := input["name"].(string)
	if strings.TrimSpace(name) == "" {
		reasons = append(reasons, "merchant.name is empty")
	}
	ein, _ := input["ein"].(string)
	if strings.TrimSpace(ein) == "" {
		reasons = append(reasons, "merchant.ein is empty")
	} else if cfg.Bool("require_valid_ein", true) && !einPattern.MatchString(ein) {
		reasons = append(reasons, fmt.Sprintf("merchant.ein %q is not NN-NNNNNNN", ein))
	}
	if len(reasons) > 0 {
		return domain.Invalid(reasons...), nil
	}
	return domain.Valid(), nil
}

func (p *MerchantProfile) Extract(ctx context.Context, input map[string]any, cfg domain.Config, rec *Recorder) (map[string]any, error) {
	name, _ := input["name"].(string)
	ein, _ := input["ein"].(string)
	rec.Record("profile_normalization", 0)
	return map[string]any{
		"legal_name": normalizeLegalName(name),
		"ein":        ein,
		"ein_valid":  einPattern.MatchString(ein),
	}, nil
}

func (p *MerchantProfile) ValidateOutput(ctx context.Context, output map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	if v, _ := output["legal_name"].(string); v == "" {
		return domain.Invalid("legal_name is empty"), nil
	}
	return domain.Valid(), nil
}

// Consolidate passes the latest successful output through. An application
// processor has at most one current execution, but a duplicate run can add a
// second; the newest completed one wins.
func (p *MerchantProfile) Consolidate(ctx context.Context, outputs []ExecutionOutput, cfg domain.Config) (domain.FactorSet, error) {
	ok := successfulOutputs(outputs)
	if len(ok) == 0 {
		return domain.FactorSet{}, nil
	}
	latest := ok[len(ok)-1]
	return domain.FactorSet{
		"merchant.legal_name": latest.Output["legal_name"],
		"merchant.ein":        latest.Output["ein"],
		"merchant.ein_valid":  latest.Output["ein_valid"],
	}, nil
}

func normalizeLegalName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return strings.TrimSuffix(strings.TrimSpace(name), ".")
}

// successfulOutputs filters out failed members and sorts by completion time
// so "latest wins" is deterministic.
func successfulOutputs(outputs []ExecutionOutput) []ExecutionOutput {
	var ok []ExecutionOutput
	for _, o := range outputs {
		if !o.Failed && o.Output != nil {
			ok = append(ok, o)
		}
	}
	sort.Slice(ok, func(i, j int) bool {
		if ok[i].CompletedAt.Equal(ok[j].CompletedAt) {
			return ok[i].ExecutionID.String() < ok[j].ExecutionID.String()
		}
		return ok[i].CompletedAt.Before(ok[j].CompletedAt)
	})
	return ok
}
