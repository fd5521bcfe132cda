package processors

import (
	"context"
	"fmt"
	"math"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

// BankStatement is a stipulation processor that reads deposit activity off
// classified bank statement documents. One execution covers the whole
// statement set; consolidation averages across current executions.
type BankStatement struct{}

func NewBankStatement() *BankStatement { return &BankStatement{} }

func (p *BankStatement) Definition() Definition {
	return Definition{
		Name:     "bank_statement",
		Category: domain.CategoryStipulation,
		Triggers: domain.TriggerSet{
			DocumentsList: []string{"s_bank_statement"},
		},
		DefaultConfig: domain.Config{
			"minimum_documents": 3,
			"per_page_cents":    12,
		},
		FactorKeys: []string{
			"bank.avg_monthly_deposits",
			"bank.months_covered",
		},
	}
}

func (p *BankStatement) Transform(ctx context.Context, payload *domain.Payload, cfg domain.Config) (map[string]any, error) {
	if payload == nil || len(payload.DocumentsList) == 0 {
		return nil, domain.NewPhaseError(domain.FailureValidation, domain.PhaseTransform, "payload has no documents", nil)
	}
	docs := make([]any, 0, len(payload.DocumentsList))
	for _, d := range payload.DocumentsList {
		docs = append(docs, map[string]any{
			"document_id": d.DocumentID,
			"uri":         d.URI,
			"metadata":    d.Metadata,
		})
	}
	return map[string]any{"documents": docs}, nil
}

func (p *BankStatement) ValidateInput(ctx context.Context, input map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	docs, _ := input["documents"].([]any)
	min := cfg.Int("minimum_documents", 3)
	if len(docs) < min {
		return domain.Invalid(fmt.Sprintf("need at least %d bank statements, have %d", min, len(docs))), nil
	}
	return domain.Valid(), nil
}

// Extract reads the upstream parse metadata of each statement. Statements
// missing total_deposits are an external parsing fault, not a validation
// one, since classification already vouched for the document type.
func (p *BankStatement) Extract(ctx context.Context, input map[string]any, cfg domain.Config, rec *Recorder) (map[string]any, error) {
	docs, _ := input["documents"].([]any)
	perPage := int64(cfg.Int("per_page_cents", 12))

	var total float64
	months := 0
	for _, raw := range docs {
		doc, _ := raw.(map[string]any)
		meta, _ := doc["metadata"].(map[string]any)
		deposits, ok := numberField(meta, "total_deposits")
		if !ok {
			return nil, domain.NewPhaseError(domain.FailureExternalCall, domain.PhaseExtract,
				fmt.Sprintf("statement %v has no parsed total_deposits", doc["document_id"]), nil)
		}
		pages, _ := numberField(meta, "page_count")
		rec.Record("statement_parse", perPage*int64(math.Max(pages, 1)))
		total += deposits
		months++
	}

	return map[string]any{
		"avg_monthly_deposits": round2(total / float64(months)),
		"months_covered":       months,
	}, nil
}

func (p *BankStatement) ValidateOutput(ctx context.Context, output map[string]any, cfg domain.Config) (domain.ValidationResult, error) {
	avg, ok := numberField(output, "avg_monthly_deposits")
	if !ok || avg < 0 {
		return domain.Invalid("avg_monthly_deposits is missing or negative"), nil
	}
	return domain.Valid(), nil
}

// Consolidate averages deposits across current executions, weighting each by
// the months it covers, and sums coverage.
func (p *BankStatement) Consolidate(ctx context.Context, outputs []ExecutionOutput, cfg domain.Config) (domain.FactorSet, error) {
	ok := successfulOutputs(outputs)
	if len(ok) == 0 {
		return domain.FactorSet{}, nil
	}
	var weighted float64
	totalMonths := 0
	for _, o := range ok {
		avg, _ := numberField(o.Output, "avg_monthly_deposits")
		months, _ := numberField(o.Output, "months_covered")
		weighted += avg * months
		totalMonths += int(months)
	}
	if totalMonths == 0 {
		return domain.FactorSet{}, nil
	}
	return domain.FactorSet{
		"bank.avg_monthly_deposits": round2(weighted / float64(totalMonths)),
		"bank.months_covered":       totalMonths,
	}, nil
}

func numberField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
