package services

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
)

// RunReport summarizes one orchestrated pass over a case.
type RunReport struct {
	CaseID     uuid.UUID                   `json:"case_id"`
	Filtration *FiltrationResult           `json:"filtration"`
	Factors    map[string]domain.FactorSet `json:"factors"`
	Executions []domain.Execution          `json:"executions"`
}

// Orchestrator chains the standard pass: filtration decides what runs,
// dispatch runs it, consolidation folds the results into factors.
type Orchestrator interface {
	RunCase(ctx context.Context, caseID uuid.UUID) (*RunReport, error)
	RunProcessor(ctx context.Context, caseID uuid.UUID, processor string, opts FiltrateOptions) (*RunReport, error)
}

type orchestrator struct {
	log           *logger.Logger
	filtration    FiltrationService
	dispatcher    Dispatcher
	consolidation ConsolidationEngine
	store         ExecutionStore
	tracer        trace.Tracer
}

func NewOrchestrator(
	log *logger.Logger,
	filtration FiltrationService,
	dispatcher Dispatcher,
	consolidation ConsolidationEngine,
	store ExecutionStore,
) Orchestrator {
	return &orchestrator{
		log:           log,
		filtration:    filtration,
		dispatcher:    dispatcher,
		consolidation: consolidation,
		store:         store,
		tracer:        otel.Tracer("underwriting-engine/orchestrator"),
	}
}

func (o *orchestrator) RunCase(ctx context.Context, caseID uuid.UUID) (*RunReport, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_case",
		trace.WithAttributes(attribute.String("case.id", caseID.String())))
	defer span.End()

	result, err := o.filtration.FiltrateCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, caseID, result)
}

func (o *orchestrator) RunProcessor(ctx context.Context, caseID uuid.UUID, processor string, opts FiltrateOptions) (*RunReport, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_processor",
		trace.WithAttributes(
			attribute.String("case.id", caseID.String()),
			attribute.String("processor.name", processor)))
	defer span.End()

	result, err := o.filtration.FiltrateProcessor(ctx, caseID, processor, opts)
	if err != nil {
		return nil, err
	}
	return o.finish(ctx, caseID, result)
}

func (o *orchestrator) finish(ctx context.Context, caseID uuid.UUID, result *FiltrationResult) (*RunReport, error) {
	ids := make([]uuid.UUID, 0, len(result.Pending))
	for _, e := range result.Pending {
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		ctx, span := o.tracer.Start(ctx, "orchestrator.dispatch",
			trace.WithAttributes(attribute.Int("executions.count", len(ids))))
		err := o.dispatcher.Dispatch(ctx, ids)
		span.End()
		if err != nil {
			return nil, err
		}
	}

	factors := map[string]domain.FactorSet{}
	for _, cfgID := range result.Configs {
		set, err := o.consolidation.ConsolidateProcessor(ctx, cfgID)
		if err != nil {
			return nil, err
		}
		factors[cfgID.String()] = set
	}

	executions, err := o.store.ListForCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	o.log.Info("orchestrated run complete",
		"case_id", caseID,
		"dispatched", len(ids),
		"consolidated", len(result.Configs))
	return &RunReport{
		CaseID:     caseID,
		Filtration: result,
		Factors:    factors,
		Executions: executions,
	}, nil
}
