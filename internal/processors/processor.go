package processors

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aurafin/underwriting-engine/internal/domain"
)

// Definition is the static identity of a processor: what it is called, what
// category of payload it consumes, and what makes a case eligible for it.
type Definition struct {
	Name          string
	Category      domain.ProcessorCategory
	Triggers      domain.TriggerSet
	DefaultConfig domain.Config
	FactorKeys    []string
	// FanOut makes filtration create one execution per matching document
	// instead of one execution over the whole set. Only meaningful for
	// document processors.
	FanOut bool
}

// ExecutionOutput is one member of a consolidation pass. Failed members are
// included so consolidators see the full picture; most ignore them.
type ExecutionOutput struct {
	ExecutionID uuid.UUID
	Output      map[string]any
	Failed      bool
	CompletedAt time.Time
}

// Processor is the four-phase execution contract plus consolidation.
//
// Transform shapes the raw payload into the processor's working input.
// ValidateInput rejects inputs the processor cannot act on. Extract does the
// actual work and may spend money through the Recorder. ValidateOutput
// rejects malformed results before they are persisted. Consolidate reduces
// the outputs of all current executions into the processor's factor set;
// it must be a pure function of its arguments.
//
// Phase methods classify their own failures by returning *domain.PhaseError;
// anything else is recorded as internal_failure in the phase that raised it.
type Processor interface {
	Definition() Definition
	Transform(ctx context.Context, payload *domain.Payload, cfg domain.Config) (map[string]any, error)
	ValidateInput(ctx context.Context, input map[string]any, cfg domain.Config) (domain.ValidationResult, error)
	Extract(ctx context.Context, input map[string]any, cfg domain.Config, rec *Recorder) (map[string]any, error)
	ValidateOutput(ctx context.Context, output map[string]any, cfg domain.Config) (domain.ValidationResult, error)
	Consolidate(ctx context.Context, outputs []ExecutionOutput, cfg domain.Config) (domain.FactorSet, error)
}
