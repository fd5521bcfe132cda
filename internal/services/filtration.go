package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
)

// FiltrateOptions tweak an explicit single-processor pass.
type FiltrateOptions struct {
	// Force supersedes the existing execution for an unchanged payload and
	// creates a fresh one.
	Force bool
	// Duplicate creates an additional execution linked to the original
	// without touching it. Used for side-by-side reruns.
	Duplicate bool
}

// SkippedProcessor reports why a processor produced no executions.
type SkippedProcessor struct {
	Processor   string `json:"processor"`
	Reason      string `json:"reason"`
	FailureCode string `json:"failure_code,omitempty"`
}

// FiltrationResult is the outcome of one filtration pass.
type FiltrationResult struct {
	// Pending holds every still-runnable member of the pass, both newly
	// created and reused rows that never ran.
	Pending []domain.Execution `json:"pending"`
	// Reused holds executions deduplicated against earlier passes.
	Reused  []domain.Execution `json:"reused"`
	Created []domain.Execution `json:"created"`
	Skipped []SkippedProcessor `json:"skipped"`
	// Configs lists every case processor config the pass touched, for the
	// consolidation that follows dispatch.
	Configs []uuid.UUID `json:"configs"`
	// ProcessorsFound counts the processors that produced executions;
	// ExecutionsToRun counts the rows still waiting for a dispatcher.
	ProcessorsFound int `json:"processors_found"`
	ExecutionsToRun int `json:"executions_to_run"`
}

func (r *FiltrationResult) summarize() {
	r.ProcessorsFound = len(r.Configs)
	r.ExecutionsToRun = len(r.Pending)
}

// FiltrationService decides which processors run against a case and with
// what payloads. It creates pending executions and maintains each config's
// current_executions_list; it never runs anything itself.
type FiltrationService interface {
	FiltrateCase(ctx context.Context, caseID uuid.UUID) (*FiltrationResult, error)
	FiltrateProcessor(ctx context.Context, caseID uuid.UUID, processor string, opts FiltrateOptions) (*FiltrationResult, error)
}

type filtrationService struct {
	db       *gorm.DB
	log      *logger.Logger
	registry *processors.Registry
	resolver ConfigResolver
	cases    repos.CaseRepo
	subs     repos.SubscriptionRepo
	configs  repos.ProcessorConfigRepo
	execs    repos.ExecutionRepo
}

func NewFiltrationService(
	db *gorm.DB,
	log *logger.Logger,
	registry *processors.Registry,
	resolver ConfigResolver,
	cases repos.CaseRepo,
	subs repos.SubscriptionRepo,
	configs repos.ProcessorConfigRepo,
	execs repos.ExecutionRepo,
) FiltrationService {
	return &filtrationService{
		db:       db,
		log:      log,
		registry: registry,
		resolver: resolver,
		cases:    cases,
		subs:     subs,
		configs:  configs,
		execs:    execs,
	}
}

// FiltrateCase runs the automatic pass over every enabled auto config of the
// case. One processor's bad configuration never blocks the others; it is
// reported in Skipped and the pass moves on.
func (s *filtrationService) FiltrateCase(ctx context.Context, caseID uuid.UUID) (*FiltrationResult, error) {
	dbc := dbctx.New(ctx, s.db)
	snap, err := s.cases.Snapshot(dbc, caseID)
	if err != nil {
		return nil, err
	}
	cfgs, err := s.configs.ListForCase(dbc, caseID)
	if err != nil {
		return nil, err
	}

	result := &FiltrationResult{}
	for i := range cfgs {
		cfg := &cfgs[i]
		if !cfg.Enabled || !cfg.Auto {
			continue
		}
		s.filtrateOne(dbc, snap, cfg, FiltrateOptions{}, result)
	}
	result.summarize()
	s.log.Info("filtration pass complete",
		"case_id", caseID,
		"processors_found", result.ProcessorsFound,
		"executions_to_run", result.ExecutionsToRun,
		"created", len(result.Created),
		"reused", len(result.Reused),
		"skipped", len(result.Skipped))
	return result, nil
}

// FiltrateProcessor runs one processor explicitly, bypassing the auto flag
// but not the enabled flag.
func (s *filtrationService) FiltrateProcessor(ctx context.Context, caseID uuid.UUID, processor string, opts FiltrateOptions) (*FiltrationResult, error) {
	dbc := dbctx.New(ctx, s.db)
	snap, err := s.cases.Snapshot(dbc, caseID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.GetByCaseAndProcessor(dbc, caseID, processor)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("processor %s is disabled for case %s: %w", processor, caseID, apperr.ErrConflict)
	}

	result := &FiltrationResult{}
	s.filtrateOne(dbc, snap, cfg, opts, result)
	result.summarize()
	return result, nil
}

func (s *filtrationService) filtrateOne(dbc dbctx.Context, snap *domain.CaseSnapshot, cfg *domain.CaseProcessorConfig, opts FiltrateOptions, result *FiltrationResult) {
	proc, ok := s.registry.Get(cfg.ProcessorName)
	if !ok {
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor:   cfg.ProcessorName,
			Reason:      "processor is not registered",
			FailureCode: domain.FailureConfiguration,
		})
		return
	}
	def := proc.Definition()

	sub, err := s.subs.GetByOrgAndProcessor(dbc, cfg.OrganizationID, cfg.ProcessorName)
	if err != nil {
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor:   cfg.ProcessorName,
			Reason:      "no subscription for tenant",
			FailureCode: domain.FailureConfiguration,
		})
		return
	}
	if !sub.Active {
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor: cfg.ProcessorName,
			Reason:    "subscription is inactive",
		})
		return
	}

	effective, err := s.resolver.Resolve(def, sub, cfg)
	if err != nil {
		var perr *domain.PhaseError
		code := domain.FailureConfiguration
		if errors.As(err, &perr) {
			code = perr.Code
		}
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor:   cfg.ProcessorName,
			Reason:      err.Error(),
			FailureCode: code,
		})
		return
	}
	if raw, err := EncodeConfig(effective); err == nil {
		if err := s.configs.UpdateEffectiveConfig(dbc, cfg.ID, raw); err != nil {
			s.log.Warn("failed to persist effective config", "config_id", cfg.ID, "error", err)
		}
	}

	payloads, reason := buildPayloads(snap, def)
	if len(payloads) == 0 {
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor: cfg.ProcessorName,
			Reason:    reason,
		})
		return
	}

	var current []uuid.UUID
	for _, payload := range payloads {
		members, err := s.resolveExecution(dbc, cfg, payload, opts)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedProcessor{
				Processor:   cfg.ProcessorName,
				Reason:      err.Error(),
				FailureCode: domain.FailurePersistence,
			})
			return
		}
		for _, m := range members {
			current = append(current, m.exec.ID)
			if m.reused {
				result.Reused = append(result.Reused, *m.exec)
			} else {
				result.Created = append(result.Created, *m.exec)
			}
			if m.exec.Status == domain.ExecutionStatusPending {
				result.Pending = append(result.Pending, *m.exec)
			}
		}
	}

	// The pass is the whole truth: the list is replaced, not patched, so
	// executions for vanished documents drop out of consolidation.
	if err := s.configs.ReplaceCurrentExecutions(dbc, cfg.ID, current); err != nil {
		s.log.Error("failed to update current executions", "config_id", cfg.ID, "error", err)
		result.Skipped = append(result.Skipped, SkippedProcessor{
			Processor:   cfg.ProcessorName,
			Reason:      err.Error(),
			FailureCode: domain.FailurePersistence,
		})
		return
	}
	result.Configs = append(result.Configs, cfg.ID)
}

type passMember struct {
	exec   *domain.Execution
	reused bool
}

// resolveExecution dedups one payload against existing executions and
// creates rows when needed. A duplicate run keeps the original as a member
// next to the copy.
func (s *filtrationService) resolveExecution(dbc dbctx.Context, cfg *domain.CaseProcessorConfig, payload *domain.Payload, opts FiltrateOptions) ([]passMember, error) {
	hash, err := payload.Hash()
	if err != nil {
		return nil, err
	}

	existing, err := s.execs.FindCurrentByHash(dbc, cfg.ID, hash)
	switch {
	case err == nil:
		if opts.Duplicate {
			dup, err := s.createExecution(dbc, cfg, payload, hash, &existing.ID)
			if err != nil {
				return nil, err
			}
			return []passMember{{exec: existing, reused: true}, {exec: dup}}, nil
		}
		if opts.Force {
			fresh, err := s.createExecution(dbc, cfg, payload, hash, nil)
			if err != nil {
				return nil, err
			}
			if err := s.execs.MarkSuperseded(dbc, []uuid.UUID{existing.ID}, fresh.ID); err != nil {
				return nil, err
			}
			return []passMember{{exec: fresh}}, nil
		}
		return []passMember{{exec: existing, reused: true}}, nil
	case errors.Is(err, apperr.ErrNotFound):
		fresh, err := s.createExecution(dbc, cfg, payload, hash, nil)
		if err != nil {
			return nil, err
		}
		return []passMember{{exec: fresh}}, nil
	default:
		return nil, err
	}
}

func (s *filtrationService) createExecution(dbc dbctx.Context, cfg *domain.CaseProcessorConfig, payload *domain.Payload, hash string, duplicateOf *uuid.UUID) (*domain.Execution, error) {
	raw, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	revisions, err := encodeRevisions(payload.RevisionIDs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	e := &domain.Execution{
		ID:                    uuid.New(),
		OrganizationID:        cfg.OrganizationID,
		CaseID:                cfg.CaseID,
		CaseProcessorConfigID: cfg.ID,
		ProcessorName:         cfg.ProcessorName,
		Status:                domain.ExecutionStatusPending,
		Enabled:               true,
		Payload:               raw,
		PayloadHash:           hash,
		RevisionIDs:           revisions,
		DuplicateOfID:         duplicateOf,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.execs.Create(dbc, e); err != nil {
		return nil, err
	}
	return e, nil
}

// buildPayloads derives category-shaped payloads from the snapshot, or a
// human-readable reason why the processor does not apply.
func buildPayloads(snap *domain.CaseSnapshot, def processors.Definition) ([]*domain.Payload, string) {
	switch def.Category {
	case domain.CategoryApplication:
		return buildApplicationPayload(snap, def)
	case domain.CategoryStipulation:
		return buildDocumentSetPayload(snap, def)
	case domain.CategoryDocument:
		if def.FanOut {
			return buildFanOutPayloads(snap, def)
		}
		return buildDocumentSetPayload(snap, def)
	}
	return nil, fmt.Sprintf("unknown processor category %q", def.Category)
}

// buildApplicationPayload snapshots exactly the trigger fields plus the
// owners list. Every trigger field must be present; a partial form means the
// case is not ready for this processor yet.
func buildApplicationPayload(snap *domain.CaseSnapshot, def processors.Definition) ([]*domain.Payload, string) {
	form := map[string]any{}
	for _, path := range def.Triggers.ApplicationForm {
		v := snap.Field(path)
		if v == nil {
			return nil, fmt.Sprintf("trigger field %s is not set", path)
		}
		form[path] = v
	}
	if len(form) == 0 {
		return nil, "processor has no application triggers"
	}
	return []*domain.Payload{{
		ApplicationForm: form,
		OwnersList:      snap.Owners,
	}}, ""
}

func buildDocumentSetPayload(snap *domain.CaseSnapshot, def processors.Definition) ([]*domain.Payload, string) {
	docs := snap.DocumentsByStipulation(def.Triggers.DocumentsList)
	if len(docs) == 0 {
		return nil, fmt.Sprintf("no documents classified as %v", def.Triggers.DocumentsList)
	}
	payload := &domain.Payload{}
	for _, d := range docs {
		payload.DocumentsList = append(payload.DocumentsList, toDocumentInput(d))
		payload.RevisionIDs = append(payload.RevisionIDs, d.RevisionID.String())
	}
	return []*domain.Payload{payload}, ""
}

func buildFanOutPayloads(snap *domain.CaseSnapshot, def processors.Definition) ([]*domain.Payload, string) {
	docs := snap.DocumentsByStipulation(def.Triggers.DocumentsList)
	if len(docs) == 0 {
		return nil, fmt.Sprintf("no documents classified as %v", def.Triggers.DocumentsList)
	}
	out := make([]*domain.Payload, 0, len(docs))
	for _, d := range docs {
		out = append(out, &domain.Payload{
			DocumentsList: []domain.DocumentInput{toDocumentInput(d)},
			RevisionIDs:   []string{d.RevisionID.String()},
		})
	}
	return out, ""
}

func toDocumentInput(d domain.DocumentRef) domain.DocumentInput {
	return domain.DocumentInput{
		DocumentID:      d.ID.String(),
		RevisionID:      d.RevisionID.String(),
		StipulationType: d.StipulationType,
		URI:             d.URI,
		Metadata:        d.Metadata,
	}
}

func encodeRevisions(ids []string) (datatypes.JSON, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, id)
	}
	raw, err := domain.EncodeRevisionIDs(parsed)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
