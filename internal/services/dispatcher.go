package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/aurafin/underwriting-engine/internal/data/repos"
	"github.com/aurafin/underwriting-engine/internal/domain"
	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/platform/dbctx"
	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/processors"
)

const (
	defaultMaxConcurrency   = 5
	defaultExecutionTimeout = 2 * time.Minute
)

// DispatcherOptions tune the worker pool.
type DispatcherOptions struct {
	MaxConcurrency   int
	ExecutionTimeout time.Duration
}

// Dispatcher runs pending executions through the four-phase processor
// contract and records the terminal result. A failed execution is a recorded
// outcome, not a dispatch error; Dispatch only returns infrastructure
// faults.
type Dispatcher interface {
	Dispatch(ctx context.Context, executionIDs []uuid.UUID) error
	RunOne(ctx context.Context, executionID uuid.UUID) error
	Cancel(ctx context.Context, executionID uuid.UUID) error
}

type dispatcher struct {
	db       *gorm.DB
	log      *logger.Logger
	registry *processors.Registry
	configs  repos.ProcessorConfigRepo
	execs    repos.ExecutionRepo
	notifier ExecutionNotifier
	opts     DispatcherOptions
}

func NewDispatcher(
	db *gorm.DB,
	log *logger.Logger,
	registry *processors.Registry,
	configs repos.ProcessorConfigRepo,
	execs repos.ExecutionRepo,
	notifier ExecutionNotifier,
	opts DispatcherOptions,
) Dispatcher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = defaultExecutionTimeout
	}
	if notifier == nil {
		notifier = NewNopNotifier()
	}
	return &dispatcher{
		db:       db,
		log:      log,
		registry: registry,
		configs:  configs,
		execs:    execs,
		notifier: notifier,
		opts:     opts,
	}
}

func (d *dispatcher) Dispatch(ctx context.Context, executionIDs []uuid.UUID) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.MaxConcurrency)
	for _, id := range executionIDs {
		id := id
		g.Go(func() error {
			if err := d.RunOne(gctx, id); err != nil {
				// Lost the pending->running race: another dispatcher has it.
				if errors.Is(err, apperr.ErrConflict) {
					d.log.Debug("execution already claimed", "execution_id", id)
					return nil
				}
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// RunOne claims and runs a single pending execution to a terminal state.
func (d *dispatcher) RunOne(ctx context.Context, executionID uuid.UUID) error {
	dbc := dbctx.New(ctx, d.db)

	exec, err := d.execs.GetByID(dbc, executionID)
	if err != nil {
		return err
	}
	proc, ok := d.registry.Get(exec.ProcessorName)
	if !ok {
		if err := d.execs.MarkRunning(dbc, exec.ID); err != nil {
			return err
		}
		d.notify(dbc.Ctx, exec, domain.ExecutionStatusRunning, 0, "")
		return d.fail(dbc, exec, domain.NewPhaseError(domain.FailureConfiguration, domain.PhaseTransform, "processor is not registered", nil))
	}

	cfgRow, err := d.configs.GetByID(dbc, exec.CaseProcessorConfigID)
	if err != nil {
		return err
	}
	cfg, err := DecodeConfig(cfgRow.EffectiveConfig)
	if err != nil {
		if err := d.execs.MarkRunning(dbc, exec.ID); err != nil {
			return err
		}
		d.notify(dbc.Ctx, exec, domain.ExecutionStatusRunning, 0, "")
		return d.fail(dbc, exec, domain.NewPhaseError(domain.FailureConfiguration, domain.PhaseTransform, "stored effective config is malformed", err))
	}

	if err := d.execs.MarkRunning(dbc, exec.ID); err != nil {
		return err
	}
	d.notify(dbc.Ctx, exec, domain.ExecutionStatusRunning, 0, "")

	runCtx, cancel := context.WithTimeout(dbc.Ctx, d.opts.ExecutionTimeout)
	defer cancel()

	output, rec, perr := d.runPhases(runCtx, proc, exec, cfg)
	if perr != nil {
		return d.fail(dbc, exec, perr)
	}

	rawOut, err := json.Marshal(output)
	if err != nil {
		return d.fail(dbc, exec, domain.NewPhaseError(domain.FailureInternal, domain.PhaseValidateOutput, "output is not serializable", err))
	}
	rawBreakdown, err := json.Marshal(rec.Breakdown())
	if err != nil {
		return d.fail(dbc, exec, domain.NewPhaseError(domain.FailureInternal, domain.PhaseValidateOutput, "cost breakdown is not serializable", err))
	}
	if err := d.execs.SaveResult(dbc, exec.ID, datatypes.JSON(rawOut), rec.TotalCents(), datatypes.JSON(rawBreakdown)); err != nil {
		d.log.Error("failed to persist execution result", "execution_id", exec.ID, "error", err)
		return err
	}
	d.log.Info("execution completed",
		"execution_id", exec.ID,
		"processor", exec.ProcessorName,
		"case_id", exec.CaseID,
		"cost_cents", rec.TotalCents())
	d.notify(dbc.Ctx, exec, domain.ExecutionStatusCompleted, rec.TotalCents(), "")
	return nil
}

// runPhases walks transform, validate input, extract, validate output.
// Failures come back classified with the phase they happened in.
func (d *dispatcher) runPhases(ctx context.Context, proc processors.Processor, exec *domain.Execution, cfg domain.Config) (map[string]any, *processors.Recorder, *domain.PhaseError) {
	rec := processors.NewRecorder()

	payload, err := domain.DecodePayload(exec.Payload)
	if err != nil {
		return nil, rec, domain.NewPhaseError(domain.FailureInternal, domain.PhaseTransform, "stored payload is malformed", err)
	}

	input, err := proc.Transform(ctx, payload, cfg)
	if err != nil {
		return nil, rec, classify(err, domain.PhaseTransform)
	}

	res, err := proc.ValidateInput(ctx, input, cfg)
	if err != nil {
		return nil, rec, classify(err, domain.PhaseValidateInput)
	}
	if !res.Valid {
		return nil, rec, domain.NewPhaseError(domain.FailureValidation, domain.PhaseValidateInput, joinReasons(res.Reasons), nil)
	}

	output, err := proc.Extract(ctx, input, cfg, rec)
	if err != nil {
		return nil, rec, classify(err, domain.PhaseExtract)
	}

	res, err = proc.ValidateOutput(ctx, output, cfg)
	if err != nil {
		return nil, rec, classify(err, domain.PhaseValidateOutput)
	}
	if !res.Valid {
		return nil, rec, domain.NewPhaseError(domain.FailureValidation, domain.PhaseValidateOutput, joinReasons(res.Reasons), nil)
	}
	return output, rec, nil
}

func (d *dispatcher) fail(dbc dbctx.Context, exec *domain.Execution, perr *domain.PhaseError) error {
	d.log.Warn("execution failed",
		"execution_id", exec.ID,
		"processor", exec.ProcessorName,
		"case_id", exec.CaseID,
		"failure_code", perr.Code,
		"phase", perr.Phase,
		"reason", perr.Reason)
	if err := d.execs.MarkFailed(dbc, exec.ID, perr.Code, perr.Phase, perr.Reason); err != nil {
		d.log.Error("failed to persist execution failure", "execution_id", exec.ID, "error", err)
		return err
	}
	d.notify(dbc.Ctx, exec, domain.ExecutionStatusFailed, 0, perr.Code)
	return nil
}

// Cancel withdraws a pending execution. Running work is never interrupted.
func (d *dispatcher) Cancel(ctx context.Context, executionID uuid.UUID) error {
	dbc := dbctx.New(ctx, d.db)
	exec, err := d.execs.GetByID(dbc, executionID)
	if err != nil {
		return err
	}
	if err := d.execs.Cancel(dbc, executionID); err != nil {
		return err
	}
	d.notify(ctx, exec, domain.ExecutionStatusCancelled, 0, "")
	return nil
}

func (d *dispatcher) notify(ctx context.Context, exec *domain.Execution, status string, cost int64, failureCode string) {
	d.notifier.NotifyExecution(ctx, domain.ExecutionEvent{
		OrganizationID: exec.OrganizationID,
		CaseID:         exec.CaseID,
		ProcessorName:  exec.ProcessorName,
		ExecutionID:    exec.ID,
		Status:         status,
		CostCents:      cost,
		FailureCode:    failureCode,
		Timestamp:      time.Now().UTC(),
	})
}

// classify maps an arbitrary phase error onto the failure taxonomy.
func classify(err error, phase string) *domain.PhaseError {
	var perr *domain.PhaseError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewPhaseError(domain.FailureExternalCallTimeout, phase, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewPhaseError(domain.FailureExternalCallTimeout, phase, "context cancelled", err)
	}
	return domain.NewPhaseError(domain.FailureInternal, phase, err.Error(), err)
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "validation failed"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
