package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/services"
)

// EngineHandler exposes the orchestrated run, the individual pipeline stages
// and execution lifecycle operations.
type EngineHandler struct {
	log           *logger.Logger
	orchestrator  services.Orchestrator
	filtration    services.FiltrationService
	dispatcher    services.Dispatcher
	consolidation services.ConsolidationEngine
	store         services.ExecutionStore
}

func NewEngineHandler(
	log *logger.Logger,
	orchestrator services.Orchestrator,
	filtration services.FiltrationService,
	dispatcher services.Dispatcher,
	consolidation services.ConsolidationEngine,
	store services.ExecutionStore,
) *EngineHandler {
	return &EngineHandler{
		log:           log.With("handler", "EngineHandler"),
		orchestrator:  orchestrator,
		filtration:    filtration,
		dispatcher:    dispatcher,
		consolidation: consolidation,
		store:         store,
	}
}

type runProcessorRequest struct {
	Force     bool `json:"force"`
	Duplicate bool `json:"duplicate"`
}

// RunCase runs the full pass: filtrate, dispatch, consolidate.
func (h *EngineHandler) RunCase(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	report, err := h.orchestrator.RunCase(c.Request.Context(), caseID)
	if err != nil {
		h.log.Error("RunCase failed", "case_id", caseID, "error", err)
		RespondServiceError(c, "run_case_failed", err)
		return
	}
	RespondOK(c, report)
}

// RunProcessor runs a single processor explicitly, optionally forcing a
// rerun or creating a duplicate execution.
func (h *EngineHandler) RunProcessor(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	processor := c.Param("processor")
	var req runProcessorRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	report, err := h.orchestrator.RunProcessor(c.Request.Context(), caseID, processor, services.FiltrateOptions{
		Force:     req.Force,
		Duplicate: req.Duplicate,
	})
	if err != nil {
		h.log.Error("RunProcessor failed", "case_id", caseID, "processor", processor, "error", err)
		RespondServiceError(c, "run_processor_failed", err)
		return
	}
	RespondOK(c, report)
}

// Filtrate runs filtration only, leaving the created executions pending.
func (h *EngineHandler) Filtrate(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	result, err := h.filtration.FiltrateCase(c.Request.Context(), caseID)
	if err != nil {
		h.log.Error("Filtrate failed", "case_id", caseID, "error", err)
		RespondServiceError(c, "filtrate_failed", err)
		return
	}
	RespondOK(c, result)
}

func (h *EngineHandler) ListExecutions(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	executions, err := h.store.ListForCase(c.Request.Context(), caseID)
	if err != nil {
		RespondServiceError(c, "list_executions_failed", err)
		return
	}
	RespondOK(c, gin.H{"executions": executions})
}

func (h *EngineHandler) GetExecution(c *gin.Context) {
	execID, ok := parseID(c, "executionID")
	if !ok {
		return
	}
	exec, err := h.store.Get(c.Request.Context(), execID)
	if err != nil {
		RespondServiceError(c, "get_execution_failed", err)
		return
	}
	RespondOK(c, exec)
}

func (h *EngineHandler) RunExecution(c *gin.Context) {
	execID, ok := parseID(c, "executionID")
	if !ok {
		return
	}
	if err := h.dispatcher.RunOne(c.Request.Context(), execID); err != nil {
		h.log.Error("RunExecution failed", "execution_id", execID, "error", err)
		RespondServiceError(c, "run_execution_failed", err)
		return
	}
	exec, err := h.store.Get(c.Request.Context(), execID)
	if err != nil {
		RespondServiceError(c, "get_execution_failed", err)
		return
	}
	RespondOK(c, exec)
}

func (h *EngineHandler) CancelExecution(c *gin.Context) {
	execID, ok := parseID(c, "executionID")
	if !ok {
		return
	}
	if err := h.dispatcher.Cancel(c.Request.Context(), execID); err != nil {
		RespondServiceError(c, "cancel_execution_failed", err)
		return
	}
	RespondOK(c, gin.H{"cancelled": execID})
}

func (h *EngineHandler) DeactivateExecution(c *gin.Context) {
	h.setExecutionEnabled(c, false)
}

func (h *EngineHandler) ActivateExecution(c *gin.Context) {
	h.setExecutionEnabled(c, true)
}

func (h *EngineHandler) setExecutionEnabled(c *gin.Context, enabled bool) {
	execID, ok := parseID(c, "executionID")
	if !ok {
		return
	}
	var err error
	if enabled {
		err = h.store.Activate(c.Request.Context(), execID)
	} else {
		err = h.store.Deactivate(c.Request.Context(), execID)
	}
	if err != nil {
		RespondServiceError(c, "toggle_execution_failed", err)
		return
	}
	RespondOK(c, gin.H{"execution_id": execID, "enabled": enabled})
}

// Consolidate re-runs consolidation for one processor config, typically
// after lifecycle edits like deactivation or rollback.
func (h *EngineHandler) Consolidate(c *gin.Context) {
	configID, ok := parseID(c, "configID")
	if !ok {
		return
	}
	set, err := h.consolidation.ConsolidateProcessor(c.Request.Context(), configID)
	if err != nil {
		h.log.Error("Consolidate failed", "config_id", configID, "error", err)
		RespondServiceError(c, "consolidate_failed", err)
		return
	}
	RespondOK(c, gin.H{"factors": set})
}

type rollbackRequest struct {
	ExecutionID uuid.UUID `json:"execution_id" binding:"required"`
}

// Rollback restores an earlier execution as the processor's current one.
// The caller consolidates afterwards to refresh factors.
func (h *EngineHandler) Rollback(c *gin.Context) {
	configID, ok := parseID(c, "configID")
	if !ok {
		return
	}
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.store.Rollback(c.Request.Context(), configID, req.ExecutionID); err != nil {
		h.log.Error("Rollback failed", "config_id", configID, "execution_id", req.ExecutionID, "error", err)
		RespondServiceError(c, "rollback_failed", err)
		return
	}
	RespondOK(c, gin.H{"config_id": configID, "current_execution": req.ExecutionID})
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return uuid.Nil, false
	}
	return id, true
}
