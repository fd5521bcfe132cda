package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/services"
)

type FactorHandler struct {
	log     *logger.Logger
	factors services.FactorService
}

func NewFactorHandler(log *logger.Logger, factors services.FactorService) *FactorHandler {
	return &FactorHandler{
		log:     log.With("handler", "FactorHandler"),
		factors: factors,
	}
}

func (h *FactorHandler) ListActive(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	factors, err := h.factors.ActiveForCase(c.Request.Context(), caseID)
	if err != nil {
		RespondServiceError(c, "list_factors_failed", err)
		return
	}
	RespondOK(c, gin.H{"factors": factors})
}

func (h *FactorHandler) History(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	key := c.Query("key")
	if key == "" {
		RespondError(c, http.StatusBadRequest, "missing_key", nil)
		return
	}
	history, err := h.factors.History(c.Request.Context(), caseID, key)
	if err != nil {
		RespondServiceError(c, "factor_history_failed", err)
		return
	}
	RespondOK(c, gin.H{"history": history})
}

type manualFactorRequest struct {
	FactorKey string `json:"factor_key" binding:"required"`
	Value     any    `json:"value"`
	Unit      string `json:"unit"`
}

func (h *FactorHandler) CreateManual(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	var req manualFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	factor, err := h.factors.CreateManual(c.Request.Context(), caseID, req.FactorKey, req.Value, req.Unit)
	if err != nil {
		h.log.Error("CreateManual failed", "case_id", caseID, "factor_key", req.FactorKey, "error", err)
		RespondServiceError(c, "create_factor_failed", err)
		return
	}
	RespondOK(c, factor)
}
