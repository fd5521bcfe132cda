package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aurafin/underwriting-engine/internal/platform/logger"
	"github.com/aurafin/underwriting-engine/internal/services"
)

type SubscriptionHandler struct {
	log           *logger.Logger
	subscriptions services.SubscriptionService
}

func NewSubscriptionHandler(log *logger.Logger, subscriptions services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		log:           log.With("handler", "SubscriptionHandler"),
		subscriptions: subscriptions,
	}
}

type subscribeRequest struct {
	Processor      string         `json:"processor" binding:"required"`
	PriceCents     int64          `json:"price_cents"`
	ConfigOverride map[string]any `json:"config_override"`
}

func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	orgID, ok := parseID(c, "orgID")
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sub, err := h.subscriptions.Subscribe(c.Request.Context(), orgID, req.Processor, req.ConfigOverride, req.PriceCents)
	if err != nil {
		h.log.Error("Subscribe failed", "org_id", orgID, "processor", req.Processor, "error", err)
		RespondServiceError(c, "subscribe_failed", err)
		return
	}
	RespondOK(c, sub)
}

// AttachCase creates processor configs for every active subscription of the
// case's tenant.
func (h *SubscriptionHandler) AttachCase(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	configs, err := h.subscriptions.AttachCase(c.Request.Context(), caseID)
	if err != nil {
		h.log.Error("AttachCase failed", "case_id", caseID, "error", err)
		RespondServiceError(c, "attach_case_failed", err)
		return
	}
	RespondOK(c, gin.H{"configs": configs})
}

type attachProcessorRequest struct {
	ConfigOverride map[string]any `json:"config_override"`
}

func (h *SubscriptionHandler) AttachProcessor(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	processor := c.Param("processor")
	var req attachProcessorRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	cfg, err := h.subscriptions.AttachProcessor(c.Request.Context(), caseID, processor, req.ConfigOverride)
	if err != nil {
		h.log.Error("AttachProcessor failed", "case_id", caseID, "processor", processor, "error", err)
		RespondServiceError(c, "attach_processor_failed", err)
		return
	}
	RespondOK(c, cfg)
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *SubscriptionHandler) SetProcessorEnabled(c *gin.Context) {
	caseID, ok := parseID(c, "caseID")
	if !ok {
		return
	}
	processor := c.Param("processor")
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.subscriptions.SetProcessorEnabled(c.Request.Context(), caseID, processor, *req.Enabled); err != nil {
		RespondServiceError(c, "set_processor_enabled_failed", err)
		return
	}
	RespondOK(c, gin.H{"processor": processor, "enabled": *req.Enabled})
}
