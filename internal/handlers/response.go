package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aurafin/underwriting-engine/internal/platform/apperr"
	"github.com/aurafin/underwriting-engine/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps service-layer sentinels onto HTTP statuses.
func RespondServiceError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, code, err)
	case errors.Is(err, apperr.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, code, err)
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, services.ErrConsolidationNotReady):
		RespondError(c, http.StatusConflict, code, err)
	default:
		RespondError(c, http.StatusInternalServerError, code, err)
	}
}
