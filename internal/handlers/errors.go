package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
)

// Response codes for errors that carry no business code of their own.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeBadRequest   = "BAD_REQUEST"
	codeNotFound     = "NOT_FOUND"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeConflict     = "CONFLICT"
	codeInternal     = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func abortWith(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	abortWith(c, http.StatusBadRequest, codeBadRequest, "invalid request body")
}

// handleError writes the response for err. Wrapped causes of 500s are
// attached to the gin context for the request logger and never returned.
func handleError(c *gin.Context, err error) {
	if verr, ok := apperrors.AsValidation(err); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Error:   verr.First(),
			Code:    codeValidation,
			Details: verr.Details(),
		})
		return
	}

	if ce, ok := apperrors.AsCoded(err); ok {
		if ce.Status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		resp := errorResponse{Error: ce.Message, Code: ce.Code}
		if len(ce.Details) > 0 {
			resp.Details = ce.Details
		}
		c.AbortWithStatusJSON(ce.Status, resp)
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		abortWith(c, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, apperrors.ErrUnauthorized):
		abortWith(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
	case errors.Is(err, apperrors.ErrForbidden):
		abortWith(c, http.StatusForbidden, codeForbidden, "forbidden")
	case errors.Is(err, apperrors.ErrConflict):
		abortWith(c, http.StatusConflict, codeConflict, "conflict")
	default:
		_ = c.Error(err)
		abortWith(c, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
