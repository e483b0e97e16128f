package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/logging"
)

// RecoverSagas handles POST /api/v1/admin/recover
func (h *Handlers) RecoverSagas(c *gin.Context) {
	report, err := h.recovery.Run(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	h.logger.Info("Manual saga recovery", logging.Fields{
		"caller":   callerFrom(c).UserID,
		"examined": report.Examined,
	})
	c.JSON(http.StatusOK, report)
}
