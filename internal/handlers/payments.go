package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

const maxWebhookBody = 1 << 20

// DispatchPayment handles POST /api/v1/payments
func (h *Handlers) DispatchPayment(c *gin.Context) {
	var req models.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.OrderID == "" {
		abortWith(c, http.StatusBadRequest, codeBadRequest, "order_id is required")
		return
	}

	result, err := h.payments.Dispatch(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MercadoPagoWebhook handles POST /api/v1/webhooks/mercadopago. A 500 makes
// the provider retry the delivery.
func (h *Handlers) MercadoPagoWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook payload", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := h.reconciler.HandleNotification(c.Request.Context(), payload, c.Request.URL.Query())
	if err != nil {
		h.logger.Error("Webhook processing failed", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process notification"})
		return
	}

	c.JSON(http.StatusOK, result)
}
