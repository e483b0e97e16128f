package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/service"
)

// Signature headers accepted on the WhatsApp webhook, in order.
var whatsAppSignatureHeaders = []string{"X-Webhook-Signature", "X-Hub-Signature-256"}

// WhatsAppWebhook handles POST /api/v1/webhooks/whatsapp. The signature is
// checked against the raw body before it is parsed.
func (h *Handlers) WhatsAppWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("Failed to read webhook payload", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read request body"})
		return
	}

	var signature string
	for _, name := range whatsAppSignatureHeaders {
		if signature = c.GetHeader(name); signature != "" {
			break
		}
	}

	result, err := h.whatsapp.HandleWebhook(c.Request.Context(), body, signature)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, service.ErrWebhookNotConfigured):
		abortWith(c, http.StatusInternalServerError, codeInternal, "webhook not configured")
	case errors.Is(err, apperrors.ErrUnauthorized):
		abortWith(c, http.StatusUnauthorized, codeUnauthorized, "invalid signature")
	default:
		badRequest(c, err)
	}
}
