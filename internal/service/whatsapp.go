package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	whatsAppEventUpsert   = "messages.upsert"
	whatsAppJIDSuffix     = "@s.whatsapp.net"
	maxWhatsAppMessage    = 5000
	whatsAppNoteRunes     = 500
	whatsAppSignaturePref = "sha256="
)

// OrderKeywords mark a WhatsApp message as an order request.
var OrderKeywords = []string{"pedido", "comprar", "quero", "ovos", "dúzia"}

var (
	// ErrWebhookNotConfigured means no shared secret is set.
	ErrWebhookNotConfigured = errors.New("webhook secret not configured")
	// ErrSignatureMissing means the request carried no signature header.
	ErrSignatureMissing = fmt.Errorf("signature required: %w", apperrors.ErrUnauthorized)
	// ErrSignatureInvalid means the signature did not match the body.
	ErrSignatureInvalid = fmt.Errorf("invalid signature: %w", apperrors.ErrUnauthorized)
)

// WhatsAppEvent is the Evolution API webhook payload.
type WhatsAppEvent struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		Message struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
		PushName string `json:"pushName"`
	} `json:"data"`
}

// Text returns the message body.
func (e *WhatsAppEvent) Text() string {
	if e.Data.Message.Conversation != "" {
		return e.Data.Message.Conversation
	}
	if e.Data.Message.ExtendedTextMessage != nil {
		return e.Data.Message.ExtendedTextMessage.Text
	}
	return ""
}

// WhatsAppResult reports what a delivery did.
type WhatsAppResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
}

// WhatsAppService turns inbound WhatsApp messages into draft orders.
type WhatsAppService struct {
	secret string
	orders repository.OrderRepository
	access repository.AccessRepository
	logger *logging.Logger
}

// NewWhatsAppService creates the service.
func NewWhatsAppService(secret string, orders repository.OrderRepository, access repository.AccessRepository, logger *logging.Logger) *WhatsAppService {
	return &WhatsAppService{secret: secret, orders: orders, access: access, logger: logger}
}

// SignBody returns the signature header value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return whatsAppSignaturePref + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body before anything
// is parsed.
func (s *WhatsAppService) VerifySignature(body []byte, signature string) error {
	if s.secret == "" {
		return ErrWebhookNotConfigured
	}
	if signature == "" {
		return ErrSignatureMissing
	}
	expected := SignBody(s.secret, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureInvalid
	}
	return nil
}

// HandleWebhook verifies and processes one delivery.
func (s *WhatsAppService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WhatsAppResult, error) {
	if err := s.VerifySignature(body, signature); err != nil {
		s.logger.Warn("Rejected WhatsApp webhook", logging.Fields{"error": err.Error()})
		return nil, err
	}

	var event WhatsAppEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode whatsapp event: %w", err)
	}
	s.logger.Debug("WhatsApp webhook received", logging.Fields{"event": event.Event})

	result := &WhatsAppResult{Success: true}
	order, err := s.process(ctx, &event)
	if err != nil {
		s.logger.Error("Failed to create WhatsApp order", logging.Fields{
			"message_id": event.Data.Key.ID,
			"error":      err.Error(),
		})
		return result, nil
	}
	if order != nil {
		result.OrderID = order.ID
	}
	return result, nil
}

func (s *WhatsAppService) process(ctx context.Context, event *WhatsAppEvent) (*models.Order, error) {
	if event.Event != whatsAppEventUpsert || event.Data.Key.FromMe {
		return nil, nil
	}

	phone := strings.TrimSuffix(event.Data.Key.RemoteJID, whatsAppJIDSuffix)
	text := event.Text()

	if utf8.RuneCountInString(text) > maxWhatsAppMessage {
		s.logger.Warn("WhatsApp message too long", logging.Fields{"length": utf8.RuneCountInString(text)})
		return nil, nil
	}
	if DigitsOnly(phone) != phone || len(phone) < 10 || len(phone) > 11 {
		s.logger.Warn("WhatsApp phone out of range", logging.Fields{"length": len(phone)})
		return nil, nil
	}
	if !IsOrderMessage(text) {
		return nil, nil
	}

	profile, err := s.access.GetProfileByPhone(ctx, phone)
	if apperrors.IsNotFound(err) {
		s.logger.Info("WhatsApp order from unknown phone", logging.Fields{"phone": models.MaskPhone(phone)})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	messageID := event.Data.Key.ID
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        profile.UserID,
		CustomerName:  profile.FullName,
		Phone:         phone,
		Items:         []models.OrderItem{{Name: "Mensagem WhatsApp", Note: "Mensagem WhatsApp: " + truncateRunes(text, whatsAppNoteRunes)}},
		Total:         decimal.Zero,
		PaymentMethod: models.PaymentMethodCash,
		Status:        models.OrderStatusWhatsAppPending,
		Notes:         "Pedido via WhatsApp - Aguardando confirmação",
	}
	if messageID != "" {
		order.WhatsAppMessageID = &messageID
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			s.logger.Info("WhatsApp message already processed", logging.Fields{"message_id": messageID})
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("WhatsApp draft order created", logging.Fields{
		"order_id":   order.ID,
		"message_id": messageID,
	})
	return order, nil
}

// IsOrderMessage reports whether text contains an order keyword.
func IsOrderMessage(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range OrderKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
