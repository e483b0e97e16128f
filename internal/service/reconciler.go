package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
)

// NotificationOutcome describes what a provider notification did.
type NotificationOutcome string

const (
	// OutcomeIgnored: not a payment event, or no payment id.
	OutcomeIgnored NotificationOutcome = "ignored"
	// OutcomeSkipped: the payment does not reference a known order.
	OutcomeSkipped NotificationOutcome = "skipped"
	// OutcomeTransitioned: the order status changed.
	OutcomeTransitioned NotificationOutcome = "transitioned"
	// OutcomeUnchanged: the order was already past pending_payment or the
	// payment is still pending.
	OutcomeUnchanged NotificationOutcome = "unchanged"
)

// NotificationResult is returned to the webhook handler.
type NotificationResult struct {
	Outcome   NotificationOutcome `json:"outcome"`
	Message   string              `json:"message"`
	OrderID   string              `json:"order_id,omitempty"`
	PaymentID string              `json:"payment_id,omitempty"`
	Status    models.OrderStatus  `json:"status,omitempty"`
}

var (
	paymentResourcePattern = regexp.MustCompile(`/payments/(\d+)`)
	paymentIDPattern       = regexp.MustCompile(`^\d{1,20}$`)
)

type webhookBody struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Action    string      `json:"action"`
	ID        interface{} `json:"id"`
	PaymentID interface{} `json:"payment_id"`
	Resource  string      `json:"resource"`
	Data      struct {
		ID interface{} `json:"id"`
	} `json:"data"`
}

// MapPaymentStatus maps a provider payment status to an order status.
func MapPaymentStatus(status string) models.OrderStatus {
	switch status {
	case clients.PaymentStatusApproved:
		return models.OrderStatusNew
	case clients.PaymentStatusRejected, clients.PaymentStatusCancelled,
		clients.PaymentStatusRefunded, clients.PaymentStatusChargedBack:
		return models.OrderStatusCancelled
	}
	return models.OrderStatusPendingPayment
}

// Reconciler applies provider payment state to orders. It never trusts a
// notification body for status: every notification triggers a re-fetch.
type Reconciler struct {
	orders   repository.OrderRepository
	provider PaymentProvider
	effects  *orderEffects
	logger   *logging.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(
	orders repository.OrderRepository,
	provider PaymentProvider,
	cache repository.OrderCache,
	events EventPublisher,
	notifier Notifier,
	logger *logging.Logger,
) *Reconciler {
	return &Reconciler{
		orders:   orders,
		provider: provider,
		effects:  newOrderEffects(cache, events, notifier, logger),
		logger:   logger,
	}
}

// HandleNotification processes one webhook delivery. A returned error
// means the provider should retry.
func (r *Reconciler) HandleNotification(ctx context.Context, raw []byte, query url.Values) (*NotificationResult, error) {
	eventType, paymentID := ParseNotification(raw, query)

	if paymentID == "" || eventType != "payment" {
		r.logger.Info("Ignoring notification", logging.Fields{
			"type":   eventType,
			"has_id": paymentID != "",
		})
		metrics.WebhookNotifications.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &NotificationResult{Outcome: OutcomeIgnored, Message: "Notification ignored"}, nil
	}

	result, err := r.ReconcilePayment(ctx, paymentID)
	if err != nil {
		metrics.WebhookNotifications.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.WebhookNotifications.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

// ParseNotification extracts the event type and payment id from a webhook
// body and query string. Body fields win over the query. A payment id that
// is not numeric is dropped.
func ParseNotification(raw []byte, query url.Values) (string, string) {
	var body webhookBody
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		_ = dec.Decode(&body)
	}

	eventType := firstNonEmpty(body.Type, body.Topic, query.Get("type"), query.Get("topic"))

	paymentID := firstNonEmpty(idString(body.Data.ID), idString(body.ID), idString(body.PaymentID))
	if paymentID == "" && body.Resource != "" {
		if m := paymentResourcePattern.FindStringSubmatch(body.Resource); m != nil {
			paymentID = m[1]
		}
	}
	if paymentID == "" {
		paymentID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}
	// provider payment ids are numeric; anything else is not one of ours
	if !paymentIDPattern.MatchString(paymentID) {
		paymentID = ""
	}
	return eventType, paymentID
}

// ReconcilePayment fetches the payment and applies its status to the
// referenced order.
func (r *Reconciler) ReconcilePayment(ctx context.Context, paymentID string) (*NotificationResult, error) {
	payment, err := r.provider.GetPayment(ctx, paymentID)
	if err != nil {
		r.logger.Error("Failed to fetch payment", logging.Fields{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}

	orderID := strings.TrimSpace(payment.ExternalReference)
	if orderID == "" {
		r.logger.Warn("Payment without external reference", logging.Fields{"payment_id": paymentID})
		return &NotificationResult{Outcome: OutcomeSkipped, Message: "No external_reference, skipping", PaymentID: paymentID}, nil
	}

	order, err := r.orders.GetByID(ctx, orderID)
	if apperrors.IsNotFound(err) {
		r.logger.Warn("Payment references unknown order", logging.Fields{
			"payment_id": paymentID,
			"order_id":   orderID,
		})
		return &NotificationResult{Outcome: OutcomeSkipped, Message: "Order not found, skipping", PaymentID: paymentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	target := MapPaymentStatus(payment.Status)
	result := &NotificationResult{
		OrderID:   order.ID,
		PaymentID: paymentID,
		Status:    order.Status,
	}

	r.logger.Info("Reconciling payment", logging.Fields{
		"payment_id":     paymentID,
		"order_id":       order.ID,
		"payment_status": payment.Status,
		"current_status": order.Status,
		"target_status":  target,
	})

	if target == models.OrderStatusPendingPayment {
		if err := r.recordPaymentID(ctx, order, paymentID); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeUnchanged
		result.Message = "Payment still pending"
		return result, nil
	}

	res, err := r.orders.Transition(ctx, order.ID, models.OrderStatusPendingPayment, target, paymentID)
	if err != nil {
		return nil, fmt.Errorf("transition order %s: %w", order.ID, err)
	}

	if !res.Applied {
		if err := r.recordPaymentID(ctx, order, paymentID); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeUnchanged
		result.Message = "Order already settled"
		return result, nil
	}

	previous := order.Status
	order.Status = target
	order.PaymentID = &paymentID
	r.effects.statusChanged(ctx, order, previous)
	if res.Notify {
		r.effects.notify(ctx, order)
	}

	result.Outcome = OutcomeTransitioned
	result.Status = target
	result.Message = "Order updated"
	return result, nil
}

// recordPaymentID stores the payment id on an order whose status is left
// alone. A settled order keeps the id that settled it.
func (r *Reconciler) recordPaymentID(ctx context.Context, order *models.Order, paymentID string) error {
	if order.PaymentID != nil && (*order.PaymentID == paymentID || order.Status != models.OrderStatusPendingPayment) {
		return nil
	}
	if err := r.orders.SetPaymentDetails(ctx, order.ID, repository.PaymentDetails{PaymentID: paymentID}); err != nil {
		return fmt.Errorf("record payment id on %s: %w", order.ID, err)
	}
	return nil
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
