// Package service holds the checkout business logic: order writing,
// payment dispatch, provider reconciliation and the inbound integrations.
package service

import (
	"context"

	"github.com/ovos-raposo/checkout-service/internal/clients"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
)

// PaymentProvider creates and looks up provider payments.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, req *clients.PaymentRequest, idempotencyKey string) (*clients.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*clients.Payment, error)
}

// Notifier delivers confirmed orders downstream.
type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, task *models.TaskRequest) error
}

// EventPublisher publishes order lifecycle events.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
}

// TaskCreator creates tasks in the fulfilment tracker.
type TaskCreator interface {
	Configured() bool
	CreateTask(ctx context.Context, task *clients.ClickUpTask) (string, error)
}

// orderEffects are the side effects that follow an order write. None of
// them fail the operation that triggered them.
type orderEffects struct {
	cache    repository.OrderCache
	events   EventPublisher
	notifier Notifier
	logger   *logging.Logger
}

func newOrderEffects(cache repository.OrderCache, events EventPublisher, notifier Notifier, logger *logging.Logger) *orderEffects {
	if cache == nil {
		cache = nopCache{}
	}
	return &orderEffects{cache: cache, events: events, notifier: notifier, logger: logger}
}

func (e *orderEffects) created(ctx context.Context, order *models.Order) {
	if err := e.cache.Set(ctx, order); err != nil {
		e.logger.Warn("Failed to cache order", logging.Fields{"order_id": order.ID, "error": err})
	}
	if e.events != nil {
		if err := e.events.PublishOrderCreated(ctx, order); err != nil {
			e.logger.Error("Failed to publish order created event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

// statusChanged evicts the cached order and announces the transition.
// order must already carry the new status.
func (e *orderEffects) statusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) {
	if err := e.cache.Delete(ctx, order.ID); err != nil {
		e.logger.Warn("Failed to evict cached order", logging.Fields{"order_id": order.ID, "error": err})
	}
	if e.events != nil {
		if err := e.events.PublishOrderStatusChanged(ctx, order, previous); err != nil {
			e.logger.Error("Failed to publish status changed event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

// notify sends the downstream task. Callers must hold the notification
// claim for order.
func (e *orderEffects) notify(ctx context.Context, order *models.Order) {
	if e.notifier == nil {
		return
	}
	// the provider or client may hang up before the task is delivered
	ctx = context.WithoutCancel(ctx)

	if err := e.notifier.NotifyOrderConfirmed(ctx, models.NewTaskRequest(order)); err != nil {
		metrics.DownstreamNotifications.WithLabelValues("failed").Inc()
		e.logger.Error("Failed to notify downstream", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return
	}
	metrics.DownstreamNotifications.WithLabelValues("sent").Inc()
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*models.Order, error) { return nil, nil }
func (nopCache) Set(context.Context, *models.Order) error           { return nil }
func (nopCache) Delete(context.Context, string) error               { return nil }
