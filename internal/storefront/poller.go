package storefront

import (
	"context"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultApprovedDelay = 2 * time.Second
)

// statusRejected is reported by some payment paths in place of cancelled.
const statusRejected models.OrderStatus = "rejected"

// StatusSource reads an order's status.
type StatusSource interface {
	OrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error)
}

var _ StatusSource = (*APIClient)(nil)

// Poller watches a pending order until it is paid or fails.
type Poller struct {
	source        StatusSource
	orderID       string
	interval      time.Duration
	approvedDelay time.Duration
	logger        *logging.Logger
	checkNow      chan struct{}

	// OnApproved runs once the order is paid, after the approved delay. An
	// order already in fulfilment counts as paid.
	OnApproved func(orderID string)
	// OnFailed runs when the order is cancelled or rejected.
	OnFailed func(orderID string, status models.OrderStatus)
}

func NewPoller(source StatusSource, orderID string, logger *logging.Logger) *Poller {
	return &Poller{
		source:        source,
		orderID:       orderID,
		interval:      DefaultPollInterval,
		approvedDelay: DefaultApprovedDelay,
		logger:        logger,
		checkNow:      make(chan struct{}, 1),
	}
}

// WithTiming overrides the poll interval and the approved delay.
func (p *Poller) WithTiming(interval, approvedDelay time.Duration) *Poller {
	p.interval = interval
	p.approvedDelay = approvedDelay
	return p
}

// CheckNow asks for an extra check. It never blocks; requests made while
// one is already queued are merged.
func (p *Poller) CheckNow() {
	select {
	case p.checkNow <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done or a terminal status is seen. It returns the
// last status read.
func (p *Poller) Run(ctx context.Context) (models.OrderStatus, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		status, done := p.check(ctx)
		if done {
			return status, p.settle(ctx, status)
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		case <-p.checkNow:
		}
	}
}

func (p *Poller) check(ctx context.Context) (models.OrderStatus, bool) {
	status, err := p.source.OrderStatus(ctx, p.orderID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Order status check failed", logging.Fields{
				"order_id": p.orderID,
				"error":    err.Error(),
			})
		}
		return "", false
	}

	return status, status.IsTerminal() || status == statusRejected
}

func (p *Poller) settle(ctx context.Context, status models.OrderStatus) error {
	if status == models.OrderStatusCancelled || status == statusRejected {
		p.logger.Info("Order payment failed", logging.Fields{
			"order_id": p.orderID,
			"status":   status,
		})
		if p.OnFailed != nil {
			p.OnFailed(p.orderID, status)
		}
		return nil
	}

	p.logger.Info("Order payment approved", logging.Fields{"order_id": p.orderID})

	timer := time.NewTimer(p.approvedDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if p.OnApproved != nil {
		p.OnApproved(p.orderID)
	}
	return nil
}
