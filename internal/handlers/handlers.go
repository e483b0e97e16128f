package handlers

import (
	"context"

	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/service"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Services are the business services the handlers call.
type Services struct {
	Orders     *service.OrderService
	Payments   *service.PaymentService
	Reconciler *service.Reconciler
	Recovery   *service.Recovery
	WhatsApp   *service.WhatsAppService
	Tasks      *service.TaskService
	// Limiter guards admin listings. A per-process limiter is used when nil.
	Limiter RateLimiter
}

// Handlers holds all HTTP handlers for the checkout service.
type Handlers struct {
	orders     *service.OrderService
	payments   *service.PaymentService
	reconciler *service.Reconciler
	recovery   *service.Recovery
	whatsapp   *service.WhatsAppService
	tasks      *service.TaskService
	limiter    RateLimiter
	config     *config.Config
	checks     map[string]ReadinessCheck
	logger     *logging.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc Services, cfg *config.Config, logger *logging.Logger) *Handlers {
	limiter := svc.Limiter
	if limiter == nil {
		limiter = NewLocalRateLimiter(ListingRateLimit, ListingRateWindow)
	}
	return &Handlers{
		orders:     svc.Orders,
		payments:   svc.Payments,
		reconciler: svc.Reconciler,
		recovery:   svc.Recovery,
		whatsapp:   svc.WhatsApp,
		tasks:      svc.Tasks,
		limiter:    limiter,
		config:     cfg,
		checks:     make(map[string]ReadinessCheck),
		logger:     logger,
	}
}

// AddReadinessCheck registers a dependency probed by GET /ready.
func (h *Handlers) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}
