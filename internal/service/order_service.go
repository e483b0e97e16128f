package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/ovos-raposo/checkout-service/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// OrderService writes orders and serves role-gated reads.
type OrderService struct {
	orders  repository.OrderRepository
	access  repository.AccessRepository
	cache   repository.OrderCache
	effects *orderEffects
	logger  *logging.Logger
}

// NewOrderService creates a new order service. cache, events and notifier
// may be nil.
func NewOrderService(
	orders repository.OrderRepository,
	access repository.AccessRepository,
	cache repository.OrderCache,
	events EventPublisher,
	notifier Notifier,
	logger *logging.Logger,
) *OrderService {
	effects := newOrderEffects(cache, events, notifier, logger)
	return &OrderService{
		orders:  orders,
		access:  access,
		cache:   effects.cache,
		effects: effects,
		logger:  logger,
	}
}

// CreateOrder validates a checkout and writes exactly one order row.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *models.CheckoutRequest) (*models.Order, error) {
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	s.logger.Info("Creating order", logging.Fields{
		"user_id":    userID,
		"item_count": len(req.Items),
	})

	checkout, err := ValidateCheckout(req)
	if err != nil {
		return nil, err
	}
	if len(checkout.Items) == 0 {
		return nil, apperrors.NewValidationError("items", "Carrinho vazio")
	}

	order := &models.Order{
		ID:                   uuid.NewString(),
		UserID:               userID,
		CustomerName:         checkout.Name,
		Phone:                checkout.Phone,
		DeliveryAddress:      checkout.Address,
		DeliveryNeighborhood: checkout.Neighborhood,
		DeliveryCity:         checkout.City,
		Items:                checkout.Items,
		Total:                CalculateOrderTotal(checkout.Items),
		PaymentMethod:        checkout.PaymentMethod,
		Status:               checkout.PaymentMethod.InitialStatus(),
		Notes:                checkout.Notes,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to create order", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("create order: %w", err)
	}
	metrics.OrdersCreated.WithLabelValues(string(order.PaymentMethod)).Inc()

	s.effects.created(ctx, order)

	// cash orders are confirmed at creation
	if order.Status == models.OrderStatusNew {
		claimed, err := s.orders.ClaimNotification(ctx, order.ID)
		if err != nil {
			s.logger.Error("Failed to claim notification", logging.Fields{"order_id": order.ID, "error": err})
		} else if claimed {
			s.effects.notify(ctx, order)
		}
	}

	s.logger.Info("Order created successfully", logging.Fields{
		"order_id":       order.ID,
		"total":          order.Total.StringFixed(2),
		"payment_method": order.PaymentMethod,
		"status":         order.Status,
	})

	return order, nil
}

// GetOrder returns an order to its owner or to staff.
func (s *OrderService) GetOrder(ctx context.Context, caller *models.Caller, id string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanRead(order) {
		return nil, apperrors.ErrForbidden
	}
	return order, nil
}

// GetOrderStatus returns the status view polled by the storefront. It is
// served from the cache when possible. Misses only fill the cache once the
// payment is settled.
func (s *OrderService) GetOrderStatus(ctx context.Context, caller *models.Caller, id string) (*models.OrderStatusView, error) {
	order, err := s.cache.Get(ctx, id)
	if err != nil || order == nil {
		order, err = s.orders.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// a pending order can settle between the read and the write, and
		// the eviction on that transition would already have run
		if order.Status.IsTerminal() {
			if err := s.cache.Set(ctx, order); err != nil {
				s.logger.Warn("Failed to cache order", logging.Fields{"order_id": id, "error": err})
			}
		}
	} else {
		s.logger.Debug("Order found in cache", logging.Fields{"order_id": id})
	}

	if !caller.CanRead(order) {
		return nil, apperrors.ErrForbidden
	}
	return &models.OrderStatusView{OrderID: order.ID, Status: order.Status}, nil
}

// ListOrders lists full orders. Admin only.
func (s *OrderService) ListOrders(ctx context.Context, caller *models.Caller, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, 0, apperrors.ErrForbidden
	}
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, 0, err
	}
	return s.orders.List(ctx, filter)
}

// ListMaskedOrders lists the PII-reduced projection. Staff only.
func (s *OrderService) ListMaskedOrders(ctx context.Context, caller *models.Caller, limit, offset int) ([]*models.MaskedOrder, error) {
	if !caller.IsStaff() {
		return nil, apperrors.ErrForbidden
	}
	filter := &models.OrderListFilter{Limit: limit, Offset: offset}
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, err
	}
	return s.access.ListMaskedOrders(ctx, filter.Limit, filter.Offset)
}

// ListUsers lists profiles with their roles. Admin only.
func (s *OrderService) ListUsers(ctx context.Context, caller *models.Caller, limit, offset int) ([]*models.UserAccount, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.ErrForbidden
	}
	filter := &models.OrderListFilter{Limit: limit, Offset: offset}
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, err
	}
	return s.access.ListUsers(ctx, filter.Limit, filter.Offset)
}

// ListCustomers lists accounts without a staff role. Admin only.
func (s *OrderService) ListCustomers(ctx context.Context, caller *models.Caller, limit, offset int) ([]*models.UserAccount, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.ErrForbidden
	}
	filter := &models.OrderListFilter{Limit: limit, Offset: offset}
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, err
	}
	return s.access.ListCustomers(ctx, filter.Limit, filter.Offset)
}

// HasRole reports whether userID holds role.
func (s *OrderService) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	return s.access.HasRole(ctx, userID, role)
}

// ResolveCaller turns a bearer token into the caller identity.
func (s *OrderService) ResolveCaller(ctx context.Context, token string) (*models.Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.ErrUnauthorized
	}

	userID, err := s.access.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	roles, err := s.access.Roles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}

	caller := &models.Caller{UserID: userID, Roles: roles}
	if profile, err := s.access.GetProfile(ctx, userID); err == nil {
		caller.Email = profile.Email
	}
	return caller, nil
}

// ValidateOrderListFilter checks and defaults paging.
func ValidateOrderListFilter(filter *models.OrderListFilter) error {
	if filter.Limit < 0 {
		return apperrors.NewValidationError("limit", "limit cannot be negative")
	}
	if filter.Offset < 0 {
		return apperrors.NewValidationError("offset", "offset cannot be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return nil
}
