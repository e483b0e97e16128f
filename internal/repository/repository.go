package repository

import (
	"context"

	"github.com/ovos-raposo/checkout-service/internal/models"
)

// OrderRepository persists orders.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error)

	// BeginAttempt switches a pending_payment order to method and returns
	// the method it had before. Orders in any other status are rejected.
	BeginAttempt(ctx context.Context, id string, method models.PaymentMethod) (models.PaymentMethod, error)
	// RevertAttempt restores method and status, but only while the order is
	// still pending_payment. A confirmed or cancelled order is left alone.
	RevertAttempt(ctx context.Context, id string, method models.PaymentMethod, status models.OrderStatus) error
	SetPaymentDetails(ctx context.Context, id string, details PaymentDetails) error

	// Transition moves the order from one status to another if and only if
	// it is currently in from. Entering new also claims the downstream
	// notification in the same statement.
	Transition(ctx context.Context, id string, from, to models.OrderStatus, paymentID string) (TransitionResult, error)
	// ClaimNotification marks a new order as notified. It returns true only
	// for the first caller.
	ClaimNotification(ctx context.Context, id string) (bool, error)
}

// PaymentDetails are the provider identifiers stored on an order.
type PaymentDetails struct {
	PaymentID    string
	QRCode       string
	QRCodeBase64 string
}

// TransitionResult reports what a Transition call changed.
type TransitionResult struct {
	Applied bool
	// Notify is true for the single transition that claimed the
	// downstream notification.
	Notify bool
}

// OrderCache caches orders for status polling.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
}

// AccessRepository answers identity and role questions and serves the
// staff read models.
type AccessRepository interface {
	ResolveToken(ctx context.Context, token string) (string, error)
	Roles(ctx context.Context, userID string) ([]models.Role, error)
	HasRole(ctx context.Context, userID string, role models.Role) (bool, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (*models.Profile, error)
	ListMaskedOrders(ctx context.Context, limit, offset int) ([]*models.MaskedOrder, error)
	// ListUsers returns every profile with its roles, newest first.
	ListUsers(ctx context.Context, limit, offset int) ([]*models.UserAccount, error)
	// ListCustomers is ListUsers without staff accounts.
	ListCustomers(ctx context.Context, limit, offset int) ([]*models.UserAccount, error)
}
