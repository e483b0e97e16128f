package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/lib/pq"
)

// openTestDB connects to TEST_DATABASE_URL and applies migrations.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newPendingOrder() *models.Order {
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        "user-1",
		CustomerName:  "Maria Souza",
		Phone:         "24999990000",
		DeliveryCity:  "Petrópolis",
		PaymentMethod: models.PaymentMethodPix,
		Status:        models.OrderStatusPendingPayment,
		Items: []models.OrderItem{
			{ProductID: "1", Name: "Dúzia", UnitPrice: decimal.RequireFromString("11.95"), Quantity: 2},
		},
	}
	order.CalculateTotal()
	return order
}

func TestPostgresOrderRepository_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresOrderRepository(db, logging.Nop())
	ctx := context.Background()

	order := newPendingOrder()
	require.NoError(t, repo.Create(ctx, order))

	got, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "23.90", got.Total.StringFixed(2))
	assert.Equal(t, models.OrderStatusPendingPayment, got.Status)
	assert.Nil(t, got.PaymentID)
	require.Len(t, got.Items, 1)

	assert.ErrorIs(t, repo.Create(ctx, order), apperrors.ErrConflict)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPostgresOrderRepository_TransitionNotifiesOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresOrderRepository(db, logging.Nop())
	ctx := context.Background()

	order := newPendingOrder()
	require.NoError(t, repo.Create(ctx, order))

	first, err := repo.Transition(ctx, order.ID, models.OrderStatusPendingPayment, models.OrderStatusNew, "123")
	require.NoError(t, err)
	assert.Equal(t, TransitionResult{Applied: true, Notify: true}, first)

	second, err := repo.Transition(ctx, order.ID, models.OrderStatusPendingPayment, models.OrderStatusNew, "123")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.False(t, second.Notify)

	claimed, err := repo.ClaimNotification(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusNew, got.Status)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, "123", *got.PaymentID)
	assert.NotNil(t, got.NotifiedAt)
}

func TestPostgresOrderRepository_AttemptAndRevert(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresOrderRepository(db, logging.Nop())
	ctx := context.Background()

	order := newPendingOrder()
	require.NoError(t, repo.Create(ctx, order))

	prev, err := repo.BeginAttempt(ctx, order.ID, models.PaymentMethodCreditCard)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodPix, prev)

	require.NoError(t, repo.RevertAttempt(ctx, order.ID, prev, models.OrderStatusPendingPayment))
	got, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMethodPix, got.PaymentMethod)

	_, err = repo.Transition(ctx, order.ID, models.OrderStatusPendingPayment, models.OrderStatusCancelled, "")
	require.NoError(t, err)

	_, err = repo.BeginAttempt(ctx, order.ID, models.PaymentMethodPix)
	assert.ErrorIs(t, err, ErrNotPayable)
}

func TestPostgresAccessRepository_ListUsersAndCustomers(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewPostgresAccessRepository(db)

	buyer, cook := "buyer-"+uuid.NewString(), "staff-"+uuid.NewString()
	_, err := db.ExecContext(ctx, `INSERT INTO profiles (user_id, full_name, created_at) VALUES
		($1, 'Maria Souza', now() + interval '1 hour'),
		($2, 'Edu Expedição', now() + interval '2 hours')`, buyer, cook)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES
		($1, 'customer'), ($2, 'expedition'), ($2, 'customer')`, buyer, cook)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM profiles WHERE user_id IN ($1, $2)`, buyer, cook) })

	users, err := repo.ListUsers(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, cook, users[0].UserID)
	assert.Equal(t, []models.Role{models.RoleCustomer, models.RoleExpedition}, users[0].Roles)
	assert.Equal(t, buyer, users[1].UserID)

	customers, err := repo.ListCustomers(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, buyer, customers[0].UserID)
	assert.Equal(t, "Maria Souza", customers[0].FullName)
}
