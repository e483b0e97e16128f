package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

var _ OrderRepository = (*PostgresOrderRepository)(nil)

// ErrNotPayable is returned when a payment attempt targets an order that is
// not waiting for payment.
var ErrNotPayable = errors.New("order is not pending payment")

const orderColumns = `
	id, user_id, customer_name, phone, delivery_address, delivery_neighborhood,
	delivery_city, items, total, payment_method, status, payment_id,
	pix_qr_code, pix_qr_code_base64, notes, whatsapp_message_id, notified_at,
	created_at, updated_at`

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, logger *logging.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order. The caller sets ID, status and total.
func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	query := `
		INSERT INTO orders (
			id, user_id, customer_name, phone, delivery_address, delivery_neighborhood,
			delivery_city, items, total, payment_method, status, notes,
			whatsapp_message_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		order.ID,
		order.UserID,
		order.CustomerName,
		order.Phone,
		order.DeliveryAddress,
		order.DeliveryNeighborhood,
		order.DeliveryCity,
		itemsJSON,
		order.Total,
		order.PaymentMethod,
		order.Status,
		order.Notes,
		order.WhatsAppMessageID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return fmt.Errorf("order %s: %w", order.ID, apperrors.ErrConflict)
		}
		r.logger.Error("Failed to create order", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return err
	}

	r.logger.Info("Order created", logging.Fields{
		"order_id":       order.ID,
		"status":         order.Status,
		"payment_method": order.PaymentMethod,
		"total":          order.Total.StringFixed(2),
	})
	return nil
}

// GetByID retrieves an order by its identifier.
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}
	return order, nil
}

// List retrieves orders newest first.
func (r *PostgresOrderRepository) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	where := ""
	args := make([]interface{}, 0, 3)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = " WHERE status = $1"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitIdx := len(args) + 1
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(limitIdx) + ` OFFSET $` + strconv.Itoa(limitIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// BeginAttempt records the method of a new payment attempt.
func (r *PostgresOrderRepository) BeginAttempt(ctx context.Context, id string, method models.PaymentMethod) (models.PaymentMethod, error) {
	query := `
		WITH prev AS (
			SELECT id, payment_method FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders o
		SET payment_method = $2, updated_at = now()
		FROM prev
		WHERE o.id = prev.id AND o.status = $3
		RETURNING prev.payment_method
	`

	var previous models.PaymentMethod
	err := r.db.QueryRowContext(ctx, query, id, method, models.OrderStatusPendingPayment).Scan(&previous)
	if err == sql.ErrNoRows {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return "", getErr
		}
		return "", ErrNotPayable
	}
	if err != nil {
		return "", err
	}
	return previous, nil
}

// RevertAttempt restores the pre-attempt method and status.
func (r *PostgresOrderRepository) RevertAttempt(ctx context.Context, id string, method models.PaymentMethod, status models.OrderStatus) error {
	query := `
		UPDATE orders
		SET payment_method = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, id, method, status, models.OrderStatusPendingPayment)
	if err != nil {
		return err
	}

	if n, _ := result.RowsAffected(); n == 0 {
		r.logger.Warn("Revert skipped, order left pending state", logging.Fields{"order_id": id})
		return nil
	}

	r.logger.Info("Payment attempt reverted", logging.Fields{
		"order_id": id,
		"status":   status,
		"method":   method,
	})
	return nil
}

// SetPaymentDetails stores provider identifiers. Empty QR fields keep the
// stored values.
func (r *PostgresOrderRepository) SetPaymentDetails(ctx context.Context, id string, details PaymentDetails) error {
	query := `
		UPDATE orders
		SET payment_id = $2,
		    pix_qr_code = COALESCE(NULLIF($3::text, ''), pix_qr_code),
		    pix_qr_code_base64 = COALESCE(NULLIF($4::text, ''), pix_qr_code_base64),
		    updated_at = now()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, details.PaymentID, details.QRCode, details.QRCodeBase64)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}

	r.logger.Info("Payment details set", logging.Fields{
		"order_id":   id,
		"payment_id": details.PaymentID,
	})
	return nil
}

// Transition applies a conditional status change.
func (r *PostgresOrderRepository) Transition(ctx context.Context, id string, from, to models.OrderStatus, paymentID string) (TransitionResult, error) {
	query := `
		WITH prev AS (
			SELECT id, notified_at FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders o
		SET status = $3,
		    payment_id = COALESCE(NULLIF($4::text, ''), o.payment_id),
		    notified_at = CASE WHEN $3::text = 'new' AND o.notified_at IS NULL THEN now() ELSE o.notified_at END,
		    updated_at = now()
		FROM prev
		WHERE o.id = prev.id AND o.status = $2
		RETURNING prev.notified_at IS NULL AND o.notified_at IS NOT NULL
	`

	var notify bool
	err := r.db.QueryRowContext(ctx, query, id, from, to, paymentID).Scan(&notify)
	if err == sql.ErrNoRows {
		return TransitionResult{}, nil
	}
	if err != nil {
		r.logger.Error("Failed to transition order", logging.Fields{
			"order_id": id,
			"from":     from,
			"to":       to,
			"error":    err.Error(),
		})
		return TransitionResult{}, err
	}

	r.logger.Info("Order status transitioned", logging.Fields{
		"order_id": id,
		"from":     from,
		"to":       to,
		"notify":   notify,
	})
	return TransitionResult{Applied: true, Notify: notify}, nil
}

// ClaimNotification sets notified_at on a new order once.
func (r *PostgresOrderRepository) ClaimNotification(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE orders
		SET notified_at = now()
		WHERE id = $1 AND status = $2 AND notified_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, models.OrderStatusNew)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var itemsJSON []byte
	var paymentID, qrCode, qrCodeBase64, whatsappID sql.NullString
	var notifiedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.CustomerName,
		&order.Phone,
		&order.DeliveryAddress,
		&order.DeliveryNeighborhood,
		&order.DeliveryCity,
		&itemsJSON,
		&order.Total,
		&order.PaymentMethod,
		&order.Status,
		&paymentID,
		&qrCode,
		&qrCodeBase64,
		&order.Notes,
		&whatsappID,
		&notifiedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, err
	}

	order.PaymentID = nullString(paymentID)
	order.PixQRCode = nullString(qrCode)
	order.PixQRCodeBase64 = nullString(qrCodeBase64)
	order.WhatsAppMessageID = nullString(whatsappID)
	if notifiedAt.Valid {
		order.NotifiedAt = &notifiedAt.Time
	}

	return &order, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
