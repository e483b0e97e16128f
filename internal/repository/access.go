package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

var _ AccessRepository = (*PostgresAccessRepository)(nil)

// PostgresAccessRepository reads profiles, roles and sessions.
type PostgresAccessRepository struct {
	db *sqlx.DB
}

func NewPostgresAccessRepository(db *sql.DB) *PostgresAccessRepository {
	return &PostgresAccessRepository{db: sqlx.NewDb(db, "postgres")}
}

// ResolveToken returns the user owning an unexpired bearer token.
func (r *PostgresAccessRepository) ResolveToken(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.db.GetContext(ctx, &userID,
		`SELECT user_id FROM auth_tokens WHERE token = $1 AND expires_at > $2`,
		token, time.Now().UTC())
	if err == sql.ErrNoRows {
		return "", apperrors.ErrUnauthorized
	}
	return userID, err
}

func (r *PostgresAccessRepository) Roles(ctx context.Context, userID string) ([]models.Role, error) {
	roles := make([]models.Role, 0, 2)
	err := r.db.SelectContext(ctx, &roles,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	return roles, err
}

// HasRole calls the has_role SQL function.
func (r *PostgresAccessRepository) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT has_role($1, $2)`, userID, role)
	return ok, err
}

func (r *PostgresAccessRepository) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p,
		`SELECT user_id, full_name, phone, email FROM profiles WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresAccessRepository) GetProfileByPhone(ctx context.Context, phone string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.GetContext(ctx, &p,
		`SELECT user_id, full_name, phone, email FROM profiles WHERE phone = $1 LIMIT 1`, phone)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListMaskedOrders returns orders with customer PII reduced.
func (r *PostgresAccessRepository) ListMaskedOrders(ctx context.Context, limit, offset int) ([]*models.MaskedOrder, error) {
	rows := make([]*models.MaskedOrder, 0)
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, customer_name, phone, delivery_address, delivery_neighborhood,
		       delivery_city, items, total, status, notes, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}

	for _, o := range rows {
		o.CustomerName = models.FirstName(o.CustomerName)
		o.Phone = models.MaskPhone(o.Phone)
		if err := json.Unmarshal(o.ItemsJSON, &o.Items); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

type accountRow struct {
	models.Profile
	Roles pq.StringArray `db:"roles"`
}

const accountsQuery = `
	SELECT p.user_id, p.full_name, p.phone, p.email,
	       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles
	FROM profiles p
	LEFT JOIN user_roles r ON r.user_id = p.user_id
	GROUP BY p.user_id
	HAVING $3 OR NOT COALESCE(bool_or(r.role = ANY($4)), false)
	ORDER BY p.created_at DESC
	LIMIT $1 OFFSET $2`

func (r *PostgresAccessRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.UserAccount, error) {
	return r.accounts(ctx, limit, offset, true)
}

func (r *PostgresAccessRepository) ListCustomers(ctx context.Context, limit, offset int) ([]*models.UserAccount, error) {
	return r.accounts(ctx, limit, offset, false)
}

func (r *PostgresAccessRepository) accounts(ctx context.Context, limit, offset int, withStaff bool) ([]*models.UserAccount, error) {
	staff := make([]string, 0, len(models.StaffRoles))
	for _, role := range models.StaffRoles {
		staff = append(staff, string(role))
	}

	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, accountsQuery, limit, offset, withStaff, pq.Array(staff)); err != nil {
		return nil, err
	}

	out := make([]*models.UserAccount, 0, len(rows))
	for _, row := range rows {
		acc := &models.UserAccount{Profile: row.Profile, Roles: make([]models.Role, 0, len(row.Roles))}
		for _, role := range row.Roles {
			acc.Roles = append(acc.Roles, models.Role(role))
		}
		out = append(out, acc)
	}
	return out, nil
}
