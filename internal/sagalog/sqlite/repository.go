// Package sqlite is the SQLite implementation of sagalog.Repository.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/sagalog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id         TEXT NOT NULL,
    order_id        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    current_step    TEXT NOT NULL DEFAULT '',
    payload         TEXT,
    error_messages  TEXT NOT NULL DEFAULT '[]',
    trace_id        TEXT NOT NULL DEFAULT '',
    span_id         TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_order_id ON saga_logs(order_id);
`

const timeLayout = "2006-01-02T15:04:05.999999999Z"

type Repository struct {
	db *sql.DB
}

var _ sagalog.Repository = (*Repository)(nil)

// Open opens or creates the database at path in WAL mode. Use ":memory:"
// in tests.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// single writer; also keeps ":memory:" to one shared database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Save appends a log entry.
func (r *Repository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	const q = `
		INSERT INTO saga_logs
			(saga_id, order_id, status, current_step, payload, error_messages, trace_id, span_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.SagaID,
		entry.OrderID,
		string(entry.Status),
		entry.CurrentStep,
		nullableString(entry.Payload),
		entry.ErrorMessages,
		entry.TraceID,
		entry.SpanID,
		entry.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

// GetLatest returns the newest entry for sagaID.
func (r *Repository) GetLatest(ctx context.Context, sagaID string) (*sagalog.SagaLog, error) {
	const q = `
		SELECT saga_id, order_id, status, current_step, COALESCE(payload, ''), error_messages,
		       trace_id, span_id, updated_at
		FROM saga_logs
		WHERE saga_id = ?
		ORDER BY id DESC
		LIMIT 1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, q, sagaID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: saga %q: %w", sagaID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest for %q: %w", sagaID, err)
	}
	return entry, nil
}

// GetPayload returns the payload written with the STARTED entry.
func (r *Repository) GetPayload(ctx context.Context, sagaID string) (string, error) {
	const q = `
		SELECT payload FROM saga_logs
		WHERE saga_id = ? AND payload IS NOT NULL
		ORDER BY id ASC
		LIMIT 1`

	var payload string
	err := r.db.QueryRowContext(ctx, q, sagaID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("sqlite: payload for %q: %w", sagaID, apperrors.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: payload for %q: %w", sagaID, err)
	}
	return payload, nil
}

// History returns every entry of sagaID, oldest first.
func (r *Repository) History(ctx context.Context, sagaID string) ([]*sagalog.SagaLog, error) {
	const q = `
		SELECT saga_id, order_id, status, current_step, COALESCE(payload, ''), error_messages,
		       trace_id, span_id, updated_at
		FROM saga_logs
		WHERE saga_id = ?
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, q, sagaID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history for %q: %w", sagaID, err)
	}
	defer rows.Close()

	var out []*sagalog.SagaLog
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: history for %q: %w", sagaID, err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListUnfinished returns the latest entry of every saga whose latest
// status is neither COMPLETED nor FAILED.
func (r *Repository) ListUnfinished(ctx context.Context) ([]*sagalog.SagaLog, error) {
	const q = `
		SELECT l.saga_id, l.order_id, l.status, l.current_step, COALESCE(l.payload, ''), l.error_messages,
		       l.trace_id, l.span_id, l.updated_at
		FROM saga_logs l
		JOIN (SELECT saga_id, MAX(id) AS max_id FROM saga_logs GROUP BY saga_id) latest
		  ON latest.max_id = l.id
		WHERE l.status NOT IN (?, ?)
		ORDER BY l.id ASC`

	rows, err := r.db.QueryContext(ctx, q, string(sagalog.StatusCompleted), string(sagalog.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list unfinished: %w", err)
	}
	defer rows.Close()

	var out []*sagalog.SagaLog
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list unfinished: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*sagalog.SagaLog, error) {
	var entry sagalog.SagaLog
	var updatedAt string
	if err := row.Scan(
		&entry.SagaID,
		&entry.OrderID,
		&entry.Status,
		&entry.CurrentStep,
		&entry.Payload,
		&entry.ErrorMessages,
		&entry.TraceID,
		&entry.SpanID,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", updatedAt, err)
	}
	entry.UpdatedAt = t
	return &entry, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
