// Package sagalog is the durable audit trail of payment dispatch sagas.
//
// Each row is one state transition. On restart the recovery job reads the
// latest row per saga and resolves any saga that never reached COMPLETED or
// FAILED by asking the payment provider for the authoritative status.
package sagalog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of a saga execution.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// IsFinal reports whether no further work is expected for the saga.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SagaLog is one row of the saga_logs table.
type SagaLog struct {
	SagaID        string
	OrderID       string
	Status        Status
	CurrentStep   string
	Payload       string
	ErrorMessages string
	TraceID       string
	SpanID        string
	UpdatedAt     time.Time
}

// Repository persists saga log entries. Save appends, never upserts.
type Repository interface {
	Save(ctx context.Context, entry *SagaLog) error
	GetLatest(ctx context.Context, sagaID string) (*SagaLog, error)
	GetPayload(ctx context.Context, sagaID string) (string, error)
	History(ctx context.Context, sagaID string) ([]*SagaLog, error)
	ListUnfinished(ctx context.Context) ([]*SagaLog, error)
}

// NewEntry builds an entry stamped with the trace and span of the active
// span in ctx, when there is one.
func NewEntry(ctx context.Context, sagaID, orderID string, status Status, step, payload string, errs []string) *SagaLog {
	var traceID, spanID string
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
		spanID = sc.SpanID().String()
	}

	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}

	return &SagaLog{
		SagaID:        sagaID,
		OrderID:       orderID,
		Status:        status,
		CurrentStep:   step,
		Payload:       payload,
		ErrorMessages: errJSON,
		TraceID:       traceID,
		SpanID:        spanID,
		UpdatedAt:     time.Now().UTC(),
	}
}
