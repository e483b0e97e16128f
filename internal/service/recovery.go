package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/repository"
	"github.com/ovos-raposo/checkout-service/internal/sagalog"
)

const recoveryStep = "recovery"

// RecoveryReport summarises one recovery pass.
type RecoveryReport struct {
	Examined   int `json:"examined"`
	Reconciled int `json:"reconciled"`
	Reverted   int `json:"reverted"`
	Orphaned   int `json:"orphaned"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// SagaTracker reports sagas still executing in this process.
type SagaTracker interface {
	Running(sagaID string) bool
}

// Recovery resolves dispatch sagas that never reached a final state, for
// example because the process died between the provider charge and the
// order update.
type Recovery struct {
	log        sagalog.Repository
	sagas      SagaTracker
	orders     repository.OrderRepository
	reconciler *Reconciler
	logger     *logging.Logger
}

// NewRecovery creates a recovery job. Sagas that sagas reports as running
// are left alone.
func NewRecovery(log sagalog.Repository, sagas SagaTracker, orders repository.OrderRepository, reconciler *Reconciler, logger *logging.Logger) *Recovery {
	return &Recovery{log: log, sagas: sagas, orders: orders, reconciler: reconciler, logger: logger}
}

// Run examines every unfinished saga once. Sagas that cannot be resolved
// now stay unfinished for the next pass.
func (r *Recovery) Run(ctx context.Context) (*RecoveryReport, error) {
	unfinished, err := r.log.ListUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sagas: %w", err)
	}

	report := &RecoveryReport{}
	for _, latest := range unfinished {
		report.Examined++

		if r.sagas.Running(latest.SagaID) {
			report.Skipped++
			continue
		}

		action, err := r.recover(ctx, latest)
		if err != nil {
			report.Failed++
			metrics.SagaRecoveries.WithLabelValues("failed").Inc()
			r.logger.Error("Saga recovery failed", logging.Fields{
				"saga_id":  latest.SagaID,
				"order_id": latest.OrderID,
				"error":    err.Error(),
			})
			continue
		}

		metrics.SagaRecoveries.WithLabelValues(action).Inc()
		switch action {
		case "reconciled":
			report.Reconciled++
		case "reverted":
			report.Reverted++
		case "orphaned":
			report.Orphaned++
		case "skipped":
			report.Skipped++
		}
	}

	if report.Examined > 0 {
		r.logger.Info("Saga recovery finished", logging.Fields{
			"examined":   report.Examined,
			"reconciled": report.Reconciled,
			"reverted":   report.Reverted,
			"orphaned":   report.Orphaned,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
		})
	}
	return report, nil
}

func (r *Recovery) recover(ctx context.Context, latest *sagalog.SagaLog) (string, error) {
	// the saga may have finished after the listing, in another process too
	current, err := r.log.GetLatest(ctx, latest.SagaID)
	if err != nil {
		return "", err
	}
	if current != nil && current.Status.IsFinal() {
		return "skipped", nil
	}

	var payload dispatchPayload
	raw, err := r.log.GetPayload(ctx, latest.SagaID)
	if err != nil && !apperrors.IsNotFound(err) {
		return "", err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", fmt.Errorf("decode saga payload: %w", err)
		}
	}

	history, err := r.log.History(ctx, latest.SagaID)
	if err != nil {
		return "", err
	}

	var paymentID string
	for _, entry := range history {
		if entry.Status == sagalog.StatusStepDone && entry.CurrentStep == StepProviderCharge && entry.Payload != "" {
			var cp chargeCheckpoint
			if err := json.Unmarshal([]byte(entry.Payload), &cp); err == nil {
				paymentID = cp.PaymentID
			}
		}
	}

	orderID := latest.OrderID
	if orderID == "" {
		orderID = payload.OrderID
	}

	order, err := r.orders.GetByID(ctx, orderID)
	if apperrors.IsNotFound(err) {
		r.finish(ctx, latest, sagalog.StatusFailed, "order no longer exists")
		return "orphaned", nil
	}
	if err != nil {
		return "", err
	}

	if paymentID != "" {
		if _, err := r.reconciler.ReconcilePayment(ctx, paymentID); err != nil {
			return "", err
		}
		r.finish(ctx, latest, sagalog.StatusCompleted, "")
		r.logger.Info("Recovered saga from provider state", logging.Fields{
			"saga_id":    latest.SagaID,
			"order_id":   order.ID,
			"payment_id": paymentID,
		})
		return "reconciled", nil
	}

	if payload.PreviousMethod != "" {
		if err := r.orders.RevertAttempt(ctx, order.ID, payload.PreviousMethod, payload.PreviousStatus); err != nil {
			return "", err
		}
	}
	r.finish(ctx, latest, sagalog.StatusFailed, "interrupted before provider charge; attempt reverted")
	r.logger.Info("Reverted interrupted payment attempt", logging.Fields{
		"saga_id":  latest.SagaID,
		"order_id": order.ID,
	})
	return "reverted", nil
}

func (r *Recovery) finish(ctx context.Context, latest *sagalog.SagaLog, status sagalog.Status, msg string) {
	var errs []string
	if msg != "" {
		errs = []string{msg}
	}
	entry := sagalog.NewEntry(ctx, latest.SagaID, latest.OrderID, status, recoveryStep, "", errs)
	if err := r.log.Save(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.Error("Failed to write saga log", logging.Fields{
			"saga_id": latest.SagaID,
			"error":   err.Error(),
		})
	}
}
