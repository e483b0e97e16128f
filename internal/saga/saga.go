// Package saga runs a sequence of steps with compensating actions and
// records every transition to a sagalog.Repository.
package saga

import (
	"context"
	"fmt"
	"sync"

	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/sagalog"
)

// Step is a single unit of work. Compensate undoes Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Checkpointer is implemented by steps that produce state recovery needs,
// such as an external id. The checkpoint is stored with the step's
// STEP_DONE entry.
type Checkpointer interface {
	Checkpoint() string
}

// Orchestrator executes steps in order and rolls back completed steps in
// reverse order when one fails.
type Orchestrator struct {
	log    sagalog.Repository
	logger *logging.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func NewOrchestrator(log sagalog.Repository, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{log: log, logger: logger, active: make(map[string]struct{})}
}

// Saga identifies one execution.
type Saga struct {
	ID      string
	OrderID string
	Payload string
	Steps   []Step
	// Pivot names the step after which the saga can no longer be undone.
	// A later failure leaves it unfinished in the log for recovery.
	Pivot string
}

// IncompleteError is returned when a step after the pivot fails. The
// saga's effects up to the pivot stand.
type IncompleteError struct {
	Step string
	Err  error
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("saga incomplete at %s: %v", e.Step, e.Err)
}

func (e *IncompleteError) Unwrap() error { return e.Err }

// Running reports whether this orchestrator is executing the saga.
func (o *Orchestrator) Running(sagaID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sagaID]
	return ok
}

func (o *Orchestrator) track(sagaID string) func() {
	o.mu.Lock()
	o.active[sagaID] = struct{}{}
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.active, sagaID)
		o.mu.Unlock()
	}
}

// Run executes the saga. The returned error is the failing step's error;
// compensation failures are logged and recorded but not returned. A
// failure after the pivot returns an *IncompleteError and compensates
// nothing.
func (o *Orchestrator) Run(ctx context.Context, s Saga) error {
	defer o.track(s.ID)()

	o.save(ctx, sagalog.NewEntry(ctx, s.ID, s.OrderID, sagalog.StatusStarted, "", s.Payload, nil))

	var done []Step
	pivoted := false
	for _, step := range s.Steps {
		o.logger.Debug("Executing saga step", logging.Fields{"saga_id": s.ID, "step": step.Name()})

		if err := step.Execute(ctx); err != nil {
			if pivoted {
				o.logger.Error("Saga step failed past the point of no return", logging.Fields{
					"saga_id":  s.ID,
					"order_id": s.OrderID,
					"step":     step.Name(),
					"error":    err,
				})
				return &IncompleteError{Step: step.Name(), Err: err}
			}

			msgs := []string{fmt.Sprintf("step %s failed: %v", step.Name(), err)}
			o.logger.Warn("Saga step failed, compensating", logging.Fields{
				"saga_id":  s.ID,
				"order_id": s.OrderID,
				"step":     step.Name(),
				"error":    err,
			})
			o.save(ctx, sagalog.NewEntry(ctx, s.ID, s.OrderID, sagalog.StatusCompensating, step.Name(), "", msgs))

			msgs = append(msgs, o.rollback(ctx, s, done)...)
			o.save(ctx, sagalog.NewEntry(ctx, s.ID, s.OrderID, sagalog.StatusFailed, step.Name(), "", msgs))
			return err
		}

		done = append(done, step)
		var checkpoint string
		if cp, ok := step.(Checkpointer); ok {
			checkpoint = cp.Checkpoint()
		}
		o.save(ctx, sagalog.NewEntry(ctx, s.ID, s.OrderID, sagalog.StatusStepDone, step.Name(), checkpoint, nil))
		if s.Pivot != "" && step.Name() == s.Pivot {
			pivoted = true
		}
	}

	o.save(ctx, sagalog.NewEntry(ctx, s.ID, s.OrderID, sagalog.StatusCompleted, "", "", nil))
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, s Saga, steps []Step) []string {
	var failures []string
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.Compensate(ctx); err != nil {
			o.logger.Error("CRITICAL: compensation failed", logging.Fields{
				"saga_id":  s.ID,
				"order_id": s.OrderID,
				"step":     step.Name(),
				"error":    err,
			})
			failures = append(failures, fmt.Sprintf("compensation of %s failed: %v", step.Name(), err))
		}
	}
	return failures
}

func (o *Orchestrator) save(ctx context.Context, entry *sagalog.SagaLog) {
	// a context cancelled by the caller must not drop the audit row
	if err := o.log.Save(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Error("Failed to write saga log", logging.Fields{
			"saga_id": entry.SagaID,
			"status":  entry.Status,
			"error":   err,
		})
	}
}

// FuncStep adapts closures to Step. CheckpointFn is optional.
type FuncStep struct {
	StepName     string
	ExecuteFn    func(ctx context.Context) error
	CompensateFn func(ctx context.Context) error
	CheckpointFn func() string
}

func (f FuncStep) Name() string { return f.StepName }

func (f FuncStep) Execute(ctx context.Context) error {
	return f.ExecuteFn(ctx)
}

func (f FuncStep) Compensate(ctx context.Context) error {
	if f.CompensateFn == nil {
		return nil
	}
	return f.CompensateFn(ctx)
}

func (f FuncStep) Checkpoint() string {
	if f.CheckpointFn == nil {
		return ""
	}
	return f.CheckpointFn()
}
