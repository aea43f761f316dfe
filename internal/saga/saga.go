// Package saga runs ordered multi-step workflows with undo. A step that
// fails triggers one reverse pass over the compensations of every step that
// already ran. Compensation is best effort: failures are collected, never
// retried, and reported so operators can clean up by hand.
package saga

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Step pairs a forward action with its undo. Compensate may be nil for
// steps with nothing to undo.
type Step struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationFailure records a single undo that did not complete.
type CompensationFailure struct {
	Step string
	Err  error
}

// PartialFailureError means the saga failed AND at least one compensation
// failed, leaving state behind that needs manual intervention.
type PartialFailureError struct {
	Saga        string
	ExecutionID string
	Cause       error
	Failures    []CompensationFailure
}

func (e *PartialFailureError) Error() string {
	steps := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, f.Step)
	}
	return fmt.Sprintf("saga %s (%s) failed: %v; compensation incomplete for steps: %s",
		e.Saga, e.ExecutionID, e.Cause, strings.Join(steps, ", "))
}

func (e *PartialFailureError) Unwrap() error { return e.Cause }

// AbortedError means the saga failed but every compensation succeeded, so no
// partial state remains.
type AbortedError struct {
	Saga        string
	ExecutionID string
	Step        string
	Cause       error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("saga %s (%s) aborted at step %s: %v", e.Saga, e.ExecutionID, e.Step, e.Cause)
}

func (e *AbortedError) Unwrap() error { return e.Cause }

// Runner executes sagas.
type Runner struct {
	log         *zap.Logger
	stepTimeout time.Duration
}

// DefaultStepTimeout bounds each forward or compensating action.
const DefaultStepTimeout = 15 * time.Second

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{
		log:         log.Named("saga"),
		stepTimeout: DefaultStepTimeout,
	}
}

// Execute runs the steps in order. On failure it compensates completed steps
// in reverse order, newest first, exactly once each. Compensations run even
// when the caller's context is already canceled.
func (r *Runner) Execute(ctx context.Context, name string, steps []Step) error {
	executionID := newExecutionID()
	log := r.log.With(
		zap.String("saga", name),
		zap.String("execution_id", executionID),
	)

	for i, step := range steps {
		err := r.runStep(ctx, step.Run)
		if err == nil {
			log.Debug("step completed", zap.String("step", step.Name))
			continue
		}

		log.Warn("step failed, compensating",
			zap.String("step", step.Name),
			zap.Error(err),
		)

		failures := r.compensate(ctx, log, steps[:i])
		if len(failures) > 0 {
			return &PartialFailureError{
				Saga:        name,
				ExecutionID: executionID,
				Cause:       err,
				Failures:    failures,
			}
		}
		return &AbortedError{
			Saga:        name,
			ExecutionID: executionID,
			Step:        step.Name,
			Cause:       err,
		}
	}

	return nil
}

// compensate walks completed steps newest first. Each compensation gets one
// attempt; a failure is recorded and the pass moves on to the next step.
func (r *Runner) compensate(ctx context.Context, log *zap.Logger, completed []Step) []CompensationFailure {
	base := context.WithoutCancel(ctx)

	var failures []CompensationFailure
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := r.runStep(base, step.Compensate); err != nil {
			log.Error("compensation failed",
				zap.String("step", step.Name),
				zap.Error(err),
			)
			failures = append(failures, CompensationFailure{Step: step.Name, Err: err})
			continue
		}
		log.Info("compensated", zap.String("step", step.Name))
	}
	return failures
}

func (r *Runner) runStep(ctx context.Context, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func newExecutionID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
