package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

// StepExecutor performs a step's remote action, or its compensating action,
// against the service the step names. Implementations map
// serviceName/actionName pairs to concrete calls.
type StepExecutor interface {
	ExecuteAction(ctx context.Context, saga domain.Saga, step domain.SagaStep) (map[string]string, error)
	ExecuteCompensation(ctx context.Context, saga domain.Saga, step domain.SagaStep) error
}

// CompensationReport is the explicit outcome of a compensation pass. A saga
// is marked COMPENSATED once every eligible step was attempted; failures are
// carried here rather than swallowed.
type CompensationReport struct {
	SagaID           domain.SagaID
	AttemptedSteps   []string
	CompensatedSteps []string
	Failures         []error
}

func (r CompensationReport) FullyCompensated() bool {
	return len(r.Failures) == 0
}

// SagaCoordinator drives a saga's steps to completion or unwinds them. It is
// the glue between the saga state machines and the workflow runtime: the
// runtime either lets the coordinator run steps directly (RunSaga) or feeds
// it step outcomes as signals (HandleStepCompleted / HandleStepFailed).
type SagaCoordinator struct {
	sagaService *SagaService
	executor    StepExecutor

	initialRetryInterval time.Duration
	defaultStepTimeout   time.Duration
}

func NewSagaCoordinator(sagaService *SagaService, executor StepExecutor) *SagaCoordinator {
	return &SagaCoordinator{
		sagaService:          sagaService,
		executor:             executor,
		initialRetryInterval: 100 * time.Millisecond,
		defaultStepTimeout:   30 * time.Second,
	}
}

// RunSaga starts the saga and executes its steps in sequence order. On a
// step failure that exhausts its retries the saga is failed and compensated.
func (c *SagaCoordinator) RunSaga(ctx context.Context, id domain.SagaID) (domain.Saga, *CompensationReport, error) {
	saga, err := c.sagaService.StartSaga(ctx, id)
	if err != nil {
		return saga, nil, err
	}

	for _, step := range saga.OrderedSteps() {
		if step.IsTerminal() {
			continue
		}

		saga, err = c.executeStep(ctx, saga, step)
		if err != nil {
			return c.failAndCompensate(ctx, saga, err)
		}
	}

	saga, err = c.sagaService.CompleteSaga(ctx, saga.ID)
	return saga, nil, err
}

// HandleStepCompleted is the signal entry point for an external workflow
// runtime reporting a finished step. Payload entries are merged into the
// saga context. When the last step completes the saga completes.
func (c *SagaCoordinator) HandleStepCompleted(ctx context.Context, id domain.SagaID, stepName string, payload map[string]string) (domain.Saga, error) {
	saga, err := c.sagaService.GetSaga(ctx, id)
	if err != nil {
		return domain.Saga{}, err
	}

	step, ok := saga.StepByName(stepName)
	if !ok {
		return saga, &domain.ValidationError{Field: "stepName", Reason: fmt.Sprintf("saga %s has no step %s", id, stepName)}
	}

	if step.Status == domain.SagaStepStatusPending {
		step, err = step.Start()
		if err != nil {
			return saga, err
		}
	}
	step, err = step.Complete()
	if err != nil {
		return saga, err
	}
	saga = saga.ReplaceStep(step)

	for key, value := range payload {
		saga = saga.WithContextValue(key, value)
	}

	saga, err = c.sagaService.save(ctx, saga)
	if err != nil {
		return saga, err
	}

	if c.allStepsSettled(saga) {
		return c.sagaService.CompleteSaga(ctx, saga.ID)
	}
	return saga, nil
}

// HandleStepFailed records the failure, fails the saga and runs the
// compensation pass.
func (c *SagaCoordinator) HandleStepFailed(ctx context.Context, id domain.SagaID, stepName, errorMessage string) (domain.Saga, *CompensationReport, error) {
	saga, err := c.sagaService.GetSaga(ctx, id)
	if err != nil {
		return domain.Saga{}, nil, err
	}

	step, ok := saga.StepByName(stepName)
	if !ok {
		return saga, nil, &domain.ValidationError{Field: "stepName", Reason: fmt.Sprintf("saga %s has no step %s", id, stepName)}
	}

	if step.Status == domain.SagaStepStatusPending {
		step, err = step.Start()
		if err != nil {
			return saga, nil, err
		}
	}
	step, err = step.Fail(errorMessage)
	if err != nil {
		return saga, nil, err
	}
	saga = saga.ReplaceStep(step)

	saga, err = c.sagaService.save(ctx, saga)
	if err != nil {
		return saga, nil, err
	}

	return c.failAndCompensate(ctx, saga, fmt.Errorf("step %s failed: %s", stepName, errorMessage))
}

// Compensate unwinds the completed steps of a FAILED/COMPENSATING saga in
// strictly decreasing sequence order. The unwind is best effort: a failing
// compensation is recorded and earlier steps are still attempted. The saga
// ends COMPENSATED once every eligible step was attempted.
func (c *SagaCoordinator) Compensate(ctx context.Context, id domain.SagaID) (CompensationReport, error) {
	saga, err := c.sagaService.GetSaga(ctx, id)
	if err != nil {
		return CompensationReport{}, err
	}

	if !saga.IsCompensating() {
		return CompensationReport{}, &domain.BusinessRuleError{Reason: "saga is not in compensating state: " + string(saga.Status)}
	}

	report := CompensationReport{SagaID: saga.ID}

	for _, step := range saga.StepsToCompensate() {
		report.AttemptedSteps = append(report.AttemptedSteps, step.StepName)

		step, err = step.StartCompensation()
		if err != nil {
			report.Failures = append(report.Failures, err)
			continue
		}
		saga = saga.ReplaceStep(step)
		if saga, err = c.sagaService.save(ctx, saga); err != nil {
			return report, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout(step))
		compErr := c.executor.ExecuteCompensation(stepCtx, saga, step)
		cancel()

		if compErr != nil {
			logger.Error("step compensation failed", compErr, logger.Fields{
				"sagaId":   saga.ID.String(),
				"stepName": step.StepName,
			})
			report.Failures = append(report.Failures, &domain.CompensationError{StepName: step.StepName, Err: compErr})
			continue
		}

		step, err = step.Compensate()
		if err != nil {
			report.Failures = append(report.Failures, err)
			continue
		}
		saga = saga.ReplaceStep(step)
		if saga, err = c.sagaService.save(ctx, saga); err != nil {
			return report, err
		}

		report.CompensatedSteps = append(report.CompensatedSteps, step.StepName)
	}

	if _, err = c.sagaService.MarkCompensated(ctx, saga.ID); err != nil {
		return report, err
	}

	logger.Info("saga compensation finished", logger.Fields{
		"sagaId":      saga.ID.String(),
		"attempted":   len(report.AttemptedSteps),
		"compensated": len(report.CompensatedSteps),
		"failures":    len(report.Failures),
	})

	return report, nil
}

// executeStep runs one step with bounded retries. Each attempt gets its own
// deadline from the step's timeout; a timed-out attempt counts as a failure.
func (c *SagaCoordinator) executeStep(ctx context.Context, saga domain.Saga, step domain.SagaStep) (domain.Saga, error) {
	step, err := step.Start()
	if err != nil {
		return saga, err
	}
	saga = saga.ReplaceStep(step)
	if saga, err = c.sagaService.save(ctx, saga); err != nil {
		return saga, err
	}

	var contextUpdates map[string]string

	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.stepTimeout(step))
		defer cancel()

		updates, execErr := c.executor.ExecuteAction(attemptCtx, saga, step)
		if execErr == nil {
			contextUpdates = updates
			return nil
		}

		step = step.IncrementRetryCount()
		if !step.CanRetry() {
			return backoff.Permanent(execErr)
		}

		logger.Info("step attempt failed, retrying", logger.Fields{
			"sagaId":     saga.ID.String(),
			"stepName":   step.StepName,
			"retryCount": step.RetryCount,
		})
		return execErr
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialRetryInterval

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(step.MaxRetryAttempts)), ctx))
	if err != nil {
		failed, failErr := step.Fail(err.Error())
		if failErr != nil {
			return saga, failErr
		}
		saga = saga.ReplaceStep(failed)
		if saga, failErr = c.sagaService.save(ctx, saga); failErr != nil {
			return saga, failErr
		}
		return saga, err
	}

	step, err = step.Complete()
	if err != nil {
		return saga, err
	}
	saga = saga.ReplaceStep(step)

	for key, value := range contextUpdates {
		saga = saga.WithContextValue(key, value)
	}

	return c.sagaService.save(ctx, saga)
}

func (c *SagaCoordinator) failAndCompensate(ctx context.Context, saga domain.Saga, cause error) (domain.Saga, *CompensationReport, error) {
	saga, err := c.sagaService.FailSaga(ctx, saga.ID, cause.Error())
	if err != nil {
		return saga, nil, err
	}

	if !saga.IsCompensating() {
		// Nothing completed yet, nothing to unwind.
		return saga, &CompensationReport{SagaID: saga.ID}, cause
	}

	report, err := c.Compensate(ctx, saga.ID)
	if err != nil {
		return saga, &report, err
	}

	saga, err = c.sagaService.GetSaga(ctx, saga.ID)
	if err != nil {
		return saga, &report, err
	}
	return saga, &report, cause
}

func (c *SagaCoordinator) allStepsSettled(saga domain.Saga) bool {
	for _, step := range saga.Steps {
		if step.Status != domain.SagaStepStatusCompleted && step.Status != domain.SagaStepStatusSkipped {
			return false
		}
	}
	return true
}

func (c *SagaCoordinator) stepTimeout(step domain.SagaStep) time.Duration {
	if step.TimeoutSeconds > 0 {
		return time.Duration(step.TimeoutSeconds) * time.Second
	}
	return c.defaultStepTimeout
}
