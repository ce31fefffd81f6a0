package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financer/ledger-core/internal/adapter/repository/memory"
	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

// scriptedExecutor fails the steps named in failActions (or failCompensations)
// and records every call in order.
type scriptedExecutor struct {
	mu sync.Mutex

	failActions       map[string]error
	failCompensations map[string]error
	payloads          map[string]map[string]string

	actionCalls       []string
	compensationCalls []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		failActions:       map[string]error{},
		failCompensations: map[string]error{},
		payloads:          map[string]map[string]string{},
	}
}

func (e *scriptedExecutor) ExecuteAction(_ context.Context, _ domain.Saga, step domain.SagaStep) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actionCalls = append(e.actionCalls, step.StepName)
	if err := e.failActions[step.StepName]; err != nil {
		return nil, err
	}
	return e.payloads[step.StepName], nil
}

func (e *scriptedExecutor) ExecuteCompensation(_ context.Context, _ domain.Saga, step domain.SagaStep) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compensationCalls = append(e.compensationCalls, step.StepName)
	return e.failCompensations[step.StepName]
}

func newCoordinatorFixture(t *testing.T, executor services.StepExecutor, stepNames ...string) (*services.SagaCoordinator, *services.SagaService, domain.Saga) {
	t.Helper()

	sagaService := services.NewSagaService(memory.NewSagaRepository())
	coordinator := services.NewSagaCoordinator(sagaService, executor)

	steps := make([]domain.SagaStep, 0, len(stepNames))
	for i, name := range stepNames {
		step, err := domain.NewSagaStep(name, "LEDGER", i+1, "account-service", "DO", "UNDO")
		require.NoError(t, err)
		steps = append(steps, step)
	}

	saga, err := sagaService.CreateSaga(context.Background(), "bk-"+t.Name(), "TRANSFER", "corr", steps)
	require.NoError(t, err)

	return coordinator, sagaService, saga
}

func TestRunSagaCompletesAllSteps(t *testing.T) {
	executor := newScriptedExecutor()
	executor.payloads["debit"] = map[string]string{"debitReference": "d-1"}
	coordinator, _, saga := newCoordinatorFixture(t, executor, "debit", "credit")

	result, report, err := coordinator.RunSaga(context.Background(), saga.ID)
	require.NoError(t, err)
	require.Nil(t, report)

	assert.Equal(t, domain.SagaStatusCompleted, result.Status)
	assert.Equal(t, []string{"debit", "credit"}, executor.actionCalls)
	assert.Equal(t, "d-1", result.ContextValue("debitReference"))
	for _, step := range result.Steps {
		assert.Equal(t, domain.SagaStepStatusCompleted, step.Status)
	}
}

func TestRunSagaFailureCompensatesInReverseOrder(t *testing.T) {
	executor := newScriptedExecutor()
	executor.failActions["notify"] = errors.New("notify down")
	coordinator, _, saga := newCoordinatorFixture(t, executor, "debit", "credit", "notify")

	result, report, err := coordinator.RunSaga(context.Background(), saga.ID)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, domain.SagaStatusCompensated, result.Status)
	assert.Equal(t, []string{"credit", "debit"}, executor.compensationCalls)
	assert.Equal(t, []string{"credit", "debit"}, report.CompensatedSteps)
	assert.True(t, report.FullyCompensated())

	failed, ok := result.StepByName("notify")
	require.True(t, ok)
	assert.Equal(t, domain.SagaStepStatusFailed, failed.Status)

	for _, name := range []string{"debit", "credit"} {
		step, ok := result.StepByName(name)
		require.True(t, ok)
		assert.Equal(t, domain.SagaStepStatusCompensated, step.Status)
	}
}

func TestRunSagaFirstStepFailureHasNothingToCompensate(t *testing.T) {
	executor := newScriptedExecutor()
	executor.failActions["debit"] = errors.New("ledger down")
	coordinator, _, saga := newCoordinatorFixture(t, executor, "debit", "credit")

	result, report, err := coordinator.RunSaga(context.Background(), saga.ID)
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, domain.SagaStatusFailed, result.Status)
	assert.Empty(t, report.AttemptedSteps)
	assert.Empty(t, executor.compensationCalls)

	credit, ok := result.StepByName("credit")
	require.True(t, ok)
	assert.Equal(t, domain.SagaStepStatusPending, credit.Status)
}

func TestRunSagaRetriesFailedStep(t *testing.T) {
	executor := &flakyExecutor{failuresLeft: 2}
	coordinator, _, saga := newCoordinatorFixture(t, executor, "debit")

	result, report, err := coordinator.RunSaga(context.Background(), saga.ID)
	require.NoError(t, err)
	require.Nil(t, report)

	assert.Equal(t, domain.SagaStatusCompleted, result.Status)
	assert.Equal(t, 3, executor.calls)
}

// flakyExecutor fails the first failuresLeft attempts, then succeeds.
type flakyExecutor struct {
	mu           sync.Mutex
	failuresLeft int
	calls        int
}

func (e *flakyExecutor) ExecuteAction(_ context.Context, _ domain.Saga, _ domain.SagaStep) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failuresLeft > 0 {
		e.failuresLeft--
		return nil, errors.New("transient failure")
	}
	return nil, nil
}

func (e *flakyExecutor) ExecuteCompensation(_ context.Context, _ domain.Saga, _ domain.SagaStep) error {
	return nil
}

func TestCompensationFailureIsReportedNotSwallowed(t *testing.T) {
	executor := newScriptedExecutor()
	executor.failActions["notify"] = errors.New("notify down")
	executor.failCompensations["credit"] = errors.New("undo refused")
	coordinator, _, saga := newCoordinatorFixture(t, executor, "debit", "credit", "notify")

	result, report, err := coordinator.RunSaga(context.Background(), saga.ID)
	require.Error(t, err)
	require.NotNil(t, report)

	// The unwind is best effort: the earlier step is still compensated and
	// the saga still ends COMPENSATED.
	assert.Equal(t, domain.SagaStatusCompensated, result.Status)
	assert.Equal(t, []string{"credit", "debit"}, report.AttemptedSteps)
	assert.Equal(t, []string{"debit"}, report.CompensatedSteps)
	require.Len(t, report.Failures, 1)
	assert.False(t, report.FullyCompensated())

	var compErr *domain.CompensationError
	require.ErrorAs(t, report.Failures[0], &compErr)
	assert.Equal(t, "credit", compErr.StepName)

	credit, ok := result.StepByName("credit")
	require.True(t, ok)
	assert.Equal(t, domain.SagaStepStatusCompensating, credit.Status)
}

func TestHandleStepSignalsCompleteSaga(t *testing.T) {
	executor := newScriptedExecutor()
	coordinator, sagaService, saga := newCoordinatorFixture(t, executor, "debit", "credit")

	_, err := sagaService.StartSaga(context.Background(), saga.ID)
	require.NoError(t, err)

	updated, err := coordinator.HandleStepCompleted(context.Background(), saga.ID, "debit", map[string]string{"ref": "d-9"})
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusExecuting, updated.Status)
	assert.Equal(t, "d-9", updated.ContextValue("ref"))

	updated, err = coordinator.HandleStepCompleted(context.Background(), saga.ID, "credit", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusCompleted, updated.Status)
}

func TestHandleStepFailedCompensatesCompletedSteps(t *testing.T) {
	executor := newScriptedExecutor()
	coordinator, sagaService, saga := newCoordinatorFixture(t, executor, "debit", "credit")

	_, err := sagaService.StartSaga(context.Background(), saga.ID)
	require.NoError(t, err)

	_, err = coordinator.HandleStepCompleted(context.Background(), saga.ID, "debit", nil)
	require.NoError(t, err)

	result, report, err := coordinator.HandleStepFailed(context.Background(), saga.ID, "credit", "downstream timeout")
	require.Error(t, err)
	require.NotNil(t, report)

	assert.Equal(t, domain.SagaStatusCompensated, result.Status)
	assert.Equal(t, []string{"debit"}, report.CompensatedSteps)
	assert.Equal(t, []string{"debit"}, executor.compensationCalls)
}

func TestHandleStepCompletedUnknownStep(t *testing.T) {
	executor := newScriptedExecutor()
	coordinator, sagaService, saga := newCoordinatorFixture(t, executor, "debit")

	_, err := sagaService.StartSaga(context.Background(), saga.ID)
	require.NoError(t, err)

	_, err = coordinator.HandleStepCompleted(context.Background(), saga.ID, "no-such-step", nil)
	require.Error(t, err)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
