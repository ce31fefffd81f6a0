package workflow

import (
	"context"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

// Runtime is the process-orchestration boundary. A saga is started as a
// workflow instance keyed by its business key; step outcomes come back as
// signals. Implementations may delegate to an external engine or run the
// steps in process.
type Runtime interface {
	StartWorkflow(ctx context.Context, sagaID domain.SagaID) error
	SignalStepCompleted(ctx context.Context, sagaID domain.SagaID, stepName string, payload map[string]string) error
	SignalStepFailed(ctx context.Context, sagaID domain.SagaID, stepName, errorMessage string) error
	TriggerCompensation(ctx context.Context, sagaID domain.SagaID) (services.CompensationReport, error)
	Abort(ctx context.Context, sagaID domain.SagaID, reason string) error
}

// InProcessRuntime drives sagas with the coordinator inside this process.
// Workflow starts are queued onto a worker pool so callers are not blocked
// for the full run of the saga.
type InProcessRuntime struct {
	coordinator *services.SagaCoordinator
	sagaService *services.SagaService
	pool        *Pool
}

func NewInProcessRuntime(coordinator *services.SagaCoordinator, sagaService *services.SagaService, pool *Pool) *InProcessRuntime {
	return &InProcessRuntime{
		coordinator: coordinator,
		sagaService: sagaService,
		pool:        pool,
	}
}

func (r *InProcessRuntime) StartWorkflow(_ context.Context, sagaID domain.SagaID) error {
	if !r.pool.Submit(SagaJob{SagaID: sagaID}) {
		return &domain.BusinessRuleError{Reason: "workflow queue is full"}
	}
	return nil
}

func (r *InProcessRuntime) SignalStepCompleted(ctx context.Context, sagaID domain.SagaID, stepName string, payload map[string]string) error {
	_, err := r.coordinator.HandleStepCompleted(ctx, sagaID, stepName, payload)
	return err
}

func (r *InProcessRuntime) SignalStepFailed(ctx context.Context, sagaID domain.SagaID, stepName, errorMessage string) error {
	_, _, err := r.coordinator.HandleStepFailed(ctx, sagaID, stepName, errorMessage)
	return err
}

func (r *InProcessRuntime) TriggerCompensation(ctx context.Context, sagaID domain.SagaID) (services.CompensationReport, error) {
	return r.coordinator.Compensate(ctx, sagaID)
}

func (r *InProcessRuntime) Abort(ctx context.Context, sagaID domain.SagaID, reason string) error {
	_, err := r.sagaService.AbortSaga(ctx, sagaID, reason)
	return err
}
