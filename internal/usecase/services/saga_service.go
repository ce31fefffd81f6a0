package services

import (
	"context"
	"fmt"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

// SagaService owns the saga lifecycle against the persistence boundary:
// creation, start, completion, failure, compensation bookkeeping and abort.
// The coordinator calls into it; it never talks to remote services itself.
type SagaService struct {
	sagas domain.SagaRepository
}

func NewSagaService(sagas domain.SagaRepository) *SagaService {
	return &SagaService{sagas: sagas}
}

func (s *SagaService) CreateSaga(ctx context.Context, businessKey, sagaType, correlationID string, steps []domain.SagaStep) (domain.Saga, error) {
	logger.Info("creating saga", logger.Fields{
		"businessKey": businessKey,
		"sagaType":    sagaType,
	})

	saga, err := domain.NewSaga(businessKey, sagaType, correlationID)
	if err != nil {
		return domain.Saga{}, err
	}

	for _, step := range steps {
		saga, err = saga.AddStep(step)
		if err != nil {
			return domain.Saga{}, err
		}
	}

	created, err := s.sagas.Create(ctx, saga)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("create saga %s: %w", businessKey, err)
	}
	return created, nil
}

func (s *SagaService) StartSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	if err := saga.ValidateExecution(); err != nil {
		return saga, err
	}

	saga, err = saga.Start()
	if err != nil {
		return saga, err
	}
	return s.save(ctx, saga)
}

// CompleteSaga refuses to complete while any step is neither COMPLETED nor
// SKIPPED.
func (s *SagaService) CompleteSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	for _, step := range saga.Steps {
		if step.Status != domain.SagaStepStatusCompleted && step.Status != domain.SagaStepStatusSkipped {
			return saga, &domain.BusinessRuleError{
				Reason: fmt.Sprintf("cannot complete saga with step %s in status %s", step.StepName, step.Status),
			}
		}
	}

	saga, err = saga.Complete()
	if err != nil {
		return saga, err
	}

	logger.Info("saga completed", logger.Fields{"sagaId": saga.ID.String()})
	return s.save(ctx, saga)
}

// FailSaga marks the saga FAILED and, when completed steps exist, moves it
// straight to COMPENSATING so the coordinator can unwind them.
func (s *SagaService) FailSaga(ctx context.Context, id domain.SagaID, errorMessage string) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	saga, err = saga.Fail(errorMessage)
	if err != nil {
		return saga, err
	}

	if len(saga.CompletedSteps()) > 0 {
		saga, err = saga.StartCompensation()
		if err != nil {
			return saga, err
		}
		logger.Info("saga failed, compensation required", logger.Fields{
			"sagaId": saga.ID.String(),
			"error":  errorMessage,
		})
	} else {
		logger.Info("saga failed, nothing to compensate", logger.Fields{
			"sagaId": saga.ID.String(),
			"error":  errorMessage,
		})
	}

	return s.save(ctx, saga)
}

// MarkCompensated transitions a COMPENSATING saga to COMPENSATED once every
// eligible step has reached a compensation outcome.
func (s *SagaService) MarkCompensated(ctx context.Context, id domain.SagaID) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	if !saga.IsCompensating() {
		return saga, &domain.BusinessRuleError{Reason: "saga is not in compensating state: " + string(saga.Status)}
	}

	saga, err = saga.Compensate()
	if err != nil {
		return saga, err
	}
	return s.save(ctx, saga)
}

func (s *SagaService) AbortSaga(ctx context.Context, id domain.SagaID, reason string) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	saga, err = saga.Abort(reason)
	if err != nil {
		return saga, err
	}

	logger.Info("saga aborted", logger.Fields{
		"sagaId": saga.ID.String(),
		"reason": reason,
	})
	return s.save(ctx, saga)
}

func (s *SagaService) UpdateSagaContext(ctx context.Context, id domain.SagaID, key, value string) (domain.Saga, error) {
	saga, err := s.sagas.GetByID(ctx, id)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("load saga %s: %w", id, err)
	}

	saga = saga.WithContextValue(key, value)
	return s.save(ctx, saga)
}

func (s *SagaService) GetSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error) {
	return s.sagas.GetByID(ctx, id)
}

func (s *SagaService) GetSagaByBusinessKey(ctx context.Context, businessKey string) (domain.Saga, error) {
	return s.sagas.GetByBusinessKey(ctx, businessKey)
}

func (s *SagaService) ActiveSagas(ctx context.Context) ([]domain.Saga, error) {
	return s.sagas.ListActive(ctx)
}

func (s *SagaService) SagasNeedingCompensation(ctx context.Context) ([]domain.Saga, error) {
	return s.sagas.ListNeedingCompensation(ctx)
}

func (s *SagaService) save(ctx context.Context, saga domain.Saga) (domain.Saga, error) {
	updated, err := s.sagas.Update(ctx, saga)
	if err != nil {
		return saga, fmt.Errorf("update saga %s: %w", saga.ID, err)
	}
	return updated, nil
}
