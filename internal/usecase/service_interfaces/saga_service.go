package service_interfaces

import (
	"context"

	"github.com/financer/ledger-core/internal/domain"
)

type SagaService interface {
	CreateSaga(ctx context.Context, businessKey, sagaType, correlationID string, steps []domain.SagaStep) (domain.Saga, error)
	StartSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error)
	CompleteSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error)
	FailSaga(ctx context.Context, id domain.SagaID, errorMessage string) (domain.Saga, error)
	MarkCompensated(ctx context.Context, id domain.SagaID) (domain.Saga, error)
	AbortSaga(ctx context.Context, id domain.SagaID, reason string) (domain.Saga, error)
	UpdateSagaContext(ctx context.Context, id domain.SagaID, key, value string) (domain.Saga, error)
	GetSaga(ctx context.Context, id domain.SagaID) (domain.Saga, error)
	GetSagaByBusinessKey(ctx context.Context, businessKey string) (domain.Saga, error)
	ActiveSagas(ctx context.Context) ([]domain.Saga, error)
	SagasNeedingCompensation(ctx context.Context) ([]domain.Saga, error)
}
