package domain

import "context"

type SagaRepository interface {
	// Create fails with ErrDuplicateBusinessKey when the business key is
	// already taken.
	Create(ctx context.Context, saga Saga) (Saga, error)
	// Update persists the saga and its steps with an optimistic version
	// check.
	Update(ctx context.Context, saga Saga) (Saga, error)
	GetByID(ctx context.Context, id SagaID) (Saga, error)
	GetByBusinessKey(ctx context.Context, businessKey string) (Saga, error)
	ListActive(ctx context.Context) ([]Saga, error)
	ListNeedingCompensation(ctx context.Context) ([]Saga, error)
}
