package domain

import "context"

type TransactionRepository interface {
	Create(ctx context.Context, transaction Transaction) (Transaction, error)
	// Update persists the snapshot with an optimistic version check and
	// appends its pending events before clearing them.
	Update(ctx context.Context, transaction Transaction) (Transaction, error)
	GetByID(ctx context.Context, id TransactionID) (Transaction, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (Transaction, error)
	ListEvents(ctx context.Context, id TransactionID) ([]TransactionEvent, error)
}
