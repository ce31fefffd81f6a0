package memory

import (
	"context"
	"sync"

	"github.com/financer/ledger-core/internal/domain"
)

// TransactionRepository keeps transactions and their event history in process
// memory. It applies the same optimistic version check as the Postgres
// implementation so services behave identically against either backend.
type TransactionRepository struct {
	mu           sync.RWMutex
	transactions map[string]domain.Transaction
	events       map[string][]domain.TransactionEvent
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		transactions: map[string]domain.Transaction{},
		events:       map[string][]domain.TransactionEvent{},
	}
}

func (r *TransactionRepository) Create(_ context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transaction.Version = 1
	r.appendEvents(transaction)
	stored := transaction.ClearEvents()
	r.transactions[transaction.ID.String()] = stored
	return stored, nil
}

func (r *TransactionRepository) Update(_ context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.transactions[transaction.ID.String()]
	if !ok {
		return domain.Transaction{}, domain.ErrRecordNotFound
	}
	if current.Version != transaction.Version {
		return domain.Transaction{}, domain.ErrVersionConflict
	}

	transaction.Version++
	r.appendEvents(transaction)
	stored := transaction.ClearEvents()
	r.transactions[transaction.ID.String()] = stored
	return stored, nil
}

func (r *TransactionRepository) GetByID(_ context.Context, id domain.TransactionID) (domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	transaction, ok := r.transactions[id.String()]
	if !ok {
		return domain.Transaction{}, domain.ErrRecordNotFound
	}
	return transaction, nil
}

func (r *TransactionRepository) GetByCorrelationID(_ context.Context, correlationID string) (domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found  domain.Transaction
		exists bool
	)
	for _, transaction := range r.transactions {
		if transaction.CorrelationID != correlationID {
			continue
		}
		if !exists || transaction.CreatedAt.Before(found.CreatedAt) {
			found = transaction
			exists = true
		}
	}
	if !exists {
		return domain.Transaction{}, domain.ErrRecordNotFound
	}
	return found, nil
}

func (r *TransactionRepository) ListEvents(_ context.Context, id domain.TransactionID) ([]domain.TransactionEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[id.String()]
	events := make([]domain.TransactionEvent, len(stored))
	copy(events, stored)
	return events, nil
}

func (r *TransactionRepository) appendEvents(transaction domain.Transaction) {
	key := transaction.ID.String()
	r.events[key] = append(r.events[key], transaction.Events...)
}
