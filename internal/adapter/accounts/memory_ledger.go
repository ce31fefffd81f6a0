package accounts

import (
	"context"
	"sync"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

// MemoryLedger is an in-process account ledger. It backs local runs and
// tests; production deployments point the engine at the real account service
// instead. Debits and credits are idempotent by correlation ID.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]domain.Money
	applied  map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: map[string]domain.Money{},
		applied:  map[string]struct{}{},
	}
}

// OpenAccount registers an account with an opening balance. Opening an
// already known account overwrites its balance.
func (l *MemoryLedger) OpenAccount(accountID domain.AccountID, balance domain.Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountID.String()] = balance
}

func (l *MemoryLedger) IsAccountActiveAndExists(_ context.Context, accountID domain.AccountID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.balances[accountID.String()]
	return ok, nil
}

func (l *MemoryLedger) GetBalance(_ context.Context, accountID domain.AccountID) (domain.Money, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[accountID.String()]
	if !ok {
		return domain.Money{}, domain.ErrRecordNotFound
	}
	return balance, nil
}

func (l *MemoryLedger) HasSufficientBalance(_ context.Context, accountID domain.AccountID, amount domain.Money) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[accountID.String()]
	if !ok {
		return false, domain.ErrRecordNotFound
	}
	return balance.GreaterThanOrEqual(amount)
}

func (l *MemoryLedger) Debit(_ context.Context, accountID domain.AccountID, amount domain.Money, correlationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.alreadyApplied("DEBIT", accountID, correlationID) {
		return nil
	}

	balance, ok := l.balances[accountID.String()]
	if !ok {
		return domain.ErrRecordNotFound
	}

	enough, err := balance.GreaterThanOrEqual(amount)
	if err != nil {
		return err
	}
	if !enough {
		return domain.ErrInsufficientBalance
	}

	updated, err := balance.Subtract(amount)
	if err != nil {
		return err
	}

	l.balances[accountID.String()] = updated
	l.markApplied("DEBIT", accountID, correlationID)

	logger.Info("account debited", logger.Fields{
		"accountId":     accountID.String(),
		"amount":        amount.String(),
		"correlationId": correlationID,
	})
	return nil
}

func (l *MemoryLedger) Credit(_ context.Context, accountID domain.AccountID, amount domain.Money, correlationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.alreadyApplied("CREDIT", accountID, correlationID) {
		return nil
	}

	balance, ok := l.balances[accountID.String()]
	if !ok {
		return domain.ErrRecordNotFound
	}

	updated, err := balance.Add(amount)
	if err != nil {
		return err
	}

	l.balances[accountID.String()] = updated
	l.markApplied("CREDIT", accountID, correlationID)

	logger.Info("account credited", logger.Fields{
		"accountId":     accountID.String(),
		"amount":        amount.String(),
		"correlationId": correlationID,
	})
	return nil
}

// Idempotency keys combine the operation, account and correlation ID so a
// transfer's debit and credit under one correlation ID stay distinct.
func (l *MemoryLedger) alreadyApplied(operation string, accountID domain.AccountID, correlationID string) bool {
	if correlationID == "" {
		return false
	}
	_, ok := l.applied[idempotencyKey(operation, accountID, correlationID)]
	return ok
}

func (l *MemoryLedger) markApplied(operation string, accountID domain.AccountID, correlationID string) {
	if correlationID != "" {
		l.applied[idempotencyKey(operation, accountID, correlationID)] = struct{}{}
	}
}

func idempotencyKey(operation string, accountID domain.AccountID, correlationID string) string {
	return operation + ":" + accountID.String() + ":" + correlationID
}

