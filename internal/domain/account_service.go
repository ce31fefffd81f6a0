package domain

import "context"

// AccountService is the remote account-ledger capability the engine executes
// against. Debit and credit are idempotent by correlation ID from the
// caller's perspective; retries beyond the saga/step counters are the
// implementation's concern, not the engine's.
type AccountService interface {
	IsAccountActiveAndExists(ctx context.Context, accountID AccountID) (bool, error)
	GetBalance(ctx context.Context, accountID AccountID) (Money, error)
	HasSufficientBalance(ctx context.Context, accountID AccountID, amount Money) (bool, error)
	Debit(ctx context.Context, accountID AccountID, amount Money, correlationID string) error
	Credit(ctx context.Context, accountID AccountID, amount Money, correlationID string) error
}
