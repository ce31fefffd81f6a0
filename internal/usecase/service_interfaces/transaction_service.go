package service_interfaces

import (
	"context"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

type TransactionService interface {
	CalculateFee(txType domain.TransactionType, amount domain.Money) (domain.Money, error)
	CreateTransaction(
		ctx context.Context,
		txType domain.TransactionType,
		sourceAccountID domain.AccountID,
		destinationAccountID *domain.AccountID,
		amount domain.Money,
		description, reference, correlationID string,
	) (domain.Transaction, error)
	Validate(ctx context.Context, t domain.Transaction) (services.ValidationResult, error)
	Execute(ctx context.Context, t domain.Transaction) error
	ProcessTransaction(ctx context.Context, id domain.TransactionID) (domain.Transaction, error)
}
