package service_interfaces

import (
	"context"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

type TransferSagaService interface {
	ExecuteTransfer(
		ctx context.Context,
		sourceAccountID, destinationAccountID domain.AccountID,
		amount domain.Money,
		description, reference, correlationID string,
	) (services.TransferResult, error)
	RecoverPendingCompensations(ctx context.Context) error
}
