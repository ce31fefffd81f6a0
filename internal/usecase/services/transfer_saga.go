package services

import (
	"context"
	"fmt"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

const (
	SagaTypeTransfer = "TRANSFER"

	StepDebitSource       = "DEBIT_SOURCE_ACCOUNT"
	StepCreditDestination = "CREDIT_DESTINATION_ACCOUNT"

	ActionDebit  = "DEBIT"
	ActionCredit = "CREDIT"

	accountServiceName = "account-service"

	paramAccountID = "accountId"
	paramAmount    = "amount"
	paramCurrency  = "currency"
)

// BuildTransferSteps maps a transfer transaction onto the two remote calls a
// transfer saga performs. Each step names the action that undoes it: the
// source debit is compensated by crediting the total back, the destination
// credit by debiting the amount back.
func BuildTransferSteps(t domain.Transaction) ([]domain.SagaStep, error) {
	if t.Type != domain.TransactionTypeTransfer || t.DestinationAccountID == nil {
		return nil, &domain.ValidationError{Field: "type", Reason: "transfer saga requires a transfer transaction with a destination"}
	}

	total, err := t.TotalAmount()
	if err != nil {
		return nil, err
	}

	debit, err := domain.NewSagaStep(StepDebitSource, "LEDGER", 1, accountServiceName, ActionDebit, ActionCredit)
	if err != nil {
		return nil, err
	}
	debit = debit.
		WithParameter(paramAccountID, t.SourceAccountID.String()).
		WithParameter(paramAmount, total.Amount().StringFixed(2)).
		WithParameter(paramCurrency, total.Currency()).
		WithTimeout(30)

	credit, err := domain.NewSagaStep(StepCreditDestination, "LEDGER", 2, accountServiceName, ActionCredit, ActionDebit)
	if err != nil {
		return nil, err
	}
	credit = credit.
		WithParameter(paramAccountID, t.DestinationAccountID.String()).
		WithParameter(paramAmount, t.Amount.Amount().StringFixed(2)).
		WithParameter(paramCurrency, t.Amount.Currency()).
		WithTimeout(30)

	return []domain.SagaStep{debit, credit}, nil
}

// AccountStepExecutor executes saga steps whose actions are account ledger
// operations. Compensation calls carry a derived correlation ID so the
// account service can keep them idempotent separately from the forward call.
type AccountStepExecutor struct {
	accounts domain.AccountService
}

func NewAccountStepExecutor(accounts domain.AccountService) *AccountStepExecutor {
	return &AccountStepExecutor{accounts: accounts}
}

func (e *AccountStepExecutor) ExecuteAction(ctx context.Context, saga domain.Saga, step domain.SagaStep) (map[string]string, error) {
	return nil, e.call(ctx, step, step.ActionName, stepCorrelationID(saga, step, false))
}

func (e *AccountStepExecutor) ExecuteCompensation(ctx context.Context, saga domain.Saga, step domain.SagaStep) error {
	return e.call(ctx, step, step.CompensationAction, stepCorrelationID(saga, step, true))
}

func (e *AccountStepExecutor) call(ctx context.Context, step domain.SagaStep, action, correlationID string) error {
	accountID, err := domain.ParseAccountID(step.Parameter(paramAccountID))
	if err != nil {
		return err
	}

	amount, err := domain.NewMoneyFromString(step.Parameter(paramAmount), step.Parameter(paramCurrency))
	if err != nil {
		return err
	}

	switch action {
	case ActionDebit:
		if err := e.accounts.Debit(ctx, accountID, amount, correlationID); err != nil {
			return &domain.RemoteCallError{Operation: "debit", Err: err}
		}
	case ActionCredit:
		if err := e.accounts.Credit(ctx, accountID, amount, correlationID); err != nil {
			return &domain.RemoteCallError{Operation: "credit", Err: err}
		}
	default:
		return &domain.ValidationError{Field: "actionName", Reason: fmt.Sprintf("unknown step action %q", action)}
	}
	return nil
}

func stepCorrelationID(saga domain.Saga, step domain.SagaStep, compensation bool) string {
	id := saga.CorrelationID + ":" + step.StepName
	if compensation {
		id += ":COMP"
	}
	return id
}

// TransferSagaService is the supported path for transfers that must be
// rolled back when the destination credit fails after the source debit
// succeeded. It wraps the transfer transaction in a saga and keeps both
// state machines in agreement.
type TransferSagaService struct {
	transactions *TransactionService
	sagaService  *SagaService
	coordinator  *SagaCoordinator
}

func NewTransferSagaService(transactions *TransactionService, sagaService *SagaService, coordinator *SagaCoordinator) *TransferSagaService {
	return &TransferSagaService{
		transactions: transactions,
		sagaService:  sagaService,
		coordinator:  coordinator,
	}
}

type TransferResult struct {
	Transaction  domain.Transaction
	Saga         domain.Saga
	Compensation *CompensationReport
}

// ExecuteTransfer creates the transfer transaction, validates it, then runs
// the debit/credit steps under saga coordination. A step failure leaves the
// transaction FAILED and the saga COMPENSATED, with the compensation report
// attached to the result.
func (s *TransferSagaService) ExecuteTransfer(
	ctx context.Context,
	sourceAccountID, destinationAccountID domain.AccountID,
	amount domain.Money,
	description, reference, correlationID string,
) (TransferResult, error) {
	transaction, err := s.transactions.CreateTransaction(
		ctx,
		domain.TransactionTypeTransfer,
		sourceAccountID,
		&destinationAccountID,
		amount,
		description,
		reference,
		correlationID,
	)
	if err != nil {
		return TransferResult{}, err
	}

	transaction, err = transaction.Process()
	if err != nil {
		return TransferResult{Transaction: transaction}, err
	}
	transaction, err = s.transactions.persist(ctx, transaction)
	if err != nil {
		return TransferResult{Transaction: transaction}, err
	}

	validation, err := s.transactions.Validate(ctx, transaction)
	if err != nil {
		transaction, _ = s.transactions.failTransaction(ctx, transaction, "VALIDATION_ERROR")
		return TransferResult{Transaction: transaction}, err
	}
	if !validation.Valid {
		transaction, failErr := s.transactions.failTransaction(ctx, transaction, validation.ErrorMessage)
		if failErr != nil {
			return TransferResult{Transaction: transaction}, failErr
		}
		return TransferResult{Transaction: transaction}, &domain.BusinessRuleError{Reason: validation.ErrorMessage}
	}

	steps, err := BuildTransferSteps(transaction)
	if err != nil {
		return TransferResult{Transaction: transaction}, err
	}

	saga, err := s.sagaService.CreateSaga(ctx, "transfer-"+transaction.ID.String(), SagaTypeTransfer, correlationID, steps)
	if err != nil {
		return TransferResult{Transaction: transaction}, err
	}
	saga, err = s.sagaService.UpdateSagaContext(ctx, saga.ID, "transactionId", transaction.ID.String())
	if err != nil {
		return TransferResult{Transaction: transaction, Saga: saga}, err
	}

	saga, report, runErr := s.coordinator.RunSaga(ctx, saga.ID)
	if runErr != nil {
		logger.Error("transfer saga failed", runErr, logger.Fields{
			"transactionId": transaction.ID.String(),
			"sagaId":        saga.ID.String(),
		})
		transaction, failErr := s.transactions.failTransaction(ctx, transaction, "TRANSFER_SAGA_FAILED")
		if failErr != nil {
			return TransferResult{Transaction: transaction, Saga: saga, Compensation: report}, failErr
		}
		return TransferResult{Transaction: transaction, Saga: saga, Compensation: report}, runErr
	}

	transaction, err = transaction.Complete()
	if err != nil {
		return TransferResult{Transaction: transaction, Saga: saga}, err
	}
	transaction, err = s.transactions.persist(ctx, transaction)
	if err != nil {
		return TransferResult{Transaction: transaction, Saga: saga}, err
	}

	logger.Info("transfer completed", logger.Fields{
		"transactionId": transaction.ID.String(),
		"sagaId":        saga.ID.String(),
		"amount":        transaction.Amount.String(),
	})

	return TransferResult{Transaction: transaction, Saga: saga}, nil
}

// RecoverPendingCompensations resumes sagas a previous process left in
// COMPENSATING: completed steps are unwound and the linked transaction, when
// still in flight, is marked FAILED. Per-saga errors are logged and skipped
// so one stuck saga cannot block the rest of the sweep.
func (s *TransferSagaService) RecoverPendingCompensations(ctx context.Context) error {
	sagas, err := s.sagaService.SagasNeedingCompensation(ctx)
	if err != nil {
		return err
	}

	for _, saga := range sagas {
		if !saga.IsCompensating() {
			continue
		}

		report, err := s.coordinator.Compensate(ctx, saga.ID)
		if err != nil {
			logger.Error("saga compensation recovery failed", err, logger.Fields{
				"sagaId": saga.ID.String(),
			})
			continue
		}

		logger.Info("saga compensation recovered", logger.Fields{
			"sagaId":      saga.ID.String(),
			"attempted":   len(report.AttemptedSteps),
			"compensated": len(report.CompensatedSteps),
			"failures":    len(report.Failures),
		})

		if err := s.failRecoveredTransaction(ctx, saga); err != nil {
			logger.Error("failing recovered transaction", err, logger.Fields{
				"sagaId": saga.ID.String(),
			})
		}
	}

	return nil
}

func (s *TransferSagaService) failRecoveredTransaction(ctx context.Context, saga domain.Saga) error {
	raw := saga.ContextValue("transactionId")
	if raw == "" {
		return nil
	}

	id, err := domain.ParseTransactionID(raw)
	if err != nil {
		return err
	}

	transaction, err := s.transactions.transactions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if transaction.IsTerminal() {
		return nil
	}

	_, err = s.transactions.failTransaction(ctx, transaction, "TRANSFER_SAGA_FAILED")
	return err
}
