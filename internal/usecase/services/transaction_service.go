package services

import (
	"context"
	"fmt"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ValidationResult is the typed outcome of per-type business validation.
type ValidationResult struct {
	Valid        bool
	ErrorMessage string
}

func validResult() ValidationResult {
	return ValidationResult{Valid: true}
}

func invalidResult(message string) ValidationResult {
	return ValidationResult{Valid: false, ErrorMessage: message}
}

// typeBehavior bundles the three independent behaviors resolved per
// transaction type: validation, fee calculation and execution.
type typeBehavior struct {
	validate func(ctx context.Context, t domain.Transaction) (ValidationResult, error)
	fee      func(amount domain.Money) (domain.Money, error)
	execute  func(ctx context.Context, t domain.Transaction) error
}

type TransactionService struct {
	accounts     domain.AccountService
	transactions domain.TransactionRepository
	publisher    domain.EventPublisher
	behaviors    map[domain.TransactionType]typeBehavior

	withdrawalFeeRate  decimal.Decimal
	withdrawalFeeFloor decimal.Decimal
	transferFlatFee    decimal.Decimal
}

func NewTransactionService(
	accounts domain.AccountService,
	transactions domain.TransactionRepository,
	publisher domain.EventPublisher,
) *TransactionService {
	s := &TransactionService{
		accounts:           accounts,
		transactions:       transactions,
		publisher:          publisher,
		withdrawalFeeRate:  decimal.RequireFromString("0.001"),
		withdrawalFeeFloor: decimal.RequireFromString("1.00"),
		transferFlatFee:    decimal.RequireFromString("2.00"),
	}
	s.behaviors = s.buildBehaviors()
	return s
}

// buildBehaviors is the single type-to-behavior dispatch table. Every entry
// of domain.AllTransactionTypes must appear here exactly once.
func (s *TransactionService) buildBehaviors() map[domain.TransactionType]typeBehavior {
	creditOnly := typeBehavior{
		validate: s.validateAccountActive,
		fee:      s.zeroFee,
		execute:  s.executeCredit,
	}
	debitWithFee := typeBehavior{
		validate: s.validateSufficientBalance,
		fee:      s.percentageFee,
		execute:  s.executeDebit,
	}

	return map[domain.TransactionType]typeBehavior{
		domain.TransactionTypeDeposit:    creditOnly,
		domain.TransactionTypeRefund:     creditOnly,
		domain.TransactionTypeInterest:   creditOnly,
		domain.TransactionTypeWithdrawal: debitWithFee,
		domain.TransactionTypePayment:    debitWithFee,
		domain.TransactionTypeFee: {
			validate: s.validateSufficientBalance,
			fee:      s.zeroFee,
			execute:  s.executeDebit,
		},
		domain.TransactionTypeAdjustment: {
			validate: s.validateAccountActive,
			fee:      s.zeroFee,
			execute:  s.executeCredit,
		},
		domain.TransactionTypeTransfer: {
			validate: s.validateTransfer,
			fee:      s.flatFee,
			execute:  s.executeTransfer,
		},
	}
}

func (s *TransactionService) behaviorFor(txType domain.TransactionType) (typeBehavior, error) {
	behavior, ok := s.behaviors[txType]
	if !ok {
		return typeBehavior{}, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported transaction type %s", txType)}
	}
	return behavior, nil
}

// CalculateFee resolves the fee for a transaction type and amount without
// constructing a transaction. Used by callers that need the fee up front.
func (s *TransactionService) CalculateFee(txType domain.TransactionType, amount domain.Money) (domain.Money, error) {
	behavior, err := s.behaviorFor(txType)
	if err != nil {
		return domain.Money{}, err
	}
	return behavior.fee(amount)
}

// CreateTransaction builds and persists a new transaction with its
// calculated fee and creation event.
func (s *TransactionService) CreateTransaction(
	ctx context.Context,
	txType domain.TransactionType,
	sourceAccountID domain.AccountID,
	destinationAccountID *domain.AccountID,
	amount domain.Money,
	description, reference, correlationID string,
) (domain.Transaction, error) {
	fee, err := s.CalculateFee(txType, amount)
	if err != nil {
		return domain.Transaction{}, err
	}

	transaction, err := domain.NewTransaction(txType, sourceAccountID, destinationAccountID, amount, fee, description, reference, correlationID)
	if err != nil {
		return domain.Transaction{}, err
	}

	created, err := s.transactions.Create(ctx, transaction)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	logger.Info("transaction created", logger.Fields{
		"transactionId": created.ID.String(),
		"type":          string(created.Type),
		"amount":        created.Amount.String(),
		"fee":           created.Fee.String(),
		"correlationId": created.CorrelationID,
	})

	return created, nil
}

// Validate runs the per-type business validation against the account
// capability. A false result is a business-rule rejection, not an error.
func (s *TransactionService) Validate(ctx context.Context, t domain.Transaction) (ValidationResult, error) {
	behavior, err := s.behaviorFor(t.Type)
	if err != nil {
		return ValidationResult{}, err
	}
	return behavior.validate(ctx, t)
}

// Execute runs the per-type ledger operation. For transfers the debit and
// credit are two sequential remote calls; a credit failure after a
// successful debit surfaces as a RemoteCallError so the saga layer can
// compensate.
func (s *TransactionService) Execute(ctx context.Context, t domain.Transaction) error {
	behavior, err := s.behaviorFor(t.Type)
	if err != nil {
		return err
	}
	return behavior.execute(ctx, t)
}

// ProcessTransaction drives a pending transaction through its full
// lifecycle: PROCESSING, validation, execution, then COMPLETED or FAILED.
// Emitted events are published fire-and-forget after each durable update.
func (s *TransactionService) ProcessTransaction(ctx context.Context, id domain.TransactionID) (domain.Transaction, error) {
	transaction, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("load transaction %s: %w", id, err)
	}

	transaction, err = transaction.Process()
	if err != nil {
		return transaction, err
	}
	transaction, err = s.persist(ctx, transaction)
	if err != nil {
		return transaction, err
	}

	result, err := s.Validate(ctx, transaction)
	if err != nil {
		logger.Error("transaction validation failed", err, logger.Fields{
			"transactionId": transaction.ID.String(),
			"type":          string(transaction.Type),
		})
		failed, failErr := s.failTransaction(ctx, transaction, "VALIDATION_ERROR")
		if failErr != nil {
			return failed, failErr
		}
		return failed, err
	}
	if !result.Valid {
		logger.Info("transaction rejected", logger.Fields{
			"transactionId": transaction.ID.String(),
			"reason":        result.ErrorMessage,
		})
		failed, failErr := s.failTransaction(ctx, transaction, result.ErrorMessage)
		if failErr != nil {
			return failed, failErr
		}
		return failed, &domain.BusinessRuleError{Reason: result.ErrorMessage}
	}

	if err := s.Execute(ctx, transaction); err != nil {
		logger.Error("transaction execution failed", err, logger.Fields{
			"transactionId": transaction.ID.String(),
			"type":          string(transaction.Type),
		})
		failed, failErr := s.failTransaction(ctx, transaction, "EXECUTION_FAILED")
		if failErr != nil {
			return failed, failErr
		}
		return failed, err
	}

	transaction, err = transaction.Complete()
	if err != nil {
		return transaction, err
	}
	return s.persist(ctx, transaction)
}

func (s *TransactionService) failTransaction(ctx context.Context, t domain.Transaction, reasonCode string) (domain.Transaction, error) {
	failed, err := t.Fail(reasonCode)
	if err != nil {
		return t, err
	}
	return s.persist(ctx, failed)
}

// persist stores the snapshot and publishes its pending events. Publishing
// failures are logged only.
func (s *TransactionService) persist(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	events := t.Events

	updated, err := s.transactions.Update(ctx, t)
	if err != nil {
		return t, fmt.Errorf("update transaction %s: %w", t.ID, err)
	}

	if s.publisher != nil && len(events) > 0 {
		if err := s.publisher.Publish(ctx, events); err != nil {
			logger.Error("event publish failed", err, logger.Fields{
				"transactionId": t.ID.String(),
				"eventCount":    len(events),
			})
		}
	}

	return updated, nil
}

// Validation behaviors

func (s *TransactionService) validateAccountActive(ctx context.Context, t domain.Transaction) (ValidationResult, error) {
	active, err := s.accounts.IsAccountActiveAndExists(ctx, t.SourceAccountID)
	if err != nil {
		return ValidationResult{}, &domain.RemoteCallError{Operation: "accountActiveAndExists", Err: err}
	}
	if !active {
		return invalidResult("account does not exist or is inactive"), nil
	}
	return validResult(), nil
}

func (s *TransactionService) validateSufficientBalance(ctx context.Context, t domain.Transaction) (ValidationResult, error) {
	result, err := s.validateAccountActive(ctx, t)
	if err != nil || !result.Valid {
		return result, err
	}

	total, err := t.TotalAmount()
	if err != nil {
		return ValidationResult{}, err
	}

	sufficient, err := s.accounts.HasSufficientBalance(ctx, t.SourceAccountID, total)
	if err != nil {
		return ValidationResult{}, &domain.RemoteCallError{Operation: "hasSufficientBalance", Err: err}
	}
	if !sufficient {
		return invalidResult("insufficient balance"), nil
	}
	return validResult(), nil
}

// validateTransfer runs the three account checks concurrently; the first
// remote failure cancels the rest.
func (s *TransactionService) validateTransfer(ctx context.Context, t domain.Transaction) (ValidationResult, error) {
	if t.DestinationAccountID == nil {
		return invalidResult("transfer requires destination account"), nil
	}

	total, err := t.TotalAmount()
	if err != nil {
		return ValidationResult{}, err
	}

	var sourceActive, destinationActive, sufficient bool
	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		active, err := s.accounts.IsAccountActiveAndExists(groupCtx, t.SourceAccountID)
		if err != nil {
			return &domain.RemoteCallError{Operation: "accountActiveAndExists", Err: err}
		}
		sourceActive = active
		return nil
	})
	g.Go(func() error {
		active, err := s.accounts.IsAccountActiveAndExists(groupCtx, *t.DestinationAccountID)
		if err != nil {
			return &domain.RemoteCallError{Operation: "accountActiveAndExists", Err: err}
		}
		destinationActive = active
		return nil
	})
	g.Go(func() error {
		ok, err := s.accounts.HasSufficientBalance(groupCtx, t.SourceAccountID, total)
		if err != nil {
			return &domain.RemoteCallError{Operation: "hasSufficientBalance", Err: err}
		}
		sufficient = ok
		return nil
	})

	if err := g.Wait(); err != nil {
		return ValidationResult{}, err
	}

	if !sourceActive {
		return invalidResult("source account does not exist or is inactive"), nil
	}
	if !destinationActive {
		return invalidResult("destination account does not exist or is inactive"), nil
	}
	if !sufficient {
		return invalidResult("insufficient balance"), nil
	}
	return validResult(), nil
}

// Fee behaviors

func (s *TransactionService) zeroFee(amount domain.Money) (domain.Money, error) {
	return domain.ZeroMoney(amount.Currency())
}

// percentageFee charges 0.1% of the amount with a fixed floor.
func (s *TransactionService) percentageFee(amount domain.Money) (domain.Money, error) {
	calculated, err := amount.Multiply(s.withdrawalFeeRate)
	if err != nil {
		return domain.Money{}, err
	}

	floor, err := domain.NewMoney(s.withdrawalFeeFloor, amount.Currency())
	if err != nil {
		return domain.Money{}, err
	}

	greater, err := calculated.GreaterThan(floor)
	if err != nil {
		return domain.Money{}, err
	}
	if greater {
		return calculated, nil
	}
	return floor, nil
}

func (s *TransactionService) flatFee(amount domain.Money) (domain.Money, error) {
	return domain.NewMoney(s.transferFlatFee, amount.Currency())
}

// Execution behaviors

func (s *TransactionService) executeCredit(ctx context.Context, t domain.Transaction) error {
	if err := s.accounts.Credit(ctx, t.SourceAccountID, t.Amount, t.CorrelationID); err != nil {
		return &domain.RemoteCallError{Operation: "credit", Err: err}
	}
	return nil
}

func (s *TransactionService) executeDebit(ctx context.Context, t domain.Transaction) error {
	total, err := t.TotalAmount()
	if err != nil {
		return err
	}
	if err := s.accounts.Debit(ctx, t.SourceAccountID, total, t.CorrelationID); err != nil {
		return &domain.RemoteCallError{Operation: "debit", Err: err}
	}
	return nil
}

// executeTransfer debits the source for amount+fee, then credits the
// destination for the amount. The two calls are not atomic; transfers that
// must roll back on a credit failure go through the transfer saga.
func (s *TransactionService) executeTransfer(ctx context.Context, t domain.Transaction) error {
	if t.DestinationAccountID == nil {
		return &domain.ValidationError{Field: "destinationAccountId", Reason: "transfer requires destination account"}
	}

	total, err := t.TotalAmount()
	if err != nil {
		return err
	}

	if err := s.accounts.Debit(ctx, t.SourceAccountID, total, t.CorrelationID); err != nil {
		return &domain.RemoteCallError{Operation: "debit", Err: err}
	}
	if err := s.accounts.Credit(ctx, *t.DestinationAccountID, t.Amount, t.CorrelationID); err != nil {
		return &domain.RemoteCallError{Operation: "credit", Err: err}
	}
	return nil
}
