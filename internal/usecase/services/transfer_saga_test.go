package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financer/ledger-core/internal/adapter/accounts"
	"github.com/financer/ledger-core/internal/adapter/repository/memory"
	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

type transferFixture struct {
	ledger      *accounts.MemoryLedger
	service     *services.TransferSagaService
	txRepo      *memory.TransactionRepository
	sagaService *services.SagaService
	coordinator *services.SagaCoordinator
	source      domain.AccountID
	destination domain.AccountID
}

// newTransferFixture wires the full transfer stack over an in-memory ledger.
// wrap, when non-nil, decorates the account capability the engine talks to.
func newTransferFixture(t *testing.T, wrap func(transferFixture) domain.AccountService) transferFixture {
	t.Helper()

	f := transferFixture{
		ledger:      accounts.NewMemoryLedger(),
		source:      domain.GenerateAccountID(),
		destination: domain.GenerateAccountID(),
	}
	f.ledger.OpenAccount(f.source, domain.MustMoney("500.00", "BRL"))
	f.ledger.OpenAccount(f.destination, domain.MustMoney("0.00", "BRL"))

	var ledgerAccounts domain.AccountService = f.ledger
	if wrap != nil {
		ledgerAccounts = wrap(f)
	}

	f.txRepo = memory.NewTransactionRepository()
	transactionService := services.NewTransactionService(ledgerAccounts, f.txRepo, &recordingPublisher{})
	f.sagaService = services.NewSagaService(memory.NewSagaRepository())
	f.coordinator = services.NewSagaCoordinator(f.sagaService, services.NewAccountStepExecutor(ledgerAccounts))
	f.service = services.NewTransferSagaService(transactionService, f.sagaService, f.coordinator)

	return f
}

// creditBlockingAccounts delegates to the ledger but refuses credits to one
// account, simulating a destination service outage after the debit succeeded.
type creditBlockingAccounts struct {
	domain.AccountService
	blocked domain.AccountID
}

func (a *creditBlockingAccounts) Credit(ctx context.Context, accountID domain.AccountID, amount domain.Money, correlationID string) error {
	if accountID.String() == a.blocked.String() {
		return errors.New("destination ledger unavailable")
	}
	return a.AccountService.Credit(ctx, accountID, amount, correlationID)
}

func TestExecuteTransferHappyPath(t *testing.T) {
	f := newTransferFixture(t, nil)

	result, err := f.service.ExecuteTransfer(
		context.Background(),
		f.source, f.destination,
		domain.MustMoney("100.00", "BRL"),
		"rent", "ref-7", "corr-transfer-1",
	)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, result.Transaction.Status)
	assert.True(t, result.Transaction.Fee.Equal(domain.MustMoney("2.00", "BRL")))
	assert.Equal(t, domain.SagaStatusCompleted, result.Saga.Status)
	assert.Nil(t, result.Compensation)

	// Source pays amount plus fee; destination receives the amount only.
	sourceBalance, err := f.ledger.GetBalance(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, sourceBalance.Equal(domain.MustMoney("398.00", "BRL")))

	destinationBalance, err := f.ledger.GetBalance(context.Background(), f.destination)
	require.NoError(t, err)
	assert.True(t, destinationBalance.Equal(domain.MustMoney("100.00", "BRL")))

	debit, ok := result.Saga.StepByName(services.StepDebitSource)
	require.True(t, ok)
	assert.Equal(t, "102.00", debit.Parameter("amount"))
	credit, ok := result.Saga.StepByName(services.StepCreditDestination)
	require.True(t, ok)
	assert.Equal(t, "100.00", credit.Parameter("amount"))
}

func TestExecuteTransferCreditFailureCompensatesDebit(t *testing.T) {
	f := newTransferFixture(t, func(f transferFixture) domain.AccountService {
		return &creditBlockingAccounts{AccountService: f.ledger, blocked: f.destination}
	})

	result, err := f.service.ExecuteTransfer(
		context.Background(),
		f.source, f.destination,
		domain.MustMoney("100.00", "BRL"),
		"rent", "ref-8", "corr-transfer-2",
	)
	require.Error(t, err)

	assert.Equal(t, domain.TransactionStatusFailed, result.Transaction.Status)
	assert.Equal(t, "TRANSFER_SAGA_FAILED", result.Transaction.ReasonCode)
	assert.Equal(t, domain.SagaStatusCompensated, result.Saga.Status)
	require.NotNil(t, result.Compensation)
	assert.Equal(t, []string{services.StepDebitSource}, result.Compensation.CompensatedSteps)
	assert.True(t, result.Compensation.FullyCompensated())

	// The debited 102.00 came back; the destination saw nothing.
	sourceBalance, err := f.ledger.GetBalance(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, sourceBalance.Equal(domain.MustMoney("500.00", "BRL")))

	destinationBalance, err := f.ledger.GetBalance(context.Background(), f.destination)
	require.NoError(t, err)
	assert.True(t, destinationBalance.IsZero())
}

func TestExecuteTransferRejectsInsufficientBalance(t *testing.T) {
	f := newTransferFixture(t, nil)

	result, err := f.service.ExecuteTransfer(
		context.Background(),
		f.source, f.destination,
		domain.MustMoney("499.00", "BRL"),
		"", "", "corr-transfer-3",
	)
	require.Error(t, err)

	var businessErr *domain.BusinessRuleError
	require.ErrorAs(t, err, &businessErr)
	assert.Equal(t, domain.TransactionStatusFailed, result.Transaction.Status)
	assert.Equal(t, "insufficient balance", result.Transaction.ReasonCode)

	// No ledger movement before validation passes.
	sourceBalance, err := f.ledger.GetBalance(context.Background(), f.source)
	require.NoError(t, err)
	assert.True(t, sourceBalance.Equal(domain.MustMoney("500.00", "BRL")))
}

func TestExecuteTransferRejectsUnknownDestination(t *testing.T) {
	f := newTransferFixture(t, nil)

	result, err := f.service.ExecuteTransfer(
		context.Background(),
		f.source, domain.GenerateAccountID(),
		domain.MustMoney("10.00", "BRL"),
		"", "", "corr-transfer-4",
	)
	require.Error(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, result.Transaction.Status)
}

// TestRecoverPendingCompensations rebuilds the state a crash leaves behind:
// the debit landed, the saga is COMPENSATING, the transaction is still
// PROCESSING. The recovery sweep must credit the source back and fail the
// transaction.
func TestRecoverPendingCompensations(t *testing.T) {
	f := newTransferFixture(t, nil)
	ctx := context.Background()

	transfer, err := domain.NewTransfer(
		f.source, f.destination,
		domain.MustMoney("100.00", "BRL"), domain.MustMoney("2.00", "BRL"),
		"rent", "ref-9", "corr-recover-1",
	)
	require.NoError(t, err)
	transfer, err = f.txRepo.Create(ctx, transfer)
	require.NoError(t, err)
	transfer, err = transfer.Process()
	require.NoError(t, err)
	transfer, err = f.txRepo.Update(ctx, transfer)
	require.NoError(t, err)

	steps, err := services.BuildTransferSteps(transfer)
	require.NoError(t, err)
	saga, err := f.sagaService.CreateSaga(ctx, "transfer-"+transfer.ID.String(), services.SagaTypeTransfer, "corr-recover-1", steps)
	require.NoError(t, err)
	_, err = f.sagaService.UpdateSagaContext(ctx, saga.ID, "transactionId", transfer.ID.String())
	require.NoError(t, err)
	_, err = f.sagaService.StartSaga(ctx, saga.ID)
	require.NoError(t, err)

	// The debit call went through before the crash.
	require.NoError(t, f.ledger.Debit(ctx, f.source, domain.MustMoney("102.00", "BRL"), "corr-recover-1:"+services.StepDebitSource))
	_, err = f.coordinator.HandleStepCompleted(ctx, saga.ID, services.StepDebitSource, nil)
	require.NoError(t, err)

	saga, err = f.sagaService.FailSaga(ctx, saga.ID, "credit step lost")
	require.NoError(t, err)
	require.True(t, saga.IsCompensating())

	require.NoError(t, f.service.RecoverPendingCompensations(ctx))

	recovered, err := f.sagaService.GetSaga(ctx, saga.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaStatusCompensated, recovered.Status)

	sourceBalance, err := f.ledger.GetBalance(ctx, f.source)
	require.NoError(t, err)
	assert.True(t, sourceBalance.Equal(domain.MustMoney("500.00", "BRL")))

	failed, err := f.txRepo.GetByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, failed.Status)
	assert.Equal(t, "TRANSFER_SAGA_FAILED", failed.ReasonCode)
}

func TestBuildTransferStepsRequiresTransfer(t *testing.T) {
	deposit, err := domain.NewDeposit(domain.GenerateAccountID(), domain.MustMoney("10.00", "BRL"), "", "", "")
	require.NoError(t, err)

	_, err = services.BuildTransferSteps(deposit)
	require.Error(t, err)
}

func TestBuildTransferStepsSwapsCompensations(t *testing.T) {
	transfer, err := domain.NewTransfer(
		domain.GenerateAccountID(), domain.GenerateAccountID(),
		domain.MustMoney("100.00", "BRL"), domain.MustMoney("2.00", "BRL"),
		"", "", "",
	)
	require.NoError(t, err)

	steps, err := services.BuildTransferSteps(transfer)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, services.ActionDebit, steps[0].ActionName)
	assert.Equal(t, services.ActionCredit, steps[0].CompensationAction)
	assert.Equal(t, 1, steps[0].SequenceOrder)

	assert.Equal(t, services.ActionCredit, steps[1].ActionName)
	assert.Equal(t, services.ActionDebit, steps[1].CompensationAction)
	assert.Equal(t, 2, steps[1].SequenceOrder)
}
