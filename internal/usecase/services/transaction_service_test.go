package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/financer/ledger-core/internal/adapter/repository/memory"
	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/usecase/services"
)

// stubAccounts is a scriptable account capability. Call counters are guarded
// because transfer validation fans out concurrently.
type stubAccounts struct {
	mu sync.Mutex

	inactive   map[string]bool
	activeErr  error
	sufficient bool
	balanceErr error
	debitErr   error
	creditErr  error

	debitCalls  int
	creditCalls int
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{inactive: map[string]bool{}, sufficient: true}
}

func (s *stubAccounts) IsAccountActiveAndExists(_ context.Context, accountID domain.AccountID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeErr != nil {
		return false, s.activeErr
	}
	return !s.inactive[accountID.String()], nil
}

func (s *stubAccounts) GetBalance(_ context.Context, _ domain.AccountID) (domain.Money, error) {
	return domain.ZeroMoney("USD")
}

func (s *stubAccounts) HasSufficientBalance(_ context.Context, _ domain.AccountID, _ domain.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceErr != nil {
		return false, s.balanceErr
	}
	return s.sufficient, nil
}

func (s *stubAccounts) Debit(_ context.Context, _ domain.AccountID, _ domain.Money, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debitCalls++
	return s.debitErr
}

func (s *stubAccounts) Credit(_ context.Context, _ domain.AccountID, _ domain.Money, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditCalls++
	return s.creditErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events []domain.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.EventType)
	}
	return types
}

func newTransactionService(accounts *stubAccounts) (*services.TransactionService, *memory.TransactionRepository, *recordingPublisher) {
	repo := memory.NewTransactionRepository()
	publisher := &recordingPublisher{}
	return services.NewTransactionService(accounts, repo, publisher), repo, publisher
}

func TestCalculateFeePerType(t *testing.T) {
	svc, _, _ := newTransactionService(newStubAccounts())

	cases := []struct {
		name   string
		txType domain.TransactionType
		amount string
		want   string
	}{
		{"deposit is free", domain.TransactionTypeDeposit, "100.00", "0.00"},
		{"refund is free", domain.TransactionTypeRefund, "100.00", "0.00"},
		{"interest is free", domain.TransactionTypeInterest, "100.00", "0.00"},
		{"adjustment is free", domain.TransactionTypeAdjustment, "100.00", "0.00"},
		{"fee transaction carries no fee of its own", domain.TransactionTypeFee, "100.00", "0.00"},
		{"withdrawal below floor", domain.TransactionTypeWithdrawal, "100.00", "1.00"},
		{"withdrawal above floor", domain.TransactionTypeWithdrawal, "2000.00", "2.00"},
		{"payment below floor", domain.TransactionTypePayment, "500.00", "1.00"},
		{"transfer flat fee", domain.TransactionTypeTransfer, "100.00", "2.00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, err := svc.CalculateFee(tc.txType, domain.MustMoney(tc.amount, "USD"))
			require.NoError(t, err)
			assert.True(t, fee.Equal(domain.MustMoney(tc.want, "USD")), "got %s", fee)
		})
	}
}

func TestCalculateFeeRejectsUnknownType(t *testing.T) {
	svc, _, _ := newTransactionService(newStubAccounts())

	_, err := svc.CalculateFee(domain.TransactionType("LOAN"), domain.MustMoney("10.00", "USD"))
	require.Error(t, err)

	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateTransactionPersistsWithCalculatedFee(t *testing.T) {
	svc, repo, _ := newTransactionService(newStubAccounts())

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeWithdrawal,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("2000.00", "USD"),
		"cash out", "ref-1", "corr-1",
	)
	require.NoError(t, err)

	assert.True(t, tx.Fee.Equal(domain.MustMoney("2.00", "USD")))
	assert.Equal(t, int64(1), tx.Version)
	assert.Empty(t, tx.Events)

	events, err := repo.ListEvents(context.Background(), tx.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTransactionCreated, events[0].EventType)
}

func TestProcessTransactionDepositCompletes(t *testing.T) {
	accounts := newStubAccounts()
	svc, repo, publisher := newTransactionService(accounts)

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeDeposit,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("50.00", "USD"),
		"", "", "corr-dep",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionStatusCompleted, processed.Status)
	assert.Equal(t, 1, accounts.creditCalls)
	assert.Equal(t, 0, accounts.debitCalls)
	assert.Equal(t, []string{domain.EventTransactionProcessing, domain.EventTransactionCompleted}, publisher.eventTypes())

	events, err := repo.ListEvents(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestProcessTransactionWithdrawalDebitsTotal(t *testing.T) {
	accounts := newStubAccounts()
	svc, _, _ := newTransactionService(accounts)

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeWithdrawal,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("100.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, processed.Status)
	assert.Equal(t, 1, accounts.debitCalls)
}

func TestProcessTransactionRejectsInsufficientBalance(t *testing.T) {
	accounts := newStubAccounts()
	accounts.sufficient = false
	svc, _, _ := newTransactionService(accounts)

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypePayment,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("100.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.Error(t, err)

	var businessErr *domain.BusinessRuleError
	require.ErrorAs(t, err, &businessErr)
	assert.Equal(t, domain.TransactionStatusFailed, processed.Status)
	assert.Equal(t, "insufficient balance", processed.ReasonCode)
	assert.Equal(t, 0, accounts.debitCalls)
}

func TestProcessTransactionRemoteValidationErrorFails(t *testing.T) {
	accounts := newStubAccounts()
	accounts.activeErr = errors.New("ledger unreachable")
	svc, _, _ := newTransactionService(accounts)

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeDeposit,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("10.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.Error(t, err)

	// The remote failure reaches the caller even though the FAILED snapshot
	// persisted cleanly.
	var remoteErr *domain.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, domain.TransactionStatusFailed, processed.Status)
	assert.Equal(t, "VALIDATION_ERROR", processed.ReasonCode)
}

func TestProcessTransactionExecutionFailure(t *testing.T) {
	accounts := newStubAccounts()
	accounts.creditErr = errors.New("ledger write refused")
	svc, _, _ := newTransactionService(accounts)

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeDeposit,
		domain.GenerateAccountID(),
		nil,
		domain.MustMoney("10.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.Error(t, err)

	var remoteErr *domain.RemoteCallError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, domain.TransactionStatusFailed, processed.Status)
	assert.Equal(t, "EXECUTION_FAILED", processed.ReasonCode)
}

func TestProcessTransferRunsBothLegs(t *testing.T) {
	accounts := newStubAccounts()
	svc, _, _ := newTransactionService(accounts)

	destination := domain.GenerateAccountID()
	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeTransfer,
		domain.GenerateAccountID(),
		&destination,
		domain.MustMoney("100.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	processed, err := svc.ProcessTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, processed.Status)
	assert.Equal(t, 1, accounts.debitCalls)
	assert.Equal(t, 1, accounts.creditCalls)
}

func TestValidateTransferRejectsInactiveDestination(t *testing.T) {
	accounts := newStubAccounts()
	svc, _, _ := newTransactionService(accounts)

	destination := domain.GenerateAccountID()
	accounts.inactive[destination.String()] = true

	tx, err := svc.CreateTransaction(
		context.Background(),
		domain.TransactionTypeTransfer,
		domain.GenerateAccountID(),
		&destination,
		domain.MustMoney("100.00", "USD"),
		"", "", "",
	)
	require.NoError(t, err)

	result, err := svc.Validate(context.Background(), tx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "destination account does not exist or is inactive", result.ErrorMessage)
}
