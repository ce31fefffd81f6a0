package domain

import (
	"time"
)

// Transaction is a single financial operation. Transitions are pure: every
// business method takes a value snapshot and returns the next snapshot plus
// the events it emitted, leaving the receiver untouched. An illegal
// transition returns a StateConflictError and the snapshot unchanged.
type Transaction struct {
	ID                   TransactionID
	SourceAccountID      AccountID
	DestinationAccountID *AccountID
	Amount               Money
	Fee                  Money
	Type                 TransactionType
	Status               TransactionStatus
	Description          string
	Reference            string
	CorrelationID        string
	ExecutedAt           *time.Time
	ReasonCode           string

	// Events emitted since the last persistence flush, in order.
	Events []TransactionEvent

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewDeposit(accountID AccountID, amount Money, description, reference, correlationID string) (Transaction, error) {
	return newTransaction(accountID, nil, amount, Money{}, TransactionTypeDeposit, description, reference, correlationID)
}

func NewWithdrawal(accountID AccountID, amount, fee Money, description, reference, correlationID string) (Transaction, error) {
	return newTransaction(accountID, nil, amount, fee, TransactionTypeWithdrawal, description, reference, correlationID)
}

func NewTransfer(sourceID, destinationID AccountID, amount, fee Money, description, reference, correlationID string) (Transaction, error) {
	if destinationID.IsZero() {
		return Transaction{}, &ValidationError{Field: "destinationAccountId", Reason: "destination account is required"}
	}
	if sourceID.String() == destinationID.String() {
		return Transaction{}, &ValidationError{Field: "destinationAccountId", Reason: "source and destination accounts cannot be the same"}
	}
	return newTransaction(sourceID, &destinationID, amount, fee, TransactionTypeTransfer, description, reference, correlationID)
}

// NewTransaction builds a transaction of any supported type. TRANSFER must
// carry a destination; every other type must not.
func NewTransaction(
	txType TransactionType,
	sourceID AccountID,
	destinationID *AccountID,
	amount, fee Money,
	description, reference, correlationID string,
) (Transaction, error) {
	if !txType.Valid() {
		return Transaction{}, &ValidationError{Field: "type", Reason: "unknown transaction type"}
	}
	if txType.RequiresDestination() {
		if destinationID == nil {
			return Transaction{}, &ValidationError{Field: "destinationAccountId", Reason: "destination account is required"}
		}
		if sourceID.String() == destinationID.String() {
			return Transaction{}, &ValidationError{Field: "destinationAccountId", Reason: "source and destination accounts cannot be the same"}
		}
	} else if destinationID != nil {
		return Transaction{}, &ValidationError{Field: "destinationAccountId", Reason: "destination account is only allowed for transfers"}
	}

	return newTransaction(sourceID, destinationID, amount, fee, txType, description, reference, correlationID)
}

func newTransaction(
	sourceID AccountID,
	destinationID *AccountID,
	amount, fee Money,
	txType TransactionType,
	description, reference, correlationID string,
) (Transaction, error) {
	if sourceID.IsZero() {
		return Transaction{}, &ValidationError{Field: "sourceAccountId", Reason: "source account is required"}
	}
	if amount.Currency() == "" || amount.IsZero() {
		return Transaction{}, &ValidationError{Field: "amount", Reason: "amount must be greater than zero"}
	}

	if fee.Currency() == "" {
		zero, err := ZeroMoney(amount.Currency())
		if err != nil {
			return Transaction{}, err
		}
		fee = zero
	}
	if fee.Currency() != amount.Currency() {
		return Transaction{}, &ValidationError{Field: "fee", Reason: "fee currency must match amount currency"}
	}

	now := time.Now().UTC()
	t := Transaction{
		ID:                   GenerateTransactionID(),
		SourceAccountID:      sourceID,
		DestinationAccountID: destinationID,
		Amount:               amount,
		Fee:                  fee,
		Type:                 txType,
		Status:               TransactionStatusPending,
		Description:          description,
		Reference:            reference,
		CorrelationID:        correlationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	t = t.appendEvent(createdEvent(t))

	return t, nil
}

func (t Transaction) Process() (Transaction, error) {
	if err := t.guardTransition(TransactionStatusProcessing); err != nil {
		return t, err
	}

	t.Status = TransactionStatusProcessing
	t.UpdatedAt = time.Now().UTC()
	return t.appendEvent(processingEvent(t)), nil
}

func (t Transaction) Complete() (Transaction, error) {
	if err := t.guardTransition(TransactionStatusCompleted); err != nil {
		return t, err
	}

	now := time.Now().UTC()
	t.Status = TransactionStatusCompleted
	t.ExecutedAt = &now
	t.UpdatedAt = now
	return t.appendEvent(completedEvent(t)), nil
}

func (t Transaction) Fail(reasonCode string) (Transaction, error) {
	if err := t.guardTransition(TransactionStatusFailed); err != nil {
		return t, err
	}

	t.Status = TransactionStatusFailed
	t.ReasonCode = reasonCode
	t.UpdatedAt = time.Now().UTC()
	return t.appendEvent(failedEvent(t, reasonCode)), nil
}

func (t Transaction) Cancel(reasonCode string) (Transaction, error) {
	if err := t.guardTransition(TransactionStatusCancelled); err != nil {
		return t, err
	}

	t.Status = TransactionStatusCancelled
	t.ReasonCode = reasonCode
	t.UpdatedAt = time.Now().UTC()
	return t.appendEvent(cancelledEvent(t, reasonCode)), nil
}

func (t Transaction) Reverse(reasonCode string) (Transaction, error) {
	if err := t.guardTransition(TransactionStatusReversed); err != nil {
		return t, err
	}

	t.Status = TransactionStatusReversed
	t.ReasonCode = reasonCode
	t.UpdatedAt = time.Now().UTC()
	return t.appendEvent(reversedEvent(t, reasonCode)), nil
}

func (t Transaction) TotalAmount() (Money, error) {
	return t.Amount.Add(t.Fee)
}

func (t Transaction) InvolvesAccount(accountID AccountID) bool {
	if t.SourceAccountID.String() == accountID.String() {
		return true
	}
	return t.DestinationAccountID != nil && t.DestinationAccountID.String() == accountID.String()
}

func (t Transaction) IsCompleted() bool {
	return t.Status == TransactionStatusCompleted
}

func (t Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ClearEvents drops the pending event list. Only the persistence boundary
// calls this, after the events are durably stored.
func (t Transaction) ClearEvents() Transaction {
	t.Events = nil
	return t
}

func (t Transaction) guardTransition(target TransactionStatus) error {
	if !t.Status.CanTransitionTo(target) {
		return &StateConflictError{Entity: "transaction " + t.ID.String(), From: string(t.Status), To: string(target)}
	}
	return nil
}

// appendEvent clones the slice so snapshots never share a backing array.
func (t Transaction) appendEvent(event TransactionEvent) Transaction {
	events := make([]TransactionEvent, 0, len(t.Events)+1)
	events = append(events, t.Events...)
	events = append(events, event)
	t.Events = events
	return t
}
