package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventTransactionCreated    = "TRANSACTION_CREATED"
	EventTransactionProcessing = "TRANSACTION_PROCESSING"
	EventTransactionCompleted  = "TRANSACTION_COMPLETED"
	EventTransactionFailed     = "TRANSACTION_FAILED"
	EventTransactionCancelled  = "TRANSACTION_CANCELLED"
	EventTransactionReversed   = "TRANSACTION_REVERSED"
)

// TransactionEvent is an immutable audit record appended as a side effect of
// a transaction state transition. The payload is a JSON snapshot of the
// fields relevant to the transition.
type TransactionEvent struct {
	EventID       string
	TransactionID TransactionID
	EventType     string
	OccurredAt    time.Time
	Payload       string
	CorrelationID string
}

func newTransactionEvent(t Transaction, eventType string, payload map[string]string) TransactionEvent {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}

	return TransactionEvent{
		EventID:       uuid.NewString(),
		TransactionID: t.ID,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       string(body),
		CorrelationID: t.CorrelationID,
	}
}

func createdEvent(t Transaction) TransactionEvent {
	destination := "null"
	if t.DestinationAccountID != nil {
		destination = t.DestinationAccountID.String()
	}

	return newTransactionEvent(t, EventTransactionCreated, map[string]string{
		"type":               string(t.Type),
		"amount":             t.Amount.String(),
		"sourceAccount":      t.SourceAccountID.String(),
		"destinationAccount": destination,
		"description":        t.Description,
	})
}

func processingEvent(t Transaction) TransactionEvent {
	return newTransactionEvent(t, EventTransactionProcessing, map[string]string{
		"status":        string(t.Status),
		"transactionId": t.ID.String(),
	})
}

func completedEvent(t Transaction) TransactionEvent {
	executedAt := ""
	if t.ExecutedAt != nil {
		executedAt = t.ExecutedAt.UTC().Format(time.RFC3339Nano)
	}

	total, err := t.TotalAmount()
	totalText := ""
	if err == nil {
		totalText = total.String()
	}

	return newTransactionEvent(t, EventTransactionCompleted, map[string]string{
		"status":      string(t.Status),
		"executedAt":  executedAt,
		"totalAmount": totalText,
	})
}

func failedEvent(t Transaction, reasonCode string) TransactionEvent {
	return newTransactionEvent(t, EventTransactionFailed, map[string]string{
		"status":     string(t.Status),
		"reasonCode": reasonCode,
	})
}

func cancelledEvent(t Transaction, reasonCode string) TransactionEvent {
	return newTransactionEvent(t, EventTransactionCancelled, map[string]string{
		"status":     string(t.Status),
		"reasonCode": reasonCode,
	})
}

func reversedEvent(t Transaction, reasonCode string) TransactionEvent {
	return newTransactionEvent(t, EventTransactionReversed, map[string]string{
		"status":     string(t.Status),
		"reasonCode": reasonCode,
	})
}
