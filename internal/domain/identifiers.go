package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Typed identifier wrappers. Construction from untyped strings validates the
// UUID format; Generate* produces a fresh random value.

type TransactionID struct {
	value string
}

type AccountID struct {
	value string
}

type SagaID struct {
	value string
}

func GenerateTransactionID() TransactionID {
	return TransactionID{value: uuid.NewString()}
}

func ParseTransactionID(raw string) (TransactionID, error) {
	value, err := parseIdentifier("transactionId", raw)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID{value: value}, nil
}

func (id TransactionID) String() string {
	return id.value
}

func (id TransactionID) IsZero() bool {
	return id.value == ""
}

func GenerateAccountID() AccountID {
	return AccountID{value: uuid.NewString()}
}

func ParseAccountID(raw string) (AccountID, error) {
	value, err := parseIdentifier("accountId", raw)
	if err != nil {
		return AccountID{}, err
	}
	return AccountID{value: value}, nil
}

func (id AccountID) String() string {
	return id.value
}

func (id AccountID) IsZero() bool {
	return id.value == ""
}

func GenerateSagaID() SagaID {
	return SagaID{value: uuid.NewString()}
}

func ParseSagaID(raw string) (SagaID, error) {
	value, err := parseIdentifier("sagaId", raw)
	if err != nil {
		return SagaID{}, err
	}
	return SagaID{value: value}, nil
}

func (id SagaID) String() string {
	return id.value
}

func (id SagaID) IsZero() bool {
	return id.value == ""
}

func parseIdentifier(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("invalid identifier %q", raw)}
	}
	return parsed.String(), nil
}
