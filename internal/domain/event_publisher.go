package domain

import "context"

// EventPublisher is the outbound channel for transaction events. Publication
// is fire-and-forget: a publish failure never rolls back the transaction's
// own state.
type EventPublisher interface {
	Publish(ctx context.Context, events []TransactionEvent) error
}
