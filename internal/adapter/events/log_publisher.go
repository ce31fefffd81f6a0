package events

import (
	"context"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

// LogPublisher emits transaction events to the structured log. It stands in
// for a broker-backed publisher and is the default sink in development.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(_ context.Context, events []domain.TransactionEvent) error {
	for _, event := range events {
		logger.Info("transaction event published", logger.Fields{
			"eventId":       event.EventID,
			"eventType":     event.EventType,
			"transactionId": event.TransactionID.String(),
			"occurredAt":    event.OccurredAt,
			"correlationId": event.CorrelationID,
			"payload":       event.Payload,
		})
	}
	return nil
}
