package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
)

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	logger.Info("transaction repository create", logger.Fields{
		"transactionId": transaction.ID.String(),
		"type":          string(transaction.Type),
		"status":        string(transaction.Status),
	})

	const query = `
INSERT INTO transactions (
	id,
	source_account_id,
	destination_account_id,
	amount,
	fee,
	currency,
	type,
	status,
	description,
	reference,
	correlation_id,
	executed_at,
	reason_code,
	version,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("begin tx: %w", err)
	}

	var destination sql.NullString
	if transaction.DestinationAccountID != nil {
		destination = sql.NullString{String: transaction.DestinationAccountID.String(), Valid: true}
	}
	var executedAt sql.NullTime
	if transaction.ExecutedAt != nil {
		executedAt = sql.NullTime{Time: *transaction.ExecutedAt, Valid: true}
	}

	transaction.Version = 1

	if _, err := tx.ExecContext(
		ctx,
		query,
		transaction.ID.String(),
		transaction.SourceAccountID.String(),
		destination,
		transaction.Amount.Amount().StringFixed(2),
		transaction.Fee.Amount().StringFixed(2),
		transaction.Amount.Currency(),
		string(transaction.Type),
		string(transaction.Status),
		transaction.Description,
		transaction.Reference,
		transaction.CorrelationID,
		executedAt,
		transaction.ReasonCode,
		transaction.Version,
		transaction.CreatedAt,
		transaction.UpdatedAt,
	); err != nil {
		_ = tx.Rollback()
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := insertEvents(ctx, tx, transaction.Events); err != nil {
		_ = tx.Rollback()
		return domain.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, fmt.Errorf("commit transaction insert: %w", err)
	}

	return transaction.ClearEvents(), nil
}

func (r *TransactionRepository) Update(ctx context.Context, transaction domain.Transaction) (domain.Transaction, error) {
	const query = `
UPDATE transactions SET
	status = $1,
	executed_at = $2,
	reason_code = $3,
	updated_at = $4,
	version = version + 1
WHERE id = $5 AND version = $6`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("begin tx: %w", err)
	}

	var executedAt sql.NullTime
	if transaction.ExecutedAt != nil {
		executedAt = sql.NullTime{Time: *transaction.ExecutedAt, Valid: true}
	}

	result, err := tx.ExecContext(
		ctx,
		query,
		string(transaction.Status),
		executedAt,
		transaction.ReasonCode,
		transaction.UpdatedAt,
		transaction.ID.String(),
		transaction.Version,
	)
	if err != nil {
		_ = tx.Rollback()
		return domain.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return domain.Transaction{}, fmt.Errorf("update transaction rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return domain.Transaction{}, domain.ErrVersionConflict
	}

	if err := insertEvents(ctx, tx, transaction.Events); err != nil {
		_ = tx.Rollback()
		return domain.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Transaction{}, fmt.Errorf("commit transaction update: %w", err)
	}

	transaction.Version++
	return transaction.ClearEvents(), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id domain.TransactionID) (domain.Transaction, error) {
	const query = `
SELECT
	id,
	source_account_id,
	destination_account_id,
	amount,
	fee,
	currency,
	type,
	status,
	description,
	reference,
	correlation_id,
	executed_at,
	reason_code,
	version,
	created_at,
	updated_at
FROM transactions
WHERE id = $1`

	return r.scanTransaction(r.db.QueryRowContext(ctx, query, id.String()))
}

func (r *TransactionRepository) GetByCorrelationID(ctx context.Context, correlationID string) (domain.Transaction, error) {
	const query = `
SELECT
	id,
	source_account_id,
	destination_account_id,
	amount,
	fee,
	currency,
	type,
	status,
	description,
	reference,
	correlation_id,
	executed_at,
	reason_code,
	version,
	created_at,
	updated_at
FROM transactions
WHERE correlation_id = $1
ORDER BY created_at
LIMIT 1`

	return r.scanTransaction(r.db.QueryRowContext(ctx, query, correlationID))
}

func (r *TransactionRepository) ListEvents(ctx context.Context, id domain.TransactionID) ([]domain.TransactionEvent, error) {
	const query = `
SELECT event_id, transaction_id, event_type, occurred_at, payload, correlation_id
FROM transaction_events
WHERE transaction_id = $1
ORDER BY occurred_at`

	rows, err := r.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("list transaction events: %w", err)
	}
	defer rows.Close()

	var events []domain.TransactionEvent
	for rows.Next() {
		var (
			event         domain.TransactionEvent
			transactionID string
			correlationID sql.NullString
		)
		if err := rows.Scan(&event.EventID, &transactionID, &event.EventType, &event.OccurredAt, &event.Payload, &correlationID); err != nil {
			return nil, fmt.Errorf("scan transaction event: %w", err)
		}

		parsedID, err := domain.ParseTransactionID(transactionID)
		if err != nil {
			return nil, err
		}
		event.TransactionID = parsedID
		event.CorrelationID = correlationID.String
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction events: %w", err)
	}
	return events, nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []domain.TransactionEvent) error {
	const query = `
INSERT INTO transaction_events (event_id, transaction_id, event_type, occurred_at, payload, correlation_id)
VALUES ($1, $2, $3, $4, $5, $6)`

	for _, event := range events {
		if _, err := tx.ExecContext(
			ctx,
			query,
			event.EventID,
			event.TransactionID.String(),
			event.EventType,
			event.OccurredAt,
			event.Payload,
			event.CorrelationID,
		); err != nil {
			return fmt.Errorf("insert transaction event %s: %w", event.EventType, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TransactionRepository) scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		id            string
		sourceID      string
		destinationID sql.NullString
		amount        string
		fee           string
		currency      string
		txType        string
		status        string
		description   sql.NullString
		reference     sql.NullString
		correlationID sql.NullString
		executedAt    sql.NullTime
		reasonCode    sql.NullString
		version       int64
		createdAt     time.Time
		updatedAt     time.Time
	)

	if err := row.Scan(
		&id,
		&sourceID,
		&destinationID,
		&amount,
		&fee,
		&currency,
		&txType,
		&status,
		&description,
		&reference,
		&correlationID,
		&executedAt,
		&reasonCode,
		&version,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrRecordNotFound
		}
		return domain.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	transactionID, err := domain.ParseTransactionID(id)
	if err != nil {
		return domain.Transaction{}, err
	}
	sourceAccountID, err := domain.ParseAccountID(sourceID)
	if err != nil {
		return domain.Transaction{}, err
	}

	var destinationAccountID *domain.AccountID
	if destinationID.Valid {
		parsed, err := domain.ParseAccountID(destinationID.String)
		if err != nil {
			return domain.Transaction{}, err
		}
		destinationAccountID = &parsed
	}

	amountMoney, err := domain.NewMoneyFromString(amount, currency)
	if err != nil {
		return domain.Transaction{}, err
	}
	feeMoney, err := domain.NewMoneyFromString(fee, currency)
	if err != nil {
		return domain.Transaction{}, err
	}

	transaction := domain.Transaction{
		ID:                   transactionID,
		SourceAccountID:      sourceAccountID,
		DestinationAccountID: destinationAccountID,
		Amount:               amountMoney,
		Fee:                  feeMoney,
		Type:                 domain.TransactionType(txType),
		Status:               domain.TransactionStatus(status),
		Description:          description.String,
		Reference:            reference.String,
		CorrelationID:        correlationID.String,
		ReasonCode:           reasonCode.String,
		Version:              version,
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}
	if executedAt.Valid {
		value := executedAt.Time
		transaction.ExecutedAt = &value
	}

	return transaction, nil
}
