package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/financer/ledger-core/internal/domain"
	"github.com/financer/ledger-core/internal/logger"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type SagaRepository struct {
	db *sql.DB
}

func NewSagaRepository(db *sql.DB) *SagaRepository {
	return &SagaRepository{db: db}
}

func (r *SagaRepository) Create(ctx context.Context, saga domain.Saga) (domain.Saga, error) {
	logger.Info("saga repository create", logger.Fields{
		"sagaId":      saga.ID.String(),
		"businessKey": saga.BusinessKey,
		"sagaType":    saga.SagaType,
	})

	const query = `
INSERT INTO sagas (
	id,
	business_key,
	saga_type,
	status,
	correlation_id,
	started_at,
	completed_at,
	compensation_started_at,
	compensation_completed_at,
	context,
	error_message,
	retry_count,
	max_retry_attempts,
	version
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)`

	contextJSON, err := json.Marshal(saga.Context)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("marshal saga context: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("begin tx: %w", err)
	}

	saga.Version = 1

	if _, err := tx.ExecContext(
		ctx,
		query,
		saga.ID.String(),
		saga.BusinessKey,
		saga.SagaType,
		string(saga.Status),
		saga.CorrelationID,
		saga.StartedAt,
		nullTime(saga.CompletedAt),
		nullTime(saga.CompensationStartedAt),
		nullTime(saga.CompensationCompletedAt),
		string(contextJSON),
		saga.ErrorMessage,
		saga.RetryCount,
		saga.MaxRetryAttempts,
		saga.Version,
	); err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return domain.Saga{}, domain.ErrDuplicateBusinessKey
		}
		return domain.Saga{}, fmt.Errorf("insert saga: %w", err)
	}

	for i := range saga.Steps {
		if saga.Steps[i].ID == "" {
			saga.Steps[i].ID = uuid.NewString()
		}
		if err := upsertStep(ctx, tx, saga.Steps[i]); err != nil {
			_ = tx.Rollback()
			return domain.Saga{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Saga{}, fmt.Errorf("commit saga insert: %w", err)
	}

	return saga, nil
}

func (r *SagaRepository) Update(ctx context.Context, saga domain.Saga) (domain.Saga, error) {
	const query = `
UPDATE sagas SET
	status = $1,
	completed_at = $2,
	compensation_started_at = $3,
	compensation_completed_at = $4,
	context = $5,
	error_message = $6,
	retry_count = $7,
	version = version + 1
WHERE id = $8 AND version = $9`

	contextJSON, err := json.Marshal(saga.Context)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("marshal saga context: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Saga{}, fmt.Errorf("begin tx: %w", err)
	}

	result, err := tx.ExecContext(
		ctx,
		query,
		string(saga.Status),
		nullTime(saga.CompletedAt),
		nullTime(saga.CompensationStartedAt),
		nullTime(saga.CompensationCompletedAt),
		string(contextJSON),
		saga.ErrorMessage,
		saga.RetryCount,
		saga.ID.String(),
		saga.Version,
	)
	if err != nil {
		_ = tx.Rollback()
		return domain.Saga{}, fmt.Errorf("update saga: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return domain.Saga{}, fmt.Errorf("update saga rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return domain.Saga{}, domain.ErrVersionConflict
	}

	for i := range saga.Steps {
		if saga.Steps[i].ID == "" {
			saga.Steps[i].ID = uuid.NewString()
		}
		if err := upsertStep(ctx, tx, saga.Steps[i]); err != nil {
			_ = tx.Rollback()
			return domain.Saga{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Saga{}, fmt.Errorf("commit saga update: %w", err)
	}

	saga.Version++
	return saga, nil
}

func (r *SagaRepository) GetByID(ctx context.Context, id domain.SagaID) (domain.Saga, error) {
	return r.getSaga(ctx, `WHERE id = $1`, id.String())
}

func (r *SagaRepository) GetByBusinessKey(ctx context.Context, businessKey string) (domain.Saga, error) {
	return r.getSaga(ctx, `WHERE business_key = $1`, businessKey)
}

func (r *SagaRepository) ListActive(ctx context.Context) ([]domain.Saga, error) {
	return r.listSagas(ctx, `WHERE status IN ('INITIATED', 'EXECUTING', 'FAILED', 'COMPENSATING')`)
}

func (r *SagaRepository) ListNeedingCompensation(ctx context.Context) ([]domain.Saga, error) {
	return r.listSagas(ctx, `WHERE status IN ('FAILED', 'COMPENSATING')`)
}

const sagaColumns = `
	id,
	business_key,
	saga_type,
	status,
	correlation_id,
	started_at,
	completed_at,
	compensation_started_at,
	compensation_completed_at,
	context,
	error_message,
	retry_count,
	max_retry_attempts,
	version`

func (r *SagaRepository) getSaga(ctx context.Context, where string, arg any) (domain.Saga, error) {
	query := `SELECT` + sagaColumns + `
FROM sagas
` + where

	saga, err := scanSaga(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return domain.Saga{}, err
	}

	steps, err := r.loadSteps(ctx, saga.ID)
	if err != nil {
		return domain.Saga{}, err
	}
	saga.Steps = steps

	return saga, nil
}

func (r *SagaRepository) listSagas(ctx context.Context, where string) ([]domain.Saga, error) {
	query := `SELECT` + sagaColumns + `
FROM sagas
` + where + `
ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var sagas []domain.Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sagas: %w", err)
	}

	for i := range sagas {
		steps, err := r.loadSteps(ctx, sagas[i].ID)
		if err != nil {
			return nil, err
		}
		sagas[i].Steps = steps
	}

	return sagas, nil
}

func (r *SagaRepository) loadSteps(ctx context.Context, sagaID domain.SagaID) ([]domain.SagaStep, error) {
	const query = `
SELECT
	id,
	saga_id,
	step_name,
	step_type,
	sequence_order,
	status,
	service_name,
	action_name,
	compensation_action,
	parameters,
	started_at,
	completed_at,
	compensation_started_at,
	compensation_completed_at,
	error_message,
	retry_count,
	max_retry_attempts,
	timeout_seconds
FROM saga_steps
WHERE saga_id = $1
ORDER BY sequence_order`

	rows, err := r.db.QueryContext(ctx, query, sagaID.String())
	if err != nil {
		return nil, fmt.Errorf("load saga steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.SagaStep
	for rows.Next() {
		var (
			step                    domain.SagaStep
			rawSagaID               string
			compensationAction      sql.NullString
			parametersJSON          string
			startedAt               sql.NullTime
			completedAt             sql.NullTime
			compensationStartedAt   sql.NullTime
			compensationCompletedAt sql.NullTime
			errorMessage            sql.NullString
			timeoutSeconds          sql.NullInt64
		)

		if err := rows.Scan(
			&step.ID,
			&rawSagaID,
			&step.StepName,
			&step.StepType,
			&step.SequenceOrder,
			&step.Status,
			&step.ServiceName,
			&step.ActionName,
			&compensationAction,
			&parametersJSON,
			&startedAt,
			&completedAt,
			&compensationStartedAt,
			&compensationCompletedAt,
			&errorMessage,
			&step.RetryCount,
			&step.MaxRetryAttempts,
			&timeoutSeconds,
		); err != nil {
			return nil, fmt.Errorf("scan saga step: %w", err)
		}

		parsedSagaID, err := domain.ParseSagaID(rawSagaID)
		if err != nil {
			return nil, err
		}
		step.SagaID = parsedSagaID
		step.CompensationAction = compensationAction.String
		step.ErrorMessage = errorMessage.String
		step.TimeoutSeconds = timeoutSeconds.Int64

		if err := json.Unmarshal([]byte(parametersJSON), &step.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal step parameters: %w", err)
		}

		step.StartedAt = timePtr(startedAt)
		step.CompletedAt = timePtr(completedAt)
		step.CompensationStartedAt = timePtr(compensationStartedAt)
		step.CompensationCompletedAt = timePtr(compensationCompletedAt)

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga steps: %w", err)
	}
	return steps, nil
}

func upsertStep(ctx context.Context, tx *sql.Tx, step domain.SagaStep) error {
	const query = `
INSERT INTO saga_steps (
	id,
	saga_id,
	step_name,
	step_type,
	sequence_order,
	status,
	service_name,
	action_name,
	compensation_action,
	parameters,
	started_at,
	completed_at,
	compensation_started_at,
	compensation_completed_at,
	error_message,
	retry_count,
	max_retry_attempts,
	timeout_seconds
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
)
ON CONFLICT (saga_id, sequence_order) DO UPDATE SET
	status = EXCLUDED.status,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	compensation_started_at = EXCLUDED.compensation_started_at,
	compensation_completed_at = EXCLUDED.compensation_completed_at,
	error_message = EXCLUDED.error_message,
	retry_count = EXCLUDED.retry_count,
	parameters = EXCLUDED.parameters`

	parametersJSON, err := json.Marshal(step.Parameters)
	if err != nil {
		return fmt.Errorf("marshal step parameters: %w", err)
	}

	var timeoutSeconds sql.NullInt64
	if step.TimeoutSeconds > 0 {
		timeoutSeconds = sql.NullInt64{Int64: step.TimeoutSeconds, Valid: true}
	}

	if _, err := tx.ExecContext(
		ctx,
		query,
		step.ID,
		step.SagaID.String(),
		step.StepName,
		step.StepType,
		step.SequenceOrder,
		string(step.Status),
		step.ServiceName,
		step.ActionName,
		step.CompensationAction,
		string(parametersJSON),
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
		nullTime(step.CompensationStartedAt),
		nullTime(step.CompensationCompletedAt),
		step.ErrorMessage,
		step.RetryCount,
		step.MaxRetryAttempts,
		timeoutSeconds,
	); err != nil {
		return fmt.Errorf("upsert saga step %s: %w", step.StepName, err)
	}

	return nil
}

func scanSaga(row rowScanner) (domain.Saga, error) {
	var (
		id                      string
		businessKey             string
		sagaType                string
		status                  string
		correlationID           sql.NullString
		startedAt               sql.NullTime
		completedAt             sql.NullTime
		compensationStartedAt   sql.NullTime
		compensationCompletedAt sql.NullTime
		contextJSON             string
		errorMessage            sql.NullString
		retryCount              int
		maxRetryAttempts        int
		version                 int64
	)

	if err := row.Scan(
		&id,
		&businessKey,
		&sagaType,
		&status,
		&correlationID,
		&startedAt,
		&completedAt,
		&compensationStartedAt,
		&compensationCompletedAt,
		&contextJSON,
		&errorMessage,
		&retryCount,
		&maxRetryAttempts,
		&version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Saga{}, domain.ErrRecordNotFound
		}
		return domain.Saga{}, fmt.Errorf("scan saga: %w", err)
	}

	sagaID, err := domain.ParseSagaID(id)
	if err != nil {
		return domain.Saga{}, err
	}

	saga := domain.Saga{
		ID:               sagaID,
		BusinessKey:      businessKey,
		SagaType:         sagaType,
		Status:           domain.SagaStatus(status),
		CorrelationID:    correlationID.String,
		ErrorMessage:     errorMessage.String,
		RetryCount:       retryCount,
		MaxRetryAttempts: maxRetryAttempts,
		Version:          version,
	}
	if startedAt.Valid {
		saga.StartedAt = startedAt.Time
	}
	saga.CompletedAt = timePtr(completedAt)
	saga.CompensationStartedAt = timePtr(compensationStartedAt)
	saga.CompensationCompletedAt = timePtr(compensationCompletedAt)

	if err := json.Unmarshal([]byte(contextJSON), &saga.Context); err != nil {
		return domain.Saga{}, fmt.Errorf("unmarshal saga context: %w", err)
	}

	return saga, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}
