package domain

import (
	"sort"
	"strings"
	"time"
)

type SagaStatus string

const (
	SagaStatusInitiated    SagaStatus = "INITIATED"
	SagaStatusExecuting    SagaStatus = "EXECUTING"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusFailed       SagaStatus = "FAILED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
	SagaStatusAborted      SagaStatus = "ABORTED"
)

func (s SagaStatus) IsTerminal() bool {
	return s == SagaStatusCompleted || s == SagaStatusCompensated || s == SagaStatusAborted
}

func (s SagaStatus) CanTransitionTo(target SagaStatus) bool {
	switch s {
	case SagaStatusInitiated:
		return target == SagaStatusExecuting || target == SagaStatusAborted
	case SagaStatusExecuting:
		return target == SagaStatusCompleted || target == SagaStatusFailed || target == SagaStatusAborted
	case SagaStatusFailed:
		return target == SagaStatusCompensating || target == SagaStatusAborted
	case SagaStatusCompensating:
		return target == SagaStatusCompensated || target == SagaStatusAborted
	default:
		return false
	}
}

// Saga models a multi-step business process coordinated without a shared
// atomic commit. It aggregates ordered steps and a free-form context used to
// carry intermediate values between them.
type Saga struct {
	ID                      SagaID
	BusinessKey             string
	SagaType                string
	Status                  SagaStatus
	CorrelationID           string
	StartedAt               time.Time
	CompletedAt             *time.Time
	CompensationStartedAt   *time.Time
	CompensationCompletedAt *time.Time
	Context                 map[string]string
	Steps                   []SagaStep
	ErrorMessage            string
	RetryCount              int
	MaxRetryAttempts        int
	Version                 int64
}

func NewSaga(businessKey, sagaType, correlationID string) (Saga, error) {
	if strings.TrimSpace(businessKey) == "" {
		return Saga{}, &ValidationError{Field: "businessKey", Reason: "business key is required"}
	}
	if strings.TrimSpace(sagaType) == "" {
		return Saga{}, &ValidationError{Field: "sagaType", Reason: "saga type is required"}
	}

	return Saga{
		ID:               GenerateSagaID(),
		BusinessKey:      businessKey,
		SagaType:         sagaType,
		Status:           SagaStatusInitiated,
		CorrelationID:    correlationID,
		StartedAt:        time.Now().UTC(),
		Context:          map[string]string{},
		MaxRetryAttempts: 3,
	}, nil
}

func (s Saga) Start() (Saga, error) {
	if err := s.guardTransition(SagaStatusExecuting); err != nil {
		return s, err
	}

	s.Status = SagaStatusExecuting
	s.StartedAt = time.Now().UTC()
	return s, nil
}

func (s Saga) Complete() (Saga, error) {
	if err := s.guardTransition(SagaStatusCompleted); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStatusCompleted
	s.CompletedAt = &now
	return s, nil
}

func (s Saga) Fail(errorMessage string) (Saga, error) {
	if err := s.guardTransition(SagaStatusFailed); err != nil {
		return s, err
	}

	s.Status = SagaStatusFailed
	s.ErrorMessage = errorMessage
	return s, nil
}

func (s Saga) StartCompensation() (Saga, error) {
	if err := s.guardTransition(SagaStatusCompensating); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStatusCompensating
	s.CompensationStartedAt = &now
	return s, nil
}

func (s Saga) Compensate() (Saga, error) {
	if err := s.guardTransition(SagaStatusCompensated); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStatusCompensated
	s.CompensationCompletedAt = &now
	return s, nil
}

// Abort is permitted from any non-terminal state. It never compensates on
// its own; callers decide whether to compensate before aborting.
func (s Saga) Abort(reason string) (Saga, error) {
	if s.Status.IsTerminal() {
		return s, &StateConflictError{Entity: "saga " + s.ID.String(), From: string(s.Status), To: string(SagaStatusAborted)}
	}

	now := time.Now().UTC()
	s.Status = SagaStatusAborted
	s.ErrorMessage = reason
	s.CompletedAt = &now
	return s, nil
}

func (s Saga) IncrementRetryCount() Saga {
	s.RetryCount++
	return s
}

func (s Saga) CanRetry() bool {
	return s.RetryCount < s.MaxRetryAttempts
}

// AddStep appends a step; step ordering is fixed at creation time, before the
// saga starts executing.
func (s Saga) AddStep(step SagaStep) (Saga, error) {
	if s.Status != SagaStatusInitiated {
		return s, &StateConflictError{Entity: "saga " + s.ID.String(), From: string(s.Status), To: "step added"}
	}

	step.SagaID = s.ID
	steps := make([]SagaStep, 0, len(s.Steps)+1)
	steps = append(steps, s.Steps...)
	steps = append(steps, step)
	s.Steps = steps
	return s, nil
}

// ReplaceStep swaps the step with the same sequence order for its updated
// snapshot.
func (s Saga) ReplaceStep(updated SagaStep) Saga {
	steps := make([]SagaStep, len(s.Steps))
	copy(steps, s.Steps)
	for i := range steps {
		if steps[i].SequenceOrder == updated.SequenceOrder {
			steps[i] = updated
			break
		}
	}
	s.Steps = steps
	return s
}

func (s Saga) StepByName(stepName string) (SagaStep, bool) {
	for _, step := range s.Steps {
		if step.StepName == stepName {
			return step, true
		}
	}
	return SagaStep{}, false
}

func (s Saga) CompletedSteps() []SagaStep {
	var out []SagaStep
	for _, step := range s.Steps {
		if step.Status == SagaStepStatusCompleted {
			out = append(out, step)
		}
	}
	return out
}

func (s Saga) FailedSteps() []SagaStep {
	var out []SagaStep
	for _, step := range s.Steps {
		if step.Status == SagaStepStatusFailed {
			out = append(out, step)
		}
	}
	return out
}

// StepsToCompensate returns the completed steps that declare a compensating
// action, in strictly decreasing sequence order.
func (s Saga) StepsToCompensate() []SagaStep {
	var out []SagaStep
	for _, step := range s.CompletedSteps() {
		if step.HasCompensationAction() {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceOrder > out[j].SequenceOrder
	})
	return out
}

func (s Saga) OrderedSteps() []SagaStep {
	out := make([]SagaStep, len(s.Steps))
	copy(out, s.Steps)
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceOrder < out[j].SequenceOrder
	})
	return out
}

// ValidateExecution checks the saga can start: non-terminal, at least one
// step, and a contiguous 1..n sequence order.
func (s Saga) ValidateExecution() error {
	if s.Status.IsTerminal() {
		return &BusinessRuleError{Reason: "saga is already in terminal state " + string(s.Status)}
	}
	if len(s.Steps) == 0 {
		return &BusinessRuleError{Reason: "saga has no steps defined"}
	}

	sequences := make([]int, 0, len(s.Steps))
	for _, step := range s.Steps {
		sequences = append(sequences, step.SequenceOrder)
	}
	sort.Ints(sequences)
	for i, seq := range sequences {
		if seq != i+1 {
			return &BusinessRuleError{Reason: "invalid step sequence order"}
		}
	}
	return nil
}

func (s Saga) WithContextValue(key, value string) Saga {
	ctx := make(map[string]string, len(s.Context)+1)
	for k, v := range s.Context {
		ctx[k] = v
	}
	ctx[key] = value
	s.Context = ctx
	return s
}

func (s Saga) ContextValue(key string) string {
	return s.Context[key]
}

func (s Saga) IsCompleted() bool {
	return s.Status == SagaStatusCompleted
}

func (s Saga) IsFailed() bool {
	return s.Status == SagaStatusFailed
}

func (s Saga) IsCompensating() bool {
	return s.Status == SagaStatusCompensating
}

func (s Saga) IsTerminal() bool {
	return s.Status.IsTerminal()
}

func (s Saga) guardTransition(target SagaStatus) error {
	if !s.Status.CanTransitionTo(target) {
		return &StateConflictError{Entity: "saga " + s.ID.String(), From: string(s.Status), To: string(target)}
	}
	return nil
}
