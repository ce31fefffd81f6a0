package domain

import (
	"strings"
	"time"
)

type SagaStepStatus string

const (
	SagaStepStatusPending      SagaStepStatus = "PENDING"
	SagaStepStatusExecuting    SagaStepStatus = "EXECUTING"
	SagaStepStatusCompleted    SagaStepStatus = "COMPLETED"
	SagaStepStatusFailed       SagaStepStatus = "FAILED"
	SagaStepStatusCompensating SagaStepStatus = "COMPENSATING"
	SagaStepStatusCompensated  SagaStepStatus = "COMPENSATED"
	SagaStepStatusSkipped      SagaStepStatus = "SKIPPED"
)

func (s SagaStepStatus) IsTerminal() bool {
	return s == SagaStepStatusCompleted || s == SagaStepStatusCompensated || s == SagaStepStatusSkipped
}

// CanTransitionTo encodes the step transition table. COMPLETED may still move
// to COMPENSATING when the saga unwinds; every other terminal state is final.
func (s SagaStepStatus) CanTransitionTo(target SagaStepStatus) bool {
	switch s {
	case SagaStepStatusPending:
		return target == SagaStepStatusExecuting || target == SagaStepStatusSkipped
	case SagaStepStatusExecuting:
		return target == SagaStepStatusCompleted || target == SagaStepStatusFailed
	case SagaStepStatusCompleted:
		return target == SagaStepStatusCompensating
	case SagaStepStatusFailed:
		return target == SagaStepStatusCompensating
	case SagaStepStatusCompensating:
		return target == SagaStepStatusCompensated
	default:
		return false
	}
}

// SagaStep is one remote action within a saga, paired with the name of the
// action that undoes it. Steps are owned exclusively by their saga and follow
// the same pure-transition discipline as Transaction.
type SagaStep struct {
	ID                      string
	SagaID                  SagaID
	StepName                string
	StepType                string
	SequenceOrder           int
	Status                  SagaStepStatus
	ServiceName             string
	ActionName              string
	CompensationAction      string
	Parameters              map[string]string
	StartedAt               *time.Time
	CompletedAt             *time.Time
	CompensationStartedAt   *time.Time
	CompensationCompletedAt *time.Time
	ErrorMessage            string
	RetryCount              int
	MaxRetryAttempts        int
	TimeoutSeconds          int64
}

func NewSagaStep(stepName, stepType string, sequenceOrder int, serviceName, actionName, compensationAction string) (SagaStep, error) {
	if strings.TrimSpace(stepName) == "" {
		return SagaStep{}, &ValidationError{Field: "stepName", Reason: "step name is required"}
	}
	if strings.TrimSpace(serviceName) == "" {
		return SagaStep{}, &ValidationError{Field: "serviceName", Reason: "service name is required"}
	}
	if strings.TrimSpace(actionName) == "" {
		return SagaStep{}, &ValidationError{Field: "actionName", Reason: "action name is required"}
	}
	if sequenceOrder <= 0 {
		return SagaStep{}, &ValidationError{Field: "sequenceOrder", Reason: "sequence order must be positive"}
	}

	return SagaStep{
		StepName:           stepName,
		StepType:           stepType,
		SequenceOrder:      sequenceOrder,
		Status:             SagaStepStatusPending,
		ServiceName:        serviceName,
		ActionName:         actionName,
		CompensationAction: compensationAction,
		Parameters:         map[string]string{},
		MaxRetryAttempts:   3,
	}, nil
}

func (s SagaStep) Start() (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusExecuting); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStepStatusExecuting
	s.StartedAt = &now
	return s, nil
}

func (s SagaStep) Complete() (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusCompleted); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStepStatusCompleted
	s.CompletedAt = &now
	return s, nil
}

func (s SagaStep) Fail(errorMessage string) (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusFailed); err != nil {
		return s, err
	}

	s.Status = SagaStepStatusFailed
	s.ErrorMessage = errorMessage
	return s, nil
}

func (s SagaStep) StartCompensation() (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusCompensating); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStepStatusCompensating
	s.CompensationStartedAt = &now
	return s, nil
}

func (s SagaStep) Compensate() (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusCompensated); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStepStatusCompensated
	s.CompensationCompletedAt = &now
	return s, nil
}

func (s SagaStep) Skip() (SagaStep, error) {
	if err := s.guardTransition(SagaStepStatusSkipped); err != nil {
		return s, err
	}

	now := time.Now().UTC()
	s.Status = SagaStepStatusSkipped
	s.CompletedAt = &now
	return s, nil
}

func (s SagaStep) IncrementRetryCount() SagaStep {
	s.RetryCount++
	return s
}

func (s SagaStep) CanRetry() bool {
	return s.RetryCount < s.MaxRetryAttempts
}

func (s SagaStep) HasCompensationAction() bool {
	return strings.TrimSpace(s.CompensationAction) != ""
}

func (s SagaStep) IsCompleted() bool {
	return s.Status == SagaStepStatusCompleted
}

func (s SagaStep) IsFailed() bool {
	return s.Status == SagaStepStatusFailed
}

func (s SagaStep) IsTerminal() bool {
	return s.Status.IsTerminal()
}

func (s SagaStep) WithParameter(key, value string) SagaStep {
	params := make(map[string]string, len(s.Parameters)+1)
	for k, v := range s.Parameters {
		params[k] = v
	}
	params[key] = value
	s.Parameters = params
	return s
}

func (s SagaStep) Parameter(key string) string {
	return s.Parameters[key]
}

func (s SagaStep) WithTimeout(seconds int64) SagaStep {
	s.TimeoutSeconds = seconds
	return s
}

func (s SagaStep) guardTransition(target SagaStepStatus) error {
	if !s.Status.CanTransitionTo(target) {
		return &StateConflictError{Entity: "saga step " + s.StepName, From: string(s.Status), To: string(target)}
	}
	return nil
}
