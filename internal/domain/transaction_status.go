package domain

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
	TransactionStatusReversed   TransactionStatus = "REVERSED"
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusReversed:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes the full transition table. COMPLETED may still move
// to REVERSED; every other terminal state is final.
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return target == TransactionStatusProcessing || target == TransactionStatusCancelled
	case TransactionStatusProcessing:
		return target == TransactionStatusCompleted || target == TransactionStatusFailed || target == TransactionStatusCancelled
	case TransactionStatusCompleted:
		return target == TransactionStatusReversed
	default:
		return false
	}
}
