package domain

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypePayment    TransactionType = "PAYMENT"
	TransactionTypeRefund     TransactionType = "REFUND"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	TransactionTypeFee        TransactionType = "FEE"
	TransactionTypeInterest   TransactionType = "INTEREST"
)

// AllTransactionTypes is the closed set the dispatch table must cover.
var AllTransactionTypes = []TransactionType{
	TransactionTypeDeposit,
	TransactionTypeWithdrawal,
	TransactionTypeTransfer,
	TransactionTypePayment,
	TransactionTypeRefund,
	TransactionTypeAdjustment,
	TransactionTypeFee,
	TransactionTypeInterest,
}

func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeRefund || t == TransactionTypeInterest
}

func (t TransactionType) IsDebit() bool {
	return t == TransactionTypeWithdrawal || t == TransactionTypePayment || t == TransactionTypeFee
}

func (t TransactionType) RequiresDestination() bool {
	return t == TransactionTypeTransfer
}

func (t TransactionType) RequiresFee() bool {
	return t == TransactionTypeWithdrawal || t == TransactionTypeTransfer || t == TransactionTypePayment
}

func (t TransactionType) Valid() bool {
	for _, known := range AllTransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}
