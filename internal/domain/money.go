package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an immutable currency-tagged amount scaled to two fractional
// digits. Amounts are never negative; operations that would produce a
// negative result fail instead.
type Money struct {
	amount   decimal.Decimal
	currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return Money{}, &ValidationError{Field: "currency", Reason: "currency cannot be empty"}
	}
	if amount.IsNegative() {
		return Money{}, &ValidationError{Field: "amount", Reason: "amount cannot be negative"}
	}

	return Money{amount: amount.Round(2), currency: code}, nil
}

func NewMoneyFromString(amount, currency string) (Money, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("invalid amount %q", amount)}
	}
	return NewMoney(value, currency)
}

func ZeroMoney(currency string) (Money, error) {
	return NewMoney(decimal.Zero, currency)
}

// MustMoney panics on invalid input. Intended for constants and tests.
func MustMoney(amount, currency string) Money {
	m, err := NewMoneyFromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Amount() decimal.Decimal {
	return m.amount
}

func (m Money) Currency() string {
	return m.currency
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.requireSameCurrency(other, "add"); err != nil {
		return Money{}, err
	}
	return NewMoney(m.amount.Add(other.amount), m.currency)
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.requireSameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}

	result := m.amount.Sub(other.amount)
	if result.IsNegative() {
		return Money{}, &ValidationError{Field: "amount", Reason: "subtraction result cannot be negative"}
	}
	return NewMoney(result, m.currency)
}

func (m Money) Multiply(multiplier decimal.Decimal) (Money, error) {
	if multiplier.IsNegative() {
		return Money{}, &ValidationError{Field: "multiplier", Reason: "multiplier cannot be negative"}
	}
	return NewMoney(m.amount.Mul(multiplier), m.currency)
}

func (m Money) IsZero() bool {
	return m.amount.IsZero()
}

func (m Money) GreaterThan(other Money) (bool, error) {
	if err := m.requireSameCurrency(other, "compare"); err != nil {
		return false, err
	}
	return m.amount.GreaterThan(other.amount), nil
}

func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	if err := m.requireSameCurrency(other, "compare"); err != nil {
		return false, err
	}
	return m.amount.GreaterThanOrEqual(other.amount), nil
}

func (m Money) LessThan(other Money) (bool, error) {
	gte, err := m.GreaterThanOrEqual(other)
	if err != nil {
		return false, err
	}
	return !gte, nil
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.currency, m.amount.StringFixed(2))
}

func (m Money) requireSameCurrency(other Money, op string) error {
	if m.currency != other.currency {
		return &ValidationError{
			Field:  "currency",
			Reason: fmt.Sprintf("cannot %s %s and %s", op, m.currency, other.currency),
		}
	}
	return nil
}
