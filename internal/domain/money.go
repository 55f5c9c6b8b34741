package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed currency precision used for persistence and display.
const MoneyPlaces = 2

// ErrInvalidAmount is returned for negative amounts, amounts finer than MoneyPlaces, or amounts
// beyond the stored precision.
var ErrInvalidAmount = errors.New("amount invalid")

var (
	// MaxServiceAmount is the largest service price a decimal(10,2) column holds.
	MaxServiceAmount = decimal.New(9_999_999_999, -MoneyPlaces)
	// MaxOrderTotal is the largest order total a decimal(12,2) column holds.
	MaxOrderTotal = decimal.New(999_999_999_999, -MoneyPlaces)
)

// ValidateAmount checks that a service price is non-negative, representable with MoneyPlaces
// decimals and no larger than MaxServiceAmount.
func ValidateAmount(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s must be non-negative", ErrInvalidAmount, name)
	}
	if amount.GreaterThan(MaxServiceAmount) {
		return fmt.Errorf("%w: %s must not exceed %s", ErrInvalidAmount, name, FormatMoney(MaxServiceAmount))
	}
	if !amount.Equal(amount.Truncate(MoneyPlaces)) {
		return fmt.Errorf("%w: %s must have at most %d decimal places", ErrInvalidAmount, name, MoneyPlaces)
	}
	return nil
}

// ValidateTotal checks an aggregated order total against MaxOrderTotal.
func ValidateTotal(name string, total decimal.Decimal) error {
	if total.GreaterThan(MaxOrderTotal) {
		return fmt.Errorf("%w: %s would exceed %s", ErrInvalidAmount, name, FormatMoney(MaxOrderTotal))
	}
	return nil
}

// FormatMoney renders an amount with the fixed currency precision.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyPlaces)
}
