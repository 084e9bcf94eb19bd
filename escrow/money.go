package escrow

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits carried by every monetary
// value.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds v to cents using round-half-even so that systematic
// rounding bias does not accumulate across accounts.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.RoundBank(MoneyPlaces)
}

// CalculateFee returns amount * percent / 100 rounded to cents with
// round-half-even. It is pure and deterministic.
func CalculateFee(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(percent).Div(hundred))
}

// ParseAmount parses a decimal string into a monetary value. More than two
// fractional digits are rejected rather than silently rounded.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidRequest)
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrInvalidRequest, raw)
	}
	if !v.Equal(v.Truncate(MoneyPlaces)) {
		return decimal.Zero, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidRequest, trimmed, MoneyPlaces)
	}
	return v, nil
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidRequest, field)
	}
	if !v.Equal(v.Truncate(MoneyPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidRequest, field, MoneyPlaces)
	}
	return nil
}

func formatMoney(v decimal.Decimal) string {
	return v.StringFixed(MoneyPlaces)
}
