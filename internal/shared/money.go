package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the scale of every NUMERIC(14,2) money column.
const MoneyPlaces = 2

// MaxMoney is the largest magnitude a NUMERIC(14,2) column holds.
var MaxMoney = decimal.RequireFromString("999999999999.99")

// CheckMoney rejects amounts the database would round or overflow.
func CheckMoney(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrValidation, field, MoneyPlaces)
	}
	if amount.Abs().GreaterThan(MaxMoney) {
		return fmt.Errorf("%w: %s exceeds %s", ErrValidation, field, MaxMoney.StringFixed(MoneyPlaces))
	}
	return nil
}
