package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCheckMoney(t *testing.T) {
	cases := map[string]bool{
		"0.01":             true,
		"-12.5":            true,
		"100":              true,
		"999999999999.99":  true,
		"-999999999999.99": true,
		"0.004":            false,
		"-0.005":           false,
		"10.001":           false,
		"1000000000000":    false,
		"-1000000000000.5": false,
	}
	for raw, ok := range cases {
		err := CheckMoney("amount", decimal.RequireFromString(raw))
		if ok {
			require.NoError(t, err, raw)
			continue
		}
		require.ErrorIs(t, err, ErrValidation, raw)
	}
}
