package bridge

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision of both USDC and USDCx.
const Decimals = 6

// ToBaseUnits converts a human amount to base units, flooring anything
// below 10^-6. The conversion is lossy by construction.
func ToBaseUnits(amount string) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("bridge: parse amount %q: %w", amount, err)
	}
	return DecimalToBaseUnits(value)
}

// DecimalToBaseUnits is ToBaseUnits for an already parsed amount.
func DecimalToBaseUnits(value decimal.Decimal) (*big.Int, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("bridge: negative amount %s", value.String())
	}
	return value.Shift(Decimals).Floor().BigInt(), nil
}

// FromBaseUnits renders base units with exactly six fraction digits.
func FromBaseUnits(units *big.Int) string {
	if units == nil {
		units = new(big.Int)
	}
	return decimal.NewFromBigInt(units, -Decimals).StringFixed(Decimals)
}

// BaseUnitsToDecimal returns base units as a decimal human amount.
func BaseUnitsToDecimal(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -Decimals)
}
