package commands

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// parseAmount reads s in token units and returns it in base units.
func parseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}

// formatAmount renders a base-10 base-unit string in token units.
func formatAmount(s string, decimals int32) string {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return s
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
