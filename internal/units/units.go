// Package units converts between human-readable token amounts and base units.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"rateSwap/internal/model"
)

// ParseUnits scales a decimal string such as "0.005" by 10^decimals. Inputs
// with more fractional digits than decimals are rejected rather than rounded.
func ParseUnits(value string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", value)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", value, decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows uint256", value)
	}
	return out, nil
}

// ParseEther is ParseUnits with the native asset's 18 decimals.
func ParseEther(value string) (*uint256.Int, error) {
	return ParseUnits(value, model.NativeDecimals)
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).String()
}

// ParseRate converts a decimal factor into a rate entry: "0.00002" becomes
// numerator 2 with exponent 5.
func ParseRate(value string) (model.Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return model.Rate{}, fmt.Errorf("parse rate %q: %w", value, err)
	}
	if d.Sign() <= 0 {
		return model.Rate{}, fmt.Errorf("rate %q must be positive", value)
	}

	coefficient := d.Coefficient()
	exp := d.Exponent()
	// Strip trailing zeros so "0.50" and "0.5" map to the same entry.
	ten := big.NewInt(10)
	for exp < 0 {
		q, r := new(big.Int).QuoRem(coefficient, ten, new(big.Int))
		if r.Sign() != 0 {
			break
		}
		coefficient = q
		exp++
	}
	if exp > 0 {
		coefficient = new(big.Int).Mul(coefficient, new(big.Int).Exp(ten, big.NewInt(int64(exp)), nil))
		exp = 0
	}

	numerator, overflow := uint256.FromBig(coefficient)
	if overflow {
		return model.Rate{}, fmt.Errorf("rate %q numerator overflows uint256", value)
	}
	return model.Rate{Numerator: numerator, Exponent: uint64(-exp)}, nil
}
