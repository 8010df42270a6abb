package aggregate

import (
	"math/big"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, pow10(decimals))
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// effectiveRate is the realized price of the window in whole-token units:
// (volumeOut / 10^decimalsOut) / (volumeIn / 10^decimalsIn).
func effectiveRate(volumeIn, volumeOut *big.Int, decimalsIn, decimalsOut uint8) *string {
	if volumeIn == nil || volumeIn.Sign() == 0 || volumeOut == nil {
		return nil
	}
	num := new(big.Int).Mul(volumeOut, pow10(decimalsIn))
	den := new(big.Int).Mul(volumeIn, pow10(decimalsOut))
	text := new(big.Rat).SetFrac(num, den).FloatString(ratioScale)
	return &text
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}
