package swap

import (
	"math/big"

	"github.com/holiman/uint256"

	"rateSwap/internal/model"
)

// 10^77 is the largest power of ten below 2^256.
const maxUint256Exponent = 77

// 2^512 < 10^155, so a 512-bit product divided by 10^155 or more is always zero.
const zeroExponent = 155

// Quote computes floor(amountIn * numerator / 10^exponent) with a full 512-bit
// intermediate product.
func Quote(amountIn *uint256.Int, rate model.Rate) (*uint256.Int, error) {
	if !rate.Usable() {
		return nil, ErrRateUnavailable
	}
	if amountIn == nil || amountIn.IsZero() {
		return new(uint256.Int), nil
	}

	if rate.Exponent <= maxUint256Exponent {
		denom := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(rate.Exponent))
		out, overflow := new(uint256.Int).MulDivOverflow(amountIn, rate.Numerator, denom)
		if overflow {
			return nil, ErrAmountOverflow.Wrapf("%s * %s", amountIn.Dec(), rate)
		}
		return out, nil
	}
	if rate.Exponent >= zeroExponent {
		return new(uint256.Int), nil
	}

	product := new(big.Int).Mul(amountIn.ToBig(), rate.Numerator.ToBig())
	denom := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(rate.Exponent), nil)
	product.Quo(product, denom)
	out, overflow := uint256.FromBig(product)
	if overflow {
		return nil, ErrAmountOverflow.Wrapf("%s * %s", amountIn.Dec(), rate)
	}
	return out, nil
}
