package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rateSwap/internal/model"
)

// AmountKind tells where the effective input amount of a swap came from.
type AmountKind uint8

const (
	// AmountParameter is the explicit amountIn argument of a token swap.
	AmountParameter AmountKind = iota
	// AmountAttached is the native value attached to the call.
	AmountAttached
)

func (k AmountKind) String() string {
	if k == AmountAttached {
		return "attached"
	}
	return "parameter"
}

// AmountSource is the effective input amount tagged with its origin.
type AmountSource struct {
	Kind   AmountKind
	Amount *uint256.Int
}

// Attached wraps a native value attached to the call.
func Attached(v *uint256.Int) AmountSource {
	return AmountSource{Kind: AmountAttached, Amount: orZero(v)}
}

// Parameter wraps an explicit amountIn argument.
func Parameter(v *uint256.Int) AmountSource {
	return AmountSource{Kind: AmountParameter, Amount: orZero(v)}
}

// ResolveAmount picks the attached value when tokenIn is native and the
// amountIn parameter otherwise. The unused input is ignored.
func ResolveAmount(tokenIn common.Address, amountIn, value *uint256.Int) AmountSource {
	if model.IsNative(tokenIn) {
		return Attached(value)
	}
	return Parameter(amountIn)
}

func (s AmountSource) IsZero() bool {
	return s.Amount == nil || s.Amount.IsZero()
}

// zeroError is the ZeroAmount failure worded for the amount's origin.
func (s AmountSource) zeroError() error {
	if s.Kind == AmountAttached {
		return ErrZeroAmount.Wrap("ether amount must be greater than zero")
	}
	return ErrZeroAmount.Wrap("token amount must be greater than zero")
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
