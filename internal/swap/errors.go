package swap

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace groups every swap error code.
const Codespace = "swap"

// Swap sentinel errors
var (
	ErrIdenticalTokens           = errorsmod.Register(Codespace, 2, "two exchange tokens must be different")
	ErrZeroAmount                = errorsmod.Register(Codespace, 3, "zero amount")
	ErrRateUnavailable           = errorsmod.Register(Codespace, 4, "token rate must be greater than zero")
	ErrInsufficientPoolLiquidity = errorsmod.Register(Codespace, 5, "insufficient pool liquidity")
	ErrInsufficientCallerBalance = errorsmod.Register(Codespace, 6, "insufficient caller balance")
	ErrUnauthorizedTransfer      = errorsmod.Register(Codespace, 7, "transfer not authorized")
	ErrAmountOverflow            = errorsmod.Register(Codespace, 8, "amount out exceeds 256 bits")
	ErrInvalidRequest            = errorsmod.Register(Codespace, 9, "invalid request")
)

// Code returns the registered code of err within Codespace. nil maps to 0 and
// errors outside the taxonomy map to 1.
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	if codespace != Codespace {
		return 1
	}
	return code
}
