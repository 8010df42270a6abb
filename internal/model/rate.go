package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pair is an ordered (tokenIn, tokenOut) key. The rate for A->B is independent of B->A.
type Pair struct {
	TokenIn  common.Address `json:"token_in"`
	TokenOut common.Address `json:"token_out"`
}

// Reversed returns the opposite direction of the pair.
func (p Pair) Reversed() Pair {
	return Pair{TokenIn: p.TokenOut, TokenOut: p.TokenIn}
}

func (p Pair) String() string {
	return p.TokenIn.Hex() + "->" + p.TokenOut.Hex()
}

// Rate is numerator * 10^(-exponent). A zero numerator marks the rate as unset.
type Rate struct {
	Numerator *uint256.Int
	Exponent  uint64
}

// NewRate builds a rate from small integer parts.
func NewRate(numerator uint64, exponent uint64) Rate {
	return Rate{Numerator: uint256.NewInt(numerator), Exponent: exponent}
}

// Usable reports whether the rate can price a swap.
func (r Rate) Usable() bool {
	return r.Numerator != nil && !r.Numerator.IsZero()
}

// Rat returns the rate as an exact rational.
func (r Rate) Rat() *big.Rat {
	if r.Numerator == nil {
		return new(big.Rat)
	}
	denom := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(r.Exponent), nil)
	return new(big.Rat).SetFrac(r.Numerator.ToBig(), denom)
}

func (r Rate) String() string {
	num := "0"
	if r.Numerator != nil {
		num = r.Numerator.Dec()
	}
	return fmt.Sprintf("%se-%d", num, r.Exponent)
}

// RateEntry is a stored rate together with its pair.
type RateEntry struct {
	Pair
	Rate Rate
}

// RateEntryJSON is the wire form of a rate entry; big values travel as decimal strings.
type RateEntryJSON struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	Numerator string `json:"numerator"`
	Exponent  uint64 `json:"exponent"`
	Decimal   string `json:"decimal"`
}

// JSON converts the entry into its wire form.
func (e RateEntry) JSON() RateEntryJSON {
	num := "0"
	if e.Rate.Numerator != nil {
		num = e.Rate.Numerator.Dec()
	}
	prec := int(e.Rate.Exponent)
	if prec > 36 {
		prec = 36
	}
	return RateEntryJSON{
		TokenIn:   e.TokenIn.Hex(),
		TokenOut:  e.TokenOut.Hex(),
		Numerator: num,
		Exponent:  e.Rate.Exponent,
		Decimal:   e.Rate.Rat().FloatString(prec),
	}
}
