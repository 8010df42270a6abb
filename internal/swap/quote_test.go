package swap

import (
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"rateSwap/internal/model"
)

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

func expectedQuote(x, n *uint256.Int, exp uint64) *big.Int {
	product := new(big.Int).Mul(x.ToBig(), n.ToBig())
	denom := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(exp), nil)
	return product.Quo(product, denom)
}

func drawUint256(t *rapid.T, label string) *uint256.Int {
	words := rapid.SliceOfN(rapid.Uint64(), 4, 4).Draw(t, label)
	v := uint256.Int{words[0], words[1], words[2], words[3]}
	return &v
}

func TestQuoteMatchesFloorFormula(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := uint256.NewInt(rapid.Uint64().Draw(t, "x"))
		n := uint256.NewInt(rapid.Uint64Range(1, ^uint64(0)).Draw(t, "n"))
		exp := rapid.Uint64Range(0, 40).Draw(t, "exp")

		got, err := Quote(x, model.Rate{Numerator: n, Exponent: exp})
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if want := expectedQuote(x, n, exp); got.ToBig().Cmp(want) != 0 {
			t.Fatalf("quote(%s, %s, %d) = %s want %s", x.Dec(), n.Dec(), exp, got.Dec(), want)
		}
	})
}

func TestQuoteFullWidth(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := drawUint256(t, "x")
		n := drawUint256(t, "n")
		if n.IsZero() {
			n.SetOne()
		}
		exp := rapid.Uint64Range(0, 200).Draw(t, "exp")

		got, err := Quote(x, model.Rate{Numerator: n, Exponent: exp})
		want := expectedQuote(x, n, exp)
		if want.Cmp(two256) >= 0 {
			if !errors.Is(err, ErrAmountOverflow) {
				t.Fatalf("expected overflow for %s, got %v", want, err)
			}
			return
		}
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if got.ToBig().Cmp(want) != 0 {
			t.Fatalf("quote = %s want %s", got.Dec(), want)
		}
	})
}

func TestQuoteEdges(t *testing.T) {
	_, err := Quote(uint256.NewInt(1), model.Rate{})
	assert.ErrorIs(t, err, ErrRateUnavailable)

	out, err := Quote(nil, model.NewRate(7, 0))
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	out, err = Quote(uint256.NewInt(9), model.NewRate(1, 1))
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	max := new(uint256.Int).SetAllOne()
	_, err = Quote(max, model.NewRate(2, 0))
	assert.ErrorIs(t, err, ErrAmountOverflow)

	out, err = Quote(max, model.NewRate(10, 1))
	require.NoError(t, err)
	assert.Equal(t, max.Dec(), out.Dec())
}

func TestAmountSourceResolution(t *testing.T) {
	src := ResolveAmount(model.NativeToken, uint256.NewInt(5), uint256.NewInt(9))
	assert.Equal(t, AmountAttached, src.Kind)
	assert.Equal(t, uint64(9), src.Amount.Uint64())

	src = ResolveAmount(tokenA, uint256.NewInt(5), uint256.NewInt(9))
	assert.Equal(t, AmountParameter, src.Kind)
	assert.Equal(t, uint64(5), src.Amount.Uint64())

	src = ResolveAmount(tokenA, nil, nil)
	assert.True(t, src.IsZero())
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code uint32
	}{
		{ErrIdenticalTokens, 2},
		{ErrZeroAmount, 3},
		{ErrRateUnavailable, 4},
		{ErrInsufficientPoolLiquidity, 5},
		{ErrInsufficientCallerBalance, 6},
		{ErrUnauthorizedTransfer, 7},
		{ErrAmountOverflow, 8},
		{ErrInvalidRequest, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, Code(tc.err))
	}
	assert.Equal(t, uint32(3), Code(ErrZeroAmount.Wrap("ether amount must be greater than zero")))
	assert.Equal(t, uint32(0), Code(nil))
}
