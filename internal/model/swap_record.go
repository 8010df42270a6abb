package model

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Record sources.
const (
	SourceEngine = "engine"
	SourceChain  = "chain"
)

// SwapRecord is the immutable result of a successful swap.
type SwapRecord struct {
	ID          string
	Sequence    uint64
	Caller      common.Address
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *uint256.Int
	AmountOut   *uint256.Int
	Timestamp   uint64
	Source      string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
}

// Pair returns the ordered pair swapped by the record.
func (r SwapRecord) Pair() Pair {
	return Pair{TokenIn: r.TokenIn, TokenOut: r.TokenOut}
}

type swapRecordJSON struct {
	ID          string `json:"id,omitempty"`
	Sequence    uint64 `json:"sequence"`
	Caller      string `json:"caller"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
	Timestamp   uint64 `json:"timestamp"`
	Source      string `json:"source"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	LogIndex    uint64 `json:"log_index,omitempty"`
}

// MarshalJSON encodes amounts as decimal strings and addresses as checksummed hex.
func (r SwapRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(swapRecordJSON{
		ID:          r.ID,
		Sequence:    r.Sequence,
		Caller:      r.Caller.Hex(),
		TokenIn:     r.TokenIn.Hex(),
		TokenOut:    r.TokenOut.Hex(),
		AmountIn:    decString(r.AmountIn),
		AmountOut:   decString(r.AmountOut),
		Timestamp:   r.Timestamp,
		Source:      r.Source,
		BlockNumber: r.BlockNumber,
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
	})
}

// UnmarshalJSON decodes a SwapRecord from its JSON form.
func (r *SwapRecord) UnmarshalJSON(data []byte) error {
	var a swapRecordJSON
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	for _, addr := range []string{a.Caller, a.TokenIn, a.TokenOut} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address: %q", addr)
		}
	}
	amountIn, err := uint256.FromDecimal(a.AmountIn)
	if err != nil {
		return fmt.Errorf("amount_in: %w", err)
	}
	amountOut, err := uint256.FromDecimal(a.AmountOut)
	if err != nil {
		return fmt.Errorf("amount_out: %w", err)
	}
	*r = SwapRecord{
		ID:          a.ID,
		Sequence:    a.Sequence,
		Caller:      common.HexToAddress(a.Caller),
		TokenIn:     common.HexToAddress(a.TokenIn),
		TokenOut:    common.HexToAddress(a.TokenOut),
		AmountIn:    amountIn,
		AmountOut:   amountOut,
		Timestamp:   a.Timestamp,
		Source:      a.Source,
		BlockNumber: a.BlockNumber,
		TxHash:      a.TxHash,
		LogIndex:    a.LogIndex,
	}
	return nil
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
