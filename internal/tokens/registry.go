// Package tokens maps token symbols to addresses and decimals.
package tokens

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"rateSwap/internal/model"
)

// Entry is one known token.
type Entry struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// Registry resolves tokens by symbol or address. It is not safe for
// concurrent mutation; build it once at startup.
type Registry struct {
	bySymbol  map[string]Entry
	byAddress map[common.Address]Entry
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]Entry),
		byAddress: make(map[common.Address]Entry),
	}
	for _, e := range entries {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LocalDev returns the tokens of the local development deployment: the
// native asset plus the two 18-decimal test tokens.
func LocalDev() *Registry {
	r, _ := NewRegistry(
		Entry{Symbol: "ETH", Address: model.NativeToken, Decimals: model.NativeDecimals},
		Entry{Symbol: "TOKA", Address: common.HexToAddress("0xA51c1fc2f0D1a1b8494Ed1FE312d7C3a78Ed91C0"), Decimals: 18},
		Entry{Symbol: "TOKB", Address: common.HexToAddress("0x0DCd1Bf9A1b36cE34237eEaFef220932846BCD82"), Decimals: 18},
	)
	return r
}

// Add registers an entry, replacing any entry with the same symbol.
func (r *Registry) Add(e Entry) error {
	symbol := strings.ToUpper(strings.TrimSpace(e.Symbol))
	if symbol == "" {
		return fmt.Errorf("token symbol is required")
	}
	if model.IsNative(e.Address) && e.Decimals != model.NativeDecimals {
		return fmt.Errorf("native token must use %d decimals", model.NativeDecimals)
	}
	if old, ok := r.bySymbol[symbol]; ok {
		delete(r.byAddress, old.Address)
	}
	e.Symbol = symbol
	r.bySymbol[symbol] = e
	r.byAddress[e.Address] = e
	return nil
}

// Resolve accepts a symbol (case-insensitive) or a hex address. Unknown
// addresses resolve with ok=false and the address filled in.
func (r *Registry) Resolve(ref string) (Entry, bool, error) {
	ref = strings.TrimSpace(ref)
	if common.IsHexAddress(ref) {
		addr := common.HexToAddress(ref)
		if e, ok := r.byAddress[addr]; ok {
			return e, true, nil
		}
		return Entry{Address: addr}, false, nil
	}
	if e, ok := r.bySymbol[strings.ToUpper(ref)]; ok {
		return e, true, nil
	}
	return Entry{}, false, fmt.Errorf("unknown token %q", ref)
}

// Lookup returns the entry registered for an address.
func (r *Registry) Lookup(addr common.Address) (Entry, bool) {
	e, ok := r.byAddress[addr]
	return e, ok
}

// Decimals reports registered decimals so the registry can stand in for an
// on-chain metadata resolver.
func (r *Registry) Decimals(_ context.Context, token common.Address) (uint8, error) {
	if e, ok := r.byAddress[token]; ok {
		return e.Decimals, nil
	}
	return 0, fmt.Errorf("token %s not registered", token.Hex())
}

// Entries returns all entries ordered by symbol.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.bySymbol))
	for _, e := range r.bySymbol {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
