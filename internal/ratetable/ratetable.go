package ratetable

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"rateSwap/internal/model"
)

// Table stores one fixed rate per ordered token pair.
type Table interface {
	// GetRate returns the stored rate. ok is false when no entry exists; a stored
	// entry with a zero numerator is returned as-is and is not usable.
	GetRate(ctx context.Context, tokenIn, tokenOut common.Address) (model.Rate, bool, error)
	// SetRate overwrites the entry unconditionally.
	SetRate(ctx context.Context, tokenIn, tokenOut common.Address, rate model.Rate) error
}

// Lister enumerates every stored entry.
type Lister interface {
	ListRates(ctx context.Context) ([]model.RateEntry, error)
}

// Store is a Table that can also list its entries.
type Store interface {
	Table
	Lister
}

// Memory is an in-memory Store.
type Memory struct {
	mu    sync.RWMutex
	rates map[model.Pair]model.Rate
}

func NewMemory() *Memory {
	return &Memory{rates: make(map[model.Pair]model.Rate)}
}

func (m *Memory) GetRate(_ context.Context, tokenIn, tokenOut common.Address) (model.Rate, bool, error) {
	m.mu.RLock()
	rate, ok := m.rates[model.Pair{TokenIn: tokenIn, TokenOut: tokenOut}]
	m.mu.RUnlock()
	if !ok {
		return model.Rate{}, false, nil
	}
	return cloneRate(rate), true, nil
}

func (m *Memory) SetRate(_ context.Context, tokenIn, tokenOut common.Address, rate model.Rate) error {
	m.mu.Lock()
	m.rates[model.Pair{TokenIn: tokenIn, TokenOut: tokenOut}] = cloneRate(rate)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListRates(_ context.Context) ([]model.RateEntry, error) {
	m.mu.RLock()
	out := make([]model.RateEntry, 0, len(m.rates))
	for pair, rate := range m.rates {
		out = append(out, model.RateEntry{Pair: pair, Rate: cloneRate(rate)})
	}
	m.mu.RUnlock()
	SortEntries(out)
	return out, nil
}

// SortEntries orders entries by tokenIn then tokenOut.
func SortEntries(entries []model.RateEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TokenIn != b.TokenIn {
			return strings.Compare(a.TokenIn.Hex(), b.TokenIn.Hex()) < 0
		}
		return strings.Compare(a.TokenOut.Hex(), b.TokenOut.Hex()) < 0
	})
}

func cloneRate(rate model.Rate) model.Rate {
	if rate.Numerator != nil {
		rate.Numerator = rate.Numerator.Clone()
	}
	return rate
}
