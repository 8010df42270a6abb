package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rateSwap/internal/model"
)

// Memory is an in-memory Store. Settlements are serialized by a single mutex.
type Memory struct {
	mu         sync.RWMutex
	balances   map[BalanceKey]*uint256.Int
	allowances map[AllowanceKey]*uint256.Int
	records    []model.SwapRecord
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[BalanceKey]*uint256.Int),
		allowances: make(map[AllowanceKey]*uint256.Int),
	}
}

func (m *Memory) BalanceOf(_ context.Context, account, token common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.ReadBalance(BalanceKey{Account: account, Token: token})
	return v.Clone(), nil
}

func (m *Memory) Allowance(_ context.Context, owner, spender, token common.Address) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.ReadAllowance(AllowanceKey{Owner: owner, Spender: spender, Token: token})
	return v.Clone(), nil
}

// ReadBalance implements Reader; callers must hold the lock.
func (m *Memory) ReadBalance(key BalanceKey) (*uint256.Int, error) {
	if v, ok := m.balances[key]; ok {
		return v, nil
	}
	return new(uint256.Int), nil
}

// ReadAllowance implements Reader; callers must hold the lock.
func (m *Memory) ReadAllowance(key AllowanceKey) (*uint256.Int, error) {
	if v, ok := m.allowances[key]; ok {
		return v, nil
	}
	return new(uint256.Int), nil
}

func (m *Memory) Settle(_ context.Context, transfers []Transfer, record *model.SwapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changes, err := Plan(m, transfers)
	if err != nil {
		return err
	}
	for key, v := range changes.Balances {
		m.balances[key] = v
	}
	for key, v := range changes.Allowances {
		m.allowances[key] = v
	}
	if record != nil {
		record.Sequence = uint64(len(m.records)) + 1
		m.records = append(m.records, copyRecord(*record))
	}
	return nil
}

func (m *Memory) Credit(_ context.Context, account, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ErrInvalidTransfer)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := BalanceKey{Account: account, Token: token}
	current, _ := m.ReadBalance(key)
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return fmt.Errorf("%w: balance overflow", ErrInvalidTransfer)
	}
	m.balances[key] = sum
	return nil
}

func (m *Memory) Approve(_ context.Context, owner, spender, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ErrInvalidTransfer)
	}
	m.mu.Lock()
	m.allowances[AllowanceKey{Owner: owner, Spender: spender, Token: token}] = amount.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Memory) SwapRecords(_ context.Context, afterSequence uint64, limit int) ([]model.SwapRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.SwapRecord, 0)
	for _, rec := range m.records {
		if rec.Sequence <= afterSequence {
			continue
		}
		out = append(out, copyRecord(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func copyRecord(rec model.SwapRecord) model.SwapRecord {
	if rec.AmountIn != nil {
		rec.AmountIn = rec.AmountIn.Clone()
	}
	if rec.AmountOut != nil {
		rec.AmountOut = rec.AmountOut.Clone()
	}
	return rec
}
