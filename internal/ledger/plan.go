package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceKey addresses one (account, token) balance.
type BalanceKey struct {
	Account common.Address
	Token   common.Address
}

// AllowanceKey addresses one (owner, spender, token) allowance.
type AllowanceKey struct {
	Owner   common.Address
	Spender common.Address
	Token   common.Address
}

// Reader is the read side a Plan is computed against.
type Reader interface {
	ReadBalance(key BalanceKey) (*uint256.Int, error)
	ReadAllowance(key AllowanceKey) (*uint256.Int, error)
}

// Changes holds the post-settlement values of every touched balance and allowance.
type Changes struct {
	Balances   map[BalanceKey]*uint256.Int
	Allowances map[AllowanceKey]*uint256.Int
}

// Plan applies transfers in order over reader and returns the resulting values
// without writing anything. Later transfers observe earlier ones.
func Plan(reader Reader, transfers []Transfer) (*Changes, error) {
	changes := &Changes{
		Balances:   make(map[BalanceKey]*uint256.Int),
		Allowances: make(map[AllowanceKey]*uint256.Int),
	}

	balance := func(key BalanceKey) (*uint256.Int, error) {
		if v, ok := changes.Balances[key]; ok {
			return v, nil
		}
		v, err := reader.ReadBalance(key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = new(uint256.Int)
		}
		return v.Clone(), nil
	}

	for _, t := range transfers {
		if err := t.validate(); err != nil {
			return nil, err
		}

		if t.IsPull() {
			key := AllowanceKey{Owner: t.From, Spender: t.Spender, Token: t.Token}
			allowed, ok := changes.Allowances[key]
			if !ok {
				v, err := reader.ReadAllowance(key)
				if err != nil {
					return nil, err
				}
				if v == nil {
					v = new(uint256.Int)
				}
				allowed = v.Clone()
			}
			if allowed.Lt(t.Amount) {
				return nil, &AllowanceError{Owner: t.From, Spender: t.Spender, Token: t.Token, Have: allowed, Want: t.Amount.Clone()}
			}
			changes.Allowances[key] = new(uint256.Int).Sub(allowed, t.Amount)
		}

		fromKey := BalanceKey{Account: t.From, Token: t.Token}
		from, err := balance(fromKey)
		if err != nil {
			return nil, err
		}
		if from.Lt(t.Amount) {
			return nil, &BalanceError{Account: t.From, Token: t.Token, Have: from, Want: t.Amount.Clone()}
		}

		toKey := BalanceKey{Account: t.To, Token: t.Token}
		to, err := balance(toKey)
		if err != nil {
			return nil, err
		}
		sum, overflow := new(uint256.Int).AddOverflow(to, t.Amount)
		if overflow {
			return nil, ErrInvalidTransfer
		}

		changes.Balances[fromKey] = new(uint256.Int).Sub(from, t.Amount)
		changes.Balances[toKey] = sum
	}

	return changes, nil
}
