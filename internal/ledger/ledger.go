package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rateSwap/internal/model"
)

var (
	// ErrInsufficientBalance indicates a debit would drive a balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInsufficientAllowance indicates a pull exceeds the owner's allowance to the spender.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	// ErrInvalidTransfer indicates a malformed transfer.
	ErrInvalidTransfer = errors.New("ledger: invalid transfer")
)

// Transfer moves Amount of Token from From to To. A non-zero Spender turns the
// movement into a pull that consumes From's allowance to Spender.
type Transfer struct {
	Token   common.Address
	From    common.Address
	To      common.Address
	Spender common.Address
	Amount  *uint256.Int
}

// IsPull reports whether the transfer spends an allowance.
func (t Transfer) IsPull() bool {
	return t.Spender != (common.Address{})
}

func (t Transfer) validate() error {
	if t.Amount == nil {
		return fmt.Errorf("%w: amount required", ErrInvalidTransfer)
	}
	if t.From == t.To {
		return fmt.Errorf("%w: from equals to", ErrInvalidTransfer)
	}
	return nil
}

// BalanceError reports the account whose balance could not cover a debit.
type BalanceError struct {
	Account common.Address
	Token   common.Address
	Have    *uint256.Int
	Want    *uint256.Int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance: account %s token %s has %s wants %s",
		e.Account.Hex(), e.Token.Hex(), e.Have.Dec(), e.Want.Dec())
}

func (e *BalanceError) Unwrap() error { return ErrInsufficientBalance }

// AllowanceError reports a pull that exceeded the granted allowance.
type AllowanceError struct {
	Owner   common.Address
	Spender common.Address
	Token   common.Address
	Have    *uint256.Int
	Want    *uint256.Int
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient allowance: owner %s spender %s token %s has %s wants %s",
		e.Owner.Hex(), e.Spender.Hex(), e.Token.Hex(), e.Have.Dec(), e.Want.Dec())
}

func (e *AllowanceError) Unwrap() error { return ErrInsufficientAllowance }

// Ledger holds balances and settles transfers atomically.
type Ledger interface {
	BalanceOf(ctx context.Context, account, token common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender, token common.Address) (*uint256.Int, error)
	// Settle applies every transfer and appends record (when non-nil) as a single
	// atomic step. On error nothing is applied. The ledger assigns record.Sequence.
	Settle(ctx context.Context, transfers []Transfer, record *model.SwapRecord) error
}

// Operator covers privileged funding and the owner-side allowance grant.
type Operator interface {
	Credit(ctx context.Context, account, token common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender, token common.Address, amount *uint256.Int) error
}

// RecordReader lists committed swap records in sequence order.
type RecordReader interface {
	SwapRecords(ctx context.Context, afterSequence uint64, limit int) ([]model.SwapRecord, error)
}

// Store is the full ledger surface implemented by every backend.
type Store interface {
	Ledger
	Operator
	RecordReader
}
