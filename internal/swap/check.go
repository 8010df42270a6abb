package swap

import (
	"context"
	"errors"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"github.com/holiman/uint256"
)

// Issue is one problem found by Check.
type Issue struct {
	Codespace string `json:"codespace"`
	Code      uint32 `json:"code"`
	Message   string `json:"message"`
}

func issueOf(err error) Issue {
	var regErr *errorsmod.Error
	if !errors.As(err, &regErr) {
		return Issue{Codespace: Codespace, Code: ErrInvalidRequest.ABCICode(), Message: err.Error()}
	}
	return Issue{Codespace: regErr.Codespace(), Code: regErr.ABCICode(), Message: err.Error()}
}

// Check reports every problem that would currently stop req from settling.
// It never mutates state and its verdict may be stale by execution time.
// The returned error is reserved for collaborator failures.
func (e *Engine) Check(ctx context.Context, req Request) ([]Issue, error) {
	issues := make([]Issue, 0)

	identical := req.TokenIn == req.TokenOut
	if identical {
		issues = append(issues, issueOf(ErrIdenticalTokens))
	}
	if req.Caller == e.pool {
		issues = append(issues, issueOf(ErrInvalidRequest.Wrap("caller must not be the pool account")))
	}

	src := ResolveAmount(req.TokenIn, req.AmountIn, req.Value)
	if src.IsZero() {
		issues = append(issues, issueOf(src.zeroError()))
	}

	var amountOut *uint256.Int
	rate, ok, err := e.rates.GetRate(ctx, req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("get rate %s->%s: %w", req.TokenIn.Hex(), req.TokenOut.Hex(), err)
	}
	if !ok || !rate.Usable() {
		issues = append(issues, issueOf(ErrRateUnavailable))
	} else if out, err := Quote(src.Amount, rate); err != nil {
		issues = append(issues, issueOf(err))
	} else {
		amountOut = out
	}

	if !src.IsZero() {
		have, err := e.ledger.BalanceOf(ctx, req.Caller, req.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("read caller balance: %w", err)
		}
		if have.Lt(src.Amount) {
			issues = append(issues, issueOf(ErrInsufficientCallerBalance.Wrapf("caller holds %s of %s, needs %s",
				have.Dec(), req.TokenIn.Hex(), src.Amount.Dec())))
		}
		if src.Kind == AmountParameter {
			allowed, err := e.ledger.Allowance(ctx, req.Caller, e.pool, req.TokenIn)
			if err != nil {
				return nil, fmt.Errorf("read allowance: %w", err)
			}
			if allowed.Lt(src.Amount) {
				issues = append(issues, issueOf(ErrUnauthorizedTransfer.Wrapf("allowance %s of %s, needs %s",
					allowed.Dec(), req.TokenIn.Hex(), src.Amount.Dec())))
			}
		}
	}

	if amountOut != nil && !identical {
		have, err := e.ledger.BalanceOf(ctx, e.pool, req.TokenOut)
		if err != nil {
			return nil, fmt.Errorf("read pool balance: %w", err)
		}
		if have.Lt(amountOut) {
			issues = append(issues, issueOf(ErrInsufficientPoolLiquidity.Wrapf("pool holds %s of %s, needs %s",
				have.Dec(), req.TokenOut.Hex(), amountOut.Dec())))
		}
	}

	return issues, nil
}
