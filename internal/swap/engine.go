package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"rateSwap/internal/ledger"
	"rateSwap/internal/metrics"
	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
)

// Publisher receives committed swap records.
type Publisher interface {
	Publish(ctx context.Context, record model.SwapRecord) error
}

// Request is a swap intent. Value is the native amount attached to the call;
// it only counts when TokenIn is native.
type Request struct {
	Caller   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *uint256.Int
	Value    *uint256.Int
}

// Engine validates, prices and settles swaps against a single pool account.
// It keeps no mutable state; the ledger serializes conflicting settlements.
type Engine struct {
	rates     ratetable.Table
	ledger    ledger.Ledger
	pool      common.Address
	publisher Publisher
	now       func() time.Time
	logger    *zap.Logger
	metrics   *metrics.SwapMetrics
}

// Option configures an Engine.
type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithMetrics(m *metrics.SwapMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an engine. pool is both the liquidity account and the
// spender identity callers approve.
func NewEngine(rates ratetable.Table, l ledger.Ledger, pool common.Address, opts ...Option) (*Engine, error) {
	if rates == nil {
		return nil, errors.New("rate table is required")
	}
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if model.IsNative(pool) {
		return nil, errors.New("pool address must not be the native sentinel")
	}
	e := &Engine{
		rates:  rates,
		ledger: l,
		pool:   pool,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Pool returns the pool account address.
func (e *Engine) Pool() common.Address {
	return e.pool
}

// Swap runs the full validation pipeline and settles the swap. Any failure
// leaves balances, allowances and records untouched.
func (e *Engine) Swap(ctx context.Context, req Request) (record model.SwapRecord, err error) {
	start := e.now()
	defer func() {
		e.metrics.ObserveSwap(Code(err), e.now().Sub(start))
	}()

	if req.TokenIn == req.TokenOut {
		return model.SwapRecord{}, ErrIdenticalTokens
	}

	src := ResolveAmount(req.TokenIn, req.AmountIn, req.Value)
	if src.IsZero() {
		return model.SwapRecord{}, src.zeroError()
	}

	amountOut, err := e.quote(ctx, req.TokenIn, req.TokenOut, src.Amount)
	if err != nil {
		return model.SwapRecord{}, err
	}

	if req.Caller == e.pool {
		return model.SwapRecord{}, ErrInvalidRequest.Wrap("caller must not be the pool account")
	}

	in := ledger.Transfer{Token: req.TokenIn, From: req.Caller, To: e.pool, Amount: src.Amount}
	if src.Kind == AmountParameter {
		in.Spender = e.pool
	}
	out := ledger.Transfer{Token: req.TokenOut, From: e.pool, To: req.Caller, Amount: amountOut}

	record = model.SwapRecord{
		ID:        uuid.NewString(),
		Caller:    req.Caller,
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  src.Amount.Clone(),
		AmountOut: amountOut.Clone(),
		Timestamp: uint64(start.Unix()),
		Source:    model.SourceEngine,
	}
	if err := e.ledger.Settle(ctx, []ledger.Transfer{in, out}, &record); err != nil {
		return model.SwapRecord{}, e.settleError(err)
	}

	e.logger.Info("swap settled",
		zap.String("id", record.ID),
		zap.Uint64("sequence", record.Sequence),
		zap.String("caller", record.Caller.Hex()),
		zap.String("token_in", record.TokenIn.Hex()),
		zap.String("token_out", record.TokenOut.Hex()),
		zap.String("amount_in", record.AmountIn.Dec()),
		zap.String("amount_out", record.AmountOut.Dec()),
		zap.Stringer("amount_source", src.Kind),
	)
	e.publish(ctx, record)
	return record, nil
}

// PreviewSwap prices amountIn without validating tokens or touching balances.
func (e *Engine) PreviewSwap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	out, err := e.quote(ctx, tokenIn, tokenOut, amountIn)
	e.metrics.ObservePreview(err == nil)
	return out, err
}

// Rate returns the usable rate for the pair or ErrRateUnavailable.
func (e *Engine) Rate(ctx context.Context, tokenIn, tokenOut common.Address) (model.Rate, error) {
	rate, ok, err := e.rates.GetRate(ctx, tokenIn, tokenOut)
	if err != nil {
		return model.Rate{}, fmt.Errorf("get rate %s->%s: %w", tokenIn.Hex(), tokenOut.Hex(), err)
	}
	if !ok || !rate.Usable() {
		return model.Rate{}, ErrRateUnavailable
	}
	return rate, nil
}

func (e *Engine) quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	rate, err := e.Rate(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return Quote(amountIn, rate)
}

func (e *Engine) settleError(err error) error {
	var balErr *ledger.BalanceError
	var allowErr *ledger.AllowanceError
	switch {
	case errors.As(err, &balErr):
		if balErr.Account == e.pool {
			return ErrInsufficientPoolLiquidity.Wrapf("pool holds %s of %s, needs %s",
				balErr.Have.Dec(), balErr.Token.Hex(), balErr.Want.Dec())
		}
		return ErrInsufficientCallerBalance.Wrapf("caller holds %s of %s, needs %s",
			balErr.Have.Dec(), balErr.Token.Hex(), balErr.Want.Dec())
	case errors.As(err, &allowErr):
		return ErrUnauthorizedTransfer.Wrapf("allowance %s of %s, needs %s",
			allowErr.Have.Dec(), allowErr.Token.Hex(), allowErr.Want.Dec())
	case errors.Is(err, ledger.ErrInvalidTransfer):
		return ErrInvalidRequest.Wrap(err.Error())
	default:
		return fmt.Errorf("settle swap: %w", err)
	}
}

func (e *Engine) publish(ctx context.Context, record model.SwapRecord) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, record); err != nil {
		e.metrics.PublishFailed()
		e.logger.Warn("publish swap record failed", zap.String("id", record.ID), zap.Error(err))
	}
}
