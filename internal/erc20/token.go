package erc20

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rateSwap/internal/model"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// NativeBalancer reads native-asset balances.
type NativeBalancer interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

func call(ctx context.Context, caller ContractCaller, token common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values, nil
}

// FetchTokenMeta loads decimals, symbol and name. Decimals are required;
// symbol and name fall back to their bytes32 variants and are otherwise left empty.
func FetchTokenMeta(ctx context.Context, caller ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	if model.IsNative(token) {
		return model.NativeTokenMeta(), nil
	}
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("contract caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	legacy, err := bytes32ABIInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := call(ctx, caller, token, parsed, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return meta, fmt.Errorf("decimals unexpected type %T", values[0])
	}
	meta.Decimals = decimals

	meta.Symbol = readText(ctx, caller, token, parsed, legacy, "symbol", logger)
	meta.Name = readText(ctx, caller, token, parsed, legacy, "name", logger)
	return meta, nil
}

func readText(ctx context.Context, caller ContractCaller, token common.Address, parsed, legacy abi.ABI, method string, logger *zap.Logger) string {
	if values, err := call(ctx, caller, token, parsed, method, nil); err == nil {
		if s, ok := values[0].(string); ok {
			return s
		}
	}
	values, err := call(ctx, caller, token, legacy, method, nil)
	if err != nil {
		logger.Debug("token text call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
		return ""
	}
	if v, ok := values[0].([32]byte); ok {
		return string(bytes.TrimRight(v[:], "\x00"))
	}
	return ""
}

// BalanceOf returns the token balance of owner. The native sentinel is read
// with balancer; blockNumber nil means latest.
func BalanceOf(ctx context.Context, caller ContractCaller, balancer NativeBalancer, token, owner common.Address, blockNumber *big.Int) (*big.Int, error) {
	if model.IsNative(token) {
		if balancer == nil {
			return nil, fmt.Errorf("native balance reader is nil")
		}
		bal, err := balancer.BalanceAt(ctx, owner, blockNumber)
		if err != nil {
			return nil, fmt.Errorf("native balance: %w", err)
		}
		return bal, nil
	}
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	parsed, err := ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := call(ctx, caller, token, parsed, "balanceOf", blockNumber, owner)
	if err != nil {
		return nil, err
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf unexpected type %T", values[0])
	}
	return bal, nil
}

// MetaCache caches token metadata by address.
type MetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewMetaCache() *MetaCache {
	return &MetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *MetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Resolver loads token metadata on demand through a cache.
type Resolver struct {
	caller ContractCaller
	cache  *MetaCache
	logger *zap.Logger
}

func NewResolver(caller ContractCaller, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{caller: caller, cache: NewMetaCache(), logger: logger}
}

// Meta returns cached metadata, fetching it on first use.
func (r *Resolver) Meta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.cache.Get(token); ok {
		return meta, nil
	}
	meta, err := FetchTokenMeta(ctx, r.caller, token, r.logger)
	if err != nil {
		return meta, err
	}
	r.cache.Set(token, meta)
	return meta, nil
}

// Decimals returns the token's decimals.
func (r *Resolver) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	meta, err := r.Meta(ctx, token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}
