package erc20

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"rateSwap/internal/model"
)

type fakeToken struct {
	decimals     uint8
	symbol       string
	name         string
	legacySymbol bool
	balances     map[common.Address]*big.Int
	calls        int
}

func (f *fakeToken) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	parsed, err := ABI()
	if err != nil {
		return nil, err
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(f.decimals)
	case "symbol":
		if f.legacySymbol {
			legacy, err := bytes32ABIInstance()
			if err != nil {
				return nil, err
			}
			var raw [32]byte
			copy(raw[:], f.symbol)
			return legacy.Methods["symbol"].Outputs.Pack(raw)
		}
		return method.Outputs.Pack(f.symbol)
	case "name":
		if f.name == "" {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(f.name)
	case "balanceOf":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		bal := f.balances[args[0].(common.Address)]
		if bal == nil {
			bal = new(big.Int)
		}
		return method.Outputs.Pack(bal)
	}
	return nil, errors.New("unknown method")
}

type fakeNative map[common.Address]*big.Int

func (f fakeNative) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if v, ok := f[account]; ok {
		return v, nil
	}
	return new(big.Int), nil
}

func TestFetchTokenMeta(t *testing.T) {
	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	fake := &fakeToken{decimals: 18, symbol: "TKA", name: "Token A"}

	meta, err := FetchTokenMeta(context.Background(), fake, token, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Decimals != 18 || meta.Symbol != "TKA" || meta.Name != "Token A" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if meta.Address != token.Hex() {
		t.Fatalf("unexpected address %s", meta.Address)
	}
}

func TestFetchTokenMetaBytes32Symbol(t *testing.T) {
	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	fake := &fakeToken{decimals: 6, symbol: "OLD", legacySymbol: true}

	meta, err := FetchTokenMeta(context.Background(), fake, token, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Symbol != "OLD" {
		t.Fatalf("expected bytes32 symbol, got %q", meta.Symbol)
	}
	if meta.Name != "" {
		t.Fatalf("expected empty name, got %q", meta.Name)
	}
}

func TestNativeMetaSkipsCalls(t *testing.T) {
	fake := &fakeToken{}
	meta, err := FetchTokenMeta(context.Background(), fake, model.NativeToken, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Symbol != "ETH" || meta.Decimals != 18 {
		t.Fatalf("unexpected native meta %+v", meta)
	}
	if fake.calls != 0 {
		t.Fatalf("expected no contract calls, got %d", fake.calls)
	}
}

func TestBalanceOf(t *testing.T) {
	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	fake := &fakeToken{balances: map[common.Address]*big.Int{owner: want}}
	native := fakeNative{owner: big.NewInt(7)}

	got, err := BalanceOf(context.Background(), fake, native, token, owner, nil)
	if err != nil {
		t.Fatalf("balanceOf: %v", err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("balance = %s want %s", got, want)
	}

	got, err = BalanceOf(context.Background(), fake, native, model.NativeToken, owner, nil)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	if got.Int64() != 7 {
		t.Fatalf("native balance = %s", got)
	}
}

func TestResolverCaches(t *testing.T) {
	token := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	fake := &fakeToken{decimals: 8, symbol: "B", name: "B"}
	r := NewResolver(fake, nil)

	for i := 0; i < 3; i++ {
		decimals, err := r.Decimals(context.Background(), token)
		if err != nil {
			t.Fatalf("decimals: %v", err)
		}
		if decimals != 8 {
			t.Fatalf("decimals = %d", decimals)
		}
	}
	if fake.calls != 3 {
		t.Fatalf("expected one fetch (3 calls), got %d calls", fake.calls)
	}
}
