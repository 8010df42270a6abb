//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"rateSwap/internal/ledger"
	"rateSwap/internal/model"
	"rateSwap/internal/swap"
)

var (
	tokenA = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenB = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	caller = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	pool   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

// setupTestDB starts a PostgreSQL container and applies the embedded migrations.
func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err, "failed to create store")

	applied, err := store.Migrate(ctx)
	require.NoError(t, err, "failed to migrate")
	require.NotEmpty(t, applied)

	cleanup := func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return store, cleanup
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	applied, err := store.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestStore_Rates(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SetRate(ctx, tokenA, tokenB, model.NewRate(2, 5)))
	require.NoError(t, store.SetRate(ctx, tokenA, tokenB, model.NewRate(3, 6)))

	rate, ok, err := store.GetRate(ctx, tokenA, tokenB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", rate.Numerator.Dec())
	assert.Equal(t, uint64(6), rate.Exponent)

	_, ok, err = store.GetRate(ctx, tokenB, tokenA)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := store.ListRates(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_SettleRollsBack(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Credit(ctx, caller, tokenA, uint256.NewInt(100)))
	require.NoError(t, store.Approve(ctx, caller, pool, tokenA, uint256.NewInt(100)))

	err := store.Settle(ctx, []ledger.Transfer{
		{Token: tokenA, From: caller, To: pool, Spender: pool, Amount: uint256.NewInt(10)},
		{Token: tokenB, From: pool, To: caller, Amount: uint256.NewInt(1)},
	}, &model.SwapRecord{ID: "r0", AmountIn: uint256.NewInt(10), AmountOut: uint256.NewInt(1)})
	var balErr *ledger.BalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, pool, balErr.Account)

	bal, err := store.BalanceOf(ctx, caller, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Uint64())
	allowed, err := store.Allowance(ctx, caller, pool, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), allowed.Uint64())
	records, err := store.SwapRecords(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_EngineSwap(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	engine, err := swap.NewEngine(store, store, pool)
	require.NoError(t, err)

	require.NoError(t, store.SetRate(ctx, model.NativeToken, tokenA, model.NewRate(50000, 0)))
	require.NoError(t, store.Credit(ctx, pool, tokenA, uint256.NewInt(10_000_000_000_000)))
	require.NoError(t, store.Credit(ctx, caller, model.NativeToken, uint256.NewInt(100_000_000)))

	record, err := engine.Swap(ctx, swap.Request{Caller: caller, TokenIn: model.NativeToken, TokenOut: tokenA, Value: uint256.NewInt(100_000_000)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), record.Sequence)
	assert.Equal(t, "5000000000000", record.AmountOut.Dec())

	bal, err := store.BalanceOf(ctx, pool, tokenA)
	require.NoError(t, err)
	assert.Equal(t, "5000000000000", bal.Dec())

	records, err := store.SwapRecords(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
}

func TestStore_ConcurrentSettlementsDoNotOverdraw(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Credit(ctx, pool, tokenB, uint256.NewInt(5)))
	callers := make([]common.Address, 10)
	for i := range callers {
		callers[i] = common.BigToAddress(uint256.NewInt(uint64(1000 + i)).ToBig())
		require.NoError(t, store.Credit(ctx, callers[i], tokenA, uint256.NewInt(1)))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(callers))
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Settle(ctx, []ledger.Transfer{
				{Token: tokenA, From: callers[i], To: pool, Amount: uint256.NewInt(1)},
				{Token: tokenB, From: pool, To: callers[i], Amount: uint256.NewInt(1)},
			}, &model.SwapRecord{ID: callers[i].Hex(), AmountIn: uint256.NewInt(1), AmountOut: uint256.NewInt(1)})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 5, succeeded)

	bal, err := store.BalanceOf(ctx, pool, tokenB)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestStore_WindowMetricsAndState(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	rate := "0.5"
	start := time.Unix(1700000000, 0).UTC()
	m := model.PairWindowMetrics{
		TokenIn:        tokenA.Hex(),
		TokenOut:       tokenB.Hex(),
		WindowSizeSecs: 3600,
		WindowStart:    start,
		WindowEnd:      start.Add(time.Hour),
		SwapCount:      2,
		VolumeIn:       "1.5",
		VolumeOut:      "0.75",
		EffectiveRate:  &rate,
		UniqueCallers:  1,
	}
	require.NoError(t, store.UpsertPairWindowMetrics(ctx, []model.PairWindowMetrics{m}))
	m.SwapCount = 3
	require.NoError(t, store.UpsertPairWindowMetrics(ctx, []model.PairWindowMetrics{m}))

	got, err := store.PairWindowMetrics(ctx, tokenA.Hex(), tokenB.Hex(), 3600)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].SwapCount)
	require.NotNil(t, got[0].EffectiveRate)
	assert.Equal(t, "0.5", *got[0].EffectiveRate)

	_, ok, err := store.LoadState(ctx, "aggregate")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.SaveState(ctx, "aggregate", 42))
	ts, ok, err := store.LoadState(ctx, "aggregate")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), ts)
}
