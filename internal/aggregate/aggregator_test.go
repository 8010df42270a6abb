package aggregate

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateSwap/internal/model"
	"rateSwap/internal/storage"
)

var (
	tokenA  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tokenB  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	caller1 = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	caller2 = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type captureSink struct {
	metrics []model.PairWindowMetrics
}

func (c *captureSink) UpsertPairWindowMetrics(_ context.Context, metrics []model.PairWindowMetrics) error {
	c.metrics = append(c.metrics, metrics...)
	return nil
}

type fixedDecimals map[common.Address]uint8

func (f fixedDecimals) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := f[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

func amount(t *testing.T, dec string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(dec)
	require.NoError(t, err)
	return v
}

func swapRecord(t *testing.T, caller, in, out common.Address, amountIn, amountOut string, ts uint64) model.SwapRecord {
	return model.SwapRecord{
		Caller:    caller,
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  amount(t, amountIn),
		AmountOut: amount(t, amountOut),
		Timestamp: ts,
		Source:    model.SourceEngine,
	}
}

func writeRecords(t *testing.T, records ...model.SwapRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swaps.jsonl")
	require.NoError(t, storage.NewJsonlStorage(path).PutSwapRecords(context.Background(), records))
	return path
}

// 1700000000 falls in the hour starting at 1699999200.
func fixtureRecords(t *testing.T) []model.SwapRecord {
	return []model.SwapRecord{
		swapRecord(t, caller1, tokenA, tokenB, "1000000000000000000", "2000000", 1700000000),
		swapRecord(t, caller2, tokenA, tokenB, "1000000000000000000", "2000000", 1700000100),
		swapRecord(t, caller1, tokenA, tokenB, "500000000000000000", "1000000", 1700003700),
		swapRecord(t, caller1, model.NativeToken, tokenA, "100000000000000000", "5000000000000000000", 1700003800),
	}
}

func TestAggregatorBuildsPairWindows(t *testing.T) {
	ctx := context.Background()
	path := writeRecords(t, fixtureRecords(t)...)
	sink := &captureSink{}
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json")}
	resolver := fixedDecimals{tokenA: 18, tokenB: 6}

	agg := NewAggregator(Config{WindowSeconds: 3600, StateStore: state}, sink, resolver, nil)
	require.NoError(t, agg.Run(ctx, path))

	require.Len(t, sink.metrics, 3)

	native := sink.metrics[0]
	assert.Equal(t, model.NativeToken.Hex(), native.TokenIn)
	assert.Equal(t, "0.100000000000000000", native.VolumeIn)
	assert.Equal(t, "5.000000000000000000", native.VolumeOut)
	require.NotNil(t, native.EffectiveRate)
	assert.Equal(t, "50.000000000000000000", *native.EffectiveRate)

	closed := sink.metrics[1]
	assert.Equal(t, tokenA.Hex(), closed.TokenIn)
	assert.Equal(t, int64(1699999200), closed.WindowStart.Unix())
	assert.Equal(t, int64(1700002800), closed.WindowEnd.Unix())
	assert.Equal(t, uint64(2), closed.SwapCount)
	assert.Equal(t, uint64(2), closed.UniqueCallers)
	assert.Equal(t, "2.000000000000000000", closed.VolumeIn)
	assert.Equal(t, "4.000000", closed.VolumeOut)
	require.NotNil(t, closed.EffectiveRate)
	assert.Equal(t, "2.000000000000000000", *closed.EffectiveRate)

	open := sink.metrics[2]
	assert.Equal(t, int64(1700002800), open.WindowStart.Unix())
	assert.Equal(t, uint64(1), open.SwapCount)

	last, ok, err := state.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1700002799), last)
}

func TestAggregatorResumeRebuildsOpenWindows(t *testing.T) {
	ctx := context.Background()
	path := writeRecords(t, fixtureRecords(t)...)
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json")}
	resolver := fixedDecimals{tokenA: 18, tokenB: 6}

	first := &captureSink{}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 3600, StateStore: state}, first, resolver, nil).Run(ctx, path))

	second := &captureSink{}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 3600, StateStore: state}, second, resolver, nil).Run(ctx, path))

	require.Len(t, second.metrics, 2)
	assert.Equal(t, first.metrics[0], second.metrics[0])
	assert.Equal(t, first.metrics[2], second.metrics[1])
}

func TestAggregatorSkipsLateSwaps(t *testing.T) {
	path := writeRecords(t,
		swapRecord(t, caller1, tokenA, tokenB, "10", "20", 1700003700),
		swapRecord(t, caller1, tokenA, tokenB, "10", "20", 1700000000),
	)
	sink := &captureSink{}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 3600}, sink, nil, nil).Run(context.Background(), path))

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, uint64(1), sink.metrics[0].SwapCount)
	assert.Equal(t, "10", sink.metrics[0].VolumeIn)
}

func TestAggregatorWithoutResolverUsesBaseUnits(t *testing.T) {
	path := writeRecords(t, swapRecord(t, caller1, tokenA, tokenB, "500000", "10", 1700000000))
	sink := &captureSink{}
	require.NoError(t, NewAggregator(Config{WindowSeconds: 60}, sink, nil, nil).Run(context.Background(), path))

	require.Len(t, sink.metrics, 1)
	assert.Equal(t, "500000", sink.metrics[0].VolumeIn)
	assert.Equal(t, "10", sink.metrics[0].VolumeOut)
	require.NotNil(t, sink.metrics[0].EffectiveRate)
	assert.Equal(t, "0.000020000000000000", *sink.metrics[0].EffectiveRate)
}

func TestAggregatorRejectsZeroWindow(t *testing.T) {
	err := NewAggregator(Config{}, &captureSink{}, nil, nil).Run(context.Background(), "unused")
	require.Error(t, err)
}

func TestEffectiveRateZeroVolume(t *testing.T) {
	assert.Nil(t, effectiveRate(big.NewInt(0), big.NewInt(5), 0, 0))
}

func TestAccumulatorRejectsForeignPair(t *testing.T) {
	acc := NewAccumulator(model.Pair{TokenIn: tokenA, TokenOut: tokenB}, 0, 60)
	err := acc.AddSwap(swapRecord(t, caller1, tokenB, tokenA, "1", "1", 10))
	require.Error(t, err)
	assert.Zero(t, acc.SwapCount)
}

func TestFormatTokenAmount(t *testing.T) {
	assert.Equal(t, "0", formatTokenAmount(nil, 18))
	assert.Equal(t, "1.500000", formatTokenAmount(big.NewInt(1500000), 6))
	assert.Equal(t, "-0.5", formatTokenAmount(big.NewInt(-5), 1))
}
