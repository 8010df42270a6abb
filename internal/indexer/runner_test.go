package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateSwap/internal/dex"
	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
)

var (
	testPool   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	testCaller = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	testTokenA = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testTokenB = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

type fakeChain struct {
	logs        []types.Log
	latest      uint64
	failFilters int
	filterCalls int
}

func (f *fakeChain) GetChainID(context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1700000000 + number, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.filterCalls++
	if f.failFilters > 0 {
		f.failFilters--
		return nil, errors.New("rpc unavailable")
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(addresses) > 0 && log.Address != addresses[0] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

type captureSink struct {
	logs    []model.LogRecord
	records []model.SwapRecord
	rates   []model.RateEntry
	errs    []model.DecodeError
}

func (c *captureSink) PutLogBatch(logs []model.LogRecord) error {
	c.logs = append(c.logs, logs...)
	return nil
}

func (c *captureSink) PutSwapRecords(_ context.Context, records []model.SwapRecord) error {
	c.records = append(c.records, records...)
	return nil
}

func (c *captureSink) PutRateEntries(_ context.Context, entries []model.RateEntry) error {
	c.rates = append(c.rates, entries...)
	return nil
}

func (c *captureSink) PutDecodeErrors(errs []model.DecodeError) error {
	c.errs = append(c.errs, errs...)
	return nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func swapLog(t *testing.T, block uint64, index uint, amountIn, amountOut int64) types.Log {
	t.Helper()
	poolABI, err := dex.PoolABI()
	require.NoError(t, err)
	data, err := poolABI.Events[dex.EventSwap].Inputs.NonIndexed().Pack(big.NewInt(amountIn), big.NewInt(amountOut))
	require.NoError(t, err)
	return types.Log{
		Address: testPool,
		Topics: []common.Hash{
			poolABI.Events[dex.EventSwap].ID,
			addressTopic(testCaller),
			addressTopic(testTokenA),
			addressTopic(testTokenB),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

func rateLog(t *testing.T, block uint64, numerator, exponent int64) types.Log {
	t.Helper()
	poolABI, err := dex.PoolABI()
	require.NoError(t, err)
	data, err := poolABI.Events[dex.EventTokenRateSet].Inputs.NonIndexed().Pack(big.NewInt(numerator), big.NewInt(exponent))
	require.NoError(t, err)
	return types.Log{
		Address: testPool,
		Topics: []common.Hash{
			poolABI.Events[dex.EventTokenRateSet].ID,
			addressTopic(testTokenA),
			addressTopic(testTokenB),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func newTestRunner(t *testing.T, cfg RunConfig, chain *fakeChain, sinks Sinks) *Runner {
	t.Helper()
	decoder, err := dex.NewPoolDecoder()
	require.NoError(t, err)
	return NewRunner(cfg, chain, decoder, sinks, nil)
}

func TestRunnerDecodesPoolEvents(t *testing.T) {
	ctx := context.Background()
	malformed := swapLog(t, 11, 0, 1, 1)
	malformed.Data = malformed.Data[:10]

	chain := &fakeChain{
		latest: 20,
		logs: []types.Log{
			rateLog(t, 3, 2, 5),
			swapLog(t, 10, 0, 500000, 10),
			malformed,
		},
	}
	sink := &captureSink{}
	mirror := ratetable.NewMemory()
	cfg := RunConfig{
		Pool:              testPool,
		BatchSize:         5,
		CheckpointPath:    filepath.Join(t.TempDir(), "checkpoint.json"),
		CheckpointEnabled: true,
	}

	runner := newTestRunner(t, cfg, chain, Sinks{Logs: sink, Records: sink, Rates: sink, Errors: sink, Mirror: mirror})
	require.NoError(t, runner.Run(ctx))

	assert.Len(t, sink.logs, 3)
	require.Len(t, sink.records, 1)
	record := sink.records[0]
	assert.Equal(t, testCaller, record.Caller)
	assert.Equal(t, "500000", record.AmountIn.Dec())
	assert.Equal(t, "10", record.AmountOut.Dec())
	assert.Equal(t, uint64(1700000010), record.Timestamp)
	assert.Equal(t, model.SourceChain, record.Source)

	require.Len(t, sink.rates, 1)
	assert.Equal(t, "2", sink.rates[0].Rate.Numerator.Dec())
	require.Len(t, sink.errs, 1)
	assert.Equal(t, uint64(11), sink.errs[0].BlockNumber)

	rate, ok, err := mirror.GetRate(ctx, testTokenA, testTokenB)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), rate.Exponent)

	cp, ok, err := NewCheckpointStore(cfg.CheckpointPath, true).Load(31337, testPool.Hex())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(20), cp.LastProcessedBlock)

	// A second run resumes after the checkpoint and finds nothing new.
	again := newTestRunner(t, cfg, chain, Sinks{Records: sink})
	calls := chain.filterCalls
	require.NoError(t, again.Run(ctx))
	assert.Equal(t, calls, chain.filterCalls)
	assert.Len(t, sink.records, 1)
}

func TestRunnerRetriesFilterLogs(t *testing.T) {
	chain := &fakeChain{latest: 4, failFilters: 2, logs: []types.Log{swapLog(t, 2, 0, 1, 1)}}
	sink := &captureSink{}
	cfg := RunConfig{Pool: testPool, BatchSize: 10, MaxRetries: 2, RetryBackoff: time.Millisecond}

	require.NoError(t, newTestRunner(t, cfg, chain, Sinks{Records: sink}).Run(context.Background()))
	assert.Equal(t, 3, chain.filterCalls)
	assert.Len(t, sink.records, 1)
}

func TestRunnerGivesUpAfterRetries(t *testing.T) {
	chain := &fakeChain{latest: 4, failFilters: 5}
	cfg := RunConfig{Pool: testPool, BatchSize: 10, MaxRetries: 1, RetryBackoff: time.Millisecond}

	err := newTestRunner(t, cfg, chain, Sinks{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc unavailable")
	assert.Equal(t, 2, chain.filterCalls)
}

func TestRunnerRejectsForeignCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	other := common.HexToAddress("0x0000000000000000000000000000000000000042")
	require.NoError(t, NewCheckpointStore(path, true).Save(31337, other.Hex(), 7))

	cfg := RunConfig{Pool: testPool, BatchSize: 10, CheckpointPath: path, CheckpointEnabled: true}
	err := newTestRunner(t, cfg, &fakeChain{latest: 10}, Sinks{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to chain")
}

func TestRunnerFollowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	chain := &fakeChain{latest: 3, logs: []types.Log{swapLog(t, 1, 0, 1, 1)}}
	sink := &captureSink{}
	cfg := RunConfig{Pool: testPool, BatchSize: 10, Follow: true, PollInterval: 5 * time.Millisecond}

	err := newTestRunner(t, cfg, chain, Sinks{Records: sink}).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, sink.records, 1)
}

func TestRunnerRequiresPool(t *testing.T) {
	err := newTestRunner(t, RunConfig{BatchSize: 1}, &fakeChain{}, Sinks{}).Run(context.Background())
	require.Error(t, err)
}
