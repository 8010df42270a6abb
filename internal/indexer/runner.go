package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"rateSwap/internal/dex"
	"rateSwap/internal/metrics"
	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
	"rateSwap/internal/storage"
)

// ChainReader is the subset of the RPC client the runner needs.
type ChainReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// EventDecoder decodes pool logs and reports the topics it understands.
type EventDecoder interface {
	dex.Decoder
	Topics() []common.Hash
}

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	Pool              common.Address
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	// Follow keeps polling for new blocks after catching up. Ignored when
	// ToBlock is set.
	Follow       bool
	PollInterval time.Duration
}

// Sinks are the outputs of a run. Any of them may be nil.
type Sinks struct {
	Logs    storage.LogSink
	Records storage.RecordSink
	Rates   storage.RateSink
	Errors  storage.DecodeErrorSink
	// Mirror receives every decoded rate so a local table tracks the pool.
	Mirror ratetable.Table
}

// Runner streams pool logs from the chain, decodes them and fans the results
// out to the configured sinks.
type Runner struct {
	cfg        RunConfig
	chain      ChainReader
	decoder    EventDecoder
	sinks      Sinks
	logger     *zap.Logger
	metrics    *metrics.IndexerMetrics
	seen       map[string]struct{}
	checkpoint *CheckpointStore
}

func NewRunner(cfg RunConfig, chainReader ChainReader, decoder EventDecoder, sinks Sinks, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainReader,
		decoder:    decoder,
		sinks:      sinks,
		logger:     logger,
		metrics:    metrics.Indexer(),
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run indexes the configured range, then keeps following the chain head when
// Follow is set.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if r.cfg.Pool == (common.Address{}) {
		return fmt.Errorf("pool address is required")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	chainIDValue := chainID.Uint64()
	pool := r.cfg.Pool.Hex()

	from := r.cfg.FromBlock
	cp, ok, err := r.checkpoint.Load(chainIDValue, pool)
	if err != nil {
		return err
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
	}

	follow := r.cfg.Follow && r.cfg.ToBlock == 0
	for {
		to := r.cfg.ToBlock
		if to == 0 {
			latest, err := r.chain.LatestBlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("get latest block: %w", err)
			}
			to = latest
		}

		if from <= to {
			last, err := r.syncRange(ctx, chainIDValue, from, to)
			if err != nil {
				return err
			}
			from = last + 1
		} else if !follow {
			r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		}

		if !follow {
			return nil
		}
		if err := sleep(ctx, r.pollInterval()); err != nil {
			return err
		}
	}
}

func (r *Runner) pollInterval() time.Duration {
	if r.cfg.PollInterval <= 0 {
		return 2 * time.Second
	}
	return r.cfg.PollInterval
}

// syncRange processes [from, to] in batches and returns the last block done.
func (r *Runner) syncRange(ctx context.Context, chainID, from, to uint64) (uint64, error) {
	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	last := from - 1
	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		default:
		}

		r.logger.Debug("fetch logs",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Uint64("blocks", blockRange.Blocks()),
		)

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return last, fmt.Errorf("filter logs: %w", err)
		}

		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if r.isDuplicate(log) {
				continue
			}
			ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
			if err != nil {
				return last, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, buildLogRecord(chainID, log, ts))
		}

		swaps, rates, err := r.dispatch(ctx, records)
		if err != nil {
			return last, err
		}

		if err := r.checkpoint.Save(chainID, r.cfg.Pool.Hex(), blockRange.To); err != nil {
			return last, err
		}
		last = blockRange.To
		r.metrics.SetLastBlock(last)

		r.logger.Info("batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", len(records)),
			zap.Int("swaps", swaps),
			zap.Int("rates", rates),
		)
	}
	return last, nil
}

// dispatch decodes one batch and writes every output before the checkpoint
// moves, so a crash replays the batch instead of losing it.
func (r *Runner) dispatch(ctx context.Context, logs []model.LogRecord) (int, int, error) {
	if r.sinks.Logs != nil {
		if err := r.sinks.Logs.PutLogBatch(logs); err != nil {
			return 0, 0, fmt.Errorf("store logs: %w", err)
		}
	}

	var (
		swaps     []model.SwapRecord
		rates     []model.RateEntry
		decodeErr []model.DecodeError
	)
	for _, log := range logs {
		if log.Removed || !r.decoder.CanDecode(log.Topic0()) {
			continue
		}
		event, err := r.decoder.Decode(log)
		if err != nil {
			r.metrics.ObserveLog(log.Topic0(), false)
			r.logger.Warn("decode log failed",
				zap.String("tx_hash", log.TxHash),
				zap.Uint64("log_index", log.LogIndex),
				zap.Error(err),
			)
			decodeErr = append(decodeErr, model.DecodeErrorFromLog(log, err))
			continue
		}
		r.metrics.ObserveLog(event.Name, true)
		switch {
		case event.Swap != nil:
			swaps = append(swaps, *event.Swap)
		case event.Rate != nil:
			rates = append(rates, *event.Rate)
		}
	}

	if r.sinks.Records != nil {
		if err := r.sinks.Records.PutSwapRecords(ctx, swaps); err != nil {
			return 0, 0, fmt.Errorf("store swap records: %w", err)
		}
	}
	if r.sinks.Rates != nil {
		if err := r.sinks.Rates.PutRateEntries(ctx, rates); err != nil {
			return 0, 0, fmt.Errorf("store rate entries: %w", err)
		}
	}
	if r.sinks.Mirror != nil {
		for _, entry := range rates {
			if err := r.sinks.Mirror.SetRate(ctx, entry.TokenIn, entry.TokenOut, entry.Rate); err != nil {
				return 0, 0, fmt.Errorf("mirror rate %s: %w", entry.Pair, err)
			}
		}
	}
	if r.sinks.Errors != nil {
		if err := r.sinks.Errors.PutDecodeErrors(decodeErr); err != nil {
			return 0, 0, fmt.Errorf("store decode errors: %w", err)
		}
	}
	return len(swaps), len(rates), nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	addresses := []common.Address{r.cfg.Pool}
	topics := r.decoder.Topics()
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, addresses, topics)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
