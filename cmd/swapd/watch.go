package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateSwap/internal/chain"
	"rateSwap/internal/config"
	"rateSwap/internal/dex"
	"rateSwap/internal/indexer"
	"rateSwap/internal/storage"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Index on-chain pool events into JSONL",
		RunE:  runWatch,
	}

	cmd.Flags().String("rpc", "http://127.0.0.1:8545", "RPC URL")
	cmd.Flags().Uint64("chain-id", 31337, "expected chain id, 0 accepts any")
	cmd.Flags().String("pool", "", "pool contract address")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	cmd.Flags().String("logs-out", "", "raw logs JSONL, empty disables")
	cmd.Flags().String("swaps-out", "./data/chain_swaps.jsonl", "decoded swap records JSONL")
	cmd.Flags().String("rates-out", "./data/chain_rates.jsonl", "decoded rate updates JSONL")
	cmd.Flags().String("errors-out", "./data/decode_errors.jsonl", "decode errors JSONL")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Bool("follow", false, "keep polling for new blocks")
	cmd.Flags().Duration("poll-interval", 2*time.Second, "poll interval in follow mode")
	cmd.Flags().Bool("mirror-rates", false, "apply decoded rate updates to the local store")
	cmd.Flags().String("store", "leveldb", "store backend for --mirror-rates")
	cmd.Flags().String("leveldb-path", "./data/ledger", "LevelDB directory")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWatch(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.RequireChainID(ctx, cfg.ChainID)
	if err != nil {
		return err
	}

	var sinks indexer.Sinks
	if cfg.LogsOut != "" {
		sinks.Logs = storage.NewJsonlStorage(cfg.LogsOut)
	}
	if cfg.SwapsOut != "" {
		sinks.Records = storage.NewJsonlStorage(cfg.SwapsOut)
	}
	if cfg.RatesOut != "" {
		sinks.Rates = storage.NewJsonlStorage(cfg.RatesOut)
	}
	if cfg.ErrorsOut != "" {
		sinks.Errors = storage.NewJsonlStorage(cfg.ErrorsOut)
	}
	if cfg.MirrorRates {
		b, err := openBackend(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer b.close()
		sinks.Mirror = b.rates
	}

	decoder, err := dex.NewPoolDecoder()
	if err != nil {
		return fmt.Errorf("build pool decoder: %w", err)
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		Pool:              cfg.Pool,
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		Follow:            cfg.Follow,
		PollInterval:      cfg.PollInterval,
	}, chainClient, decoder, sinks, logger)

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", chainID),
		zap.String("pool", cfg.Pool.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("follow", cfg.Follow),
		zap.Bool("mirror_rates", cfg.MirrorRates),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	return runner.Run(ctx)
}
