package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateSwap/internal/aggregate"
	"rateSwap/internal/chain"
	"rateSwap/internal/config"
	"rateSwap/internal/erc20"
	"rateSwap/internal/storage/postgres"
	"rateSwap/internal/tokens"
)

func newAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate swap records into per-pair window metrics",
		RunE:  runAggregate,
	}

	cmd.Flags().String("in", "", "input swap records JSONL")
	cmd.Flags().String("window", "1h", "aggregation window (e.g. 1m, 5m, 1h)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	cmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	cmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	cmd.Flags().String("rpc", "", "RPC URL for token decimals; empty uses the token registry")
	cmd.Flags().StringSlice("token", nil, "extra tokens as SYMBOL=ADDRESS:DECIMALS")
	return cmd
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadAggregate(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	windowSeconds := uint64(cfg.Window.Seconds())

	ctx, stop := signalContext()
	defer stop()

	var resolver aggregate.DecimalsResolver
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		resolver = erc20.NewResolver(chainClient, logger)
	} else {
		entries, err := config.ParseTokenEntries(cfg.Tokens)
		if err != nil {
			return err
		}
		registry := tokens.LocalDev()
		for _, e := range entries {
			if err := registry.Add(e); err != nil {
				return err
			}
		}
		resolver = registry
	}

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	var stateStore aggregate.StateStore
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, WindowSeconds: windowSeconds}
	} else {
		stateStore = &aggregate.DBStateStore{Backend: store, Name: fmt.Sprintf("aggregator:%d", windowSeconds)}
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: cfg.RecomputeFrom,
		StateStore:    stateStore,
	}, store, resolver, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", cfg.RecomputeFrom),
		zap.Bool("onchain_decimals", cfg.RPCURL != ""),
	)

	return agg.Run(ctx, cfg.Input)
}
