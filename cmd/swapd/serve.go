package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateSwap/internal/config"
	"rateSwap/internal/metrics"
	"rateSwap/internal/notify"
	"rateSwap/internal/server"
	"rateSwap/internal/storage"
	"rateSwap/internal/swap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the swap pool over HTTP",
		RunE:  runServe,
	}
	addLedgerFlags(cmd)
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("operator-token", "", "bearer token for rate and funding routes; empty disables them")
	cmd.Flags().Float64("swap-rate", 5, "swap submissions per second per client IP, 0 disables limiting")
	cmd.Flags().Int("swap-burst", 10, "swap submission burst per client IP")
	cmd.Flags().String("publish", "", "append committed swap records to this JSONL file")
	cmd.Flags().Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServe(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer b.close()

	hub := notify.NewHub(logger)
	defer hub.Close()

	publishers := notify.Fanout{hub}
	if cfg.PublishPath != "" {
		publishers = append(publishers, storage.NewJsonlStorage(cfg.PublishPath))
	}

	engine, err := swap.NewEngine(b.rates, b.ledger, cfg.Pool,
		swap.WithPublisher(publishers),
		swap.WithLogger(logger),
		swap.WithMetrics(metrics.Swap()),
	)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		OperatorToken:   cfg.OperatorToken,
		SwapRate:        cfg.SwapRate,
		SwapBurst:       cfg.SwapBurst,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, server.Deps{
		Engine: engine,
		Rates:  b.rates,
		Ledger: b.ledger,
		Stream: hub,
		Tokens: registry,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("swapd start",
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store.Backend),
		zap.String("pg_dsn", redactDSN(cfg.Store.PGDSN)),
		zap.String("pool", cfg.Pool.Hex()),
		zap.Bool("operator_routes", cfg.OperatorToken != ""),
		zap.Float64("swap_rate", cfg.SwapRate),
		zap.String("publish", cfg.PublishPath),
	)

	return srv.Run(ctx, cfg.Listen)
}
