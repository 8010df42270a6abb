package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateSwap/internal/config"
	"rateSwap/internal/ledger"
	"rateSwap/internal/metrics"
	"rateSwap/internal/ratetable"
	"rateSwap/internal/storage/kv"
	"rateSwap/internal/storage/postgres"
	"rateSwap/internal/swap"
	"rateSwap/internal/tokens"
	"rateSwap/internal/units"
)

// backend is an opened rate table and ledger pair.
type backend struct {
	rates  ratetable.Store
	ledger ledger.Store
	pg     *postgres.Store
	close  func()
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{rates: ratetable.NewMemory(), ledger: ledger.NewMemory(), close: func() {}}, nil
	case config.BackendLevelDB:
		store, err := kv.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("open leveldb: %w", err)
		}
		return &backend{rates: store, ledger: store, close: func() { _ = store.Close() }}, nil
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &backend{rates: store, ledger: store, pg: store, close: store.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// session bundles what the one-shot ledger commands share.
type session struct {
	cfg      config.LedgerConfig
	logger   *zap.Logger
	registry *tokens.Registry
	backend  *backend
	engine   *swap.Engine
	// raw makes amounts base units instead of human units.
	raw bool
}

func addLedgerFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", config.BackendLevelDB, "store backend (memory, leveldb, postgres)")
	cmd.Flags().String("leveldb-path", "./data/ledger", "LevelDB directory")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("pool", "", "pool account address")
	cmd.Flags().StringSlice("token", nil, "extra tokens as SYMBOL=ADDRESS:DECIMALS")
	cmd.Flags().Bool("raw", false, "amounts are base units")
}

func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadLedger(configFile(cmd), cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory store does not outlive this command")
	}
	b, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	engine, err := swap.NewEngine(b.rates, b.ledger, cfg.Pool,
		swap.WithLogger(logger),
		swap.WithMetrics(metrics.Swap()),
	)
	if err != nil {
		b.close()
		return nil, err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	return &session{cfg: cfg, logger: logger, registry: registry, backend: b, engine: engine, raw: raw}, nil
}

func (s *session) Close() {
	s.backend.close()
	_ = s.logger.Sync()
}

func (s *session) token(ref string) (tokens.Entry, error) {
	entry, known, err := s.registry.Resolve(ref)
	if err != nil {
		return tokens.Entry{}, err
	}
	if !known && !s.raw {
		return tokens.Entry{}, fmt.Errorf("token %s has no known decimals; register it with --token or pass --raw", entry.Address.Hex())
	}
	return entry, nil
}

func (s *session) amount(value string, entry tokens.Entry) (*uint256.Int, error) {
	if s.raw {
		v, err := uint256.FromDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", value, err)
		}
		return v, nil
	}
	return units.ParseUnits(value, entry.Decimals)
}

func (s *session) format(value *uint256.Int, entry tokens.Entry) string {
	if s.raw {
		return value.Dec()
	}
	return units.FormatUnits(value, entry.Decimals)
}

func parseAccount(field, ref string) (common.Address, error) {
	if !common.IsHexAddress(ref) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, ref)
	}
	return common.HexToAddress(ref), nil
}

// accountRef accepts an address or the word "pool".
func (s *session) accountRef(ref string) (common.Address, error) {
	if ref == "pool" {
		return s.cfg.Pool, nil
	}
	return parseAccount("account", ref)
}
