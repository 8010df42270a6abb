package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WatchConfig configures on-chain pool event indexing.
type WatchConfig struct {
	RPCURL            string
	ChainID           uint64
	Pool              common.Address
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	LogsOut           string
	SwapsOut          string
	RatesOut          string
	ErrorsOut         string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Follow            bool
	PollInterval      time.Duration
	// MirrorRates applies decoded rate updates to the local store.
	MirrorRates bool
	Store       StoreConfig
	LogLevel    string
	LogFile     string
}

// LoadWatch merges config file, environment variables, and flags into WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		ledgerDefaults(v)
		v.SetDefault("rpc", "http://127.0.0.1:8545")
		v.SetDefault("chain-id", uint64(31337))
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("swaps-out", "./data/chain_swaps.jsonl")
		v.SetDefault("rates-out", "./data/chain_rates.jsonl")
		v.SetDefault("errors-out", "./data/decode_errors.jsonl")
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("poll-interval", 2*time.Second)
	})
	if err != nil {
		return WatchConfig{}, err
	}

	pool := v.GetString("pool")
	if !common.IsHexAddress(pool) {
		return WatchConfig{}, fmt.Errorf("invalid pool address %q", pool)
	}
	cfg := WatchConfig{
		RPCURL:            v.GetString("rpc"),
		ChainID:           v.GetUint64("chain-id"),
		Pool:              common.HexToAddress(pool),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		LogsOut:           v.GetString("logs-out"),
		SwapsOut:          v.GetString("swaps-out"),
		RatesOut:          v.GetString("rates-out"),
		ErrorsOut:         v.GetString("errors-out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Follow:            v.GetBool("follow"),
		PollInterval:      v.GetDuration("poll-interval"),
		MirrorRates:       v.GetBool("mirror-rates"),
		Store: StoreConfig{
			Backend:     v.GetString("store"),
			LevelDBPath: v.GetString("leveldb-path"),
			PGDSN:       v.GetString("pg-dsn"),
		},
		LogLevel: v.GetString("log-level"),
		LogFile:  v.GetString("log-file"),
	}
	if cfg.RPCURL == "" {
		return WatchConfig{}, fmt.Errorf("rpc url is required")
	}
	if cfg.BatchSize == 0 {
		return WatchConfig{}, fmt.Errorf("batch size must be greater than zero")
	}
	if cfg.MirrorRates {
		if err := cfg.Store.Validate(); err != nil {
			return WatchConfig{}, err
		}
	}
	return cfg, nil
}

// TokensConfig configures on-chain token inspection.
type TokensConfig struct {
	RPCURL   string
	ChainID  uint64
	Owner    string
	Tokens   []string
	Block    uint64
	LogLevel string
	LogFile  string
}

// LoadTokens merges config file, environment variables, and flags into TokensConfig.
func LoadTokens(cfgFile string, flags *pflag.FlagSet) (TokensConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("rpc", "http://127.0.0.1:8545")
		v.SetDefault("chain-id", uint64(31337))
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return TokensConfig{}, err
	}
	cfg := TokensConfig{
		RPCURL:   v.GetString("rpc"),
		ChainID:  v.GetUint64("chain-id"),
		Owner:    v.GetString("owner"),
		Tokens:   getStringSlice(v, "address"),
		Block:    v.GetUint64("block"),
		LogLevel: v.GetString("log-level"),
		LogFile:  v.GetString("log-file"),
	}
	if cfg.RPCURL == "" {
		return TokensConfig{}, fmt.Errorf("rpc url is required")
	}
	if cfg.Owner != "" && !common.IsHexAddress(cfg.Owner) {
		return TokensConfig{}, fmt.Errorf("invalid owner address %q", cfg.Owner)
	}
	return cfg, nil
}
