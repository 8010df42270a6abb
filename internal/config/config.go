package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rateSwap/internal/tokens"
)

// EnvPrefix prefixes every environment override, e.g. SWAPD_PG_DSN.
const EnvPrefix = "SWAPD"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// StoreConfig selects the rate table and ledger backend.
type StoreConfig struct {
	Backend     string
	LevelDBPath string
	PGDSN       string
}

// Validate checks that the selected backend has what it needs.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return fmt.Errorf("leveldb path is required for the leveldb backend")
		}
		return nil
	case BackendPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
}

// LedgerConfig is shared by every command that talks to the local ledger.
type LedgerConfig struct {
	Store    StoreConfig
	Pool     common.Address
	Tokens   []tokens.Entry
	LogLevel string
	LogFile  string
}

// Registry returns the local development tokens extended with configured ones.
func (c LedgerConfig) Registry() (*tokens.Registry, error) {
	r := tokens.LocalDev()
	for _, e := range c.Tokens {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ServeConfig configures the HTTP service.
type ServeConfig struct {
	LedgerConfig
	Listen          string
	OperatorToken   string
	SwapRate        float64
	SwapBurst       int
	PublishPath     string
	ShutdownTimeout time.Duration
}

func ledgerDefaults(v *viper.Viper) {
	v.SetDefault("store", BackendLevelDB)
	v.SetDefault("leveldb-path", "./data/ledger")
	v.SetDefault("pool", "0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	v.SetDefault("log-level", "info")
}

// LoadLedger merges config file, environment variables, and flags into LedgerConfig.
func LoadLedger(cfgFile string, flags *pflag.FlagSet) (LedgerConfig, error) {
	v, err := newViper(cfgFile, flags, ledgerDefaults)
	if err != nil {
		return LedgerConfig{}, err
	}
	return ledgerFrom(v)
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		ledgerDefaults(v)
		v.SetDefault("listen", ":8080")
		v.SetDefault("swap-rate", 5.0)
		v.SetDefault("swap-burst", 10)
		v.SetDefault("shutdown-timeout", 10*time.Second)
	})
	if err != nil {
		return ServeConfig{}, err
	}
	base, err := ledgerFrom(v)
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		LedgerConfig:    base,
		Listen:          v.GetString("listen"),
		OperatorToken:   v.GetString("operator-token"),
		SwapRate:        v.GetFloat64("swap-rate"),
		SwapBurst:       v.GetInt("swap-burst"),
		PublishPath:     v.GetString("publish"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}, nil
}

func ledgerFrom(v *viper.Viper) (LedgerConfig, error) {
	pool := v.GetString("pool")
	if !common.IsHexAddress(pool) {
		return LedgerConfig{}, fmt.Errorf("invalid pool address %q", pool)
	}
	entries, err := ParseTokenEntries(getStringSlice(v, "token"))
	if err != nil {
		return LedgerConfig{}, err
	}
	cfg := LedgerConfig{
		Store: StoreConfig{
			Backend:     strings.ToLower(v.GetString("store")),
			LevelDBPath: v.GetString("leveldb-path"),
			PGDSN:       v.GetString("pg-dsn"),
		},
		Pool:     common.HexToAddress(pool),
		Tokens:   entries,
		LogLevel: v.GetString("log-level"),
		LogFile:  v.GetString("log-file"),
	}
	if err := cfg.Store.Validate(); err != nil {
		return LedgerConfig{}, err
	}
	return cfg, nil
}

// ParseTokenEntries parses SYMBOL=ADDRESS:DECIMALS entries.
func ParseTokenEntries(values []string) ([]tokens.Entry, error) {
	out := make([]tokens.Entry, 0, len(values))
	for _, value := range values {
		symbol, rest, ok := strings.Cut(value, "=")
		if !ok {
			return nil, fmt.Errorf("invalid token %q: want SYMBOL=ADDRESS:DECIMALS", value)
		}
		addr, dec, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid token %q: missing decimals", value)
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid token %q: bad address", value)
		}
		decimals, err := strconv.ParseUint(dec, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", value, err)
		}
		out = append(out, tokens.Entry{
			Symbol:   strings.TrimSpace(symbol),
			Address:  common.HexToAddress(addr),
			Decimals: uint8(decimals),
		})
	}
	return out, nil
}

// newViper builds a viper instance layered as flags > env > config file >
// defaults. A missing default config.yaml is not an error.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
