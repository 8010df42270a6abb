package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rateSwap/internal/chain"
	"rateSwap/internal/config"
	"rateSwap/internal/erc20"
	"rateSwap/internal/model"
	"rateSwap/internal/tokens"
	"rateSwap/internal/units"
)

type tokenRow struct {
	model.TokenMeta
	Balance string `json:"balance,omitempty"`
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Show on-chain token metadata and balances",
		RunE:  runTokens,
	}

	cmd.Flags().String("rpc", "http://127.0.0.1:8545", "RPC URL")
	cmd.Flags().Uint64("chain-id", 31337, "expected chain id, 0 accepts any")
	cmd.Flags().String("owner", "", "also show balances of this account")
	cmd.Flags().StringSlice("address", nil, "extra token addresses (comma-separated)")
	cmd.Flags().Uint64("block", 0, "block to read balances at, 0 means latest")
	return cmd
}

func runTokens(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadTokens(configFile(cmd), cmd.Flags())
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

	if _, err := chainClient.RequireChainID(ctx, cfg.ChainID); err != nil {
		return err
	}

	addresses := make([]common.Address, 0)
	for _, e := range tokens.LocalDev().Entries() {
		addresses = append(addresses, e.Address)
	}
	for _, ref := range cfg.Tokens {
		if !common.IsHexAddress(ref) {
			return fmt.Errorf("invalid token address %q", ref)
		}
		addresses = append(addresses, common.HexToAddress(ref))
	}

	var block *big.Int
	if cfg.Block > 0 {
		block = new(big.Int).SetUint64(cfg.Block)
	}

	resolver := erc20.NewResolver(chainClient, logger)
	rows := make([]tokenRow, 0, len(addresses))
	for _, addr := range addresses {
		meta, err := resolver.Meta(ctx, addr)
		if err != nil {
			logger.Warn("token metadata", zap.String("token", addr.Hex()), zap.Error(err))
			continue
		}
		row := tokenRow{TokenMeta: meta}
		if cfg.Owner != "" {
			bal, err := erc20.BalanceOf(ctx, chainClient, chainClient, addr, common.HexToAddress(cfg.Owner), block)
			if err != nil {
				logger.Warn("token balance", zap.String("token", addr.Hex()), zap.Error(err))
			} else {
				v, overflow := uint256.FromBig(bal)
				if overflow {
					return fmt.Errorf("balance of %s overflows uint256", addr.Hex())
				}
				row.Balance = units.FormatUnits(v, meta.Decimals)
			}
		}
		rows = append(rows, row)
	}
	return printJSON(cmd, rows)
}
