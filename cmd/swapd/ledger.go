package main

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"rateSwap/internal/model"
	"rateSwap/internal/swap"
	"rateSwap/internal/units"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.backend.pg == nil {
				return fmt.Errorf("migrate needs the postgres backend, got %q", s.cfg.Store.Backend)
			}
			applied, err := s.backend.pg.Migrate(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"applied": applied})
		},
	}
	addLedgerFlags(cmd)
	return cmd
}

func newRateCmd() *cobra.Command {
	rate := &cobra.Command{
		Use:   "rate",
		Short: "Manage the rate table",
	}

	set := &cobra.Command{
		Use:   "set TOKEN_IN TOKEN_OUT",
		Short: "Set the rate for a directed pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			in, _, err := s.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			out, _, err := s.registry.Resolve(args[1])
			if err != nil {
				return err
			}

			var r model.Rate
			if dec, _ := cmd.Flags().GetString("decimal"); dec != "" {
				if r, err = units.ParseRate(dec); err != nil {
					return err
				}
			} else {
				numerator, _ := cmd.Flags().GetString("numerator")
				n, err := uint256.FromDecimal(numerator)
				if err != nil {
					return fmt.Errorf("invalid numerator %q: %w", numerator, err)
				}
				exponent, _ := cmd.Flags().GetUint64("exponent")
				r = model.Rate{Numerator: n, Exponent: exponent}
			}

			if err := s.backend.rates.SetRate(ctx, in.Address, out.Address, r); err != nil {
				return err
			}
			entry := model.RateEntry{Pair: model.Pair{TokenIn: in.Address, TokenOut: out.Address}, Rate: r}
			return printJSON(cmd, entry.JSON())
		},
	}
	set.Flags().String("numerator", "0", "rate numerator")
	set.Flags().Uint64("exponent", 0, "rate exponent; amountOut = amountIn * numerator / 10^exponent")
	set.Flags().String("decimal", "", "rate as a decimal factor, e.g. 0.00002")

	get := &cobra.Command{
		Use:   "get TOKEN_IN TOKEN_OUT",
		Short: "Show the rate for a directed pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			in, _, err := s.registry.Resolve(args[0])
			if err != nil {
				return err
			}
			out, _, err := s.registry.Resolve(args[1])
			if err != nil {
				return err
			}
			r, err := s.engine.Rate(ctx, in.Address, out.Address)
			if err != nil {
				return err
			}
			entry := model.RateEntry{Pair: model.Pair{TokenIn: in.Address, TokenOut: out.Address}, Rate: r}
			return printJSON(cmd, entry.JSON())
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.backend.rates.ListRates(ctx)
			if err != nil {
				return err
			}
			out := make([]model.RateEntryJSON, 0, len(entries))
			for _, e := range entries {
				out = append(out, e.JSON())
			}
			return printJSON(cmd, out)
		},
	}

	for _, c := range []*cobra.Command{set, get, list} {
		addLedgerFlags(c)
		rate.AddCommand(c)
	}
	return rate
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote TOKEN_IN TOKEN_OUT AMOUNT",
		Short: "Preview the output of a swap",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			in, err := s.token(args[0])
			if err != nil {
				return err
			}
			out, err := s.token(args[1])
			if err != nil {
				return err
			}
			amountIn, err := s.amount(args[2], in)
			if err != nil {
				return err
			}
			amountOut, err := s.engine.PreviewSwap(ctx, in.Address, out.Address, amountIn)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"token_in":   in.Address.Hex(),
				"token_out":  out.Address.Hex(),
				"amount_in":  s.format(amountIn, in),
				"amount_out": s.format(amountOut, out),
			})
		},
	}
	addLedgerFlags(cmd)
	return cmd
}

func newSwapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap TOKEN_IN TOKEN_OUT AMOUNT",
		Short: "Execute a swap against the pool",
		Long:  "Execute a swap. When TOKEN_IN is the native asset the amount is sent as attached value.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			callerRef, _ := cmd.Flags().GetString("caller")
			caller, err := parseAccount("caller", callerRef)
			if err != nil {
				return err
			}
			in, err := s.token(args[0])
			if err != nil {
				return err
			}
			out, err := s.token(args[1])
			if err != nil {
				return err
			}
			amount, err := s.amount(args[2], in)
			if err != nil {
				return err
			}

			req := swap.Request{Caller: caller, TokenIn: in.Address, TokenOut: out.Address}
			if model.IsNative(in.Address) {
				req.Value = amount
			} else {
				req.AmountIn = amount
			}
			if issues, err := s.engine.Check(ctx, req); err == nil && len(issues) > 0 {
				for _, issue := range issues {
					s.logger.Sugar().Warnw("pre-check", "code", issue.Code, "message", issue.Message)
				}
			}
			record, err := s.engine.Swap(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, record)
		},
	}
	addLedgerFlags(cmd)
	cmd.Flags().String("caller", "", "account executing the swap")
	_ = cmd.MarkFlagRequired("caller")
	return cmd
}

func newFundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund ACCOUNT TOKEN AMOUNT",
		Short: "Credit an account, e.g. to seed pool liquidity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			account, err := s.accountRef(args[0])
			if err != nil {
				return err
			}
			token, err := s.token(args[1])
			if err != nil {
				return err
			}
			amount, err := s.amount(args[2], token)
			if err != nil {
				return err
			}
			if err := s.backend.ledger.Credit(ctx, account, token.Address, amount); err != nil {
				return err
			}
			balance, err := s.backend.ledger.BalanceOf(ctx, account, token.Address)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"account": account.Hex(),
				"token":   token.Address.Hex(),
				"balance": s.format(balance, token),
			})
		},
	}
	addLedgerFlags(cmd)
	return cmd
}

func newApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve OWNER TOKEN AMOUNT",
		Short: "Set the pool's allowance over an owner's tokens",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			owner, err := parseAccount("owner", args[0])
			if err != nil {
				return err
			}
			token, err := s.token(args[1])
			if err != nil {
				return err
			}
			if model.IsNative(token.Address) {
				return fmt.Errorf("native asset moves by attached value and takes no allowance")
			}
			amount, err := s.amount(args[2], token)
			if err != nil {
				return err
			}
			pool := s.engine.Pool()
			if err := s.backend.ledger.Approve(ctx, owner, pool, token.Address, amount); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"owner":   owner.Hex(),
				"spender": pool.Hex(),
				"token":   token.Address.Hex(),
				"amount":  s.format(amount, token),
			})
		},
	}
	addLedgerFlags(cmd)
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance ACCOUNT [TOKEN]",
		Short: "Show balances and allowances to the pool",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			account, err := s.accountRef(args[0])
			if err != nil {
				return err
			}
			list := s.registry.Entries()
			if len(args) == 2 {
				token, err := s.token(args[1])
				if err != nil {
					return err
				}
				list = list[:0]
				list = append(list, token)
			}

			type row struct {
				Symbol    string `json:"symbol,omitempty"`
				Token     string `json:"token"`
				Balance   string `json:"balance"`
				Allowance string `json:"allowance"`
			}
			rows := make([]row, 0, len(list))
			for _, token := range list {
				balance, err := s.backend.ledger.BalanceOf(ctx, account, token.Address)
				if err != nil {
					return err
				}
				allowed, err := s.backend.ledger.Allowance(ctx, account, s.engine.Pool(), token.Address)
				if err != nil {
					return err
				}
				rows = append(rows, row{
					Symbol:    token.Symbol,
					Token:     token.Address.Hex(),
					Balance:   s.format(balance, token),
					Allowance: s.format(allowed, token),
				})
			}
			return printJSON(cmd, map[string]interface{}{"account": account.Hex(), "balances": rows})
		},
	}
	addLedgerFlags(cmd)
	return cmd
}
