package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"rateSwap/internal/ledger"
	"rateSwap/internal/model"
)

var _ ledger.Store = (*Store)(nil)

func (s *Store) BalanceOf(ctx context.Context, account, token common.Address) (*uint256.Int, error) {
	return scanAmount(s.pool.QueryRow(ctx,
		`SELECT amount::text FROM balances WHERE account=$1 AND token=$2`, account.Hex(), token.Hex()))
}

func (s *Store) Allowance(ctx context.Context, owner, spender, token common.Address) (*uint256.Int, error) {
	return scanAmount(s.pool.QueryRow(ctx,
		`SELECT amount::text FROM allowances WHERE owner=$1 AND spender=$2 AND token=$3`,
		owner.Hex(), spender.Hex(), token.Hex()))
}

func scanAmount(row pgx.Row) (*uint256.Int, error) {
	var text string
	if err := row.Scan(&text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("select amount: %w", err)
	}
	v, err := uint256.FromDecimal(text)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return v, nil
}

// txReader serves ledger.Plan from rows locked inside one transaction.
type txReader struct {
	balances   map[ledger.BalanceKey]*uint256.Int
	allowances map[ledger.AllowanceKey]*uint256.Int
}

func (r *txReader) ReadBalance(key ledger.BalanceKey) (*uint256.Int, error) {
	if v, ok := r.balances[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("balance %s/%s not locked", key.Account.Hex(), key.Token.Hex())
}

func (r *txReader) ReadAllowance(key ledger.AllowanceKey) (*uint256.Int, error) {
	if v, ok := r.allowances[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("allowance %s/%s/%s not locked", key.Owner.Hex(), key.Spender.Hex(), key.Token.Hex())
}

// lockRows makes sure every touched row exists and holds a FOR UPDATE lock on
// it. Keys are locked in a fixed order so concurrent settlements cannot deadlock.
func lockRows(ctx context.Context, tx pgx.Tx, transfers []ledger.Transfer) (*txReader, error) {
	r := &txReader{
		balances:   make(map[ledger.BalanceKey]*uint256.Int),
		allowances: make(map[ledger.AllowanceKey]*uint256.Int),
	}

	var balanceKeys []ledger.BalanceKey
	var allowanceKeys []ledger.AllowanceKey
	seenBal := make(map[ledger.BalanceKey]bool)
	seenAllow := make(map[ledger.AllowanceKey]bool)
	for _, t := range transfers {
		for _, key := range []ledger.BalanceKey{{Account: t.From, Token: t.Token}, {Account: t.To, Token: t.Token}} {
			if !seenBal[key] {
				seenBal[key] = true
				balanceKeys = append(balanceKeys, key)
			}
		}
		if t.IsPull() {
			key := ledger.AllowanceKey{Owner: t.From, Spender: t.Spender, Token: t.Token}
			if !seenAllow[key] {
				seenAllow[key] = true
				allowanceKeys = append(allowanceKeys, key)
			}
		}
	}
	sort.Slice(balanceKeys, func(i, j int) bool {
		a, b := balanceKeys[i], balanceKeys[j]
		if a.Account != b.Account {
			return a.Account.Hex() < b.Account.Hex()
		}
		return a.Token.Hex() < b.Token.Hex()
	})
	sort.Slice(allowanceKeys, func(i, j int) bool {
		a, b := allowanceKeys[i], allowanceKeys[j]
		if a.Owner != b.Owner {
			return a.Owner.Hex() < b.Owner.Hex()
		}
		if a.Spender != b.Spender {
			return a.Spender.Hex() < b.Spender.Hex()
		}
		return a.Token.Hex() < b.Token.Hex()
	})

	for _, key := range balanceKeys {
		if _, err := tx.Exec(ctx, `
			INSERT INTO balances (account, token, amount) VALUES ($1, $2, 0)
			ON CONFLICT (account, token) DO NOTHING
		`, key.Account.Hex(), key.Token.Hex()); err != nil {
			return nil, fmt.Errorf("ensure balance row: %w", err)
		}
		v, err := scanAmount(tx.QueryRow(ctx,
			`SELECT amount::text FROM balances WHERE account=$1 AND token=$2 FOR UPDATE`,
			key.Account.Hex(), key.Token.Hex()))
		if err != nil {
			return nil, err
		}
		r.balances[key] = v
	}
	for _, key := range allowanceKeys {
		v, err := scanAmount(tx.QueryRow(ctx,
			`SELECT amount::text FROM allowances WHERE owner=$1 AND spender=$2 AND token=$3 FOR UPDATE`,
			key.Owner.Hex(), key.Spender.Hex(), key.Token.Hex()))
		if err != nil {
			return nil, err
		}
		r.allowances[key] = v
	}
	return r, nil
}

func (s *Store) Settle(ctx context.Context, transfers []ledger.Transfer, record *model.SwapRecord) error {
	var seq int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		reader, err := lockRows(ctx, tx, transfers)
		if err != nil {
			return err
		}
		changes, err := ledger.Plan(reader, transfers)
		if err != nil {
			return err
		}

		for key, v := range changes.Balances {
			if _, err := tx.Exec(ctx,
				`UPDATE balances SET amount=$3::numeric, updated_at=now() WHERE account=$1 AND token=$2`,
				key.Account.Hex(), key.Token.Hex(), v.Dec()); err != nil {
				return fmt.Errorf("update balance: %w", err)
			}
		}
		for key, v := range changes.Allowances {
			if _, err := tx.Exec(ctx,
				`UPDATE allowances SET amount=$4::numeric, updated_at=now() WHERE owner=$1 AND spender=$2 AND token=$3`,
				key.Owner.Hex(), key.Spender.Hex(), key.Token.Hex(), v.Dec()); err != nil {
				return fmt.Errorf("update allowance: %w", err)
			}
		}

		if record == nil {
			return nil
		}
		return tx.QueryRow(ctx, `
			INSERT INTO swap_records (
				id, caller, token_in, token_out, amount_in, amount_out, ts, source, block_number, tx_hash, log_index
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11)
			RETURNING sequence
		`,
			record.ID,
			record.Caller.Hex(),
			record.TokenIn.Hex(),
			record.TokenOut.Hex(),
			amountText(record.AmountIn),
			amountText(record.AmountOut),
			int64(record.Timestamp),
			record.Source,
			int64(record.BlockNumber),
			record.TxHash,
			int64(record.LogIndex),
		).Scan(&seq)
	})
	if err != nil {
		return err
	}
	if record != nil {
		record.Sequence = uint64(seq)
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, account, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ledger.ErrInvalidTransfer)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (account, token, amount, updated_at)
		VALUES ($1, $2, $3::numeric, now())
		ON CONFLICT (account, token)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
	`, account.Hex(), token.Hex(), amount.Dec())
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func (s *Store) Approve(ctx context.Context, owner, spender, token common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: amount required", ledger.ErrInvalidTransfer)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO allowances (owner, spender, token, amount, updated_at)
		VALUES ($1, $2, $3, $4::numeric, now())
		ON CONFLICT (owner, spender, token)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()
	`, owner.Hex(), spender.Hex(), token.Hex(), amount.Dec())
	if err != nil {
		return fmt.Errorf("upsert allowance: %w", err)
	}
	return nil
}

func (s *Store) SwapRecords(ctx context.Context, afterSequence uint64, limit int) ([]model.SwapRecord, error) {
	var limitArg *int64
	if limit > 0 {
		l := int64(limit)
		limitArg = &l
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sequence, id, caller, token_in, token_out, amount_in::text, amount_out::text,
			ts, source, block_number, tx_hash, log_index
		FROM swap_records
		WHERE sequence > $1
		ORDER BY sequence
		LIMIT $2
	`, int64(afterSequence), limitArg)
	if err != nil {
		return nil, fmt.Errorf("select swap records: %w", err)
	}
	defer rows.Close()

	out := make([]model.SwapRecord, 0)
	for rows.Next() {
		var (
			seq, ts, block, logIndex       int64
			id, caller, in, outToken       string
			amountIn, amountOut, src, txid string
		)
		if err := rows.Scan(&seq, &id, &caller, &in, &outToken, &amountIn, &amountOut, &ts, &src, &block, &txid, &logIndex); err != nil {
			return nil, fmt.Errorf("scan swap record: %w", err)
		}
		ai, err := uint256.FromDecimal(amountIn)
		if err != nil {
			return nil, fmt.Errorf("parse amount_in: %w", err)
		}
		ao, err := uint256.FromDecimal(amountOut)
		if err != nil {
			return nil, fmt.Errorf("parse amount_out: %w", err)
		}
		out = append(out, model.SwapRecord{
			ID:          id,
			Sequence:    uint64(seq),
			Caller:      common.HexToAddress(caller),
			TokenIn:     common.HexToAddress(in),
			TokenOut:    common.HexToAddress(outToken),
			AmountIn:    ai,
			AmountOut:   ao,
			Timestamp:   uint64(ts),
			Source:      src,
			BlockNumber: uint64(block),
			TxHash:      txid,
			LogIndex:    uint64(logIndex),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap records: %w", err)
	}
	return out, nil
}
