package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
)

var _ ratetable.Store = (*Store)(nil)

func (s *Store) GetRate(ctx context.Context, tokenIn, tokenOut common.Address) (model.Rate, bool, error) {
	var num string
	var exp int64
	row := s.pool.QueryRow(ctx, `SELECT numerator::text, exponent FROM rates WHERE token_in=$1 AND token_out=$2`,
		tokenIn.Hex(), tokenOut.Hex())
	if err := row.Scan(&num, &exp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Rate{}, false, nil
		}
		return model.Rate{}, false, fmt.Errorf("select rate: %w", err)
	}
	numerator, err := uint256.FromDecimal(num)
	if err != nil {
		return model.Rate{}, false, fmt.Errorf("parse numerator: %w", err)
	}
	return model.Rate{Numerator: numerator, Exponent: uint64(exp)}, true, nil
}

func (s *Store) SetRate(ctx context.Context, tokenIn, tokenOut common.Address, rate model.Rate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rates (token_in, token_out, numerator, exponent, updated_at)
		VALUES ($1, $2, $3::numeric, $4, now())
		ON CONFLICT (token_in, token_out)
		DO UPDATE SET numerator = EXCLUDED.numerator, exponent = EXCLUDED.exponent, updated_at = now()
	`, tokenIn.Hex(), tokenOut.Hex(), amountText(rate.Numerator), int64(rate.Exponent))
	if err != nil {
		return fmt.Errorf("upsert rate: %w", err)
	}
	return nil
}

func (s *Store) ListRates(ctx context.Context) ([]model.RateEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT token_in, token_out, numerator::text, exponent FROM rates`)
	if err != nil {
		return nil, fmt.Errorf("select rates: %w", err)
	}
	defer rows.Close()

	var out []model.RateEntry
	for rows.Next() {
		var in, outToken, num string
		var exp int64
		if err := rows.Scan(&in, &outToken, &num, &exp); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		numerator, err := uint256.FromDecimal(num)
		if err != nil {
			return nil, fmt.Errorf("parse numerator: %w", err)
		}
		out = append(out, model.RateEntry{
			Pair: model.Pair{TokenIn: common.HexToAddress(in), TokenOut: common.HexToAddress(outToken)},
			Rate: model.Rate{Numerator: numerator, Exponent: uint64(exp)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rates: %w", err)
	}
	ratetable.SortEntries(out)
	return out, nil
}

func amountText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
