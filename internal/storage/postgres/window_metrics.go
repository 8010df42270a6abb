package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"rateSwap/internal/model"
)

// UpsertPairWindowMetrics inserts or updates window metrics.
func (s *Store) UpsertPairWindowMetrics(ctx context.Context, metrics []model.PairWindowMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO pair_window_metrics (
				token_in, token_out, window_size_seconds, window_start_ts, window_end_ts,
				swap_count, volume_in, volume_out, effective_rate, unique_callers, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9::numeric,$10,now(),now())
			ON CONFLICT (token_in, token_out, window_size_seconds, window_start_ts)
			DO UPDATE SET
				window_end_ts = EXCLUDED.window_end_ts,
				swap_count = EXCLUDED.swap_count,
				volume_in = EXCLUDED.volume_in,
				volume_out = EXCLUDED.volume_out,
				effective_rate = EXCLUDED.effective_rate,
				unique_callers = EXCLUDED.unique_callers,
				updated_at = now()
		`,
			m.TokenIn,
			m.TokenOut,
			m.WindowSizeSecs,
			m.WindowStart,
			m.WindowEnd,
			int64(m.SwapCount),
			m.VolumeIn,
			m.VolumeOut,
			m.EffectiveRate,
			int64(m.UniqueCallers),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range metrics {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert pair window metrics: %w", err)
		}
	}
	return nil
}

// PairWindowMetrics returns stored windows for a pair, oldest first.
func (s *Store) PairWindowMetrics(ctx context.Context, tokenIn, tokenOut string, windowSeconds int64) ([]model.PairWindowMetrics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_in, token_out, window_size_seconds, window_start_ts, window_end_ts,
			swap_count, volume_in::text, volume_out::text, effective_rate::text, unique_callers
		FROM pair_window_metrics
		WHERE token_in=$1 AND token_out=$2 AND window_size_seconds=$3
		ORDER BY window_start_ts
	`, tokenIn, tokenOut, windowSeconds)
	if err != nil {
		return nil, fmt.Errorf("select pair window metrics: %w", err)
	}
	defer rows.Close()

	var out []model.PairWindowMetrics
	for rows.Next() {
		var m model.PairWindowMetrics
		var count, callers int64
		if err := rows.Scan(&m.TokenIn, &m.TokenOut, &m.WindowSizeSecs, &m.WindowStart, &m.WindowEnd,
			&count, &m.VolumeIn, &m.VolumeOut, &m.EffectiveRate, &callers); err != nil {
			return nil, fmt.Errorf("scan pair window metrics: %w", err)
		}
		m.SwapCount = uint64(count)
		m.UniqueCallers = uint64(callers)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pair window metrics: %w", err)
	}
	return out, nil
}
