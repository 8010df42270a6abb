package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"rateSwap/internal/model"
	"rateSwap/internal/storage"
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	// RecomputeFrom forces a rebuild from the window containing this
	// timestamp, ignoring saved state.
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsSink stores finished windows.
type MetricsSink interface {
	UpsertPairWindowMetrics(ctx context.Context, metrics []model.PairWindowMetrics) error
}

// DecimalsResolver reports token decimals, e.g. from on-chain metadata.
type DecimalsResolver interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

type windowKey struct {
	pair  model.Pair
	start uint64
}

// Aggregator folds swap records into per-pair window metrics.
type Aggregator struct {
	cfg      Config
	sink     MetricsSink
	resolver DecimalsResolver
	logger   *zap.Logger
	decimals map[common.Address]uint8
	open     map[windowKey]*Accumulator
	// windows ending at or before cutoff are closed and already written.
	cutoff uint64
}

// NewAggregator builds an Aggregator. A nil resolver leaves ERC20 volumes in
// base units; the native asset always uses 18 decimals.
func NewAggregator(cfg Config, sink MetricsSink, resolver DecimalsResolver, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:      cfg,
		sink:     sink,
		resolver: resolver,
		logger:   logger,
		decimals: make(map[common.Address]uint8),
		open:     make(map[windowKey]*Accumulator),
	}
}

// Run aggregates a swap record JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) error {
	if a.sink == nil {
		return fmt.Errorf("metrics sink is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, resume, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}
	if resume {
		a.cutoff = windowStart(startTs+1, a.cfg.WindowSeconds)
	}

	batch := make([]model.PairWindowMetrics, 0, a.cfg.BatchSize)
	maxTs := startTs
	var total, skipped, late, failed int

	err = storage.ReadSwapRecords(inputPath, func(record model.SwapRecord) error {
		total++
		if resume && record.Timestamp <= startTs {
			skipped++
			return nil
		}

		start := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		key := windowKey{pair: record.Pair(), start: start}
		acc := a.open[key]
		if acc == nil {
			if start < a.cutoff {
				late++
				a.logger.Warn("swap for closed window", zap.String("id", record.ID), zap.Uint64("ts", record.Timestamp))
				return nil
			}
			acc = NewAccumulator(key.pair, start, start+a.cfg.WindowSeconds)
			a.open[key] = acc
		}
		if err := acc.AddSwap(record); err != nil {
			failed++
			a.logger.Warn("aggregate swap", zap.Error(err), zap.String("id", record.ID))
			return nil
		}
		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if cutoff := windowStart(maxTs, a.cfg.WindowSeconds); cutoff > a.cutoff {
			a.cutoff = cutoff
			for k, acc := range a.open {
				if acc.WindowEnd <= cutoff {
					batch = append(batch, a.buildMetrics(ctx, acc))
					delete(a.open, k)
				}
			}
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			if err := a.saveState(ctx, maxTs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Open windows are written as they stand; state stays before them so the
	// next run rebuilds them from the full input.
	for _, acc := range a.open {
		batch = append(batch, a.buildMetrics(ctx, acc))
	}
	if err := a.flush(ctx, batch); err != nil {
		return err
	}
	if err := a.saveState(ctx, maxTs); err != nil {
		return err
	}
	windows := len(a.open)
	a.open = make(map[windowKey]*Accumulator)

	a.logger.Info("aggregate complete",
		zap.Int("total", total),
		zap.Int("skipped", skipped),
		zap.Int("late", late),
		zap.Int("failed", failed),
		zap.Int("open_windows", windows),
	)
	return nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, bool, error) {
	if a.cfg.RecomputeFrom > 0 {
		start := windowStart(a.cfg.RecomputeFrom, a.cfg.WindowSeconds)
		if start == 0 {
			return 0, false, nil
		}
		return start - 1, true, nil
	}
	if a.cfg.StateStore == nil {
		return 0, false, nil
	}
	return a.cfg.StateStore.Load(ctx)
}

// saveState records the last timestamp below every open window, or maxTs
// when nothing is open.
func (a *Aggregator) saveState(ctx context.Context, maxTs uint64) error {
	if a.cfg.StateStore == nil {
		return nil
	}
	if len(a.open) == 0 {
		return a.cfg.StateStore.Save(ctx, maxTs)
	}
	var minOpen uint64
	first := true
	for k := range a.open {
		if first || k.start < minOpen {
			minOpen = k.start
			first = false
		}
	}
	if minOpen == 0 {
		return nil
	}
	return a.cfg.StateStore.Save(ctx, minOpen-1)
}

func (a *Aggregator) flush(ctx context.Context, batch []model.PairWindowMetrics) error {
	if len(batch) == 0 {
		return nil
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].TokenIn != batch[j].TokenIn {
			return batch[i].TokenIn < batch[j].TokenIn
		}
		if batch[i].TokenOut != batch[j].TokenOut {
			return batch[i].TokenOut < batch[j].TokenOut
		}
		return batch[i].WindowStart.Before(batch[j].WindowStart)
	})
	if err := a.sink.UpsertPairWindowMetrics(ctx, batch); err != nil {
		return fmt.Errorf("upsert window metrics: %w", err)
	}
	return nil
}

func (a *Aggregator) buildMetrics(ctx context.Context, acc *Accumulator) model.PairWindowMetrics {
	decimalsIn := a.tokenDecimals(ctx, acc.Pair.TokenIn)
	decimalsOut := a.tokenDecimals(ctx, acc.Pair.TokenOut)

	return model.PairWindowMetrics{
		TokenIn:        acc.Pair.TokenIn.Hex(),
		TokenOut:       acc.Pair.TokenOut.Hex(),
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    time.Unix(int64(acc.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(acc.WindowEnd), 0).UTC(),
		SwapCount:      acc.SwapCount,
		VolumeIn:       formatTokenAmount(acc.VolumeIn, decimalsIn),
		VolumeOut:      formatTokenAmount(acc.VolumeOut, decimalsOut),
		EffectiveRate:  effectiveRate(acc.VolumeIn, acc.VolumeOut, decimalsIn, decimalsOut),
		UniqueCallers:  acc.UniqueCallers(),
	}
}

func (a *Aggregator) tokenDecimals(ctx context.Context, token common.Address) uint8 {
	if model.IsNative(token) {
		return model.NativeDecimals
	}
	if decimals, ok := a.decimals[token]; ok {
		return decimals
	}
	if a.resolver == nil {
		return 0
	}
	decimals, err := a.resolver.Decimals(ctx, token)
	if err != nil {
		a.logger.Warn("token decimals", zap.String("token", token.Hex()), zap.Error(err))
		return 0
	}
	a.decimals[token] = decimals
	return decimals
}
