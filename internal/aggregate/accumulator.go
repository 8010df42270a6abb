package aggregate

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"rateSwap/internal/model"
)

// Accumulator holds running totals for one ordered pair and window.
type Accumulator struct {
	Pair        model.Pair
	WindowStart uint64
	WindowEnd   uint64
	SwapCount   uint64
	VolumeIn    *big.Int
	VolumeOut   *big.Int
	FirstTS     uint64
	LastTS      uint64
	callers     map[common.Address]struct{}
}

func NewAccumulator(pair model.Pair, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		Pair:        pair,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		VolumeIn:    big.NewInt(0),
		VolumeOut:   big.NewInt(0),
		callers:     make(map[common.Address]struct{}),
	}
}

// AddSwap folds a swap record into the window.
func (a *Accumulator) AddSwap(record model.SwapRecord) error {
	if record.Pair() != a.Pair {
		return fmt.Errorf("record pair %s does not match %s", record.Pair(), a.Pair)
	}
	if record.Timestamp < a.WindowStart || record.Timestamp >= a.WindowEnd {
		return fmt.Errorf("record ts %d outside window [%d, %d)", record.Timestamp, a.WindowStart, a.WindowEnd)
	}
	if record.AmountIn != nil {
		a.VolumeIn.Add(a.VolumeIn, record.AmountIn.ToBig())
	}
	if record.AmountOut != nil {
		a.VolumeOut.Add(a.VolumeOut, record.AmountOut.ToBig())
	}
	if a.FirstTS == 0 || record.Timestamp < a.FirstTS {
		a.FirstTS = record.Timestamp
	}
	if record.Timestamp > a.LastTS {
		a.LastTS = record.Timestamp
	}
	a.callers[record.Caller] = struct{}{}
	a.SwapCount++
	return nil
}

func (a *Accumulator) UniqueCallers() uint64 {
	return uint64(len(a.callers))
}
