package dex

import "rateSwap/internal/model"

// Event names emitted by the swap pool.
const (
	EventSwap         = "Swap"
	EventTokenRateSet = "TokenRateSet"
)

// Event is one decoded pool log. Exactly one of Swap and Rate is set.
type Event struct {
	Name string
	Swap *model.SwapRecord
	Rate *model.RateEntry
}

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (Event, error)
}
