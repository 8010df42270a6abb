package storage

import (
	"context"
	"errors"

	"rateSwap/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// LogSink receives raw pool logs from the chain indexer.
type LogSink interface {
	PutLogBatch(logs []model.LogRecord) error
}

// RecordSink receives swap records, either settled by the engine or decoded
// from pool events.
type RecordSink interface {
	PutSwapRecords(ctx context.Context, records []model.SwapRecord) error
}

// RateSink receives rate updates decoded from pool events.
type RateSink interface {
	PutRateEntries(ctx context.Context, entries []model.RateEntry) error
}

// DecodeErrorSink receives pool logs that failed to decode.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}
