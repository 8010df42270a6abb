package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rateSwap/internal/model"
)

// JsonlStorage appends records to a JSONL file, one JSON document per line.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) Path() string {
	return s.path
}

// PutLogBatch appends raw pool logs.
func (s *JsonlStorage) PutLogBatch(logs []model.LogRecord) error {
	return appendLines(s, logs)
}

// PutSwapRecords appends swap records.
func (s *JsonlStorage) PutSwapRecords(_ context.Context, records []model.SwapRecord) error {
	return appendLines(s, records)
}

// PutRateEntries appends rate entries in their wire form.
func (s *JsonlStorage) PutRateEntries(_ context.Context, entries []model.RateEntry) error {
	out := make([]model.RateEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.JSON())
	}
	return appendLines(s, out)
}

// PutDecodeErrors appends logs that could not be decoded.
func (s *JsonlStorage) PutDecodeErrors(errs []model.DecodeError) error {
	return appendLines(s, errs)
}

// Publish appends a single swap record; it lets the file act as a swap listener.
func (s *JsonlStorage) Publish(ctx context.Context, record model.SwapRecord) error {
	return s.PutSwapRecords(ctx, []model.SwapRecord{record})
}

func appendLines[T any](s *JsonlStorage, items []T) error {
	if len(items) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ReadSwapRecords streams swap records from a JSONL file. Blank lines are skipped.
func ReadSwapRecords(path string, fn func(model.SwapRecord) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record model.SwapRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("decode line %d: %w", line, err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}
