package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateStore persists the timestamp up to which every swap has been folded
// into a closed window.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, ts uint64) error
}

// FileStateStore keeps aggregation progress in a JSON file. A file written
// for a different window size is rejected on Load, since its timestamp does
// not line up with this run's window boundaries.
type FileStateStore struct {
	Path          string
	WindowSeconds uint64
}

type fileState struct {
	WindowSeconds uint64 `json:"window_seconds"`
	Through       uint64 `json:"through_ts"`
	SavedAt       string `json:"saved_at"`
}

func (s *FileStateStore) Load(_ context.Context) (uint64, bool, error) {
	if s.Path == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read aggregate state: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, false, fmt.Errorf("parse aggregate state %s: %w", s.Path, err)
	}
	if s.WindowSeconds != 0 && st.WindowSeconds != s.WindowSeconds {
		return 0, false, fmt.Errorf("aggregate state %s is for %ds windows, not %ds", s.Path, st.WindowSeconds, s.WindowSeconds)
	}
	return st.Through, true, nil
}

func (s *FileStateStore) Save(_ context.Context, ts uint64) error {
	if s.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create aggregate state dir: %w", err)
	}

	data, err := json.Marshal(fileState{
		WindowSeconds: s.WindowSeconds,
		Through:       ts,
		SavedAt:       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write aggregate state: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
