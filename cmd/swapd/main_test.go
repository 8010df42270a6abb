package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateSwap/internal/config"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapd.log")
	logger, err := newLogger("info", path)
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := newLogger("loud", "")
	require.Error(t, err)
}

func TestOpenBackendMemory(t *testing.T) {
	b, err := openBackend(context.Background(), config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	defer b.close()
	assert.Nil(t, b.pg)
	assert.NotNil(t, b.rates)
	assert.NotNil(t, b.ledger)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "", redactDSN(""))
	assert.Equal(t, "***", redactDSN("postgres://user:pw@host/db"))
}
