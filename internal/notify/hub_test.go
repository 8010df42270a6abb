package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateSwap/internal/model"
)

func testRecord() model.SwapRecord {
	return model.SwapRecord{
		ID:        "swap-1",
		Sequence:  1,
		Caller:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		TokenIn:   model.NativeToken,
		TokenOut:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		AmountIn:  uint256.NewInt(100000000),
		AmountOut: uint256.NewInt(5000000000000),
		Timestamp: 1700000000,
		Source:    model.SourceEngine,
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubStreamsRecords(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), testRecord()))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var got model.SwapRecord
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "swap-1", got.ID)
		assert.Equal(t, "5000000000000", got.AmountOut.Dec())
	}
}

func TestHubForgetsClosedSubscribers(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, hub.Publish(context.Background(), testRecord()))
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

type stubPublisher struct {
	calls int
	err   error
}

func (s *stubPublisher) Publish(context.Context, model.SwapRecord) error {
	s.calls++
	return s.err
}

func TestFanoutCallsEveryListener(t *testing.T) {
	ok := &stubPublisher{}
	failing := &stubPublisher{err: errors.New("disk full")}
	fan := Fanout{failing, nil, ok}

	err := fan.Publish(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)

	assert.NoError(t, Fanout{}.Publish(context.Background(), testRecord()))
}
