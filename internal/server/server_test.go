package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rateSwap/internal/ledger"
	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
	"rateSwap/internal/swap"
	"rateSwap/internal/tokens"
)

const operatorToken = "s3cret"

type obj = map[string]interface{}

var (
	tokenA = common.HexToAddress("0xA51c1fc2f0D1a1b8494Ed1FE312d7C3a78Ed91C0")
	tokenB = common.HexToAddress("0x0DCd1Bf9A1b36cE34237eEaFef220932846BCD82")
	caller = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	pool   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

type fixture struct {
	handler http.Handler
	ledger  *ledger.Memory
	rates   *ratetable.Memory
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	rates := ratetable.NewMemory()
	l := ledger.NewMemory()
	engine, err := swap.NewEngine(rates, l, pool)
	require.NoError(t, err)

	if cfg.OperatorToken == "" {
		cfg.OperatorToken = operatorToken
	}
	srv, err := New(cfg, Deps{Engine: engine, Rates: rates, Ledger: l, Tokens: tokens.LocalDev()})
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), ledger: l, rates: rates}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, operator bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if operator {
		req.Header.Set("Authorization", "Bearer "+operatorToken)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), pool.Hex())
}

func TestRateRoutes(t *testing.T) {
	f := newFixture(t, Config{})
	body := obj{"token_in": "TOKA", "token_out": "TOKB", "numerator": "2", "exponent": 5}

	rec := f.do(t, http.MethodPut, "/v1/rates", body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/rates", body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/rates/TOKA/TOKB", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var entry model.RateEntryJSON
	decode(t, rec, &entry)
	assert.Equal(t, "2", entry.Numerator)
	assert.Equal(t, uint64(5), entry.Exponent)
	assert.Equal(t, "0.00002", entry.Decimal)

	// Rates are directional.
	rec = f.do(t, http.MethodGet, "/v1/rates/TOKB/TOKA", nil, false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, uint32(4), errResp.Code)
	assert.Equal(t, "swap", errResp.Codespace)

	rec = f.do(t, http.MethodPut, "/v1/rates", obj{"token_in": "ETH", "token_out": "TOKA", "decimal": "50000"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/rates", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rates []model.RateEntryJSON `json:"rates"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Rates, 2)
	assert.Equal(t, model.NativeToken.Hex(), list.Rates[0].TokenIn)
}

func TestQuote(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.rates.SetRate(context.Background(), tokenA, tokenB, model.NewRate(2, 5)))

	rec := f.do(t, http.MethodGet, "/v1/quote?token_in=TOKA&token_out=TOKB&amount_in=500000", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, "10", resp["amount_out"])

	rec = f.do(t, http.MethodGet, "/v1/quote?token_in=TOKA&token_out=TOKB&amount_in=-1", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSwapFlow(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.rates.SetRate(ctx, tokenA, tokenB, model.NewRate(2, 5)))

	rec := f.do(t, http.MethodPost, "/v1/fund", obj{"account": pool.Hex(), "token": "TOKB", "amount": "100"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/fund", obj{"account": pool.Hex(), "token": "TOKB", "amount": "100"}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/v1/fund", obj{"account": caller.Hex(), "token": "TOKA", "amount": "1000000"}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	swapBody := obj{"caller": caller.Hex(), "token_in": "TOKA", "token_out": "TOKB", "amount_in": "500000"}

	rec = f.do(t, http.MethodPost, "/v1/swaps/check", swapBody, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var check struct {
		OK     bool         `json:"ok"`
		Issues []swap.Issue `json:"issues"`
	}
	decode(t, rec, &check)
	assert.False(t, check.OK)
	require.Len(t, check.Issues, 1)
	assert.Equal(t, uint32(7), check.Issues[0].Code)

	rec = f.do(t, http.MethodPost, "/v1/swaps", swapBody, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/approvals", obj{"owner": caller.Hex(), "token": "TOKA", "amount": "500000"}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/swaps", swapBody, false)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var record model.SwapRecord
	decode(t, rec, &record)
	assert.Equal(t, "10", record.AmountOut.Dec())
	assert.Equal(t, uint64(1), record.Sequence)

	rec = f.do(t, http.MethodGet, "/v1/balances/"+caller.Hex()+"?token=TOKB", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Balances []balanceView `json:"balances"`
	}
	decode(t, rec, &bal)
	require.Len(t, bal.Balances, 1)
	assert.Equal(t, "10", bal.Balances[0].Balance)
	assert.Equal(t, "TOKB", bal.Balances[0].Symbol)

	rec = f.do(t, http.MethodGet, "/v1/balances/"+caller.Hex(), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &bal)
	assert.Len(t, bal.Balances, 3)

	rec = f.do(t, http.MethodGet, "/v1/swaps?after=0&limit=10", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Swaps []model.SwapRecord `json:"swaps"`
	}
	decode(t, rec, &page)
	require.Len(t, page.Swaps, 1)
	assert.Equal(t, record.ID, page.Swaps[0].ID)
}

func TestSwapErrors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.rates.SetRate(ctx, tokenA, tokenB, model.NewRate(2, 5)))
	require.NoError(t, f.ledger.Credit(ctx, caller, tokenA, uint256.NewInt(1_000_000)))
	require.NoError(t, f.ledger.Approve(ctx, caller, pool, tokenA, uint256.NewInt(1_000_000)))

	cases := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   uint32
	}{
		{"identical", map[string]interface{}{"caller": caller.Hex(), "token_in": "TOKA", "token_out": "TOKA", "amount_in": "100"}, http.StatusBadRequest, 2},
		{"zero", map[string]interface{}{"caller": caller.Hex(), "token_in": "TOKA", "token_out": "TOKB"}, http.StatusBadRequest, 3},
		{"no rate", map[string]interface{}{"caller": caller.Hex(), "token_in": "TOKB", "token_out": "TOKA", "amount_in": "1"}, http.StatusUnprocessableEntity, 4},
		{"pool short", map[string]interface{}{"caller": caller.Hex(), "token_in": "TOKA", "token_out": "TOKB", "amount_in": "500000"}, http.StatusUnprocessableEntity, 5},
		{"bad caller", map[string]interface{}{"caller": "nope", "token_in": "TOKA", "token_out": "TOKB", "amount_in": "1"}, http.StatusBadRequest, 9},
		{"unknown token", map[string]interface{}{"caller": caller.Hex(), "token_in": "DOGE", "token_out": "TOKB", "amount_in": "1"}, http.StatusBadRequest, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/swaps", tc.body, false)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var resp ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, tc.code, resp.Code)
			assert.Equal(t, swap.Codespace, resp.Codespace)
			assert.NotEmpty(t, resp.Error)
		})
	}

	bal, err := f.ledger.BalanceOf(ctx, caller, tokenA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), bal.Uint64())
}

func TestSwapRateLimit(t *testing.T) {
	f := newFixture(t, Config{SwapRate: 0.001, SwapBurst: 1})
	body := obj{"caller": caller.Hex(), "token_in": "TOKA", "token_out": "TOKA", "amount_in": "1"}

	rec := f.do(t, http.MethodPost, "/v1/swaps", body, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/swaps", body, false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Quotes are not limited.
	rec = f.do(t, http.MethodGet, "/v1/quote?token_in=TOKA&token_out=TOKB&amount_in=0", nil, false)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
}

func TestOperatorRoutesDisabledWithoutToken(t *testing.T) {
	rates := ratetable.NewMemory()
	l := ledger.NewMemory()
	engine, err := swap.NewEngine(rates, l, pool)
	require.NoError(t, err)
	srv, err := New(Config{}, Deps{Engine: engine, Rates: rates, Ledger: l})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/fund", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveRejectsNative(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodPost, "/v1/approvals", obj{"owner": caller.Hex(), "token": "ETH", "amount": "1"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIPLimiterEvictsIdle(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Unix(1700000000, 0)
	assert.True(t, l.allow("a", now))
	assert.False(t, l.allow("a", now))
	l.evictIdle(now.Add(limiterIdle + time.Second))
	assert.Empty(t, l.limiters)
}

