package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"peerlend/core/state"
	"peerlend/native/lending"
	"peerlend/storage"
)

const (
	assetHex      = "0x00000000000000000000000000000000000000A0"
	collateralHex = "0x00000000000000000000000000000000000000B0"
	aliceHex      = "0x0000000000000000000000000000000000000001"
	bobHex        = "0x0000000000000000000000000000000000000002"
)

func testWad(n int64) *big.Int {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return wad.Mul(wad, big.NewInt(n))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	engine := lending.NewEngine()
	oracle := lending.NewStaticOracle()
	engine.SetOracle(oracle)

	for _, hex := range []string{assetHex, collateralHex} {
		underlying := common.HexToAddress(hex)
		cfg := lending.MarketConfig{
			Underlying:          underlying,
			Symbol:              "TST",
			LiquidationBonusBps: 1_000,
		}
		pool := lending.NewScaledPool(lending.DefaultInterestModel, 0, testWad(1_000), testWad(200))
		require.NoError(t, engine.CreateMarket(cfg, pool))
		oracle.SetPrice(underlying, testWad(1))
		oracle.SetCollateralFactor(underlying, 8_000)
	}

	manager := state.NewManager(storage.NewMemDB())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(engine, manager, logger)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSupplyAndPositionRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: assetHex,
		User:   aliceHex,
		Amount: "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	op := decodeBody[operationResponse](t, rec)
	require.Equal(t, "100", op.Amount)
	require.Equal(t, "0", op.Matched)

	rec = doRequest(t, s, http.MethodGet, "/v1/lending/positions/"+assetHex+"/"+aliceHex, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pos := decodeBody[positionResponse](t, rec)
	require.Equal(t, "100", pos.SupplyOnPool)
	require.Equal(t, "0", pos.SupplyInP2P)
	require.Equal(t, "100", pos.SupplyBalance)
}

func TestBorrowMatchesSupplierOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: assetHex, User: aliceHex, Amount: "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: collateralHex, User: bobHex, Amount: "500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/v1/lending/borrow", operationRequest{
		Market: assetHex, User: bobHex, Amount: "60",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	op := decodeBody[operationResponse](t, rec)
	require.Equal(t, "60", op.Matched)

	rec = doRequest(t, s, http.MethodGet, "/v1/lending/markets/"+assetHex, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	market := decodeBody[marketResponse](t, rec)
	require.Equal(t, "60", market.Delta.SupplyInP2P)
	require.Equal(t, "60", market.Delta.BorrowInP2P)
}

func TestListMarkets(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/lending/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	markets := decodeBody[[]marketResponse](t, rec)
	require.Len(t, markets, 2)
	for _, m := range markets {
		require.Equal(t, "TST", m.Symbol)
		require.NotEmpty(t, m.Indexes.P2PSupply)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	// Unknown market resolves but is not created.
	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: "0x00000000000000000000000000000000000000FF",
		User:   aliceHex,
		Amount: "100",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed address is rejected before touching the engine.
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: "not-an-address", User: aliceHex, Amount: "100",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed amount.
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: assetHex, User: aliceHex, Amount: "12.5",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Borrowing without collateral violates the solvency precheck.
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/borrow", operationRequest{
		Market: assetHex, User: bobHex, Amount: "50",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Withdrawing with no balance.
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/withdraw", operationRequest{
		Market: assetHex, User: bobHex, Amount: "50",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLiquidateRejectsHealthyBorrower(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: collateralHex, User: bobHex, Amount: "500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/borrow", operationRequest{
		Market: assetHex, User: bobHex, Amount: "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodPost, "/v1/lending/liquidate", liquidateRequest{
		DebtMarket:       assetHex,
		CollateralMarket: collateralHex,
		Liquidator:       aliceHex,
		Borrower:         bobHex,
		Amount:           "100",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestHealthFactorEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: collateralHex, User: bobHex, Amount: "800",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doRequest(t, s, http.MethodPost, "/v1/lending/borrow", operationRequest{
		Market: assetHex, User: bobHex, Amount: "320",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, s, http.MethodGet, "/v1/lending/accounts/"+bobHex+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[healthResponse](t, rec)
	// 800 * 80% borrowing power against 320 debt is a health factor of 2.
	require.Equal(t, "2000000000000000000000000000", health.HealthFactor)
}

func TestStateSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()

	s := newTestServer(t)
	s.state = state.NewManager(db)

	rec := doRequest(t, s, http.MethodPost, "/v1/lending/supply", operationRequest{
		Market: assetHex, User: aliceHex, Amount: "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Boot a second server against the same database.
	restarted := newTestServer(t)
	restarted.state = state.NewManager(db)
	require.NoError(t, restarted.state.Load(restarted.engine))

	rec = doRequest(t, restarted, http.MethodGet, "/v1/lending/positions/"+assetHex+"/"+aliceHex, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pos := decodeBody[positionResponse](t, rec)
	require.Equal(t, "100", pos.SupplyOnPool)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
