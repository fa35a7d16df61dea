package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/config"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/events"
	"github.com/papertrade/papertrade/internal/ledger"
	"github.com/papertrade/papertrade/internal/orderbook"
	"github.com/papertrade/papertrade/internal/ws"
	"github.com/papertrade/papertrade/pkg/models"
)

type apiEnv struct {
	srv    *httptest.Server
	assets *assets.Service
	ledger *ledger.Service
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, err := database.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	log := zap.NewNop()
	bus := events.NewBus(log, 64)
	assetSvc := assets.NewService(log, db)
	ledgerSvc := ledger.NewService(log, db)
	book := orderbook.NewStore(db)
	eng := engine.NewEngine(log, db, assetSvc, ledgerSvc, book, bus)
	hub := ws.NewHub(log, bus)

	s := NewServer(log, config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, eng, assetSvc, hub)

	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		bus.Close()
	})
	return &apiEnv{srv: srv, assets: assetSvc, ledger: ledgerSvc}
}

func (env *apiEnv) do(t *testing.T, method, path string, userID *uuid.UUID, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, env.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != nil {
		req.Header.Set("X-User-ID", userID.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAssetLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/assets", nil, map[string]interface{}{
		"symbol": "ACME", "name": "Acme Corp", "price": "100",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/assets/ACME", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/assets/NOPE", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Duplicate symbols are rejected
	resp, _ = env.do(t, http.MethodPost, "/api/v1/assets", nil, map[string]interface{}{
		"symbol": "ACME", "name": "Again", "price": "1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrderSubmissionOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	buyer := uuid.New()

	asset, err := env.assets.CreateAsset(ctx, "ACME", "Acme Corp", decimal.NewFromInt(100))
	require.NoError(t, err)

	// Missing identity header
	resp, _ := env.do(t, http.MethodPost, "/api/v1/orders", nil, map[string]interface{}{
		"asset_id": asset.ID, "side": "buy", "type": "limit", "quantity": "5", "price": "90",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/v1/orders", &buyer, map[string]interface{}{
		"asset_id": asset.ID, "side": "buy", "type": "limit", "quantity": "5", "price": "90",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var order models.Order
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &order))
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, buyer, order.OwnerID)

	// The order is visible in the owner's list and in the book
	resp, listBody := env.do(t, http.MethodGet, "/api/v1/orders", &buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(listBody["orders"], &orders))
	require.Len(t, orders, 1)

	resp, bookBody := env.do(t, http.MethodGet, "/api/v1/orderbook/ACME", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bids []models.PriceLevel
	require.NoError(t, json.Unmarshal(bookBody["bids"], &bids))
	require.Len(t, bids, 1)

	// Another user cannot read the order by id
	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%s", order.ID), &buyer, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	other := uuid.New()
	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%s", order.ID), &other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSellWithoutHoldingOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	seller := uuid.New()

	asset, err := env.assets.CreateAsset(context.Background(), "ACME", "Acme Corp", decimal.NewFromInt(100))
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/v1/orders", &seller, map[string]interface{}{
		"asset_id": asset.ID, "side": "sell", "type": "limit", "quantity": "5", "price": "100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errPayload struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(body["error"], &errPayload))
	assert.Equal(t, "insufficient_assets", errPayload.Kind)
}

func TestHoldingsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	owner := uuid.New()

	resp, body := env.do(t, http.MethodGet, "/api/v1/holdings", &owner, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var holdings []models.Holding
	require.NoError(t, json.Unmarshal(body["holdings"], &holdings))
	assert.Empty(t, holdings)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
