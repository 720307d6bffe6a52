package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/api"
	"github.com/atlasx/settlement-engine/internal/engine"
	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/pnl"
	"github.com/atlasx/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	orc := oracle.NewStatic(map[string]decimal.Decimal{
		"ETHUSDT": d(100),
		"BTCUSDT": d(50000),
	})
	futures := engine.NewFutures(st, orc, notify.Noop{}, nil, time.Second)
	spot := engine.NewSpot(st, orc, notify.Noop{}, time.Second)
	acct := pnl.NewService(st, orc, notify.Noop{})

	svc := api.NewService(st, futures, spot, acct, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return r, st
}

func doRequest(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func fund(t *testing.T, st store.Store, userID string, market model.Market, amount float64) {
	t.Helper()
	_, err := ledger.Move(context.Background(), st, userID, market, "USDT", d(amount), ledger.Receive)
	if err != nil {
		t.Fatalf("failed to fund account: %v", err)
	}
}

func TestRequireUser(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/balances?market=spot", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without X-User-ID, got %d", rec.Code)
	}
}

func TestPlaceFuturesOrder(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketFutures, 1000)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/futures/orders", "user1", map[string]string{
		"symbol":         "ETHUSDT",
		"side":           "long",
		"kind":           "market",
		"quote_quantity": "500",
		"leverage":       "10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var order model.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if order.Status != model.StatusFilled {
		t.Errorf("expected status=filled, got %s", order.Status)
	}
	if !order.Margin.Equal(d(50)) {
		t.Errorf("expected margin=50, got %s", order.Margin)
	}
}

func TestPlaceFuturesOrder_InsufficientMargin(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketFutures, 10)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/futures/orders", "user1", map[string]string{
		"symbol":         "ETHUSDT",
		"side":           "long",
		"kind":           "market",
		"quote_quantity": "500",
		"leverage":       "10",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPlaceFuturesOrder_BadSymbol(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketFutures, 1000)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/futures/orders", "user1", map[string]string{
		"symbol":         "ETHEUR",
		"side":           "long",
		"kind":           "market",
		"quote_quantity": "500",
		"leverage":       "10",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported quote, got %d", rec.Code)
	}
}

func TestCancelFilledOrder_Conflicts(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketFutures, 1000)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/futures/orders", "user1", map[string]string{
		"symbol":         "ETHUSDT",
		"side":           "long",
		"kind":           "market",
		"quote_quantity": "500",
		"leverage":       "10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var order model.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/futures/orders/"+order.ID, "user1", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a filled order, got %d", rec.Code)
	}
}

func TestCloseMissingPosition(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/futures/positions/ETHUSDT/close", "user1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPlaceSpotOrder(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketSpot, 10000)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/spot/orders", "user1", map[string]string{
		"symbol":   "BTCUSDT",
		"side":     "buy",
		"kind":     "market",
		"quantity": "0.1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var order model.Order
	if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if order.Status != model.StatusFilled {
		t.Errorf("expected status=filled, got %s", order.Status)
	}
}

func TestListBalances(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketSpot, 10000)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/balances?market=spot", "user1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var accounts []model.Account
	if err := json.NewDecoder(rec.Body).Decode(&accounts); err != nil {
		t.Fatalf("failed to decode accounts: %v", err)
	}
	if len(accounts) != 1 || !accounts[0].Available.Equal(d(10000)) {
		t.Errorf("accounts = %+v", accounts)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/balances?market=margin", "user1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown market, got %d", rec.Code)
	}
}

func TestTransfer(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketSpot, 1000)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/transfer", "user1", map[string]string{
		"asset":  "USDT",
		"amount": "300",
		"to":     "futures",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	acc, err := st.GetAccount(context.Background(), "user1", model.MarketFutures, "USDT")
	if err != nil {
		t.Fatalf("futures account missing: %v", err)
	}
	if !acc.Available.Equal(d(300)) {
		t.Errorf("expected futures available=300, got %s", acc.Available)
	}
}

func TestPortfolio(t *testing.T) {
	h, st := newTestServer(t)
	fund(t, st, "user1", model.MarketFutures, 1000)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/portfolio", "user1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var p pnl.Portfolio
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode portfolio: %v", err)
	}
	if !p.Equity.Equal(d(1000)) {
		t.Errorf("expected equity=1000, got %s", p.Equity)
	}
}

func TestListOrders_EmptyIsArray(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/futures/orders", "user1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}
