// Package api provides the HTTP handlers exposing the settlement engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/engine"
	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/pnl"
	"github.com/atlasx/settlement-engine/internal/risk"
	"github.com/atlasx/settlement-engine/internal/store"
	"github.com/atlasx/settlement-engine/internal/symbol"
)

// Service wires the engines to HTTP. Identity comes from the X-User-ID
// header; authentication is handled upstream of this service.
type Service struct {
	store   store.Store
	futures *engine.Futures
	spot    *engine.Spot
	pnl     *pnl.Service
	hub     *notify.Hub
}

// NewService creates the API service. hub may be nil when WebSocket
// delivery is not wanted.
func NewService(st store.Store, futures *engine.Futures, spot *engine.Spot, acct *pnl.Service, hub *notify.Hub) *Service {
	return &Service{store: st, futures: futures, spot: spot, pnl: acct, hub: hub}
}

// Routes mounts every endpoint under the given router.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/futures", func(r chi.Router) {
			r.Post("/orders", s.PlaceFuturesOrder)
			r.Get("/orders", s.ListFuturesOrders)
			r.Delete("/orders/{orderID}", s.CancelFuturesOrder)
			r.Get("/positions", s.ListPositions)
			r.Post("/positions/{symbol}/close", s.ClosePosition)
			r.Put("/positions/{symbol}/triggers", s.SetTriggers)
			r.Get("/history", s.PositionHistory)
		})

		r.Route("/spot", func(r chi.Router) {
			r.Post("/orders", s.PlaceSpotOrder)
			r.Get("/orders", s.ListSpotOrders)
			r.Delete("/orders/{orderID}", s.CancelSpotOrder)
		})

		r.Get("/balances", s.ListBalances)
		r.Post("/transfer", s.Transfer)
		r.Get("/portfolio", s.Portfolio)
		r.Get("/portfolio/snapshots", s.Snapshots)
	})
}

type ctxKey int

const userKey ctxKey = 0

// requireUser extracts the authenticated user id set by the gateway.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-User-ID")
		if uid == "" {
			writeMessage(w, "X-User-ID header is required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, uid)))
	})
}

func userID(r *http.Request) string {
	uid, _ := r.Context().Value(userKey).(string)
	return uid
}

// --- Futures handlers ---

// PlaceFuturesOrder handles POST /api/v1/futures/orders
func (s *Service) PlaceFuturesOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.futures.PlaceOrder(r.Context(), userID(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListFuturesOrders handles GET /api/v1/futures/orders
func (s *Service) ListFuturesOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), userID(r), model.MarketFutures, queryLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelFuturesOrder handles DELETE /api/v1/futures/orders/{orderID}
func (s *Service) CancelFuturesOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.futures.CancelOrder(r.Context(), userID(r), chi.URLParam(r, "orderID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ListPositions handles GET /api/v1/futures/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ClosePosition handles POST /api/v1/futures/positions/{symbol}/close
// Body: {"quantity": "0.5"} — omitted or zero closes the full position.
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := s.futures.ClosePosition(r.Context(), userID(r), chi.URLParam(r, "symbol"), req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SetTriggers handles PUT /api/v1/futures/positions/{symbol}/triggers
func (s *Service) SetTriggers(w http.ResponseWriter, r *http.Request) {
	var req engine.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pos, err := s.futures.SetTriggers(r.Context(), userID(r), chi.URLParam(r, "symbol"), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// PositionHistory handles GET /api/v1/futures/history
func (s *Service) PositionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.ListPositionHistory(r.Context(), userID(r), queryLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []model.PositionHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

// --- Spot handlers ---

// PlaceSpotOrder handles POST /api/v1/spot/orders
func (s *Service) PlaceSpotOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.SpotOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.spot.PlaceOrder(r.Context(), userID(r), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListSpotOrders handles GET /api/v1/spot/orders
func (s *Service) ListSpotOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context(), userID(r), model.MarketSpot, queryLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelSpotOrder handles DELETE /api/v1/spot/orders/{orderID}
func (s *Service) CancelSpotOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.spot.CancelOrder(r.Context(), userID(r), chi.URLParam(r, "orderID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- Wallet / portfolio handlers ---

// ListBalances handles GET /api/v1/balances?market=spot|futures
func (s *Service) ListBalances(w http.ResponseWriter, r *http.Request) {
	market := model.Market(r.URL.Query().Get("market"))
	if market != model.MarketSpot && market != model.MarketFutures {
		writeMessage(w, "market must be spot or futures", http.StatusBadRequest)
		return
	}

	accounts, err := s.store.ListAccounts(r.Context(), userID(r), market)
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Transfer handles POST /api/v1/transfer
// Body: {"asset": "USDT", "amount": "100", "to": "futures"}
func (s *Service) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  string          `json:"asset"`
		Amount decimal.Decimal `json:"amount"`
		To     model.Market    `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		writeMessage(w, "asset is required", http.StatusBadRequest)
		return
	}

	if err := s.futures.Transfer(r.Context(), userID(r), req.Asset, req.Amount, req.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// Portfolio handles GET /api/v1/portfolio
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.pnl.RealTime(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Snapshots handles GET /api/v1/portfolio/snapshots
func (s *Service) Snapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.pnl.History(r.Context(), userID(r), queryLimit(r, 30))
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.DailySnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// --- Helpers ---

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeMessage writes a JSON error response.
func writeMessage(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeError maps engine errors onto HTTP statuses. Invariant violations are
// never surfaced verbatim.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation):
		slog.Error("invariant violation", "err", err)
		writeMessage(w, "internal error", http.StatusInternalServerError)
	case errors.Is(err, engine.ErrInsufficientMargin),
		errors.Is(err, ledger.ErrInsufficientFunds):
		writeMessage(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrInvalidOrder),
		errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, symbol.ErrUnsupportedQuote),
		errors.Is(err, risk.ErrLeverageOutOfRange),
		errors.Is(err, risk.ErrOrderTooLarge),
		errors.Is(err, risk.ErrExposureLimitExceeded):
		writeMessage(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrOrderNotPending):
		writeMessage(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrPositionNotFound),
		errors.Is(err, store.ErrNotFound):
		writeMessage(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, oracle.ErrPriceUnavailable):
		writeMessage(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "err", err)
		writeMessage(w, "internal error", http.StatusInternalServerError)
	}
}
