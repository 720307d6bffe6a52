package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/metrics"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/store"
	"github.com/atlasx/settlement-engine/internal/symbol"
)

// DefaultSpotInterval is the spot price-polling period. Matching only runs
// for a symbol whose price changed since the previous poll.
const DefaultSpotInterval = 1 * time.Second

// Spot is the spot-market engine. There is no position concept: holdings are
// ledger balances, and a fill moves the quote and base balances directly.
type Spot struct {
	store    store.Store
	oracle   oracle.Oracle
	notifier notify.Notifier
	locks    *lockMap
	interval time.Duration

	lastPrices map[string]decimal.Decimal
}

// NewSpot creates the spot engine. interval <= 0 selects the default.
func NewSpot(st store.Store, orc oracle.Oracle, n notify.Notifier, interval time.Duration) *Spot {
	if interval <= 0 {
		interval = DefaultSpotInterval
	}
	return &Spot{
		store:      st,
		oracle:     orc,
		notifier:   n,
		locks:      newLockMap(),
		interval:   interval,
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// SpotOrderRequest is the input to spot order placement. Quantity is in base
// units.
type SpotOrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Kind     model.OrderKind `json:"kind"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // limit orders only
}

func (r *SpotOrderRequest) validate() error {
	if r.Side != model.SideBuy && r.Side != model.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if r.Kind != model.KindMarket && r.Kind != model.KindLimit {
		return fmt.Errorf("%w: kind must be market or limit", ErrInvalidOrder)
	}
	if r.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if r.Kind == model.KindLimit && r.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder validates and records a spot order. Market orders settle
// immediately at the oracle price; limit orders reserve the funding side and
// rest until the matching loop fills them.
func (e *Spot) PlaceOrder(ctx context.Context, userID string, req *SpotOrderRequest) (*model.Order, error) {
	pair, err := symbol.Parse(req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if req.Kind == model.KindMarket {
		execPrice, err := e.oracle.Price(ctx, pair.Symbol)
		if err != nil {
			metrics.PriceFetchFailures.Inc()
			return nil, err
		}
		return e.executeImmediate(ctx, userID, pair, req, execPrice, model.KindMarket, now)
	}

	// A limit already crossed by the mark is executable right away and
	// fills like a market order. Oracle failure just lets it rest.
	if mark, err := e.oracle.Price(ctx, pair.Symbol); err == nil && spotCrossed(req.Side, req.Price, mark) {
		return e.executeImmediate(ctx, userID, pair, req, mark, model.KindLimit, now)
	}

	order := &model.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		Market:      model.MarketSpot,
		Symbol:      pair.Symbol,
		Side:        req.Side,
		Kind:        model.KindLimit,
		Status:      model.StatusPending,
		Quantity:    req.Quantity,
		Price:       req.Price,
		QuoteAmount: req.Quantity.Mul(req.Price).RoundBank(moneyScale),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var reserved *model.Account
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		asset, amount := fundingSide(pair, order)
		acc, err := ledger.Move(ctx, q, userID, model.MarketSpot, asset, amount, ledger.Reserve)
		if err != nil {
			return err
		}
		reserved = acc
		return q.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(model.MarketSpot), string(model.KindLimit)).Inc()
	e.notifier.Notify(userID, model.OrderEvent{OrderID: order.ID, Symbol: order.Symbol, Status: order.Status})
	e.notifier.Notify(userID, model.BalanceEvent{Asset: reserved.Asset, Available: reserved.Available, Reserved: reserved.Reserved})
	return order, nil
}

// fundingSide returns the asset and amount a resting order holds reserved:
// the quote cost for a buy, the base quantity for a sell.
func fundingSide(pair *symbol.Pair, o *model.Order) (string, decimal.Decimal) {
	if o.Side == model.SideBuy {
		return pair.Quote, o.QuoteAmount
	}
	return pair.Base, o.Quantity
}

func (e *Spot) executeImmediate(ctx context.Context, userID string, pair *symbol.Pair, req *SpotOrderRequest, execPrice decimal.Decimal, kind model.OrderKind, now time.Time) (*model.Order, error) {
	cost := req.Quantity.Mul(execPrice).RoundBank(moneyScale)
	price := execPrice
	if kind == model.KindLimit {
		price = req.Price
	}
	order := &model.Order{
		ID:           uuid.New().String(),
		UserID:       userID,
		Market:       model.MarketSpot,
		Symbol:       pair.Symbol,
		Side:         req.Side,
		Kind:         kind,
		Status:       model.StatusFilled,
		Quantity:     req.Quantity,
		Price:        price,
		QuoteAmount:  cost,
		AveragePrice: execPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var spent, received *model.Account
	err := e.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		if req.Side == model.SideBuy {
			if spent, err = ledger.Move(ctx, q, userID, model.MarketSpot, pair.Quote, cost, ledger.Spend); err != nil {
				return err
			}
			if received, err = ledger.Move(ctx, q, userID, model.MarketSpot, pair.Base, req.Quantity, ledger.Receive); err != nil {
				return err
			}
		} else {
			if spent, err = ledger.Move(ctx, q, userID, model.MarketSpot, pair.Base, req.Quantity, ledger.Spend); err != nil {
				return err
			}
			if received, err = ledger.Move(ctx, q, userID, model.MarketSpot, pair.Quote, cost, ledger.Receive); err != nil {
				return err
			}
		}
		return q.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(model.MarketSpot), string(kind)).Inc()
	metrics.FillsTotal.WithLabelValues(string(model.MarketSpot)).Inc()
	e.notifier.Notify(userID, model.OrderEvent{OrderID: order.ID, Symbol: order.Symbol, Status: order.Status})
	e.notifier.Notify(userID, model.BalanceEvent{Asset: spent.Asset, Available: spent.Available, Reserved: spent.Reserved})
	e.notifier.Notify(userID, model.BalanceEvent{Asset: received.Asset, Available: received.Available, Reserved: received.Reserved})
	return order, nil
}

// CancelOrder cancels a pending spot order and releases the reserved side.
func (e *Spot) CancelOrder(ctx context.Context, userID, orderID string) error {
	unlock := e.locks.acquire(orderKey(orderID))
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID || order.Market != model.MarketSpot {
		return store.ErrNotFound
	}

	pair, err := symbol.Parse(order.Symbol)
	if err != nil {
		return err
	}

	var released *model.Account
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		if err := q.TransitionOrder(ctx, orderID, model.StatusPending, model.StatusCancelled, decimal.Zero); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: order %s", ErrOrderNotPending, orderID)
			}
			return err
		}
		asset, amount := fundingSide(pair, order)
		acc, err := ledger.Move(ctx, q, userID, model.MarketSpot, asset, amount, ledger.Unreserve)
		if err != nil {
			return err
		}
		released = acc
		return nil
	})
	if err != nil {
		return err
	}

	e.notifier.Notify(userID, model.OrderEvent{OrderID: orderID, Symbol: order.Symbol, Status: model.StatusCancelled})
	e.notifier.Notify(userID, model.BalanceEvent{Asset: released.Asset, Available: released.Available, Reserved: released.Reserved})
	return nil
}

// Run polls prices for symbols with resting orders and matches a symbol
// whenever its price moves. Stops when ctx is cancelled.
func (e *Spot) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("spot matching loop started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("spot matching loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick fetches one price per symbol with pending orders and matches the
// symbols whose price changed.
func (e *Spot) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(string(model.MarketSpot)).Observe(time.Since(start).Seconds())
	}()

	orders, err := e.store.ListPendingLimitOrders(ctx, model.MarketSpot, "")
	if err != nil {
		slog.Error("spot order scan failed", "err", err)
		return
	}

	bySymbol := make(map[string][]model.Order)
	for _, o := range orders {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	for sym, symOrders := range bySymbol {
		mark, err := e.oracle.Price(ctx, sym)
		if err != nil {
			metrics.PriceFetchFailures.Inc()
			continue
		}
		if last, ok := e.lastPrices[sym]; ok && last.Equal(mark) {
			continue
		}
		// Record the price only once every crossed order settled, so a
		// transient fill failure retries next tick instead of waiting for
		// the next price move.
		if err := e.MatchSymbol(ctx, sym, mark, symOrders); err != nil {
			continue
		}
		e.lastPrices[sym] = mark
	}
}

// MatchSymbol fills every resting order on one symbol whose limit the mark
// price crossed. Fills settle at the order's limit price, which is exactly
// what the reservation holds. Returns an error if any fill failed.
func (e *Spot) MatchSymbol(ctx context.Context, sym string, mark decimal.Decimal, orders []model.Order) error {
	var failed int
	for i := range orders {
		o := &orders[i]
		if !spotCrossed(o.Side, o.Price, mark) {
			continue
		}
		if err := e.fillOrder(ctx, o); err != nil {
			slog.Error("spot fill failed", "order_id", o.ID, "err", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d fills failed on %s", failed, sym)
	}
	return nil
}

func spotCrossed(side model.Side, limit, mark decimal.Decimal) bool {
	if side == model.SideBuy {
		return mark.LessThanOrEqual(limit)
	}
	return mark.GreaterThanOrEqual(limit)
}

func (e *Spot) fillOrder(ctx context.Context, o *model.Order) error {
	pair, err := symbol.Parse(o.Symbol)
	if err != nil {
		return err
	}

	unlock := e.locks.acquire(orderKey(o.ID))
	defer unlock()

	var spent, received *model.Account
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		if err := q.TransitionOrder(ctx, o.ID, model.StatusPending, model.StatusFilled, o.Price); err != nil {
			return err
		}

		fundAsset, fundAmount := fundingSide(pair, o)
		if _, err := ledger.Move(ctx, q, o.UserID, model.MarketSpot, fundAsset, fundAmount, ledger.Unreserve); err != nil {
			return err
		}
		acc, err := ledger.Move(ctx, q, o.UserID, model.MarketSpot, fundAsset, fundAmount, ledger.Spend)
		if err != nil {
			return err
		}
		spent = acc

		recvAsset, recvAmount := pair.Base, o.Quantity
		if o.Side == model.SideSell {
			recvAsset, recvAmount = pair.Quote, o.QuoteAmount
		}
		received, err = ledger.Move(ctx, q, o.UserID, model.MarketSpot, recvAsset, recvAmount, ledger.Receive)
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		// Cancelled between the scan and the lock.
		return nil
	}
	if err != nil {
		return err
	}

	metrics.FillsTotal.WithLabelValues(string(model.MarketSpot)).Inc()
	e.notifier.Notify(o.UserID, model.OrderEvent{OrderID: o.ID, Symbol: o.Symbol, Status: model.StatusFilled})
	e.notifier.Notify(o.UserID, model.BalanceEvent{Asset: spent.Asset, Available: spent.Available, Reserved: spent.Reserved})
	e.notifier.Notify(o.UserID, model.BalanceEvent{Asset: received.Asset, Available: received.Available, Reserved: received.Reserved})
	return nil
}
