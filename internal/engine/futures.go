// Package engine implements order placement, the settlement loops, and the
// position-update algorithm for both markets.
//
// All monetary values use shopspring/decimal — never float64 for money.
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
	"github.com/atlasx/settlement-engine/internal/risk"
	"github.com/atlasx/settlement-engine/internal/store"
	"github.com/atlasx/settlement-engine/internal/symbol"
)

// DefaultFuturesInterval is the settlement loop period.
const DefaultFuturesInterval = 2 * time.Second

// Futures is the perpetual-futures engine: order placement, position
// management, and the periodic settlement loop that fills resting limit
// orders, executes TP/SL triggers, and liquidates under-margined positions.
type Futures struct {
	store    store.Store
	oracle   oracle.Oracle
	notifier notify.Notifier
	limits   *risk.Limits
	locks    *lockMap
	interval time.Duration
}

// NewFutures creates the futures engine. interval <= 0 selects the default.
func NewFutures(st store.Store, orc oracle.Oracle, n notify.Notifier, limits *risk.Limits, interval time.Duration) *Futures {
	if interval <= 0 {
		interval = DefaultFuturesInterval
	}
	if limits == nil {
		limits = risk.DefaultLimits()
	}
	return &Futures{
		store:    st,
		oracle:   orc,
		notifier: n,
		limits:   limits,
		locks:    newLockMap(),
		interval: interval,
	}
}

// OrderRequest is the input to futures order placement. QuoteQuantity is the
// notional in quote units; margin committed is QuoteQuantity / Leverage.
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          model.Side      `json:"side"`
	Kind          model.OrderKind `json:"kind"`
	QuoteQuantity decimal.Decimal `json:"quote_quantity"`
	Leverage      decimal.Decimal `json:"leverage"`
	Price         decimal.Decimal `json:"price"` // limit orders only
}

func (r *OrderRequest) validate() error {
	if r.Side != model.SideLong && r.Side != model.SideShort {
		return fmt.Errorf("%w: side must be long or short", ErrInvalidOrder)
	}
	if r.Kind != model.KindMarket && r.Kind != model.KindLimit {
		return fmt.Errorf("%w: kind must be market or limit", ErrInvalidOrder)
	}
	if r.QuoteQuantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quote quantity must be positive", ErrInvalidOrder)
	}
	if r.Kind == model.KindLimit && r.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
	}
	return nil
}

// PlaceOrder validates, reserves margin, and records a futures order. Market
// orders settle immediately at the oracle price; limit orders rest until the
// settlement loop fills them.
func (e *Futures) PlaceOrder(ctx context.Context, userID string, req *OrderRequest) (*model.Order, error) {
	pair, err := symbol.Parse(req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.limits.CheckLeverage(req.Leverage); err != nil {
		metrics.RiskRejections.Inc()
		return nil, err
	}

	openNotional := decimal.Zero
	if pos, err := e.store.GetPosition(ctx, userID, pair.Symbol); err == nil {
		openNotional = pos.EntryPrice.Mul(pos.Quantity)
	}
	if err := e.limits.CheckOrder(req.QuoteQuantity, openNotional); err != nil {
		metrics.RiskRejections.Inc()
		return nil, err
	}

	margin := req.QuoteQuantity.Div(req.Leverage).RoundBank(moneyScale)
	now := time.Now().UTC()

	if req.Kind == model.KindMarket {
		return e.placeMarketOrder(ctx, userID, pair, req, margin, now)
	}
	return e.placeLimitOrder(ctx, userID, pair, req, margin, now)
}

func (e *Futures) placeMarketOrder(ctx context.Context, userID string, pair *symbol.Pair, req *OrderRequest, margin decimal.Decimal, now time.Time) (*model.Order, error) {
	execPrice, err := e.oracle.Price(ctx, pair.Symbol)
	if err != nil {
		metrics.PriceFetchFailures.Inc()
		return nil, err
	}
	baseQty := req.QuoteQuantity.Div(execPrice).RoundBank(moneyScale)

	order := &model.Order{
		ID:           uuid.New().String(),
		UserID:       userID,
		Market:       model.MarketFutures,
		Symbol:       pair.Symbol,
		Side:         req.Side,
		Kind:         model.KindMarket,
		Status:       model.StatusFilled,
		Quantity:     baseQty,
		Price:        execPrice,
		Leverage:     req.Leverage,
		Margin:       margin,
		QuoteAmount:  req.QuoteQuantity,
		AveragePrice: execPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	unlock := e.locks.acquire(positionKey(userID, pair.Symbol))
	defer unlock()

	var outcome *fillOutcome
	var spent *model.Account
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		acc, err := ledger.Move(ctx, q, userID, model.MarketFutures, pair.Quote, margin, ledger.Spend)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return fmt.Errorf("%w: need %s %s", ErrInsufficientMargin, margin, pair.Quote)
		}
		if err != nil {
			return err
		}
		spent = acc
		if err := q.CreateOrder(ctx, order); err != nil {
			return err
		}
		outcome, err = applyPositionFill(ctx, q, userID, pair.Symbol, pair.Quote, req.Side, baseQty, execPrice, margin, model.ReasonNormal, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(model.MarketFutures), string(model.KindMarket)).Inc()
	metrics.FillsTotal.WithLabelValues(string(model.MarketFutures)).Inc()
	e.notifyFill(userID, order, spent, outcome)
	return order, nil
}

func (e *Futures) placeLimitOrder(ctx context.Context, userID string, pair *symbol.Pair, req *OrderRequest, margin decimal.Decimal, now time.Time) (*model.Order, error) {
	baseQty := req.QuoteQuantity.Div(req.Price).RoundBank(moneyScale)

	order := &model.Order{
		ID:          uuid.New().String(),
		UserID:      userID,
		Market:      model.MarketFutures,
		Symbol:      pair.Symbol,
		Side:        req.Side,
		Kind:        model.KindLimit,
		Status:      model.StatusPending,
		Quantity:    baseQty,
		Price:       req.Price,
		Leverage:    req.Leverage,
		Margin:      margin,
		QuoteAmount: req.QuoteQuantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var reserved *model.Account
	err := e.store.WithinTx(ctx, func(q store.Queries) error {
		acc, err := ledger.Move(ctx, q, userID, model.MarketFutures, pair.Quote, margin, ledger.Reserve)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return fmt.Errorf("%w: need %s %s", ErrInsufficientMargin, margin, pair.Quote)
		}
		if err != nil {
			return err
		}
		reserved = acc
		return q.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(string(model.MarketFutures), string(model.KindLimit)).Inc()
	e.notifier.Notify(userID, model.OrderEvent{OrderID: order.ID, Symbol: order.Symbol, Status: order.Status})
	e.notifier.Notify(userID, model.FuturesBalanceEvent{Asset: reserved.Asset, Available: reserved.Available, Reserved: reserved.Reserved})
	return order, nil
}

// CancelOrder cancels a pending futures order and releases its reserved
// margin. Returns ErrOrderNotPending if a fill or prior cancel won the race.
func (e *Futures) CancelOrder(ctx context.Context, userID, orderID string) error {
	unlock := e.locks.acquire(orderKey(orderID))
	defer unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID || order.Market != model.MarketFutures {
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
		acc, err := ledger.Move(ctx, q, userID, model.MarketFutures, pair.Quote, order.Margin, ledger.Unreserve)
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
	e.notifier.Notify(userID, model.FuturesBalanceEvent{Asset: released.Asset, Available: released.Available, Reserved: released.Reserved})
	return nil
}

// ClosePosition reduces a position at the current mark price. qty <= 0 means
// full close. If the oracle cannot answer, the close settles at the entry
// price so the user is never stuck in a position.
func (e *Futures) ClosePosition(ctx context.Context, userID, sym string, qty decimal.Decimal) error {
	pair, err := symbol.Parse(sym)
	if err != nil {
		return err
	}

	// Fetch price before taking the position lock.
	mark, priceErr := e.oracle.Price(ctx, pair.Symbol)
	if priceErr != nil {
		metrics.PriceFetchFailures.Inc()
	}

	unlock := e.locks.acquire(positionKey(userID, pair.Symbol))
	defer unlock()

	now := time.Now().UTC()
	var outcome *fillOutcome
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		pos, err := q.GetPosition(ctx, userID, pair.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, pair.Symbol)
		}
		if err != nil {
			return err
		}

		exitPrice := mark
		if priceErr != nil {
			exitPrice = pos.EntryPrice
		}
		closeQty := pos.Quantity
		if qty.IsPositive() && qty.LessThan(pos.Quantity) {
			closeQty = qty
		}
		outcome, err = applyPositionFill(ctx, q, userID, pair.Symbol, pair.Quote, opposite(pos.Side), closeQty, exitPrice, decimal.Zero, model.ReasonNormal, now)
		return err
	})
	if err != nil {
		return err
	}

	e.notifyFill(userID, nil, nil, outcome)
	return nil
}

// TriggerRequest carries TP/SL settings. Zero price clears the trigger;
// zero quantity means full position.
type TriggerRequest struct {
	TPPrice    decimal.Decimal `json:"tp_price"`
	TPQuantity decimal.Decimal `json:"tp_quantity"`
	SLPrice    decimal.Decimal `json:"sl_price"`
	SLQuantity decimal.Decimal `json:"sl_quantity"`
}

// SetTriggers attaches take-profit / stop-loss triggers to a position.
func (e *Futures) SetTriggers(ctx context.Context, userID, sym string, req *TriggerRequest) (*model.Position, error) {
	pair, err := symbol.Parse(sym)
	if err != nil {
		return nil, err
	}
	if req.TPPrice.IsNegative() || req.SLPrice.IsNegative() ||
		req.TPQuantity.IsNegative() || req.SLQuantity.IsNegative() {
		return nil, fmt.Errorf("%w: trigger prices and quantities must be non-negative", ErrInvalidOrder)
	}

	unlock := e.locks.acquire(positionKey(userID, pair.Symbol))
	defer unlock()

	var pos *model.Position
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		p, err := q.GetPosition(ctx, userID, pair.Symbol)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, pair.Symbol)
		}
		if err != nil {
			return err
		}
		if req.TPQuantity.GreaterThan(p.Quantity) || req.SLQuantity.GreaterThan(p.Quantity) {
			return fmt.Errorf("%w: trigger quantity exceeds position size", ErrInvalidOrder)
		}
		p.TPPrice = req.TPPrice
		p.TPQuantity = req.TPQuantity
		p.SLPrice = req.SLPrice
		p.SLQuantity = req.SLQuantity
		p.UpdatedAt = time.Now().UTC()
		if err := q.UpdatePosition(ctx, p); err != nil {
			return err
		}
		pos = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifier.Notify(userID, model.PositionEvent{Symbol: pos.Symbol, Position: pos})
	return pos, nil
}

// Transfer moves funds between a user's spot and futures wallets and records
// the activity entry PnL accounting uses as its baseline correction.
func (e *Futures) Transfer(ctx context.Context, userID, asset string, amount decimal.Decimal, to model.Market) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidOrder)
	}
	from := model.MarketSpot
	transferType := model.TransferIn
	if to == model.MarketSpot {
		from = model.MarketFutures
		transferType = model.TransferOut
	} else if to != model.MarketFutures {
		return fmt.Errorf("%w: unknown market %q", ErrInvalidOrder, to)
	}

	now := time.Now().UTC()
	var source, dest *model.Account
	err := e.store.WithinTx(ctx, func(q store.Queries) error {
		var err error
		source, err = ledger.Move(ctx, q, userID, from, asset, amount, ledger.Spend)
		if err != nil {
			return err
		}
		dest, err = ledger.Move(ctx, q, userID, to, asset, amount, ledger.Receive)
		if err != nil {
			return err
		}
		return q.InsertActivity(ctx, &model.ActivityEntry{
			ID:        uuid.New().String(),
			UserID:    userID,
			Type:      transferType,
			Asset:     asset,
			Amount:    amount,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	e.notifyBalance(userID, source)
	e.notifyBalance(userID, dest)
	return nil
}

// Run drives the settlement loop until ctx is cancelled.
func (e *Futures) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("futures settlement loop started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("futures settlement loop stopped")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one settlement sweep: limit fills, then TP/SL triggers, then
// liquidations. A record that cannot be priced is skipped, never fatal.
func (e *Futures) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(string(model.MarketFutures)).Observe(time.Since(start).Seconds())
	}()

	prices := newPriceMemo(e.oracle)
	e.fillScan(ctx, prices)
	e.triggerScan(ctx, prices)
	e.liquidationScan(ctx, prices)
}

func (e *Futures) fillScan(ctx context.Context, prices *priceMemo) {
	orders, err := e.store.ListPendingLimitOrders(ctx, model.MarketFutures, "")
	if err != nil {
		slog.Error("limit fill scan failed", "err", err)
		return
	}
	for i := range orders {
		o := &orders[i]
		mark, err := prices.get(ctx, o.Symbol)
		if err != nil {
			continue
		}
		if !limitCrossed(o.Side, o.Price, mark) {
			continue
		}
		if err := e.fillLimitOrder(ctx, o, mark); err != nil {
			slog.Error("limit fill failed", "order_id", o.ID, "err", err)
		}
	}
}

// limitCrossed reports whether a limit order fills at the mark price:
// long fills at or below the limit, short at or above.
func limitCrossed(side model.Side, limit, mark decimal.Decimal) bool {
	if side == model.SideLong {
		return mark.LessThanOrEqual(limit)
	}
	return mark.GreaterThanOrEqual(limit)
}

func (e *Futures) fillLimitOrder(ctx context.Context, o *model.Order, mark decimal.Decimal) error {
	pair, err := symbol.Parse(o.Symbol)
	if err != nil {
		return err
	}

	unlockOrder := e.locks.acquire(orderKey(o.ID))
	defer unlockOrder()
	unlockPos := e.locks.acquire(positionKey(o.UserID, o.Symbol))
	defer unlockPos()

	now := time.Now().UTC()
	var outcome *fillOutcome
	var spent *model.Account
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		if err := q.TransitionOrder(ctx, o.ID, model.StatusPending, model.StatusFilled, mark); err != nil {
			return err
		}
		// Release the placement reservation, then consume it into the
		// position's margin.
		if _, err := ledger.Move(ctx, q, o.UserID, model.MarketFutures, pair.Quote, o.Margin, ledger.Unreserve); err != nil {
			return err
		}
		acc, err := ledger.Move(ctx, q, o.UserID, model.MarketFutures, pair.Quote, o.Margin, ledger.Spend)
		if err != nil {
			return err
		}
		spent = acc
		outcome, err = applyPositionFill(ctx, q, o.UserID, o.Symbol, pair.Quote, o.Side, o.Quantity, mark, o.Margin, model.ReasonNormal, now)
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		// Cancelled (or filled) between the scan and the lock.
		return nil
	}
	if err != nil {
		return err
	}

	metrics.FillsTotal.WithLabelValues(string(model.MarketFutures)).Inc()
	filled := *o
	filled.Status = model.StatusFilled
	filled.AveragePrice = mark
	e.notifyFill(o.UserID, &filled, spent, outcome)
	return nil
}

func (e *Futures) triggerScan(ctx context.Context, prices *priceMemo) {
	positions, err := e.store.ListTriggeredPositions(ctx)
	if err != nil {
		slog.Error("trigger scan failed", "err", err)
		return
	}
	for i := range positions {
		p := &positions[i]
		mark, err := prices.get(ctx, p.Symbol)
		if err != nil {
			continue
		}
		switch {
		case tpCrossed(p, mark):
			if err := e.executeTrigger(ctx, p.UserID, p.Symbol, model.ReasonTakeProfit, mark); err != nil {
				slog.Error("tp execution failed", "user_id", p.UserID, "symbol", p.Symbol, "err", err)
			}
		case slCrossed(p, mark):
			if err := e.executeTrigger(ctx, p.UserID, p.Symbol, model.ReasonStopLoss, mark); err != nil {
				slog.Error("sl execution failed", "user_id", p.UserID, "symbol", p.Symbol, "err", err)
			}
		}
	}
}

func tpCrossed(p *model.Position, mark decimal.Decimal) bool {
	if !p.TPPrice.IsPositive() {
		return false
	}
	if p.Side == model.SideLong {
		return mark.GreaterThanOrEqual(p.TPPrice)
	}
	return mark.LessThanOrEqual(p.TPPrice)
}

func slCrossed(p *model.Position, mark decimal.Decimal) bool {
	if !p.SLPrice.IsPositive() {
		return false
	}
	if p.Side == model.SideLong {
		return mark.LessThanOrEqual(p.SLPrice)
	}
	return mark.GreaterThanOrEqual(p.SLPrice)
}

func (e *Futures) executeTrigger(ctx context.Context, userID, sym string, reason model.CloseReason, mark decimal.Decimal) error {
	pair, err := symbol.Parse(sym)
	if err != nil {
		return err
	}

	unlock := e.locks.acquire(positionKey(userID, sym))
	defer unlock()

	now := time.Now().UTC()
	var outcome *fillOutcome
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		pos, err := q.GetPosition(ctx, userID, sym)
		if errors.Is(err, store.ErrNotFound) {
			// Closed between the scan and the lock.
			return nil
		}
		if err != nil {
			return err
		}

		// Re-verify against the locked state, then clear the trigger before
		// reducing so it cannot fire twice.
		var closeQty decimal.Decimal
		switch reason {
		case model.ReasonTakeProfit:
			if !tpCrossed(pos, mark) {
				return nil
			}
			closeQty = pos.TPQuantity
			pos.TPPrice = decimal.Zero
			pos.TPQuantity = decimal.Zero
		case model.ReasonStopLoss:
			if !slCrossed(pos, mark) {
				return nil
			}
			closeQty = pos.SLQuantity
			pos.SLPrice = decimal.Zero
			pos.SLQuantity = decimal.Zero
		default:
			return fmt.Errorf("%w: trigger reason %q", ledger.ErrInvariantViolation, reason)
		}
		pos.UpdatedAt = now
		if err := q.UpdatePosition(ctx, pos); err != nil {
			return err
		}

		if !closeQty.IsPositive() || closeQty.GreaterThan(pos.Quantity) {
			closeQty = pos.Quantity
		}
		outcome, err = applyPositionFill(ctx, q, userID, sym, pair.Quote, opposite(pos.Side), closeQty, mark, decimal.Zero, reason, now)
		return err
	})
	if err != nil {
		return err
	}
	if outcome == nil {
		return nil
	}

	metrics.TriggerClosesTotal.WithLabelValues(string(reason)).Inc()
	e.notifyFill(userID, nil, nil, outcome)
	return nil
}

func (e *Futures) liquidationScan(ctx context.Context, prices *priceMemo) {
	positions, err := e.store.ListAllPositions(ctx)
	if err != nil {
		slog.Error("liquidation scan failed", "err", err)
		return
	}
	metrics.OpenPositions.Set(float64(len(positions)))
	for i := range positions {
		p := &positions[i]
		mark, err := prices.get(ctx, p.Symbol)
		if err != nil {
			continue
		}
		// Zero maintenance buffer: liquidation and full loss coincide.
		if positionEquity(p, mark).IsPositive() {
			continue
		}
		if err := e.liquidate(ctx, p.UserID, p.Symbol, mark); err != nil {
			slog.Error("liquidation failed", "user_id", p.UserID, "symbol", p.Symbol, "err", err)
		}
	}
}

func (e *Futures) liquidate(ctx context.Context, userID, sym string, mark decimal.Decimal) error {
	pair, err := symbol.Parse(sym)
	if err != nil {
		return err
	}

	unlock := e.locks.acquire(positionKey(userID, sym))
	defer unlock()

	now := time.Now().UTC()
	var outcome *fillOutcome
	err = e.store.WithinTx(ctx, func(q store.Queries) error {
		pos, err := q.GetPosition(ctx, userID, sym)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if positionEquity(pos, mark).IsPositive() {
			return nil
		}
		outcome, err = applyPositionFill(ctx, q, userID, sym, pair.Quote, opposite(pos.Side), pos.Quantity, mark, decimal.Zero, model.ReasonLiquidated, now)
		return err
	})
	if err != nil {
		return err
	}
	if outcome == nil {
		return nil
	}

	metrics.LiquidationsTotal.Inc()
	slog.Warn("position liquidated", "user_id", userID, "symbol", sym, "mark", mark.String())
	e.notifyFill(userID, nil, nil, outcome)
	return nil
}

// notifyFill emits the events one fill produced: order transition, balance
// change, position change, and closed-position removal.
func (e *Futures) notifyFill(userID string, order *model.Order, acc *model.Account, outcome *fillOutcome) {
	if order != nil {
		e.notifier.Notify(userID, model.OrderEvent{OrderID: order.ID, Symbol: order.Symbol, Status: order.Status})
	}
	if outcome != nil && outcome.Account != nil {
		acc = outcome.Account
	}
	if acc != nil {
		e.notifier.Notify(userID, model.FuturesBalanceEvent{Asset: acc.Asset, Available: acc.Available, Reserved: acc.Reserved})
	}
	if outcome == nil {
		return
	}
	if outcome.Position != nil {
		e.notifier.Notify(userID, model.PositionEvent{Symbol: outcome.Position.Symbol, Position: outcome.Position})
	} else if len(outcome.Closes) > 0 {
		e.notifier.Notify(userID, model.PositionEvent{Symbol: outcome.Closes[0].Symbol, Position: nil})
	}
}

func (e *Futures) notifyBalance(userID string, acc *model.Account) {
	if acc == nil {
		return
	}
	if acc.Market == model.MarketFutures {
		e.notifier.Notify(userID, model.FuturesBalanceEvent{Asset: acc.Asset, Available: acc.Available, Reserved: acc.Reserved})
		return
	}
	e.notifier.Notify(userID, model.BalanceEvent{Asset: acc.Asset, Available: acc.Available, Reserved: acc.Reserved})
}

func opposite(side model.Side) model.Side {
	switch side {
	case model.SideLong:
		return model.SideShort
	case model.SideShort:
		return model.SideLong
	case model.SideBuy:
		return model.SideSell
	default:
		return model.SideBuy
	}
}

// priceMemo caches oracle answers for the duration of one tick so a symbol
// with many records is priced once.
type priceMemo struct {
	oracle oracle.Oracle
	prices map[string]decimal.Decimal
	failed map[string]error
}

func newPriceMemo(orc oracle.Oracle) *priceMemo {
	return &priceMemo{
		oracle: orc,
		prices: make(map[string]decimal.Decimal),
		failed: make(map[string]error),
	}
}

func (m *priceMemo) get(ctx context.Context, sym string) (decimal.Decimal, error) {
	key := symbol.Normalize(sym)
	if p, ok := m.prices[key]; ok {
		return p, nil
	}
	if err, ok := m.failed[key]; ok {
		return decimal.Zero, err
	}
	p, err := m.oracle.Price(ctx, sym)
	if err != nil {
		metrics.PriceFetchFailures.Inc()
		m.failed[key] = err
		return decimal.Zero, err
	}
	m.prices[key] = p
	return p, nil
}
