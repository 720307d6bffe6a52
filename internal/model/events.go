package model

import "github.com/shopspring/decimal"

// Event is the closed set of notifications the engine emits to the
// notification sink. Each variant carries the full payload for its kind so
// downstream consumers never have to re-query.
type Event interface {
	Kind() string
}

// BalanceEvent reports spot balance changes for one asset.
type BalanceEvent struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

func (BalanceEvent) Kind() string { return "balance" }

// FuturesBalanceEvent reports futures collateral changes for one asset.
type FuturesBalanceEvent struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

func (FuturesBalanceEvent) Kind() string { return "futuresBalance" }

// OrderEvent reports an order status transition.
type OrderEvent struct {
	OrderID string      `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Status  OrderStatus `json:"status"`
}

func (OrderEvent) Kind() string { return "order" }

// PositionEvent reports a futures position change. Position is nil when the
// position was closed or liquidated away.
type PositionEvent struct {
	Symbol   string    `json:"symbol"`
	Position *Position `json:"position"`
}

func (PositionEvent) Kind() string { return "position" }

// PortfolioEvent reports real-time equity/PnL for the user's portfolio.
type PortfolioEvent struct {
	Equity decimal.Decimal `json:"equity"`
	PnL    decimal.Decimal `json:"pnl"`
	ROI    decimal.Decimal `json:"roi"`
}

func (PortfolioEvent) Kind() string { return "portfolio" }
