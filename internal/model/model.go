// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies which wallet a balance belongs to. Spot holdings and
// futures collateral are segregated per user and asset.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// Side of an order or position. Futures use long/short, spot uses buy/sell.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
)

// OrderKind distinguishes immediate fills from resting limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

// OrderStatus. Pending is the only non-terminal state; an order transitions
// exactly once to filled, cancelled, or rejected and is immutable afterward.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// CloseReason tags a PositionHistory row with what triggered the close.
type CloseReason string

const (
	ReasonNormal     CloseReason = "normal"
	ReasonPartial    CloseReason = "partial"
	ReasonTakeProfit CloseReason = "tp"
	ReasonStopLoss   CloseReason = "sl"
	ReasonLiquidated CloseReason = "liquidated"
)

// TransferType for cross-market activity entries.
type TransferType string

const (
	TransferIn  TransferType = "TRANSFER_IN"
	TransferOut TransferType = "TRANSFER_OUT"
)

// Account holds a user's balance for one asset in one market.
// available + reserved only changes through ledger operations; the pair is
// created lazily on first use and never deleted.
type Account struct {
	UserID    string          `json:"user_id" db:"user_id"`
	Market    Market          `json:"market" db:"market"`
	Asset     string          `json:"asset" db:"asset"`
	Available decimal.Decimal `json:"available" db:"available"`
	Reserved  decimal.Decimal `json:"reserved" db:"reserved"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Total is the full balance regardless of reservation.
func (a *Account) Total() decimal.Decimal {
	return a.Available.Add(a.Reserved)
}

// Order records a user's declared trading intent. Quantity is in base units;
// Margin is the collateral committed at placement (futures only).
type Order struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Market       Market          `json:"market" db:"market"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Side         Side            `json:"side" db:"side"`
	Kind         OrderKind       `json:"kind" db:"kind"`
	Status       OrderStatus     `json:"status" db:"status"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"` // limit price, or execution price for market
	Leverage     decimal.Decimal `json:"leverage" db:"leverage"`
	Margin       decimal.Decimal `json:"margin" db:"margin"`
	QuoteAmount  decimal.Decimal `json:"quote_amount" db:"quote_amount"` // quantity × price (spot reservations)
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is an open leveraged position, keyed by (user, symbol).
// Quantity is strictly positive while the record exists; a position reduced
// to zero is deleted, never zeroed in place.
type Position struct {
	UserID           string          `json:"user_id" db:"user_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	Side             Side            `json:"side" db:"side"`
	EntryPrice       decimal.Decimal `json:"entry_price" db:"entry_price"` // volume-weighted average
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	Leverage         decimal.Decimal `json:"leverage" db:"leverage"`
	Margin           decimal.Decimal `json:"margin" db:"margin"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price" db:"liquidation_price"`
	TPPrice          decimal.Decimal `json:"tp_price" db:"tp_price"`
	TPQuantity       decimal.Decimal `json:"tp_quantity" db:"tp_quantity"` // zero means full position
	SLPrice          decimal.Decimal `json:"sl_price" db:"sl_price"`
	SLQuantity       decimal.Decimal `json:"sl_quantity" db:"sl_quantity"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // cumulative, from partial closes
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// PositionHistory is an immutable record of a realized-close event.
type PositionHistory struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        Side            `json:"side" db:"side"`
	EntryPrice  decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price" db:"exit_price"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	Leverage    decimal.Decimal `json:"leverage" db:"leverage"`
	Margin      decimal.Decimal `json:"margin" db:"margin"` // margin released by this close
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Reason      CloseReason     `json:"reason" db:"reason"`
	ClosedAt    time.Time       `json:"closed_at" db:"closed_at"`
}

// ActivityEntry records a cross-market transfer. It is the baseline
// correction input for PnL accounting and is never replayed into balances.
type ActivityEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Type      TransferType    `json:"type" db:"type"`
	Asset     string          `json:"asset" db:"asset"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// DailySnapshot stores one equity/PnL snapshot per (user, UTC day).
// Upserted once per day; re-running the snapshot job for the same day
// overwrites the same row.
type DailySnapshot struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Date         time.Time       `json:"date" db:"date"` // midnight UTC
	Equity       decimal.Decimal `json:"equity" db:"equity"`
	PnLAmount    decimal.Decimal `json:"pnl_amount" db:"pnl_amount"`
	ROI          decimal.Decimal `json:"roi" db:"roi"`
	NetTransfers decimal.Decimal `json:"net_transfers" db:"net_transfers"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
