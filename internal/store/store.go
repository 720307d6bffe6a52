// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
)

// ErrNotFound is returned for lookups of records that do not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a conditional update loses a race, e.g. a
// status transition on an order that is no longer pending.
var ErrConflict = errors.New("store: conflict")

// Queries is the record-level operation set. It is implemented both by the
// store itself (auto-commit reads) and by the transaction handle passed to
// WithinTx.
type Queries interface {
	// --- Accounts ---

	// GetAccount returns the account for (user, market, asset), or
	// ErrNotFound if it was never touched.
	GetAccount(ctx context.Context, userID string, market model.Market, asset string) (*model.Account, error)

	// ListAccounts returns every account a user holds in one market.
	ListAccounts(ctx context.Context, userID string, market model.Market) ([]model.Account, error)

	// ApplyAccountDelta atomically increments available/reserved for
	// (user, market, asset), creating the account lazily. The returned
	// account reflects the post-increment state. Callers are responsible
	// for balance checks; the store only applies the increments.
	ApplyAccountDelta(ctx context.Context, userID string, market model.Market, asset string, availableDelta, reservedDelta decimal.Decimal) (*model.Account, error)

	// ListFuturesUsers returns the distinct user ids holding a futures
	// account, for the daily snapshot sweep.
	ListFuturesUsers(ctx context.Context) ([]string, error)

	// --- Orders ---

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns a user's orders in one market, newest first.
	ListOrders(ctx context.Context, userID string, market model.Market, limit int) ([]model.Order, error)

	// ListPendingLimitOrders returns every resting limit order in a market,
	// optionally filtered to one symbol (empty string = all symbols).
	ListPendingLimitOrders(ctx context.Context, market model.Market, sym string) ([]model.Order, error)

	// TransitionOrder moves an order from `from` to `to`, recording the
	// fill price when provided. Returns ErrConflict if the order is not in
	// `from` — this is the at-most-once-fill guard.
	TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus, averagePrice decimal.Decimal) error

	// --- Positions ---

	GetPosition(ctx context.Context, userID, sym string) (*model.Position, error)
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)
	ListAllPositions(ctx context.Context) ([]model.Position, error)

	// ListTriggeredPositions returns positions with a nonzero TP or SL
	// trigger price.
	ListTriggeredPositions(ctx context.Context) ([]model.Position, error)

	CreatePosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, userID, sym string) error

	// --- Append-only records ---

	InsertPositionHistory(ctx context.Context, h *model.PositionHistory) error
	ListPositionHistory(ctx context.Context, userID string, limit int) ([]model.PositionHistory, error)

	InsertActivity(ctx context.Context, a *model.ActivityEntry) error
	ListActivitySince(ctx context.Context, userID string, since time.Time) ([]model.ActivityEntry, error)

	// --- Daily snapshots ---

	// UpsertDailySnapshot writes the snapshot for (user, date), replacing
	// any existing row for the same day.
	UpsertDailySnapshot(ctx context.Context, s *model.DailySnapshot) error

	// LastSnapshotBefore returns the most recent snapshot strictly before
	// the given day, or ErrNotFound.
	LastSnapshotBefore(ctx context.Context, userID string, day time.Time) (*model.DailySnapshot, error)

	ListSnapshots(ctx context.Context, userID string, limit int) ([]model.DailySnapshot, error)
}

// Store is the persistence interface. WithinTx runs fn inside one atomic
// transaction: either every mutation fn makes commits, or none do. Ledger,
// order, and position changes for a single settlement step always share one
// transaction.
type Store interface {
	Queries

	WithinTx(ctx context.Context, fn func(q Queries) error) error
}
