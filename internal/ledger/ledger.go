// Package ledger implements the single money-movement primitive every
// balance change in the engine goes through. Funds move between the
// available and reserved buckets of one (user, market, asset) account;
// no movement may drive either bucket negative.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a spend or reserve exceeds the
	// available balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvariantViolation is returned when a movement would break a
	// balance invariant. It indicates an engine bug, not a user error.
	ErrInvariantViolation = errors.New("ledger: invariant violation")
)

// Action is one of the four ways money moves through an account.
type Action string

const (
	// Spend deducts from available. Fails if available < amount.
	Spend Action = "SPEND"
	// Receive credits available.
	Receive Action = "RECEIVE"
	// Reserve moves available into reserved. Fails if available < amount.
	Reserve Action = "RESERVE"
	// Unreserve moves reserved back into available.
	Unreserve Action = "UNRESERVE"
)

// Move applies one action for (user, market, asset) through q, which is
// expected to be a transaction handle so that multi-move settlements commit
// atomically. Amount must be positive; a zero amount is a no-op.
func Move(ctx context.Context, q store.Queries, userID string, market model.Market, asset string, amount decimal.Decimal, action Action) (*model.Account, error) {
	if amount.IsZero() {
		return q.GetAccount(ctx, userID, market, asset)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative %s of %s %s", ErrInvariantViolation, action, amount, asset)
	}

	var availableDelta, reservedDelta decimal.Decimal
	switch action {
	case Spend:
		if err := requireAvailable(ctx, q, userID, market, asset, amount); err != nil {
			return nil, err
		}
		availableDelta = amount.Neg()
	case Receive:
		availableDelta = amount
	case Reserve:
		if err := requireAvailable(ctx, q, userID, market, asset, amount); err != nil {
			return nil, err
		}
		availableDelta = amount.Neg()
		reservedDelta = amount
	case Unreserve:
		if err := requireReserved(ctx, q, userID, market, asset, amount); err != nil {
			return nil, err
		}
		availableDelta = amount
		reservedDelta = amount.Neg()
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvariantViolation, action)
	}

	acc, err := q.ApplyAccountDelta(ctx, userID, market, asset, availableDelta, reservedDelta)
	if err != nil {
		return nil, err
	}
	if acc.Available.IsNegative() || acc.Reserved.IsNegative() {
		return nil, fmt.Errorf("%w: %s left %s/%s at available=%s reserved=%s",
			ErrInvariantViolation, action, userID, asset, acc.Available, acc.Reserved)
	}
	return acc, nil
}

func requireAvailable(ctx context.Context, q store.Queries, userID string, market model.Market, asset string, amount decimal.Decimal) error {
	acc, err := q.GetAccount(ctx, userID, market, asset)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s has no %s %s balance", ErrInsufficientFunds, userID, market, asset)
	}
	if err != nil {
		return err
	}
	if acc.Available.LessThan(amount) {
		return fmt.Errorf("%w: %s %s available %s < %s", ErrInsufficientFunds, userID, asset, acc.Available, amount)
	}
	return nil
}

// requireReserved guards UNRESERVE. Releasing more than is held reserved is
// an engine bug, and the check must run before the delta is applied so a
// violation never commits when q is not a transaction handle.
func requireReserved(ctx context.Context, q store.Queries, userID string, market model.Market, asset string, amount decimal.Decimal) error {
	acc, err := q.GetAccount(ctx, userID, market, asset)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unreserve from missing %s %s account of %s", ErrInvariantViolation, market, asset, userID)
	}
	if err != nil {
		return err
	}
	if acc.Reserved.LessThan(amount) {
		return fmt.Errorf("%w: %s %s reserved %s < unreserve %s", ErrInvariantViolation, userID, asset, acc.Reserved, amount)
	}
	return nil
}
