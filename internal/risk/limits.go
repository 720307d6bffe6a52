// Package risk enforces pre-trade limits on futures orders: leverage bounds
// and notional caps per order and per open symbol exposure.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrLeverageOutOfRange is returned when leverage falls outside the
	// allowed band.
	ErrLeverageOutOfRange = errors.New("risk: leverage out of range")

	// ErrOrderTooLarge is returned when a single order's notional exceeds
	// the per-order maximum.
	ErrOrderTooLarge = errors.New("risk: order notional exceeds limit")

	// ErrExposureLimitExceeded is returned when the aggregate open notional
	// on one symbol would exceed the per-symbol maximum.
	ErrExposureLimitExceeded = errors.New("risk: symbol exposure limit exceeded")
)

// Limits holds the pre-trade limit configuration.
type Limits struct {
	// MinLeverage and MaxLeverage bound the accepted leverage.
	MinLeverage decimal.Decimal
	MaxLeverage decimal.Decimal

	// MaxOrderNotional caps the quote notional of one order. Zero disables
	// the check.
	MaxOrderNotional decimal.Decimal

	// MaxSymbolNotional caps a user's total open notional on one symbol,
	// including the order being placed. Zero disables the check.
	MaxSymbolNotional decimal.Decimal
}

// DefaultLimits returns the production limit set.
func DefaultLimits() *Limits {
	return &Limits{
		MinLeverage:       decimal.NewFromInt(1),
		MaxLeverage:       decimal.NewFromInt(100),
		MaxOrderNotional:  decimal.NewFromInt(1_000_000),
		MaxSymbolNotional: decimal.NewFromInt(5_000_000),
	}
}

// CheckLeverage validates that leverage is a whole multiple within bounds.
func (l *Limits) CheckLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(l.MinLeverage) || leverage.GreaterThan(l.MaxLeverage) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrLeverageOutOfRange, leverage, l.MinLeverage, l.MaxLeverage)
	}
	return nil
}

// CheckOrder validates a new order's notional against the per-order cap and
// the per-symbol exposure cap. openNotional is the user's current open
// notional on the same symbol.
func (l *Limits) CheckOrder(notional, openNotional decimal.Decimal) error {
	if !l.MaxOrderNotional.IsZero() && notional.GreaterThan(l.MaxOrderNotional) {
		return fmt.Errorf("%w: %s > %s", ErrOrderTooLarge, notional, l.MaxOrderNotional)
	}
	if !l.MaxSymbolNotional.IsZero() && openNotional.Add(notional).GreaterThan(l.MaxSymbolNotional) {
		return fmt.Errorf("%w: %s + %s > %s", ErrExposureLimitExceeded, openNotional, notional, l.MaxSymbolNotional)
	}
	return nil
}
