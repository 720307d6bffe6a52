// Package oracle provides reference prices for settlement. Prices come from
// an external exchange feed and are cached in Redis so that one settlement
// tick never hammers the upstream API.
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no usable price exists for a symbol,
// fresh or stale.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Oracle supplies the current reference price for a trading symbol.
type Oracle interface {
	Price(ctx context.Context, sym string) (decimal.Decimal, error)
}

// Static is a fixed price table, used in tests and local development.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a static oracle seeded with the given prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Static{prices: cp}
}

func (s *Static) Price(_ context.Context, sym string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[sym]
	if !ok {
		return decimal.Zero, ErrPriceUnavailable
	}
	return p, nil
}

// Set updates the price for a symbol.
func (s *Static) Set(sym string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[sym] = price
}
