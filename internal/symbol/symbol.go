// Package symbol handles trading-pair symbol parsing and quote-asset
// resolution. Symbols are of the form {BASE}{QUOTE} (e.g. BTCUSDT) or, for
// perpetual futures feeds, {BASE}_{QUOTE} (e.g. BTC_USDT).
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Supported quote assets. Everything the engine settles is denominated in
// one of these stablecoins.
const (
	QuoteUSDT = "USDT"
	QuoteUSDC = "USDC"
)

var (
	ErrInvalidSymbol    = errors.New("symbol: invalid symbol format")
	ErrUnsupportedQuote = errors.New("symbol: unsupported quote asset")
)

var symbolRegex = regexp.MustCompile(`^[A-Z0-9]+_?(USDT|USDC)$`)

// Pair is a parsed trading symbol.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Parse validates a symbol and splits it into base and quote assets.
func Parse(sym string) (*Pair, error) {
	s := strings.ToUpper(sym)
	matches := symbolRegex.FindStringSubmatch(s)
	if matches == nil {
		if s == "" || !strings.HasSuffix(s, QuoteUSDT) && !strings.HasSuffix(s, QuoteUSDC) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuote, sym)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, sym)
	}

	quote := matches[1]
	base := strings.TrimSuffix(s, quote)
	base = strings.TrimSuffix(base, "_")
	if base == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, sym)
	}

	return &Pair{Symbol: s, Base: base, Quote: quote}, nil
}

// Quote resolves just the quote asset from a symbol suffix.
func Quote(sym string) (string, error) {
	p, err := Parse(sym)
	if err != nil {
		return "", err
	}
	return p.Quote, nil
}

// Normalize strips the futures underscore so BTC_USDT and BTCUSDT address
// the same price bucket.
func Normalize(sym string) string {
	return strings.ReplaceAll(strings.ToUpper(sym), "_", "")
}
