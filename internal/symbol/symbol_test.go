package symbol_test

import (
	"errors"
	"testing"

	"github.com/atlasx/settlement-engine/internal/symbol"
)

func TestParse_Valid(t *testing.T) {
	cases := []struct {
		in          string
		base, quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSDC", "ETH", "USDC"},
		{"BTC_USDT", "BTC", "USDT"},
		{"btcusdt", "BTC", "USDT"},
		{"1000PEPEUSDT", "1000PEPE", "USDT"},
	}
	for _, c := range cases {
		p, err := symbol.Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", c.in, err)
			continue
		}
		if p.Base != c.base || p.Quote != c.quote {
			t.Errorf("Parse(%q) = %s/%s, want %s/%s", c.in, p.Base, p.Quote, c.base, c.quote)
		}
	}
}

func TestParse_UnsupportedQuote(t *testing.T) {
	for _, in := range []string{"BTCEUR", "BTCBUSD", ""} {
		_, err := symbol.Parse(in)
		if !errors.Is(err, symbol.ErrUnsupportedQuote) {
			t.Errorf("Parse(%q): expected ErrUnsupportedQuote, got %v", in, err)
		}
	}
}

func TestParse_MissingBase(t *testing.T) {
	for _, in := range []string{"USDT", "_USDT"} {
		_, err := symbol.Parse(in)
		if err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestQuote(t *testing.T) {
	q, err := symbol.Quote("SOLUSDC")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q != symbol.QuoteUSDC {
		t.Errorf("expected USDC, got %s", q)
	}
}

func TestNormalize(t *testing.T) {
	if got := symbol.Normalize("btc_usdt"); got != "BTCUSDT" {
		t.Errorf("Normalize(btc_usdt) = %s", got)
	}
	if got := symbol.Normalize("BTCUSDT"); got != "BTCUSDT" {
		t.Errorf("Normalize(BTCUSDT) = %s", got)
	}
}
