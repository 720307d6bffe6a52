package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/symbol"
)

const (
	defaultSpotBaseURL    = "https://api.mexc.com"
	defaultFuturesBaseURL = "https://contract.mexc.com"
)

// HTTPOracle fetches ticker prices from an exchange REST API. It tries the
// spot ticker first and falls back to the perpetual contract ticker, so both
// BTCUSDT and BTC_USDT style symbols resolve.
type HTTPOracle struct {
	spotBase    string
	futuresBase string
	client      *http.Client
}

// NewHTTPOracle creates an oracle against the given API bases. Empty strings
// select the public MEXC endpoints.
func NewHTTPOracle(spotBase, futuresBase string) *HTTPOracle {
	if spotBase == "" {
		spotBase = defaultSpotBaseURL
	}
	if futuresBase == "" {
		futuresBase = defaultFuturesBaseURL
	}
	return &HTTPOracle{
		spotBase:    spotBase,
		futuresBase: futuresBase,
		client:      &http.Client{Timeout: 5 * time.Second},
	}
}

func (o *HTTPOracle) Price(ctx context.Context, sym string) (decimal.Decimal, error) {
	spot := symbol.Normalize(sym)

	price, spotErr := o.spotPrice(ctx, spot)
	if spotErr == nil {
		return price, nil
	}

	price, futErr := o.futuresPrice(ctx, spot)
	if futErr == nil {
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s (spot: %v, futures: %v)", ErrPriceUnavailable, sym, spotErr, futErr)
}

func (o *HTTPOracle) spotPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", o.spotBase, url.QueryEscape(sym))
	var body struct {
		Price string `json:"price"`
	}
	if err := o.getJSON(ctx, u, &body); err != nil {
		return decimal.Zero, err
	}
	return parsePrice(body.Price)
}

func (o *HTTPOracle) futuresPrice(ctx context.Context, sym string) (decimal.Decimal, error) {
	// Contract API wants the underscored form, e.g. BTC_USDT.
	pair, err := symbol.Parse(sym)
	if err != nil {
		return decimal.Zero, err
	}
	u := fmt.Sprintf("%s/api/v1/contract/ticker?symbol=%s_%s", o.futuresBase, url.QueryEscape(pair.Base), pair.Quote)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			LastPrice json.Number `json:"lastPrice"`
		} `json:"data"`
	}
	if err := o.getJSON(ctx, u, &body); err != nil {
		return decimal.Zero, err
	}
	if !body.Success {
		return decimal.Zero, fmt.Errorf("contract ticker rejected symbol %s", sym)
	}
	return parsePrice(body.Data.LastPrice.String())
}

func (o *HTTPOracle) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ticker request returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parsePrice(s string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad ticker price %q: %w", s, err)
	}
	if p.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive ticker price %s", p)
	}
	return p, nil
}
