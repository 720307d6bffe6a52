package risk_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLeverage(t *testing.T) {
	limits := risk.DefaultLimits()

	for _, lev := range []float64{1, 10, 100} {
		if err := limits.CheckLeverage(d(lev)); err != nil {
			t.Errorf("leverage %v should pass, got %v", lev, err)
		}
	}
	for _, lev := range []float64{0, 0.5, 101, -1} {
		if err := limits.CheckLeverage(d(lev)); !errors.Is(err, risk.ErrLeverageOutOfRange) {
			t.Errorf("leverage %v should fail, got %v", lev, err)
		}
	}
}

func TestCheckOrder_NotionalCap(t *testing.T) {
	limits := risk.DefaultLimits()

	if err := limits.CheckOrder(d(1_000_000), decimal.Zero); err != nil {
		t.Errorf("notional at the cap should pass, got %v", err)
	}
	if err := limits.CheckOrder(d(1_000_001), decimal.Zero); !errors.Is(err, risk.ErrOrderTooLarge) {
		t.Errorf("expected ErrOrderTooLarge, got %v", err)
	}
}

func TestCheckOrder_ExposureCap(t *testing.T) {
	limits := risk.DefaultLimits()

	// Existing open notional counts toward the per-symbol cap.
	if err := limits.CheckOrder(d(1_000_000), d(4_000_000)); err != nil {
		t.Errorf("exposure at the cap should pass, got %v", err)
	}
	if err := limits.CheckOrder(d(1_000_000), d(4_500_000)); !errors.Is(err, risk.ErrExposureLimitExceeded) {
		t.Errorf("expected ErrExposureLimitExceeded, got %v", err)
	}
}

func TestCheckOrder_ZeroDisablesCaps(t *testing.T) {
	limits := &risk.Limits{
		MinLeverage: d(1),
		MaxLeverage: d(100),
	}

	if err := limits.CheckOrder(d(10_000_000), d(99_000_000)); err != nil {
		t.Errorf("zero caps should disable checks, got %v", err)
	}
}
