package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fund(t *testing.T, st store.Store, userID string, market model.Market, asset string, amount float64) {
	t.Helper()
	_, err := ledger.Move(context.Background(), st, userID, market, asset, d(amount), ledger.Receive)
	if err != nil {
		t.Fatalf("failed to fund account: %v", err)
	}
}

func TestMove_ReceiveAndSpend(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	fund(t, st, "user1", model.MarketSpot, "USDT", 100)

	acc, err := ledger.Move(ctx, st, "user1", model.MarketSpot, "USDT", d(40), ledger.Spend)
	if err != nil {
		t.Fatalf("spend failed: %v", err)
	}
	if !acc.Available.Equal(d(60)) {
		t.Errorf("expected available=60, got %s", acc.Available)
	}
	if !acc.Reserved.IsZero() {
		t.Errorf("expected reserved=0, got %s", acc.Reserved)
	}
}

func TestMove_SpendInsufficient(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	fund(t, st, "user1", model.MarketSpot, "USDT", 10)

	_, err := ledger.Move(ctx, st, "user1", model.MarketSpot, "USDT", d(11), ledger.Spend)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	// Balance untouched on failure.
	acc, _ := st.GetAccount(ctx, "user1", model.MarketSpot, "USDT")
	if !acc.Available.Equal(d(10)) {
		t.Errorf("expected available=10 after failed spend, got %s", acc.Available)
	}
}

func TestMove_SpendFromMissingAccount(t *testing.T) {
	st := store.NewMemoryStore()

	_, err := ledger.Move(context.Background(), st, "ghost", model.MarketSpot, "USDT", d(1), ledger.Spend)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds for missing account, got %v", err)
	}
}

func TestMove_ReserveUnreserveConservesTotal(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	fund(t, st, "user1", model.MarketFutures, "USDT", 100)

	acc, err := ledger.Move(ctx, st, "user1", model.MarketFutures, "USDT", d(30), ledger.Reserve)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !acc.Available.Equal(d(70)) || !acc.Reserved.Equal(d(30)) {
		t.Errorf("after reserve: available=%s reserved=%s", acc.Available, acc.Reserved)
	}
	if !acc.Total().Equal(d(100)) {
		t.Errorf("reserve changed the total: %s", acc.Total())
	}

	acc, err = ledger.Move(ctx, st, "user1", model.MarketFutures, "USDT", d(30), ledger.Unreserve)
	if err != nil {
		t.Fatalf("unreserve failed: %v", err)
	}
	if !acc.Available.Equal(d(100)) || !acc.Reserved.IsZero() {
		t.Errorf("after unreserve: available=%s reserved=%s", acc.Available, acc.Reserved)
	}
}

func TestMove_ReserveInsufficient(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	fund(t, st, "user1", model.MarketFutures, "USDT", 20)

	_, err := ledger.Move(ctx, st, "user1", model.MarketFutures, "USDT", d(25), ledger.Reserve)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestMove_UnreserveBeyondReserved(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	fund(t, st, "user1", model.MarketFutures, "USDT", 100)
	if _, err := ledger.Move(ctx, st, "user1", model.MarketFutures, "USDT", d(10), ledger.Reserve); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	_, err := ledger.Move(ctx, st, "user1", model.MarketFutures, "USDT", d(11), ledger.Unreserve)
	if !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}

	// The violation is caught before any delta is applied, so nothing
	// commits even without an enclosing transaction.
	acc, _ := st.GetAccount(ctx, "user1", model.MarketFutures, "USDT")
	if !acc.Available.Equal(d(90)) || !acc.Reserved.Equal(d(10)) {
		t.Errorf("failed unreserve mutated the balance: available=%s reserved=%s", acc.Available, acc.Reserved)
	}
}

func TestMove_NegativeAmount(t *testing.T) {
	st := store.NewMemoryStore()

	_, err := ledger.Move(context.Background(), st, "user1", model.MarketSpot, "USDT", d(-5), ledger.Receive)
	if !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation for negative amount, got %v", err)
	}
}

func TestMove_ConservationOverSequence(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	// Net of receives minus spends: 100 - 25 + 50 - 10 = 115. Reserve and
	// unreserve never change the sum.
	steps := []struct {
		amount float64
		action ledger.Action
	}{
		{100, ledger.Receive},
		{40, ledger.Reserve},
		{25, ledger.Spend},
		{50, ledger.Receive},
		{40, ledger.Unreserve},
		{10, ledger.Spend},
		{20, ledger.Reserve},
	}

	var acc *model.Account
	for i, s := range steps {
		var err error
		acc, err = ledger.Move(ctx, st, "user1", model.MarketSpot, "USDT", d(s.amount), s.action)
		if err != nil {
			t.Fatalf("step %d (%s %v) failed: %v", i, s.action, s.amount, err)
		}
		if acc.Available.IsNegative() || acc.Reserved.IsNegative() {
			t.Fatalf("step %d left a negative balance: available=%s reserved=%s", i, acc.Available, acc.Reserved)
		}
	}

	if !acc.Total().Equal(d(115)) {
		t.Errorf("expected total=115, got %s", acc.Total())
	}
}
