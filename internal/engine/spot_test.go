package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/engine"
	"github.com/atlasx/settlement-engine/internal/ledger"
	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/store"
)

func newSpotEnv(t *testing.T, prices map[string]float64) (*engine.Spot, *store.MemoryStore, *oracle.Static) {
	t.Helper()
	st := store.NewMemoryStore()
	table := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		table[sym] = d(p)
	}
	orc := oracle.NewStatic(table)
	eng := engine.NewSpot(st, orc, notify.Noop{}, time.Second)
	return eng, st, orc
}

func fundSpot(t *testing.T, st store.Store, userID, asset string, amount float64) {
	t.Helper()
	_, err := ledger.Move(context.Background(), st, userID, model.MarketSpot, asset, d(amount), ledger.Receive)
	if err != nil {
		t.Fatalf("failed to fund account: %v", err)
	}
}

func spotBalance(t *testing.T, st store.Store, userID, asset string) *model.Account {
	t.Helper()
	acc, err := st.GetAccount(context.Background(), userID, model.MarketSpot, asset)
	if err != nil {
		t.Fatalf("failed to read %s account: %v", asset, err)
	}
	return acc
}

func TestSpotMarketBuy_MovesBothAssets(t *testing.T) {
	eng, st, _ := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "USDT", 10000)

	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Kind:     model.KindMarket,
		Quantity: d(0.1),
	})
	if err != nil {
		t.Fatalf("market buy failed: %v", err)
	}
	if order.Status != model.StatusFilled {
		t.Errorf("expected status=filled, got %s", order.Status)
	}
	if !order.AveragePrice.Equal(d(50000)) {
		t.Errorf("expected fill at 50000, got %s", order.AveragePrice)
	}

	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(5000)) {
		t.Errorf("expected USDT available=5000, got %s", usdt.Available)
	}
	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.1)) {
		t.Errorf("expected BTC available=0.1, got %s", btc.Available)
	}
}

func TestSpotMarketSell_MovesBothAssets(t *testing.T) {
	eng, st, _ := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "BTC", 1)

	_, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideSell,
		Kind:     model.KindMarket,
		Quantity: d(0.4),
	})
	if err != nil {
		t.Fatalf("market sell failed: %v", err)
	}

	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.6)) {
		t.Errorf("expected BTC available=0.6, got %s", btc.Available)
	}
	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(20000)) {
		t.Errorf("expected USDT available=20000, got %s", usdt.Available)
	}
}

func TestSpotMarketBuy_InsufficientFunds(t *testing.T) {
	eng, st, _ := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "USDT", 100)

	_, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Kind:     model.KindMarket,
		Quantity: d(0.1),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(100)) {
		t.Errorf("expected USDT untouched at 100, got %s", usdt.Available)
	}
	orders, _ := st.ListOrders(ctx, "user1", model.MarketSpot, 10)
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
}

func TestSpotLimitBuy_ReserveAndFillAtLimitPrice(t *testing.T) {
	eng, st, orc := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "USDT", 10000)

	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Kind:     model.KindLimit,
		Quantity: d(0.1),
		Price:    d(49000),
	})
	if err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}
	if order.Status != model.StatusPending {
		t.Errorf("expected status=pending, got %s", order.Status)
	}

	// The quote cost is held reserved while the order rests.
	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(5100)) || !usdt.Reserved.Equal(d(4900)) {
		t.Errorf("after reserve: available=%s reserved=%s", usdt.Available, usdt.Reserved)
	}

	// Mark above the limit: no fill.
	eng.Tick(ctx)
	got, _ := st.GetOrder(ctx, order.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("order should still be pending, got %s", got.Status)
	}

	// Mark crosses below the limit: the fill settles at the limit price.
	orc.Set("BTCUSDT", d(48900))
	eng.Tick(ctx)

	got, _ = st.GetOrder(ctx, order.ID)
	if got.Status != model.StatusFilled {
		t.Fatalf("expected status=filled, got %s", got.Status)
	}
	if !got.AveragePrice.Equal(d(49000)) {
		t.Errorf("expected fill at limit 49000, got %s", got.AveragePrice)
	}

	usdt = spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(5100)) || !usdt.Reserved.IsZero() {
		t.Errorf("after fill: available=%s reserved=%s", usdt.Available, usdt.Reserved)
	}
	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.1)) {
		t.Errorf("expected BTC available=0.1, got %s", btc.Available)
	}
}

func TestSpotLimitBuy_AlreadyCrossedFillsImmediately(t *testing.T) {
	eng, st, _ := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "USDT", 10000)

	// Limit above the mark is executable right away; it fills at the mark.
	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Kind:     model.KindLimit,
		Quantity: d(0.1),
		Price:    d(51000),
	})
	if err != nil {
		t.Fatalf("crossed limit buy failed: %v", err)
	}
	if order.Status != model.StatusFilled {
		t.Fatalf("expected immediate fill, got %s", order.Status)
	}
	if order.Kind != model.KindLimit {
		t.Errorf("expected kind=limit, got %s", order.Kind)
	}
	if !order.AveragePrice.Equal(d(50000)) {
		t.Errorf("expected fill at mark 50000, got %s", order.AveragePrice)
	}

	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(5000)) || !usdt.Reserved.IsZero() {
		t.Errorf("after fill: available=%s reserved=%s", usdt.Available, usdt.Reserved)
	}
	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.1)) {
		t.Errorf("expected BTC available=0.1, got %s", btc.Available)
	}
}

func TestSpotLimitSell_CancelReleasesReservation(t *testing.T) {
	eng, st, _ := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "BTC", 1)

	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideSell,
		Kind:     model.KindLimit,
		Quantity: d(0.5),
		Price:    d(60000),
	})
	if err != nil {
		t.Fatalf("limit sell failed: %v", err)
	}

	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.5)) || !btc.Reserved.Equal(d(0.5)) {
		t.Errorf("after reserve: available=%s reserved=%s", btc.Available, btc.Reserved)
	}

	if err := eng.CancelOrder(ctx, "user1", order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	btc = spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(1)) || !btc.Reserved.IsZero() {
		t.Errorf("after cancel: available=%s reserved=%s", btc.Available, btc.Reserved)
	}

	if err := eng.CancelOrder(ctx, "user1", order.ID); !errors.Is(err, engine.ErrOrderNotPending) {
		t.Errorf("expected ErrOrderNotPending on second cancel, got %v", err)
	}
}

func TestSpotLimitSell_FillsAtLimitWhenCrossed(t *testing.T) {
	eng, st, orc := newSpotEnv(t, map[string]float64{"BTCUSDT": 50000})
	ctx := context.Background()
	fundSpot(t, st, "user1", "BTC", 1)

	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideSell,
		Kind:     model.KindLimit,
		Quantity: d(0.5),
		Price:    d(51000),
	})
	if err != nil {
		t.Fatalf("limit sell failed: %v", err)
	}

	orc.Set("BTCUSDT", d(51200))
	eng.Tick(ctx)

	got, _ := st.GetOrder(ctx, order.ID)
	if got.Status != model.StatusFilled {
		t.Fatalf("expected status=filled, got %s", got.Status)
	}

	// Proceeds settle at the limit price: 0.5 * 51000 = 25500.
	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(25500)) {
		t.Errorf("expected USDT available=25500, got %s", usdt.Available)
	}
	btc := spotBalance(t, st, "user1", "BTC")
	if !btc.Available.Equal(d(0.5)) || !btc.Reserved.IsZero() {
		t.Errorf("after fill: BTC available=%s reserved=%s", btc.Available, btc.Reserved)
	}
}

// flakyStore fails a fixed number of transactions before delegating.
type flakyStore struct {
	*store.MemoryStore
	failures int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(store.Queries) error) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return s.MemoryStore.WithinTx(ctx, fn)
}

func TestSpotTick_RetriesFillAfterStoreError(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	orc := oracle.NewStatic(map[string]decimal.Decimal{"BTCUSDT": d(50000)})
	eng := engine.NewSpot(st, orc, notify.Noop{}, time.Second)
	ctx := context.Background()
	fundSpot(t, st, "user1", "USDT", 10000)

	order, err := eng.PlaceOrder(ctx, "user1", &engine.SpotOrderRequest{
		Symbol:   "BTCUSDT",
		Side:     model.SideBuy,
		Kind:     model.KindLimit,
		Quantity: d(0.1),
		Price:    d(49000),
	})
	if err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}

	// The price crosses but the fill's transaction fails.
	orc.Set("BTCUSDT", d(48900))
	st.failures = 1
	eng.Tick(ctx)

	got, _ := st.GetOrder(ctx, order.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("order should survive the failed fill, got %s", got.Status)
	}

	// Same price next tick: the fill retries instead of waiting for the
	// next price move.
	eng.Tick(ctx)

	got, _ = st.GetOrder(ctx, order.ID)
	if got.Status != model.StatusFilled {
		t.Fatalf("expected the retried fill to land, got %s", got.Status)
	}
	usdt := spotBalance(t, st, "user1", "USDT")
	if !usdt.Available.Equal(d(5100)) || !usdt.Reserved.IsZero() {
		t.Errorf("after fill: available=%s reserved=%s", usdt.Available, usdt.Reserved)
	}
}
