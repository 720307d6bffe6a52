package pnl_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/pnl"
	"github.com/atlasx/settlement-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newEnv(t *testing.T, prices map[string]float64) (*pnl.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	table := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		table[sym] = d(p)
	}
	svc := pnl.NewService(st, oracle.NewStatic(table), notify.Noop{})
	return svc, st
}

func seedBalance(t *testing.T, st store.Store, userID string, available float64) {
	t.Helper()
	_, err := st.ApplyAccountDelta(context.Background(), userID, model.MarketFutures, "USDT", d(available), decimal.Zero)
	if err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}
}

func seedPosition(t *testing.T, st store.Store, userID string, side model.Side, entry, qty, margin float64) {
	t.Helper()
	err := st.CreatePosition(context.Background(), &model.Position{
		UserID:     userID,
		Symbol:     "ETHUSDT",
		Side:       side,
		EntryPrice: d(entry),
		Quantity:   d(qty),
		Leverage:   d(10),
		Margin:     d(margin),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
}

func seedTransfer(t *testing.T, st store.Store, userID string, typ model.TransferType, amount float64, at time.Time) {
	t.Helper()
	err := st.InsertActivity(context.Background(), &model.ActivityEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Asset:     "USDT",
		Amount:    d(amount),
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("failed to seed transfer: %v", err)
	}
}

func TestEquity_BalancesPlusPositionEquity(t *testing.T) {
	svc, st := newEnv(t, map[string]float64{"ETHUSDT": 110})
	seedBalance(t, st, "user1", 950)
	seedPosition(t, st, "user1", model.SideLong, 100, 5, 50)

	// 950 wallet + 50 margin + (110-100)*5 unrealized = 1050.
	equity, err := svc.Equity(context.Background(), "user1")
	if err != nil {
		t.Fatalf("equity failed: %v", err)
	}
	if !equity.Equal(d(1050)) {
		t.Errorf("expected equity=1050, got %s", equity)
	}
}

func TestEquity_ShortPositionNegatesPnL(t *testing.T) {
	svc, st := newEnv(t, map[string]float64{"ETHUSDT": 110})
	seedBalance(t, st, "user1", 950)
	seedPosition(t, st, "user1", model.SideShort, 100, 5, 50)

	// 950 + 50 - 50 = 950.
	equity, err := svc.Equity(context.Background(), "user1")
	if err != nil {
		t.Fatalf("equity failed: %v", err)
	}
	if !equity.Equal(d(950)) {
		t.Errorf("expected equity=950, got %s", equity)
	}
}

func TestEquity_UnpricedPositionContributesMarginOnly(t *testing.T) {
	svc, st := newEnv(t, nil)
	seedBalance(t, st, "user1", 950)
	seedPosition(t, st, "user1", model.SideLong, 100, 5, 50)

	equity, err := svc.Equity(context.Background(), "user1")
	if err != nil {
		t.Fatalf("equity failed: %v", err)
	}
	if !equity.Equal(d(1000)) {
		t.Errorf("expected equity=1000, got %s", equity)
	}
}

func TestRealTime_AgainstPriorSnapshot(t *testing.T) {
	svc, st := newEnv(t, nil)
	ctx := context.Background()
	seedBalance(t, st, "user1", 1000)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	err := st.UpsertDailySnapshot(ctx, &model.DailySnapshot{
		UserID:    "user1",
		Date:      time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC),
		Equity:    d(800),
		CreatedAt: yesterday,
	})
	if err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}

	p, err := svc.RealTime(ctx, "user1")
	if err != nil {
		t.Fatalf("real time failed: %v", err)
	}
	if !p.Equity.Equal(d(1000)) {
		t.Errorf("expected equity=1000, got %s", p.Equity)
	}
	if !p.PnL.Equal(d(200)) {
		t.Errorf("expected pnl=200, got %s", p.PnL)
	}
	if !p.ROI.Equal(d(25)) {
		t.Errorf("expected roi=25, got %s", p.ROI)
	}
}

func TestRealTime_TransfersDoNotCountAsProfit(t *testing.T) {
	svc, st := newEnv(t, nil)
	ctx := context.Background()
	seedBalance(t, st, "user1", 1000)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	err := st.UpsertDailySnapshot(ctx, &model.DailySnapshot{
		UserID:    "user1",
		Date:      time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, time.UTC),
		Equity:    d(800),
		CreatedAt: yesterday,
	})
	if err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}

	// A 100 deposit after the snapshot: only 100 of the 200 equity growth
	// is profit.
	seedTransfer(t, st, "user1", model.TransferIn, 100, time.Now().UTC().Add(-1*time.Hour))

	p, err := svc.RealTime(ctx, "user1")
	if err != nil {
		t.Fatalf("real time failed: %v", err)
	}
	if !p.PnL.Equal(d(100)) {
		t.Errorf("expected pnl=100, got %s", p.PnL)
	}
	if !p.ROI.Equal(d(12.5)) {
		t.Errorf("expected roi=12.5, got %s", p.ROI)
	}
}

func TestRealTime_FirstDayBasisIsNetDeposits(t *testing.T) {
	svc, st := newEnv(t, nil)
	ctx := context.Background()
	seedBalance(t, st, "user1", 1000)
	seedTransfer(t, st, "user1", model.TransferIn, 500, time.Now().UTC().Add(-2*time.Hour))

	p, err := svc.RealTime(ctx, "user1")
	if err != nil {
		t.Fatalf("real time failed: %v", err)
	}
	// pnl = 1000 - 0 - 500 = 500, measured against the 500 deposited.
	if !p.PnL.Equal(d(500)) {
		t.Errorf("expected pnl=500, got %s", p.PnL)
	}
	if !p.ROI.Equal(d(100)) {
		t.Errorf("expected roi=100, got %s", p.ROI)
	}
}

func TestRealTime_ZeroBasisYieldsZeroROI(t *testing.T) {
	svc, st := newEnv(t, nil)
	seedBalance(t, st, "user1", 1000)

	p, err := svc.RealTime(context.Background(), "user1")
	if err != nil {
		t.Fatalf("real time failed: %v", err)
	}
	if !p.ROI.IsZero() {
		t.Errorf("expected roi=0 with no baseline and no deposits, got %s", p.ROI)
	}
}

func TestRunDailySnapshots_Idempotent(t *testing.T) {
	svc, st := newEnv(t, nil)
	ctx := context.Background()
	seedBalance(t, st, "user1", 1000)

	svc.RunDailySnapshots(ctx)
	svc.RunDailySnapshots(ctx)

	snaps, err := st.ListSnapshots(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("list snapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected exactly 1 snapshot for the day, got %d", len(snaps))
	}
	if !snaps[0].Equity.Equal(d(1000)) {
		t.Errorf("expected snapshot equity=1000, got %s", snaps[0].Equity)
	}
}

func TestHistory_DefaultLimit(t *testing.T) {
	svc, st := newEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		day := time.Now().UTC().AddDate(0, 0, -i)
		err := st.UpsertDailySnapshot(ctx, &model.DailySnapshot{
			UserID: "user1",
			Date:   time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			Equity: d(float64(1000 + i)),
		})
		if err != nil {
			t.Fatalf("seed snapshot failed: %v", err)
		}
	}

	snaps, err := svc.History(ctx, "user1", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Errorf("expected 3 snapshots, got %d", len(snaps))
	}
}
