// Package pnl derives equity, realized/unrealized profit, and ROI baselines
// from the ledger, open positions, and the transfer activity log.
package pnl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
	"github.com/atlasx/settlement-engine/internal/notify"
	"github.com/atlasx/settlement-engine/internal/oracle"
	"github.com/atlasx/settlement-engine/internal/store"
)

// reportScale is the precision of user-facing equity/PnL/ROI figures.
const reportScale = 2

var hundred = decimal.NewFromInt(100)

// Portfolio is the real-time equity/PnL/ROI view returned to the API layer.
type Portfolio struct {
	Equity decimal.Decimal `json:"equity"`
	PnL    decimal.Decimal `json:"pnl"`
	ROI    decimal.Decimal `json:"roi"`
}

// Service computes equity and maintains daily snapshots.
type Service struct {
	store    store.Store
	oracle   oracle.Oracle
	notifier notify.Notifier
}

// NewService creates the accounting service.
func NewService(st store.Store, orc oracle.Oracle, n notify.Notifier) *Service {
	return &Service{store: st, oracle: orc, notifier: n}
}

// Equity is the user's total futures worth: wallet balances plus the equity
// (margin + unrealized PnL) of every open position. A position that cannot
// be priced contributes its margin only.
func (s *Service) Equity(ctx context.Context, userID string) (decimal.Decimal, error) {
	accounts, err := s.store.ListAccounts(ctx, userID, model.MarketFutures)
	if err != nil {
		return decimal.Zero, err
	}
	equity := decimal.Zero
	for i := range accounts {
		equity = equity.Add(accounts[i].Total())
	}

	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	for i := range positions {
		p := &positions[i]
		equity = equity.Add(p.Margin)

		mark, err := s.oracle.Price(ctx, p.Symbol)
		if err != nil {
			slog.Warn("equity: position unpriced", "user_id", userID, "symbol", p.Symbol, "err", err)
			continue
		}
		upnl := mark.Sub(p.EntryPrice).Mul(p.Quantity)
		if p.Side == model.SideShort {
			upnl = upnl.Neg()
		}
		equity = equity.Add(upnl)
	}
	return equity, nil
}

// RealTime computes the live PnL and ROI against the most recent daily
// snapshot, correcting for transfers made since.
func (s *Service) RealTime(ctx context.Context, userID string) (*Portfolio, error) {
	equity, err := s.Equity(ctx, userID)
	if err != nil {
		return nil, err
	}

	today := midnightUTC(time.Now().UTC())
	pnl, roi, _, err := s.measureSince(ctx, userID, equity, today)
	if err != nil {
		return nil, err
	}

	return &Portfolio{
		Equity: equity.RoundBank(reportScale),
		PnL:    pnl.RoundBank(reportScale),
		ROI:    roi,
	}, nil
}

// measureSince computes pnl/roi/netTransfers relative to the last snapshot
// strictly before day. With no prior snapshot, the net deposits since the
// beginning serve as the baseline.
func (s *Service) measureSince(ctx context.Context, userID string, equity decimal.Decimal, day time.Time) (pnl, roi, netTransfers decimal.Decimal, err error) {
	baseline := decimal.Zero
	since := time.Time{}

	last, err := s.store.LastSnapshotBefore(ctx, userID, day)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	if err == nil {
		baseline = last.Equity
		since = last.CreatedAt
	}

	entries, err := s.store.ListActivitySince(ctx, userID, since)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}
	netTransfers = decimal.Zero
	for i := range entries {
		if entries[i].Type == model.TransferIn {
			netTransfers = netTransfers.Add(entries[i].Amount)
		} else {
			netTransfers = netTransfers.Sub(entries[i].Amount)
		}
	}

	pnl = equity.Sub(baseline).Sub(netTransfers)

	// ROI basis: prior day's equity, or net deposits on the first day.
	basis := baseline
	if basis.LessThanOrEqual(decimal.Zero) {
		basis = netTransfers
	}
	roi = decimal.Zero
	if basis.IsPositive() {
		roi = pnl.Div(basis).Mul(hundred).RoundBank(reportScale)
	}
	return pnl, roi, netTransfers, nil
}

// RunDailySnapshots writes one snapshot per futures user for the current UTC
// day. Re-running within the same day overwrites the same rows.
func (s *Service) RunDailySnapshots(ctx context.Context) {
	day := midnightUTC(time.Now().UTC())

	users, err := s.store.ListFuturesUsers(ctx)
	if err != nil {
		slog.Error("daily snapshot sweep failed", "err", err)
		return
	}

	var written int
	for _, userID := range users {
		if err := s.snapshotUser(ctx, userID, day); err != nil {
			slog.Error("daily snapshot failed", "user_id", userID, "err", err)
			continue
		}
		written++
	}
	slog.Info("daily snapshots written", "date", day.Format("2006-01-02"), "users", written)
}

func (s *Service) snapshotUser(ctx context.Context, userID string, day time.Time) error {
	equity, err := s.Equity(ctx, userID)
	if err != nil {
		return err
	}
	pnl, roi, netTransfers, err := s.measureSince(ctx, userID, equity, day)
	if err != nil {
		return err
	}

	snap := &model.DailySnapshot{
		UserID:       userID,
		Date:         day,
		Equity:       equity,
		PnLAmount:    pnl,
		ROI:          roi,
		NetTransfers: netTransfers,
	}
	if err := s.store.UpsertDailySnapshot(ctx, snap); err != nil {
		return err
	}

	s.notifier.Notify(userID, model.PortfolioEvent{
		Equity: equity.RoundBank(reportScale),
		PnL:    pnl.RoundBank(reportScale),
		ROI:    roi,
	})
	return nil
}

// History returns the most recent snapshots, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.DailySnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	return s.store.ListSnapshots(ctx, userID, limit)
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
