package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. WithinTx takes a snapshot of the whole state and swaps it in
// on success, so a failed transaction leaves no partial mutations —
// matching the all-or-nothing contract of the PostgreSQL implementation.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	accounts  map[string]*model.Account  // user|market|asset
	orders    map[string]*model.Order    // id
	positions map[string]*model.Position // user|symbol
	history   []model.PositionHistory
	activity  []model.ActivityEntry
	snapshots map[string]*model.DailySnapshot // user|yyyy-mm-dd
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[string]*model.Account),
		orders:    make(map[string]*model.Order),
		positions: make(map[string]*model.Position),
		snapshots: make(map[string]*model.DailySnapshot),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range s.orders {
		cp := *v
		c.orders[k] = &cp
	}
	for k, v := range s.positions {
		cp := *v
		c.positions[k] = &cp
	}
	c.history = append(c.history, s.history...)
	c.activity = append(c.activity, s.activity...)
	for k, v := range s.snapshots {
		cp := *v
		c.snapshots[k] = &cp
	}
	return c
}

func accountKey(userID string, market model.Market, asset string) string {
	return userID + "|" + string(market) + "|" + asset
}

func positionKey(userID, sym string) string { return userID + "|" + sym }

func snapshotKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format("2006-01-02")
}

// WithinTx runs fn against a snapshot of the state under the write lock and
// commits by swapping the snapshot in. Transactions are fully serialized.
func (s *MemoryStore) WithinTx(_ context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memQueries{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// --- Auto-commit path: reads under RLock, writes as one-shot transactions ---

func (s *MemoryStore) read(fn func(q *memQueries) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memQueries{state: s.state})
}

func (s *MemoryStore) GetAccount(ctx context.Context, userID string, market model.Market, asset string) (acc *model.Account, err error) {
	err = s.read(func(q *memQueries) error { acc, err = q.GetAccount(ctx, userID, market, asset); return err })
	return
}

func (s *MemoryStore) ListAccounts(ctx context.Context, userID string, market model.Market) (accs []model.Account, err error) {
	err = s.read(func(q *memQueries) error { accs, err = q.ListAccounts(ctx, userID, market); return err })
	return
}

func (s *MemoryStore) ApplyAccountDelta(ctx context.Context, userID string, market model.Market, asset string, availableDelta, reservedDelta decimal.Decimal) (acc *model.Account, err error) {
	err = s.WithinTx(ctx, func(q Queries) error {
		acc, err = q.ApplyAccountDelta(ctx, userID, market, asset, availableDelta, reservedDelta)
		return err
	})
	return
}

func (s *MemoryStore) ListFuturesUsers(ctx context.Context) (users []string, err error) {
	err = s.read(func(q *memQueries) error { users, err = q.ListFuturesUsers(ctx); return err })
	return
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.CreateOrder(ctx, o) })
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (o *model.Order, err error) {
	err = s.read(func(q *memQueries) error { o, err = q.GetOrder(ctx, id); return err })
	return
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID string, market model.Market, limit int) (os []model.Order, err error) {
	err = s.read(func(q *memQueries) error { os, err = q.ListOrders(ctx, userID, market, limit); return err })
	return
}

func (s *MemoryStore) ListPendingLimitOrders(ctx context.Context, market model.Market, sym string) (os []model.Order, err error) {
	err = s.read(func(q *memQueries) error { os, err = q.ListPendingLimitOrders(ctx, market, sym); return err })
	return
}

func (s *MemoryStore) TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus, averagePrice decimal.Decimal) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.TransitionOrder(ctx, id, from, to, averagePrice) })
}

func (s *MemoryStore) GetPosition(ctx context.Context, userID, sym string) (p *model.Position, err error) {
	err = s.read(func(q *memQueries) error { p, err = q.GetPosition(ctx, userID, sym); return err })
	return
}

func (s *MemoryStore) ListPositions(ctx context.Context, userID string) (ps []model.Position, err error) {
	err = s.read(func(q *memQueries) error { ps, err = q.ListPositions(ctx, userID); return err })
	return
}

func (s *MemoryStore) ListAllPositions(ctx context.Context) (ps []model.Position, err error) {
	err = s.read(func(q *memQueries) error { ps, err = q.ListAllPositions(ctx); return err })
	return
}

func (s *MemoryStore) ListTriggeredPositions(ctx context.Context) (ps []model.Position, err error) {
	err = s.read(func(q *memQueries) error { ps, err = q.ListTriggeredPositions(ctx); return err })
	return
}

func (s *MemoryStore) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.CreatePosition(ctx, p) })
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, p *model.Position) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.UpdatePosition(ctx, p) })
}

func (s *MemoryStore) DeletePosition(ctx context.Context, userID, sym string) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.DeletePosition(ctx, userID, sym) })
}

func (s *MemoryStore) InsertPositionHistory(ctx context.Context, h *model.PositionHistory) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.InsertPositionHistory(ctx, h) })
}

func (s *MemoryStore) ListPositionHistory(ctx context.Context, userID string, limit int) (hs []model.PositionHistory, err error) {
	err = s.read(func(q *memQueries) error { hs, err = q.ListPositionHistory(ctx, userID, limit); return err })
	return
}

func (s *MemoryStore) InsertActivity(ctx context.Context, a *model.ActivityEntry) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.InsertActivity(ctx, a) })
}

func (s *MemoryStore) ListActivitySince(ctx context.Context, userID string, since time.Time) (as []model.ActivityEntry, err error) {
	err = s.read(func(q *memQueries) error { as, err = q.ListActivitySince(ctx, userID, since); return err })
	return
}

func (s *MemoryStore) UpsertDailySnapshot(ctx context.Context, snap *model.DailySnapshot) error {
	return s.WithinTx(ctx, func(q Queries) error { return q.UpsertDailySnapshot(ctx, snap) })
}

func (s *MemoryStore) LastSnapshotBefore(ctx context.Context, userID string, day time.Time) (snap *model.DailySnapshot, err error) {
	err = s.read(func(q *memQueries) error { snap, err = q.LastSnapshotBefore(ctx, userID, day); return err })
	return
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, userID string, limit int) (snaps []model.DailySnapshot, err error) {
	err = s.read(func(q *memQueries) error { snaps, err = q.ListSnapshots(ctx, userID, limit); return err })
	return
}

// --- Queries implementation over a state snapshot ---

type memQueries struct {
	state *memState
}

func (q *memQueries) GetAccount(_ context.Context, userID string, market model.Market, asset string) (*model.Account, error) {
	a, ok := q.state.accounts[accountKey(userID, market, asset)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (q *memQueries) ListAccounts(_ context.Context, userID string, market model.Market) ([]model.Account, error) {
	var accs []model.Account
	for _, a := range q.state.accounts {
		if a.UserID == userID && a.Market == market {
			accs = append(accs, *a)
		}
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].Asset < accs[j].Asset })
	return accs, nil
}

func (q *memQueries) ApplyAccountDelta(_ context.Context, userID string, market model.Market, asset string, availableDelta, reservedDelta decimal.Decimal) (*model.Account, error) {
	key := accountKey(userID, market, asset)
	a, ok := q.state.accounts[key]
	if !ok {
		a = &model.Account{UserID: userID, Market: market, Asset: asset}
		q.state.accounts[key] = a
	}
	a.Available = a.Available.Add(availableDelta)
	a.Reserved = a.Reserved.Add(reservedDelta)
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (q *memQueries) ListFuturesUsers(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var users []string
	for _, a := range q.state.accounts {
		if a.Market == model.MarketFutures && !seen[a.UserID] {
			seen[a.UserID] = true
			users = append(users, a.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (q *memQueries) CreateOrder(_ context.Context, o *model.Order) error {
	cp := *o
	q.state.orders[o.ID] = &cp
	return nil
}

func (q *memQueries) GetOrder(_ context.Context, id string) (*model.Order, error) {
	o, ok := q.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (q *memQueries) ListOrders(_ context.Context, userID string, market model.Market, limit int) ([]model.Order, error) {
	var orders []model.Order
	for _, o := range q.state.orders {
		if o.UserID == userID && o.Market == market {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (q *memQueries) ListPendingLimitOrders(_ context.Context, market model.Market, sym string) ([]model.Order, error) {
	var orders []model.Order
	for _, o := range q.state.orders {
		if o.Market != market || o.Status != model.StatusPending || o.Kind != model.KindLimit {
			continue
		}
		if sym != "" && o.Symbol != sym {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (q *memQueries) TransitionOrder(_ context.Context, id string, from, to model.OrderStatus, averagePrice decimal.Decimal) error {
	o, ok := q.state.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrConflict
	}
	o.Status = to
	if !averagePrice.IsZero() {
		o.AveragePrice = averagePrice
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (q *memQueries) GetPosition(_ context.Context, userID, sym string) (*model.Position, error) {
	p, ok := q.state.positions[positionKey(userID, sym)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (q *memQueries) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	var ps []model.Position
	for _, p := range q.state.positions {
		if p.UserID == userID {
			ps = append(ps, *p)
		}
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Symbol < ps[j].Symbol })
	return ps, nil
}

func (q *memQueries) ListAllPositions(_ context.Context) ([]model.Position, error) {
	var ps []model.Position
	for _, p := range q.state.positions {
		ps = append(ps, *p)
	}
	sort.Slice(ps, func(i, j int) bool {
		return positionKey(ps[i].UserID, ps[i].Symbol) < positionKey(ps[j].UserID, ps[j].Symbol)
	})
	return ps, nil
}

func (q *memQueries) ListTriggeredPositions(ctx context.Context) ([]model.Position, error) {
	all, _ := q.ListAllPositions(ctx)
	var ps []model.Position
	for _, p := range all {
		if p.TPPrice.IsPositive() || p.SLPrice.IsPositive() {
			ps = append(ps, p)
		}
	}
	return ps, nil
}

func (q *memQueries) CreatePosition(_ context.Context, p *model.Position) error {
	cp := *p
	q.state.positions[positionKey(p.UserID, p.Symbol)] = &cp
	return nil
}

func (q *memQueries) UpdatePosition(_ context.Context, p *model.Position) error {
	key := positionKey(p.UserID, p.Symbol)
	if _, ok := q.state.positions[key]; !ok {
		return ErrNotFound
	}
	cp := *p
	q.state.positions[key] = &cp
	return nil
}

func (q *memQueries) DeletePosition(_ context.Context, userID, sym string) error {
	key := positionKey(userID, sym)
	if _, ok := q.state.positions[key]; !ok {
		return ErrNotFound
	}
	delete(q.state.positions, key)
	return nil
}

func (q *memQueries) InsertPositionHistory(_ context.Context, h *model.PositionHistory) error {
	q.state.history = append(q.state.history, *h)
	return nil
}

func (q *memQueries) ListPositionHistory(_ context.Context, userID string, limit int) ([]model.PositionHistory, error) {
	var hs []model.PositionHistory
	for i := len(q.state.history) - 1; i >= 0; i-- {
		if q.state.history[i].UserID == userID {
			hs = append(hs, q.state.history[i])
			if limit > 0 && len(hs) >= limit {
				break
			}
		}
	}
	return hs, nil
}

func (q *memQueries) InsertActivity(_ context.Context, a *model.ActivityEntry) error {
	q.state.activity = append(q.state.activity, *a)
	return nil
}

func (q *memQueries) ListActivitySince(_ context.Context, userID string, since time.Time) ([]model.ActivityEntry, error) {
	var as []model.ActivityEntry
	for _, a := range q.state.activity {
		if a.UserID == userID && !a.CreatedAt.Before(since) {
			as = append(as, a)
		}
	}
	return as, nil
}

func (q *memQueries) UpsertDailySnapshot(_ context.Context, snap *model.DailySnapshot) error {
	key := snapshotKey(snap.UserID, snap.Date)
	cp := *snap
	if existing, ok := q.state.snapshots[key]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	q.state.snapshots[key] = &cp
	return nil
}

func (q *memQueries) LastSnapshotBefore(_ context.Context, userID string, day time.Time) (*model.DailySnapshot, error) {
	var best *model.DailySnapshot
	for _, s := range q.state.snapshots {
		if s.UserID != userID || !s.Date.Before(day) {
			continue
		}
		if best == nil || s.Date.After(best.Date) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (q *memQueries) ListSnapshots(_ context.Context, userID string, limit int) ([]model.DailySnapshot, error) {
	var snaps []model.DailySnapshot
	for _, s := range q.state.snapshots {
		if s.UserID == userID {
			snaps = append(snaps, *s)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date.After(snaps[j].Date) })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}
