package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atlasx/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	pgQueries
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so the same query set
// runs in auto-commit and transactional mode.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgQueries: pgQueries{db: pool}}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT NOT NULL,
	market     TEXT NOT NULL,
	asset      TEXT NOT NULL,
	available  NUMERIC NOT NULL DEFAULT 0,
	reserved   NUMERIC NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, market, asset)
);
CREATE TABLE IF NOT EXISTS orders (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	market        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	status        TEXT NOT NULL,
	quantity      NUMERIC NOT NULL,
	price         NUMERIC NOT NULL DEFAULT 0,
	leverage      NUMERIC NOT NULL DEFAULT 1,
	margin        NUMERIC NOT NULL DEFAULT 0,
	quote_amount  NUMERIC NOT NULL DEFAULT 0,
	average_price NUMERIC NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS orders_pending_idx ON orders (market, symbol) WHERE status = 'pending';
CREATE TABLE IF NOT EXISTS positions (
	user_id           TEXT NOT NULL,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	entry_price       NUMERIC NOT NULL,
	quantity          NUMERIC NOT NULL,
	leverage          NUMERIC NOT NULL,
	margin            NUMERIC NOT NULL,
	liquidation_price NUMERIC NOT NULL DEFAULT 0,
	tp_price          NUMERIC NOT NULL DEFAULT 0,
	tp_quantity       NUMERIC NOT NULL DEFAULT 0,
	sl_price          NUMERIC NOT NULL DEFAULT 0,
	sl_quantity       NUMERIC NOT NULL DEFAULT 0,
	realized_pnl      NUMERIC NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, symbol)
);
CREATE TABLE IF NOT EXISTS position_history (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	entry_price  NUMERIC NOT NULL,
	exit_price   NUMERIC NOT NULL,
	quantity     NUMERIC NOT NULL,
	leverage     NUMERIC NOT NULL DEFAULT 1,
	margin       NUMERIC NOT NULL DEFAULT 0,
	realized_pnl NUMERIC NOT NULL,
	reason       TEXT NOT NULL,
	closed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS position_history_user_idx ON position_history (user_id, closed_at DESC);
CREATE TABLE IF NOT EXISTS activity (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	asset      TEXT NOT NULL,
	amount     NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS activity_user_idx ON activity (user_id, created_at);
CREATE TABLE IF NOT EXISTS daily_snapshots (
	user_id       TEXT NOT NULL,
	date          DATE NOT NULL,
	equity        NUMERIC NOT NULL,
	pnl_amount    NUMERIC NOT NULL,
	roi           NUMERIC NOT NULL,
	net_transfers NUMERIC NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, date)
);
`

// WithinTx runs fn inside one database transaction; ledger, order, and
// position changes commit together or not at all.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgQueries implements Queries over either a pool or a transaction.
type pgQueries struct {
	db dbtx
}

func (q *pgQueries) GetAccount(ctx context.Context, userID string, market model.Market, asset string) (*model.Account, error) {
	var a model.Account
	var available, reserved string
	err := q.db.QueryRow(ctx,
		`SELECT user_id, market, asset, available::TEXT, reserved::TEXT, updated_at
		 FROM accounts WHERE user_id = $1 AND market = $2 AND asset = $3`,
		userID, string(market), asset).
		Scan(&a.UserID, &a.Market, &a.Asset, &available, &reserved, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s/%s: %w", userID, market, asset, err)
	}
	a.Available, _ = decimal.NewFromString(available)
	a.Reserved, _ = decimal.NewFromString(reserved)
	return &a, nil
}

func (q *pgQueries) ListAccounts(ctx context.Context, userID string, market model.Market) ([]model.Account, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id, market, asset, available::TEXT, reserved::TEXT, updated_at
		 FROM accounts WHERE user_id = $1 AND market = $2 ORDER BY asset`,
		userID, string(market))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accs []model.Account
	for rows.Next() {
		var a model.Account
		var available, reserved string
		if err := rows.Scan(&a.UserID, &a.Market, &a.Asset, &available, &reserved, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Available, _ = decimal.NewFromString(available)
		a.Reserved, _ = decimal.NewFromString(reserved)
		accs = append(accs, a)
	}
	return accs, rows.Err()
}

func (q *pgQueries) ApplyAccountDelta(ctx context.Context, userID string, market model.Market, asset string, availableDelta, reservedDelta decimal.Decimal) (*model.Account, error) {
	var a model.Account
	var available, reserved string
	err := q.db.QueryRow(ctx,
		`INSERT INTO accounts (user_id, market, asset, available, reserved, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, now())
		 ON CONFLICT (user_id, market, asset) DO UPDATE
		 SET available = accounts.available + EXCLUDED.available,
		     reserved  = accounts.reserved  + EXCLUDED.reserved,
		     updated_at = now()
		 RETURNING user_id, market, asset, available::TEXT, reserved::TEXT, updated_at`,
		userID, string(market), asset, availableDelta.String(), reservedDelta.String()).
		Scan(&a.UserID, &a.Market, &a.Asset, &available, &reserved, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("apply account delta %s/%s/%s: %w", userID, market, asset, err)
	}
	a.Available, _ = decimal.NewFromString(available)
	a.Reserved, _ = decimal.NewFromString(reserved)
	return &a, nil
}

func (q *pgQueries) ListFuturesUsers(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT DISTINCT user_id FROM accounts WHERE market = 'futures' ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const orderColumns = `id, user_id, market, symbol, side, kind, status,
	quantity::TEXT, price::TEXT, leverage::TEXT, margin::TEXT,
	quote_amount::TEXT, average_price::TEXT, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var quantity, price, leverage, margin, quoteAmount, averagePrice string
	err := row.Scan(&o.ID, &o.UserID, &o.Market, &o.Symbol, &o.Side, &o.Kind, &o.Status,
		&quantity, &price, &leverage, &margin, &quoteAmount, &averagePrice,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Quantity, _ = decimal.NewFromString(quantity)
	o.Price, _ = decimal.NewFromString(price)
	o.Leverage, _ = decimal.NewFromString(leverage)
	o.Margin, _ = decimal.NewFromString(margin)
	o.QuoteAmount, _ = decimal.NewFromString(quoteAmount)
	o.AveragePrice, _ = decimal.NewFromString(averagePrice)
	return &o, nil
}

func (q *pgQueries) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO orders (id, user_id, market, symbol, side, kind, status,
		   quantity, price, leverage, margin, quote_amount, average_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
		   $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14, $15)`,
		o.ID, o.UserID, string(o.Market), o.Symbol, string(o.Side), string(o.Kind), string(o.Status),
		o.Quantity.String(), o.Price.String(), o.Leverage.String(), o.Margin.String(),
		o.QuoteAmount.String(), o.AveragePrice.String(), o.CreatedAt, o.UpdatedAt)
	return err
}

func (q *pgQueries) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (q *pgQueries) ListOrders(ctx context.Context, userID string, market model.Market, limit int) ([]model.Order, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 AND market = $2 ORDER BY created_at DESC LIMIT $3`,
		userID, string(market), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (q *pgQueries) ListPendingLimitOrders(ctx context.Context, market model.Market, sym string) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		 WHERE market = $1 AND status = 'pending' AND kind = 'limit'`
	args := []any{string(market)}
	if sym != "" {
		query += ` AND symbol = $2`
		args = append(args, sym)
	}
	query += ` ORDER BY created_at`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (q *pgQueries) TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus, averagePrice decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE orders
		 SET status = $3,
		     average_price = CASE WHEN $4::NUMERIC <> 0 THEN $4::NUMERIC ELSE average_price END,
		     updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), averagePrice.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := q.GetOrder(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

const positionColumns = `user_id, symbol, side, entry_price::TEXT, quantity::TEXT,
	leverage::TEXT, margin::TEXT, liquidation_price::TEXT,
	tp_price::TEXT, tp_quantity::TEXT, sl_price::TEXT, sl_quantity::TEXT,
	realized_pnl::TEXT, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var entry, qty, lev, margin, liq, tpP, tpQ, slP, slQ, rpnl string
	err := row.Scan(&p.UserID, &p.Symbol, &p.Side, &entry, &qty, &lev, &margin, &liq,
		&tpP, &tpQ, &slP, &slQ, &rpnl, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.Quantity, _ = decimal.NewFromString(qty)
	p.Leverage, _ = decimal.NewFromString(lev)
	p.Margin, _ = decimal.NewFromString(margin)
	p.LiquidationPrice, _ = decimal.NewFromString(liq)
	p.TPPrice, _ = decimal.NewFromString(tpP)
	p.TPQuantity, _ = decimal.NewFromString(tpQ)
	p.SLPrice, _ = decimal.NewFromString(slP)
	p.SLQuantity, _ = decimal.NewFromString(slQ)
	p.RealizedPnL, _ = decimal.NewFromString(rpnl)
	return &p, nil
}

func (q *pgQueries) GetPosition(ctx context.Context, userID, sym string) (*model.Position, error) {
	p, err := scanPosition(q.db.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND symbol = $2`,
		userID, sym))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", userID, sym, err)
	}
	return p, nil
}

func (q *pgQueries) listPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		ps = append(ps, *p)
	}
	return ps, rows.Err()
}

func (q *pgQueries) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return q.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
}

func (q *pgQueries) ListAllPositions(ctx context.Context) ([]model.Position, error) {
	return q.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY user_id, symbol`)
}

func (q *pgQueries) ListTriggeredPositions(ctx context.Context) ([]model.Position, error) {
	return q.listPositions(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE tp_price > 0 OR sl_price > 0 ORDER BY user_id, symbol`)
}

func (q *pgQueries) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, side, entry_price, quantity, leverage, margin,
		   liquidation_price, tp_price, tp_quantity, sl_price, sl_quantity, realized_pnl, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		   $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC, $14)`,
		p.UserID, p.Symbol, string(p.Side), p.EntryPrice.String(), p.Quantity.String(),
		p.Leverage.String(), p.Margin.String(), p.LiquidationPrice.String(),
		p.TPPrice.String(), p.TPQuantity.String(), p.SLPrice.String(), p.SLQuantity.String(),
		p.RealizedPnL.String(), p.UpdatedAt)
	return err
}

func (q *pgQueries) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE positions
		 SET side = $3, entry_price = $4::NUMERIC, quantity = $5::NUMERIC, leverage = $6::NUMERIC,
		     margin = $7::NUMERIC, liquidation_price = $8::NUMERIC,
		     tp_price = $9::NUMERIC, tp_quantity = $10::NUMERIC,
		     sl_price = $11::NUMERIC, sl_quantity = $12::NUMERIC,
		     realized_pnl = $13::NUMERIC, updated_at = now()
		 WHERE user_id = $1 AND symbol = $2`,
		p.UserID, p.Symbol, string(p.Side), p.EntryPrice.String(), p.Quantity.String(),
		p.Leverage.String(), p.Margin.String(), p.LiquidationPrice.String(),
		p.TPPrice.String(), p.TPQuantity.String(), p.SLPrice.String(), p.SLQuantity.String(),
		p.RealizedPnL.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) DeletePosition(ctx context.Context, userID, sym string) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, sym)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) InsertPositionHistory(ctx context.Context, h *model.PositionHistory) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO position_history (id, user_id, symbol, side, entry_price, exit_price,
		   quantity, leverage, margin, realized_pnl, reason, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC,
		   $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)`,
		h.ID, h.UserID, h.Symbol, string(h.Side), h.EntryPrice.String(), h.ExitPrice.String(),
		h.Quantity.String(), h.Leverage.String(), h.Margin.String(), h.RealizedPnL.String(),
		string(h.Reason), h.ClosedAt)
	return err
}

func (q *pgQueries) ListPositionHistory(ctx context.Context, userID string, limit int) ([]model.PositionHistory, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, symbol, side, entry_price::TEXT, exit_price::TEXT,
		        quantity::TEXT, leverage::TEXT, margin::TEXT, realized_pnl::TEXT, reason, closed_at
		 FROM position_history WHERE user_id = $1 ORDER BY closed_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hs []model.PositionHistory
	for rows.Next() {
		var h model.PositionHistory
		var entry, exit, qty, lev, margin, rpnl string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Side, &entry, &exit,
			&qty, &lev, &margin, &rpnl, &h.Reason, &h.ClosedAt); err != nil {
			return nil, err
		}
		h.EntryPrice, _ = decimal.NewFromString(entry)
		h.ExitPrice, _ = decimal.NewFromString(exit)
		h.Quantity, _ = decimal.NewFromString(qty)
		h.Leverage, _ = decimal.NewFromString(lev)
		h.Margin, _ = decimal.NewFromString(margin)
		h.RealizedPnL, _ = decimal.NewFromString(rpnl)
		hs = append(hs, h)
	}
	return hs, rows.Err()
}

func (q *pgQueries) InsertActivity(ctx context.Context, a *model.ActivityEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO activity (id, user_id, type, asset, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		a.ID, a.UserID, string(a.Type), a.Asset, a.Amount.String(), a.CreatedAt)
	return err
}

func (q *pgQueries) ListActivitySince(ctx context.Context, userID string, since time.Time) ([]model.ActivityEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, type, asset, amount::TEXT, created_at
		 FROM activity WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var as []model.ActivityEntry
	for rows.Next() {
		var a model.ActivityEntry
		var amount string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Asset, &amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Amount, _ = decimal.NewFromString(amount)
		as = append(as, a)
	}
	return as, rows.Err()
}

func (q *pgQueries) UpsertDailySnapshot(ctx context.Context, s *model.DailySnapshot) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO daily_snapshots (user_id, date, equity, pnl_amount, roi, net_transfers, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, now())
		 ON CONFLICT (user_id, date) DO UPDATE
		 SET equity = EXCLUDED.equity, pnl_amount = EXCLUDED.pnl_amount,
		     roi = EXCLUDED.roi, net_transfers = EXCLUDED.net_transfers`,
		s.UserID, s.Date, s.Equity.String(), s.PnLAmount.String(),
		s.ROI.String(), s.NetTransfers.String())
	return err
}

func scanSnapshot(row pgx.Row) (*model.DailySnapshot, error) {
	var s model.DailySnapshot
	var equity, pnl, roi, transfers string
	err := row.Scan(&s.UserID, &s.Date, &equity, &pnl, &roi, &transfers, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Equity, _ = decimal.NewFromString(equity)
	s.PnLAmount, _ = decimal.NewFromString(pnl)
	s.ROI, _ = decimal.NewFromString(roi)
	s.NetTransfers, _ = decimal.NewFromString(transfers)
	return &s, nil
}

func (q *pgQueries) LastSnapshotBefore(ctx context.Context, userID string, day time.Time) (*model.DailySnapshot, error) {
	s, err := scanSnapshot(q.db.QueryRow(ctx,
		`SELECT user_id, date, equity::TEXT, pnl_amount::TEXT, roi::TEXT, net_transfers::TEXT, created_at
		 FROM daily_snapshots WHERE user_id = $1 AND date < $2
		 ORDER BY date DESC LIMIT 1`,
		userID, day))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last snapshot for %s: %w", userID, err)
	}
	return s, nil
}

func (q *pgQueries) ListSnapshots(ctx context.Context, userID string, limit int) ([]model.DailySnapshot, error) {
	rows, err := q.db.Query(ctx,
		`SELECT user_id, date, equity::TEXT, pnl_amount::TEXT, roi::TEXT, net_transfers::TEXT, created_at
		 FROM daily_snapshots WHERE user_id = $1 ORDER BY date DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.DailySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *s)
	}
	return snaps, rows.Err()
}
