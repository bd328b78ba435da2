package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresOrderRepo struct {
	db *sqlx.DB
}

func NewPostgresOrderRepo(db *sqlx.DB) *PostgresOrderRepo {
	repo := &PostgresOrderRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresOrderRepo) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, bot_id, market_id, token_id, outcome, side, price, size,
		                    status, reject_reason, idempotency_key, exchange_order_id, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, o.ID, o.BotID, o.MarketID, o.TokenID, string(o.Outcome), string(o.Side), o.Price, o.Size,
		string(o.Status), o.RejectReason, o.IdempotencyKey, o.ExchangeOrderID, o.PlacedAt)
	return err
}

func (r *PostgresOrderRepo) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, rejectReason, exchangeOrderID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, reject_reason = $3, exchange_order_id = $4
		WHERE id = $1
	`, orderID, string(status), rejectReason, exchangeOrderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOrderByIdemKey supports at-least-once delivery: a re-delivered
// signal whose key already produced a non-rejected order is a no-op.
func (r *PostgresOrderRepo) FindOrderByIdemKey(ctx context.Context, botID, idemKey string) (*model.Order, error) {
	if idemKey == "" {
		return nil, ErrNotFound
	}
	var o model.Order
	err := r.db.GetContext(ctx, &o, `
		SELECT id, bot_id, market_id, token_id, outcome, side, price, size,
		       status, reject_reason, idempotency_key, exchange_order_id, placed_at
		FROM orders
		WHERE bot_id = $1 AND idempotency_key = $2
		ORDER BY placed_at DESC
		LIMIT 1
	`, botID, idemKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// LastPlacedOrderAt returns the time of the bot's most recent non-rejected
// order, for the cooldown check. Zero time when the bot never traded.
func (r *PostgresOrderRepo) LastPlacedOrderAt(ctx context.Context, botID string) (time.Time, error) {
	var placedAt time.Time
	err := r.db.GetContext(ctx, &placedAt, `
		SELECT placed_at FROM orders
		WHERE bot_id = $1 AND status != $2
		ORDER BY placed_at DESC
		LIMIT 1
	`, botID, string(model.OrderRejected))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return placedAt, nil
}

// CountOrdersSince counts non-rejected orders placed at or after the
// cutoff, for the daily cap check.
func (r *PostgresOrderRepo) CountOrdersSince(ctx context.Context, botID string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM orders
		WHERE bot_id = $1 AND status != $2 AND placed_at >= $3
	`, botID, string(model.OrderRejected), since)
	return count, err
}

func (r *PostgresOrderRepo) InsertFill(ctx context.Context, f *model.Fill) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, bot_id, market_id, token_id, outcome, side, price, size, fees, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, f.ID, f.OrderID, f.BotID, f.MarketID, f.TokenID, string(f.Outcome), string(f.Side), f.Price, f.Size, f.Fees, f.FilledAt)
	return err
}

// GetFillsForBot returns the bot's full fill ledger in replay order:
// non-decreasing filled_at, id as the tiebreaker so replays are stable.
func (r *PostgresOrderRepo) GetFillsForBot(ctx context.Context, botID string) ([]model.Fill, error) {
	var fills []model.Fill
	err := r.db.SelectContext(ctx, &fills, `
		SELECT id, order_id, bot_id, market_id, token_id, outcome, side, price, size, fees, filled_at
		FROM fills
		WHERE bot_id = $1
		ORDER BY filled_at ASC, id ASC
	`, botID)
	return fills, err
}

func (r *PostgresOrderRepo) GetRecentOrders(ctx context.Context, botID string, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []model.Order
	err := r.db.SelectContext(ctx, &orders, `
		SELECT id, bot_id, market_id, token_id, outcome, side, price, size,
		       status, reject_reason, idempotency_key, exchange_order_id, placed_at
		FROM orders
		WHERE bot_id = $1
		ORDER BY placed_at DESC
		LIMIT $2
	`, botID, limit)
	return orders, err
}

func (r *PostgresOrderRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			token_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			size DOUBLE PRECISION NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			reject_reason TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT '',
			exchange_order_id TEXT NOT NULL DEFAULT '',
			placed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_orders_bot_placed ON orders(bot_id, placed_at DESC)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_orders_bot_idem ON orders(bot_id, idempotency_key)`)

	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			bot_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			token_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			fees DOUBLE PRECISION NOT NULL DEFAULT 0,
			filled_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_fills_bot_filled ON fills(bot_id, filled_at ASC)`)
	return nil
}
