package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresMetricsRepo struct {
	db *sqlx.DB
}

func NewPostgresMetricsRepo(db *sqlx.DB) *PostgresMetricsRepo {
	repo := &PostgresMetricsRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// Upsert fully overwrites the bot's snapshot. The version guard discards
// out-of-order writes: a replay of an older fill history (lower version)
// never clobbers a fresher snapshot.
func (r *PostgresMetricsRepo) Upsert(ctx context.Context, m *model.BotMetrics) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_metrics (bot_id, pnl_usd, roi_pct, trades, win_rate, max_drawdown, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bot_id)
		DO UPDATE SET pnl_usd = $2, roi_pct = $3, trades = $4, win_rate = $5,
		              max_drawdown = $6, version = $7, updated_at = $8
		WHERE bot_metrics.version <= EXCLUDED.version
	`, m.BotID, m.PnlUSD, m.RoiPct, m.Trades, m.WinRate, m.MaxDrawdown, m.Version, m.UpdatedAt)
	return err
}

func (r *PostgresMetricsRepo) Get(ctx context.Context, botID string) (*model.BotMetrics, error) {
	var m model.BotMetrics
	err := r.db.GetContext(ctx, &m, `
		SELECT bot_id, pnl_usd, roi_pct, trades, win_rate, max_drawdown, version, updated_at
		FROM bot_metrics WHERE bot_id = $1
	`, botID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PostgresMetricsRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bot_metrics (
			bot_id TEXT PRIMARY KEY,
			pnl_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			roi_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			max_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}
