package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresSignalRepo struct {
	db *sqlx.DB
}

func NewPostgresSignalRepo(db *sqlx.DB) *PostgresSignalRepo {
	repo := &PostgresSignalRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// Insert records the inbound signal. Signals are immutable once recorded;
// a duplicate idempotency key is silently ignored here (the processor owns
// the duplicate-order guard).
func (r *PostgresSignalRepo) Insert(ctx context.Context, s *model.Signal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, bot_id, type, raw_payload, idempotency_key, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.BotID, string(s.Type), s.RawPayload, s.IdempotencyKey, s.ReceivedAt)
	return err
}

func (r *PostgresSignalRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE received_at < $1`, cutoff)
	return err
}

func (r *PostgresSignalRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL,
			type TEXT NOT NULL,
			raw_payload TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_signals_bot_received ON signals(bot_id, received_at DESC)`)
	return nil
}
