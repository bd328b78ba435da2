package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ClaimRecord is one claim attempt by the scanner.
type ClaimRecord struct {
	BotID       string    `db:"bot_id"`
	ConditionID string    `db:"condition_id"`
	AmountUSDC  float64   `db:"amount_usdc"`
	TxRef       string    `db:"tx_ref"`
	Success     bool      `db:"success"`
	Error       string    `db:"error"`
	ClaimedAt   time.Time `db:"claimed_at"`
}

type PostgresClaimRepo struct {
	db *sqlx.DB
}

func NewPostgresClaimRepo(db *sqlx.DB) *PostgresClaimRepo {
	repo := &PostgresClaimRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresClaimRepo) Record(ctx context.Context, rec *ClaimRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO claims (bot_id, condition_id, amount_usdc, tx_ref, success, error, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bot_id, condition_id) DO UPDATE SET
			amount_usdc = $3, tx_ref = $4, success = $5, error = $6, claimed_at = $7
	`, rec.BotID, rec.ConditionID, rec.AmountUSDC, rec.TxRef, rec.Success, rec.Error, rec.ClaimedAt)
	return err
}

// AlreadyClaimed makes a re-scan of a settled bot a cheap no-op.
func (r *PostgresClaimRepo) AlreadyClaimed(ctx context.Context, botID, conditionID string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM claims
		WHERE bot_id = $1 AND condition_id = $2 AND success = true
	`, botID, conditionID)
	return count > 0, err
}

func (r *PostgresClaimRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS claims (
			bot_id TEXT NOT NULL,
			condition_id TEXT NOT NULL,
			amount_usdc DOUBLE PRECISION NOT NULL DEFAULT 0,
			tx_ref TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL DEFAULT false,
			error TEXT NOT NULL DEFAULT '',
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (bot_id, condition_id)
		)
	`)
	return err
}
