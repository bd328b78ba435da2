package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("not found")

type PostgresBotRepo struct {
	db *sqlx.DB
}

func NewPostgresBotRepo(db *sqlx.DB) *PostgresBotRepo {
	repo := &PostgresBotRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresBotRepo) GetBot(ctx context.Context, botID string) (*model.Bot, error) {
	var row struct {
		ID        string    `db:"id"`
		Wallet    string    `db:"wallet"`
		Name      string    `db:"name"`
		Status    string    `db:"status"`
		Config    []byte    `db:"config"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT id, wallet, name, status, config, created_at FROM bots WHERE id = $1`, botID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	bot := &model.Bot{
		ID:        row.ID,
		Wallet:    row.Wallet,
		Name:      row.Name,
		Status:    model.BotStatus(row.Status),
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal(row.Config, &bot.Config); err != nil {
		return nil, fmt.Errorf("bot %s has corrupt config: %w", botID, err)
	}
	return bot, nil
}

func (r *PostgresBotRepo) ListActiveBots(ctx context.Context) ([]model.Bot, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, wallet, name, status, config, created_at FROM bots WHERE status = $1`,
		string(model.BotActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []model.Bot
	for rows.Next() {
		var id, wallet, name, status string
		var cfg []byte
		var createdAt time.Time
		if err := rows.Scan(&id, &wallet, &name, &status, &cfg, &createdAt); err != nil {
			return nil, err
		}
		bot := model.Bot{
			ID:        id,
			Wallet:    wallet,
			Name:      name,
			Status:    model.BotStatus(status),
			CreatedAt: createdAt,
		}
		if err := json.Unmarshal(cfg, &bot.Config); err != nil {
			return nil, fmt.Errorf("bot %s has corrupt config: %w", id, err)
		}
		bots = append(bots, bot)
	}
	return bots, rows.Err()
}

func (r *PostgresBotRepo) CreateBot(ctx context.Context, bot *model.Bot) error {
	cfg, err := json.Marshal(bot.Config)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO bots (id, wallet, name, status, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, bot.ID, bot.Wallet, bot.Name, string(bot.Status), cfg, bot.CreatedAt)
	return err
}

func (r *PostgresBotRepo) SetStatus(ctx context.Context, botID string, status model.BotStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bots SET status = $2 WHERE id = $1`, botID, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresBotRepo) GetBotKey(ctx context.Context, botID string) (*model.BotKey, error) {
	var key model.BotKey
	err := r.db.GetContext(ctx, &key,
		`SELECT bot_id, address, private_key FROM bot_keys WHERE bot_id = $1`, botID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

func (r *PostgresBotRepo) PutBotKey(ctx context.Context, key *model.BotKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_keys (bot_id, address, private_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (bot_id) DO UPDATE SET address = $2, private_key = $3
	`, key.BotID, key.Address, key.PrivateKey)
	return err
}

func (r *PostgresBotRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'created',
			config JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bot_keys (
			bot_id TEXT PRIMARY KEY REFERENCES bots(id),
			address TEXT NOT NULL,
			private_key TEXT NOT NULL
		)
	`)
	return err
}
