package model

import "time"

type BotStatus string

const (
	BotCreated BotStatus = "created"
	BotActive  BotStatus = "active"
	BotStopped BotStatus = "stopped"
)

// RiskLimits is the per-bot risk configuration evaluated by the risk gate.
type RiskLimits struct {
	CooldownMinutes int     `json:"cooldown_minutes"`
	MaxTradesPerDay int     `json:"max_trades_per_day"`
	MaxPositionUSD  float64 `json:"max_position_usd"`
	MaxSlippageBps  int     `json:"max_slippage_bps"`
}

// BotConfig is the trading configuration owned by one bot.
// SignalMap translates the raw alert text (e.g. "buy", "golong") into a
// normalized SignalType; it is validated at bot creation time.
type BotConfig struct {
	Currency     string                `json:"currency"`  // e.g. "BTC"
	Timeframe    string                `json:"timeframe"` // e.g. "1h"
	OrderSizeUSD float64               `json:"order_size_usd"`
	SignalMap    map[string]SignalType `json:"signal_map"`
	Risk         RiskLimits            `json:"risk"`
}

// Bot is one automated position-taker wired to a TradingView alert.
type Bot struct {
	ID        string    `json:"id" db:"id"`
	Wallet    string    `json:"wallet" db:"wallet"`
	Name      string    `json:"name" db:"name"`
	Status    BotStatus `json:"status" db:"status"`
	Config    BotConfig `json:"config"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BotKey holds the signing key for a bot's orders. In production the
// private key should be encrypted at rest or held in a KMS.
type BotKey struct {
	BotID      string `json:"bot_id" db:"bot_id"`
	Address    string `json:"address" db:"address"`
	PrivateKey string `json:"-" db:"private_key"`
}
