package model

import "time"

// BotMetrics is the latest performance snapshot for a bot. It is always
// fully overwritten by a ledger replay, never partially updated. Version is
// the high-water UnixNano of the fill history that produced the snapshot;
// an upsert with a lower version is discarded.
type BotMetrics struct {
	BotID       string    `json:"bot_id" db:"bot_id"`
	PnlUSD      float64   `json:"pnl_usd" db:"pnl_usd"`
	RoiPct      float64   `json:"roi_pct" db:"roi_pct"`
	Trades      int       `json:"trades" db:"trades"`
	WinRate     float64   `json:"win_rate" db:"win_rate"`
	MaxDrawdown float64   `json:"max_drawdown" db:"max_drawdown"`
	Version     int64     `json:"version" db:"version"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
