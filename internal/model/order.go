package model

import "time"

type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderCanceled OrderStatus = "CANCELED"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCanceled
}

// Order is a trade intent submitted toward the exchange. Terminal once
// filled, rejected or canceled.
type Order struct {
	ID              string      `json:"id" db:"id"`
	BotID           string      `json:"bot_id" db:"bot_id"`
	MarketID        string      `json:"market_id" db:"market_id"`
	TokenID         string      `json:"token_id" db:"token_id"`
	Outcome         Outcome     `json:"outcome" db:"outcome"`
	Side            Side        `json:"side" db:"side"`
	Price           float64     `json:"price" db:"price"`
	Size            float64     `json:"size" db:"size"`
	Status          OrderStatus `json:"status" db:"status"`
	RejectReason    string      `json:"reject_reason,omitempty" db:"reject_reason"`
	IdempotencyKey  string      `json:"idempotency_key" db:"idempotency_key"`
	ExchangeOrderID string      `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	PlacedAt        time.Time   `json:"placed_at" db:"placed_at"`
}

// Fill is a confirmed execution referencing exactly one order. Append-only.
type Fill struct {
	ID       string    `json:"id" db:"id"`
	OrderID  string    `json:"order_id" db:"order_id"`
	BotID    string    `json:"bot_id" db:"bot_id"`
	MarketID string    `json:"market_id" db:"market_id"`
	TokenID  string    `json:"token_id" db:"token_id"`
	Outcome  Outcome   `json:"outcome" db:"outcome"`
	Side     Side      `json:"side" db:"side"`
	Price    float64   `json:"price" db:"price"`
	Size     float64   `json:"size" db:"size"`
	Fees     float64   `json:"fees" db:"fees"`
	FilledAt time.Time `json:"filled_at" db:"filled_at"`
}
