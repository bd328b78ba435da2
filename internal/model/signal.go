package model

import "time"

// SignalType is the normalized trading instruction derived from an alert.
type SignalType string

const (
	SignalLong  SignalType = "LONG"
	SignalShort SignalType = "SHORT"
	SignalClose SignalType = "CLOSE"
)

func (s SignalType) Valid() bool {
	switch s {
	case SignalLong, SignalShort, SignalClose:
		return true
	}
	return false
}

// Signal is an inbound trading instruction. Immutable once recorded;
// consumed exactly once per enqueue by the signal processor.
type Signal struct {
	ID             string     `json:"id" db:"id"`
	BotID          string     `json:"bot_id" db:"bot_id"`
	Type           SignalType `json:"type" db:"type"`
	RawPayload     string     `json:"raw_payload" db:"raw_payload"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	ReceivedAt     time.Time  `json:"received_at" db:"received_at"`
}

// SignalJob is the queue payload for one signal.
type SignalJob struct {
	BotID          string     `json:"bot_id"`
	SignalType     SignalType `json:"signal_type"`
	RawPayload     string     `json:"raw_payload"`
	IdempotencyKey string     `json:"idempotency_key"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// MetricsJob asks the metrics engine to recompute one bot's snapshot.
type MetricsJob struct {
	BotID string `json:"bot_id"`
}
