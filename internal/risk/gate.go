package risk

import (
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// DenyReason is the machine-readable policy verdict recorded on the order.
type DenyReason string

const (
	DenyCooldownActive      DenyReason = "cooldown_active"
	DenyDailyCapReached     DenyReason = "daily_cap_reached"
	DenyPositionCapExceeded DenyReason = "position_cap_exceeded"
	DenyUnknownSignalType   DenyReason = "unknown_signal_type"
)

// Verdict is the gate's advisory output. The signal processor is
// responsible for acting on it.
type Verdict struct {
	Allowed bool
	Reason  DenyReason
}

func Allow() Verdict {
	return Verdict{Allowed: true}
}

func Deny(reason DenyReason) Verdict {
	metrics.RiskRejects.WithLabelValues(string(reason)).Inc()
	return Verdict{Allowed: false, Reason: reason}
}

// History is the slice of the bot's recent order activity the gate needs.
// Collected by the caller; the gate itself performs no I/O.
type History struct {
	LastOrderAt     time.Time // zero value when the bot never traded
	TradesToday     int       // orders placed since local-day start
	OpenNotionalUSD float64   // current open exposure from the fill ledger
}

// Evaluate checks one mapped signal against the bot's limits.
//
// A CLOSE signal only reduces exposure, so it bypasses the cooldown and
// daily-cap checks and is judged against the open position alone.
func Evaluate(sig model.SignalType, orderNotionalUSD float64, limits model.RiskLimits, hist History, now time.Time) Verdict {
	if !sig.Valid() {
		return Deny(DenyUnknownSignalType)
	}

	if sig == model.SignalClose {
		return Allow()
	}

	if limits.CooldownMinutes > 0 && !hist.LastOrderAt.IsZero() {
		cooldown := time.Duration(limits.CooldownMinutes) * time.Minute
		if now.Sub(hist.LastOrderAt) < cooldown {
			return Deny(DenyCooldownActive)
		}
	}

	if limits.MaxTradesPerDay > 0 && hist.TradesToday >= limits.MaxTradesPerDay {
		return Deny(DenyDailyCapReached)
	}

	if limits.MaxPositionUSD > 0 {
		open := decimal.NewFromFloat(hist.OpenNotionalUSD)
		proposed := decimal.NewFromFloat(orderNotionalUSD)
		cap := decimal.NewFromFloat(limits.MaxPositionUSD)
		if open.Add(proposed).GreaterThan(cap) {
			return Deny(DenyPositionCapExceeded)
		}
	}

	return Allow()
}

// DayStart returns the local-day boundary used for the daily trade cap.
func DayStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
