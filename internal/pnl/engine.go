// Package pnl recomputes bot performance from the fill ledger. Every
// recompute is a full replay: the fills table is the source of truth and
// the bot_metrics row is a disposable cache of it.
package pnl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/shopspring/decimal"
)

// FillStore is the slice of the order repository the engine reads.
type FillStore interface {
	GetFillsForBot(ctx context.Context, botID string) ([]model.Fill, error)
}

// MetricsStore persists replay snapshots with version fencing.
type MetricsStore interface {
	Upsert(ctx context.Context, m *model.BotMetrics) error
}

// PriceSource prices open positions for unrealized PnL.
type PriceSource interface {
	GetMarketPrice(ctx context.Context, tokenID string) (float64, error)
}

// PositionKey identifies one position: a bot holds at most one position
// per (market, outcome) pair.
type PositionKey struct {
	MarketID string
	Outcome  model.Outcome
}

// Position is the open inventory accumulated by a replay. Cost is the
// net cash paid for the current shares, fees included.
type Position struct {
	TokenID string
	Shares  decimal.Decimal
	Cost    decimal.Decimal
}

// Replay is the pure outcome of walking a fill ledger in order.
type Replay struct {
	Open            map[PositionKey]Position
	RealizedPnl     decimal.Decimal
	CapitalDeployed decimal.Decimal
	ClosedTrades    int
	WinningTrades   int
	MaxDrawdown     float64
	Version         int64
}

// ReplayFills walks the ledger front to back, accumulating positions and
// closing them when their share count returns to zero. A closed trade
// whose net cost ended negative took more cash out than it put in, i.e.
// a win. Deterministic: same fills in, same numbers out.
func ReplayFills(fills []model.Fill) *Replay {
	r := &Replay{Open: make(map[PositionKey]Position)}

	running := decimal.Zero
	series := make([]float64, 0, len(fills)+1)
	series = append(series, 0)

	for _, f := range fills {
		price := decimal.NewFromFloat(f.Price)
		size := decimal.NewFromFloat(f.Size)
		fees := decimal.NewFromFloat(f.Fees)
		notional := price.Mul(size)

		key := PositionKey{MarketID: f.MarketID, Outcome: f.Outcome}
		pos := r.Open[key]
		if pos.TokenID == "" {
			pos.TokenID = f.TokenID
		}

		var flow decimal.Decimal
		switch f.Side {
		case model.SideBuy:
			pos.Shares = pos.Shares.Add(size)
			pos.Cost = pos.Cost.Add(notional).Add(fees)
			flow = notional.Add(fees).Neg()
		case model.SideSell:
			pos.Shares = pos.Shares.Sub(size)
			pos.Cost = pos.Cost.Sub(notional.Sub(fees))
			flow = notional.Sub(fees)
		}

		r.CapitalDeployed = r.CapitalDeployed.Add(notional).Add(fees)

		if pos.Shares.Sign() <= 0 {
			r.ClosedTrades++
			if pos.Cost.Sign() < 0 {
				r.WinningTrades++
			}
			r.RealizedPnl = r.RealizedPnl.Sub(pos.Cost)
			delete(r.Open, key)
		} else {
			r.Open[key] = pos
		}

		running = running.Add(flow)
		series = append(series, running.InexactFloat64())

		if v := f.FilledAt.UnixNano(); v > r.Version {
			r.Version = v
		}
	}

	r.MaxDrawdown = Drawdown(series)
	return r
}

// Drawdown returns the most negative peak-to-trough move over a running
// value series, zero or negative. [0, 5, 2, 8, -3, 4] yields -11.
func Drawdown(series []float64) float64 {
	var peak, worst float64
	for i, v := range series {
		if i == 0 || v > peak {
			peak = v
		}
		if d := v - peak; d < worst {
			worst = d
		}
	}
	return worst
}

// OpenNotional is the cash currently tied up in open positions, used by
// the risk gate's position cap.
func (r *Replay) OpenNotional() float64 {
	total := decimal.Zero
	for _, pos := range r.Open {
		if pos.Cost.Sign() > 0 {
			total = total.Add(pos.Cost)
		}
	}
	return total.InexactFloat64()
}

// Engine turns fill ledgers into bot_metrics snapshots.
type Engine struct {
	fills   FillStore
	store   MetricsStore
	pricer  PriceSource
	nowFunc func() time.Time
}

func NewEngine(fills FillStore, store MetricsStore, pricer PriceSource) *Engine {
	return &Engine{fills: fills, store: store, pricer: pricer, nowFunc: time.Now}
}

// HandleJob is the queue.HandlerFunc for metrics jobs. Replays are
// idempotent, so at-least-once delivery needs no dedup here.
func (e *Engine) HandleJob(ctx context.Context, job *queue.Job) error {
	var mj model.MetricsJob
	if err := json.Unmarshal(job.Payload, &mj); err != nil {
		return apperrors.NewDataIntegrity("malformed metrics job payload", err)
	}
	_, err := e.Recompute(ctx, mj.BotID)
	return err
}

// Recompute replays the bot's full ledger and upserts the snapshot.
// A price lookup failure aborts the whole recompute; a half-priced
// snapshot would mix fresh and stale marks.
func (e *Engine) Recompute(ctx context.Context, botID string) (*model.BotMetrics, error) {
	log := logger.Component("pnl").With("bot_id", botID)

	fills, err := e.fills.GetFillsForBot(ctx, botID)
	if err != nil {
		metrics.MetricsRecomputes.WithLabelValues("error").Inc()
		return nil, apperrors.NewTransient("failed to load fills", err)
	}

	r := ReplayFills(fills)

	unrealized := decimal.Zero
	for _, pos := range r.Open {
		price, err := e.pricer.GetMarketPrice(ctx, pos.TokenID)
		if err != nil {
			metrics.MetricsRecomputes.WithLabelValues("error").Inc()
			return nil, apperrors.NewTransient("failed to price open position", err)
		}
		mark := pos.Shares.Mul(decimal.NewFromFloat(price))
		unrealized = unrealized.Add(mark.Sub(pos.Cost))
	}

	pnl := r.RealizedPnl.Add(unrealized)

	roi := decimal.Zero
	if r.CapitalDeployed.Sign() > 0 {
		roi = pnl.Div(r.CapitalDeployed).Mul(decimal.NewFromInt(100))
	}

	winRate := 0.0
	if r.ClosedTrades > 0 {
		winRate = float64(r.WinningTrades) / float64(r.ClosedTrades) * 100
	}

	snapshot := &model.BotMetrics{
		BotID:       botID,
		PnlUSD:      pnl.InexactFloat64(),
		RoiPct:      roi.InexactFloat64(),
		Trades:      r.ClosedTrades,
		WinRate:     winRate,
		MaxDrawdown: r.MaxDrawdown,
		Version:     r.Version,
		UpdatedAt:   e.nowFunc().UTC(),
	}

	if err := e.store.Upsert(ctx, snapshot); err != nil {
		metrics.MetricsRecomputes.WithLabelValues("error").Inc()
		return nil, apperrors.NewTransient("failed to upsert metrics", err)
	}

	metrics.MetricsRecomputes.WithLabelValues("ok").Inc()
	log.Debug("metrics recomputed",
		"pnl_usd", snapshot.PnlUSD,
		"trades", snapshot.Trades,
		"open_positions", len(r.Open),
		"version", snapshot.Version)
	return snapshot, nil
}
