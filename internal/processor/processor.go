// Package processor turns queued signals into terminal orders. One
// Process call owns the whole pipeline: idempotency, risk gate, market
// resolution, exchange submission and ledger writes. The worker pool
// serializes calls per bot, so the gate's history reads are never stale.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polypilot/internal/exchange"
	"github.com/GoPolymarket/polypilot/internal/market"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
	"github.com/GoPolymarket/polypilot/internal/pnl"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/GoPolymarket/polypilot/internal/risk"
	"github.com/google/uuid"
)

// BotStore is the slice of the bot repository the processor needs.
type BotStore interface {
	GetBot(ctx context.Context, botID string) (*model.Bot, error)
	GetBotKey(ctx context.Context, botID string) (*model.BotKey, error)
}

// OrderStore covers order history reads for the risk gate and ledger
// writes for executions.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *model.Order) error
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, rejectReason, exchangeOrderID string) error
	FindOrderByIdemKey(ctx context.Context, botID, idemKey string) (*model.Order, error)
	LastPlacedOrderAt(ctx context.Context, botID string) (time.Time, error)
	CountOrdersSince(ctx context.Context, botID string, since time.Time) (int, error)
	InsertFill(ctx context.Context, f *model.Fill) error
	GetFillsForBot(ctx context.Context, botID string) ([]model.Fill, error)
}

// MarketResolver finds the tradable market for a currency/timeframe pair.
type MarketResolver interface {
	Resolve(ctx context.Context, currency, timeframe string) (*market.Market, error)
}

type Processor struct {
	bots    BotStore
	orders  OrderStore
	markets MarketResolver
	exch    exchange.Client
	q       queue.Queue
	timeout time.Duration
	nowFunc func() time.Time
}

func New(bots BotStore, orders OrderStore, markets MarketResolver, exch exchange.Client, q queue.Queue, exchangeTimeout time.Duration) *Processor {
	if exchangeTimeout <= 0 {
		exchangeTimeout = 10 * time.Second
	}
	return &Processor{
		bots:    bots,
		orders:  orders,
		markets: markets,
		exch:    exch,
		q:       q,
		timeout: exchangeTimeout,
		nowFunc: time.Now,
	}
}

// HandleJob is the queue.HandlerFunc for signal jobs.
func (p *Processor) HandleJob(ctx context.Context, job *queue.Job) error {
	var sig model.SignalJob
	if err := json.Unmarshal(job.Payload, &sig); err != nil {
		return apperrors.NewDataIntegrity("malformed signal job payload", err)
	}
	return p.Process(ctx, &sig)
}

// Process executes one signal end to end. It returns nil for every
// expected terminal outcome, including risk denials and exchange
// timeouts; only failures worth a re-delivery return a retryable error.
func (p *Processor) Process(ctx context.Context, sig *model.SignalJob) error {
	start := p.nowFunc()
	outcome := "error"
	defer func() {
		metrics.SignalLatency.WithLabelValues(outcome).Observe(p.nowFunc().Sub(start).Seconds())
	}()

	log := logger.Component("processor").With("bot_id", sig.BotID)

	// At-least-once delivery: a key that already produced a live order is
	// a duplicate. Rejected orders do not count, so a redelivered job can
	// finish work that failed before reaching the exchange.
	if sig.IdempotencyKey != "" {
		prior, err := p.orders.FindOrderByIdemKey(ctx, sig.BotID, sig.IdempotencyKey)
		if err == nil && prior.Status != model.OrderRejected {
			log.Info("duplicate signal, order exists", "order_id", prior.ID, "idempotency_key", sig.IdempotencyKey)
			outcome = "duplicate"
			return nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewTransient("idempotency lookup failed", err)
		}
	}

	bot, err := p.bots.GetBot(ctx, sig.BotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewDataIntegrity(fmt.Sprintf("bot %s not found", sig.BotID), err)
		}
		return apperrors.NewTransient("bot lookup failed", err)
	}
	if bot.Status != model.BotActive {
		log.Info("signal for inactive bot dropped", "status", bot.Status)
		outcome = "inactive"
		return nil
	}

	sigType := sig.SignalType
	if !sigType.Valid() {
		if mapped, ok := MapSignal(sig.RawPayload, bot.Config.SignalMap); ok {
			sigType = mapped
		}
	}

	fills, err := p.orders.GetFillsForBot(ctx, sig.BotID)
	if err != nil {
		return apperrors.NewTransient("fill history lookup failed", err)
	}
	replay := pnl.ReplayFills(fills)

	now := p.nowFunc()
	hist, err := p.history(ctx, sig.BotID, replay, now)
	if err != nil {
		return err
	}

	verdict := risk.Evaluate(sigType, bot.Config.OrderSizeUSD, bot.Config.Risk, hist, now)
	if !verdict.Allowed {
		log.Info("signal denied by risk gate", "reason", verdict.Reason, "signal", sigType)
		if err := p.recordDenied(ctx, bot, sig, verdict.Reason, now); err != nil {
			return apperrors.NewTransient("failed to record denied order", err)
		}
		outcome = "denied"
		return nil
	}

	key, err := p.botKey(ctx, sig.BotID)
	if err != nil {
		return err
	}

	intent, err := ResolveIntent(sigType)
	if err != nil {
		return apperrors.NewDataIntegrity("unresolvable signal intent", err)
	}

	if intent.Exit {
		outcome, err = p.closePositions(ctx, bot, sig, replay, key, log)
		return err
	}
	outcome, err = p.openPosition(ctx, bot, sig, intent, key, log)
	return err
}

// history assembles the risk gate's inputs from the order ledger.
func (p *Processor) history(ctx context.Context, botID string, replay *pnl.Replay, now time.Time) (risk.History, error) {
	lastAt, err := p.orders.LastPlacedOrderAt(ctx, botID)
	if err != nil {
		return risk.History{}, apperrors.NewTransient("last order lookup failed", err)
	}
	tradesToday, err := p.orders.CountOrdersSince(ctx, botID, risk.DayStart(now))
	if err != nil {
		return risk.History{}, apperrors.NewTransient("daily trade count failed", err)
	}
	return risk.History{
		LastOrderAt:     lastAt,
		TradesToday:     tradesToday,
		OpenNotionalUSD: replay.OpenNotional(),
	}, nil
}

func (p *Processor) botKey(ctx context.Context, botID string) (*model.BotKey, error) {
	key, err := p.bots.GetBotKey(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Mock-mode bots trade without a signing key.
			return nil, nil
		}
		return nil, apperrors.NewTransient("bot key lookup failed", err)
	}
	return key, nil
}

// openPosition handles LONG and SHORT: one BUY of the resolved outcome
// token sized to the bot's configured order size.
func (p *Processor) openPosition(ctx context.Context, bot *model.Bot, sig *model.SignalJob, intent Intent, key *model.BotKey, log *slog.Logger) (string, error) {
	mkt, err := p.markets.Resolve(ctx, bot.Config.Currency, bot.Config.Timeframe)
	if err != nil {
		return "error", apperrors.NewTransient("market resolution failed", err)
	}
	tokenID := mkt.TokenFor(intent.Outcome)

	price, err := p.exch.GetMarketPrice(ctx, tokenID)
	if err != nil {
		return "error", apperrors.NewTransient("price lookup failed", err)
	}
	if price <= 0 {
		return "error", apperrors.NewTransient(fmt.Sprintf("no price for token %s", tokenID), nil)
	}
	size := bot.Config.OrderSizeUSD / price

	order := &model.Order{
		ID:             uuid.NewString(),
		BotID:          bot.ID,
		MarketID:       mkt.ConditionID,
		TokenID:        tokenID,
		Outcome:        intent.Outcome,
		Side:           intent.Side,
		Price:          price,
		Size:           size,
		Status:         model.OrderPending,
		IdempotencyKey: sig.IdempotencyKey,
		PlacedAt:       p.nowFunc().UTC(),
	}
	return p.execute(ctx, order, mkt, key, log)
}

// closePositions handles CLOSE: sell every open position the replay
// found, one order per position. No open inventory is a clean no-op.
func (p *Processor) closePositions(ctx context.Context, bot *model.Bot, sig *model.SignalJob, replay *pnl.Replay, key *model.BotKey, log *slog.Logger) (string, error) {
	if len(replay.Open) == 0 {
		log.Info("close signal with no open positions")
		return "noop", nil
	}

	outcome := "filled"
	for pk, pos := range replay.Open {
		price, err := p.exch.GetMarketPrice(ctx, pos.TokenID)
		if err != nil {
			return "error", apperrors.NewTransient("price lookup failed", err)
		}

		idemKey := sig.IdempotencyKey
		if idemKey != "" {
			// One close signal can fan out into several orders; suffix the
			// key so each position keeps its own idempotency scope.
			idemKey = idemKey + ":" + pk.MarketID
		}

		order := &model.Order{
			ID:             uuid.NewString(),
			BotID:          bot.ID,
			MarketID:       pk.MarketID,
			TokenID:        pos.TokenID,
			Outcome:        pk.Outcome,
			Side:           model.SideSell,
			Price:          price,
			Size:           pos.Shares.InexactFloat64(),
			Status:         model.OrderPending,
			IdempotencyKey: idemKey,
			PlacedAt:       p.nowFunc().UTC(),
		}
		o, err := p.execute(ctx, order, &market.Market{ConditionID: pk.MarketID}, key, log)
		if err != nil {
			return o, err
		}
		if o != "filled" {
			outcome = o
		}
	}
	return outcome, nil
}

// execute persists the order, submits it under the exchange deadline and
// records the terminal state. A timeout is terminal: the order flips to
// REJECTED rather than lingering PENDING, and the job is not retried
// because the exchange may have accepted the original.
func (p *Processor) execute(ctx context.Context, order *model.Order, mkt *market.Market, key *model.BotKey, log *slog.Logger) (string, error) {
	if err := p.orders.InsertOrder(ctx, order); err != nil {
		return "error", apperrors.NewTransient("failed to persist order", err)
	}

	subCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.exch.SubmitOrder(subCtx, exchange.OrderRequest{
		Market:  mkt,
		TokenID: order.TokenID,
		Outcome: order.Outcome,
		Side:    order.Side,
		Price:   order.Price,
		Size:    order.Size,
		Key:     key,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrTimeout) || errors.Is(subCtx.Err(), context.DeadlineExceeded) {
			log.Warn("exchange timeout, order rejected", "order_id", order.ID)
			if uerr := p.orders.UpdateOrderStatus(ctx, order.ID, model.OrderRejected, "exchange_timeout", ""); uerr != nil {
				return "error", apperrors.NewTransient("failed to reject timed-out order", uerr)
			}
			metrics.OrdersTotal.WithLabelValues(string(model.OrderRejected), string(order.Side)).Inc()
			return "timeout", nil
		}
		// The order never reached the exchange; reject it so a redelivery
		// is free to try again under a fresh order.
		if uerr := p.orders.UpdateOrderStatus(ctx, order.ID, model.OrderRejected, "exchange_error", ""); uerr != nil {
			log.Error("failed to reject errored order", "order_id", order.ID, "error", uerr)
		}
		return "error", apperrors.NewTransient("exchange submission failed", err)
	}

	if err := p.orders.UpdateOrderStatus(ctx, order.ID, res.Status, "", res.ExchangeOrderID); err != nil {
		return "error", apperrors.NewTransient("failed to finalize order", err)
	}
	metrics.OrdersTotal.WithLabelValues(string(res.Status), string(order.Side)).Inc()

	if res.Status == model.OrderFilled {
		fill := &model.Fill{
			ID:       uuid.NewString(),
			OrderID:  order.ID,
			BotID:    order.BotID,
			MarketID: order.MarketID,
			TokenID:  order.TokenID,
			Outcome:  order.Outcome,
			Side:     order.Side,
			Price:    res.FillPrice,
			Size:     res.FillSize,
			Fees:     res.Fees,
			FilledAt: res.FilledAt,
		}
		if err := p.orders.InsertFill(ctx, fill); err != nil {
			return "error", apperrors.NewTransient("failed to persist fill", err)
		}
		p.enqueueRecompute(ctx, order.BotID, log)
		log.Info("order filled",
			"order_id", order.ID,
			"market", order.MarketID,
			"side", order.Side,
			"price", res.FillPrice,
			"size", res.FillSize)
		return "filled", nil
	}

	log.Info("order terminal without fill", "order_id", order.ID, "status", res.Status)
	return "unfilled", nil
}

// recordDenied persists the risk-gate verdict as a REJECTED order so the
// denial is auditable from the order history alone.
func (p *Processor) recordDenied(ctx context.Context, bot *model.Bot, sig *model.SignalJob, reason risk.DenyReason, now time.Time) error {
	order := &model.Order{
		ID:             uuid.NewString(),
		BotID:          bot.ID,
		Status:         model.OrderRejected,
		RejectReason:   string(reason),
		IdempotencyKey: sig.IdempotencyKey,
		PlacedAt:       now.UTC(),
	}
	if err := p.orders.InsertOrder(ctx, order); err != nil {
		return err
	}
	metrics.OrdersTotal.WithLabelValues(string(model.OrderRejected), "").Inc()
	return nil
}

// enqueueRecompute schedules a metrics replay. Best effort: the snapshot
// is a cache of the ledger and the next fill will schedule another one.
func (p *Processor) enqueueRecompute(ctx context.Context, botID string, log *slog.Logger) {
	job, err := queue.NewJob(queue.JobTypeMetrics, botID, model.MetricsJob{BotID: botID}, "")
	if err != nil {
		log.Error("failed to build metrics job", "error", err)
		return
	}
	if err := p.q.Enqueue(ctx, job); err != nil && !errors.Is(err, queue.ErrDuplicate) {
		log.Error("failed to enqueue metrics job", "error", err)
	}
}
