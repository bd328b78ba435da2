package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polypilot/internal/exchange"
	"github.com/GoPolymarket/polypilot/internal/market"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBots struct {
	bot *model.Bot
	key *model.BotKey
}

func (f *fakeBots) GetBot(_ context.Context, botID string) (*model.Bot, error) {
	if f.bot == nil || f.bot.ID != botID {
		return nil, repository.ErrNotFound
	}
	return f.bot, nil
}

func (f *fakeBots) GetBotKey(_ context.Context, _ string) (*model.BotKey, error) {
	if f.key == nil {
		return nil, repository.ErrNotFound
	}
	return f.key, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders []*model.Order
	fills  []model.Fill
}

func (m *memOrders) InsertOrder(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders = append(m.orders, &cp)
	return nil
}

func (m *memOrders) UpdateOrderStatus(_ context.Context, orderID string, status model.OrderStatus, rejectReason, exchangeOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == orderID {
			o.Status = status
			o.RejectReason = rejectReason
			o.ExchangeOrderID = exchangeOrderID
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memOrders) FindOrderByIdemKey(_ context.Context, botID, idemKey string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idemKey == "" {
		return nil, repository.ErrNotFound
	}
	var found *model.Order
	for _, o := range m.orders {
		if o.BotID == botID && o.IdempotencyKey == idemKey {
			if found == nil || o.PlacedAt.After(found.PlacedAt) {
				found = o
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m *memOrders) LastPlacedOrderAt(_ context.Context, botID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, o := range m.orders {
		if o.BotID == botID && o.Status != model.OrderRejected && o.PlacedAt.After(last) {
			last = o.PlacedAt
		}
	}
	return last, nil
}

func (m *memOrders) CountOrdersSince(_ context.Context, botID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, o := range m.orders {
		if o.BotID == botID && o.Status != model.OrderRejected && !o.PlacedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memOrders) InsertFill(_ context.Context, f *model.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, *f)
	return nil
}

func (m *memOrders) GetFillsForBot(_ context.Context, botID string) ([]model.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Fill
	for _, f := range m.fills {
		if f.BotID == botID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilledAt.Before(out[j].FilledAt) })
	return out, nil
}

func (m *memOrders) byStatus(status model.OrderStatus) []*model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

type fakeResolver struct {
	mkt *market.Market
	err error
}

func (f *fakeResolver) Resolve(context.Context, string, string) (*market.Market, error) {
	return f.mkt, f.err
}

type fakeExchange struct {
	mu          sync.Mutex
	submitErr   error
	prices      map[string]float64
	SubmitCalls int
}

func (f *fakeExchange) SubmitOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	f.SubmitCalls++
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &exchange.OrderResult{
		ExchangeOrderID: "ex-1",
		Status:          model.OrderFilled,
		FillPrice:       req.Price,
		FillSize:        req.Size,
		Fees:            0.05,
		FilledAt:        time.Now().UTC(),
	}, nil
}

func (f *fakeExchange) GetMarketPrice(_ context.Context, tokenID string) (float64, error) {
	if p, ok := f.prices[tokenID]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no price for %s", tokenID)
}

func (f *fakeExchange) GetResolutionStatus(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeExchange) Claim(context.Context, *model.BotKey, string) (*exchange.ClaimResult, error) {
	return nil, fmt.Errorf("not supported")
}

func testBot() *model.Bot {
	return &model.Bot{
		ID:     "bot-1",
		Status: model.BotActive,
		Config: model.BotConfig{
			Currency:     "BTC",
			Timeframe:    "1h",
			OrderSizeUSD: 50,
			SignalMap: map[string]model.SignalType{
				"buy":  model.SignalLong,
				"sell": model.SignalShort,
				"exit": model.SignalClose,
			},
			Risk: model.RiskLimits{
				CooldownMinutes: 15,
				MaxTradesPerDay: 5,
				MaxPositionUSD:  1000,
			},
		},
	}
}

func testMarket() *market.Market {
	return &market.Market{
		ConditionID: "cond-1",
		Slug:        "bitcoin-up-or-down",
		YesTokenID:  "tok-yes",
		NoTokenID:   "tok-no",
	}
}

func newTestProcessor(orders *memOrders, exch exchange.Client) (*Processor, *queue.MemoryQueue) {
	q := queue.NewMemoryQueue()
	p := New(
		&fakeBots{bot: testBot()},
		orders,
		&fakeResolver{mkt: testMarket()},
		exch,
		q,
		5*time.Second,
	)
	return p, q
}

func drainMetricsJobs(t *testing.T, q *queue.MemoryQueue) []*queue.Job {
	t.Helper()
	var jobs []*queue.Job
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		job, err := q.Dequeue(ctx, queue.JobTypeMetrics)
		cancel()
		if err != nil {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func TestProcessLongSignal(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.50, "tok-no": 0.50}}
	p, q := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID:          "bot-1",
		RawPayload:     "buy",
		IdempotencyKey: "k1",
		ReceivedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	filled := orders.byStatus(model.OrderFilled)
	require.Len(t, filled, 1)
	assert.Equal(t, model.SideBuy, filled[0].Side)
	assert.Equal(t, model.OutcomeYes, filled[0].Outcome)
	assert.Equal(t, "tok-yes", filled[0].TokenID)
	assert.InDelta(t, 100, filled[0].Size, 1e-9) // $50 at 0.50
	require.Len(t, orders.fills, 1)

	jobs := drainMetricsJobs(t, q)
	require.Len(t, jobs, 1)
	assert.Equal(t, "bot-1", jobs[0].Key)
}

func TestProcessShortBuysNo(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.60, "tok-no": 0.40}}
	p, _ := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "sell", IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	filled := orders.byStatus(model.OrderFilled)
	require.Len(t, filled, 1)
	assert.Equal(t, model.SideBuy, filled[0].Side)
	assert.Equal(t, model.OutcomeNo, filled[0].Outcome)
	assert.Equal(t, "tok-no", filled[0].TokenID)
}

func TestProcessDuplicateIdempotencyKey(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.50}}
	p, _ := newTestProcessor(orders, exch)

	sig := &model.SignalJob{BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k1"}
	require.NoError(t, p.Process(context.Background(), sig))
	require.NoError(t, p.Process(context.Background(), sig))

	// The redelivery must not place a second order.
	assert.Equal(t, 1, exch.SubmitCalls)
	assert.Len(t, orders.byStatus(model.OrderFilled), 1)
}

func TestProcessCooldownDenied(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.50}}
	p, _ := newTestProcessor(orders, exch)

	require.NoError(t, p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k1",
	}))
	// Second signal lands inside the 15 minute cooldown.
	require.NoError(t, p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k2",
	}))

	assert.Equal(t, 1, exch.SubmitCalls)
	rejected := orders.byStatus(model.OrderRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "cooldown_active", rejected[0].RejectReason)
}

func TestProcessUnknownSignalRejected(t *testing.T) {
	orders := &memOrders{}
	p, _ := newTestProcessor(orders, &fakeExchange{})

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "hodl", IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	rejected := orders.byStatus(model.OrderRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "unknown_signal_type", rejected[0].RejectReason)
}

func TestProcessExchangeTimeout(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{
		prices:    map[string]float64{"tok-yes": 0.50},
		submitErr: exchange.ErrTimeout,
	}
	p, _ := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k1",
	})
	require.NoError(t, err) // terminal outcome, no retry

	rejected := orders.byStatus(model.OrderRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "exchange_timeout", rejected[0].RejectReason)
	assert.Empty(t, orders.byStatus(model.OrderPending))
}

func TestProcessExchangeErrorRetryable(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{
		prices:    map[string]float64{"tok-yes": 0.50},
		submitErr: fmt.Errorf("connection refused"),
	}
	p, _ := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k1",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	// The failed attempt is rejected so the redelivery starts fresh.
	require.Len(t, orders.byStatus(model.OrderRejected), 1)
}

func TestProcessUnknownBot(t *testing.T) {
	p, _ := newTestProcessor(&memOrders{}, &fakeExchange{})

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "ghost", RawPayload: "buy", IdempotencyKey: "k1",
	})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.ErrDataIntegrity, apperrors.TypeOf(err))
}

func TestProcessInactiveBotDropped(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.50}}
	q := queue.NewMemoryQueue()
	bot := testBot()
	bot.Status = model.BotStopped
	p := New(&fakeBots{bot: bot}, orders, &fakeResolver{mkt: testMarket()}, exch, q, time.Second)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "buy", IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exch.SubmitCalls)
	assert.Empty(t, orders.orders)
}

func TestProcessCloseNoOpenPositions(t *testing.T) {
	orders := &memOrders{}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.50}}
	p, _ := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "exit", IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exch.SubmitCalls)
	assert.Empty(t, orders.orders)
}

func TestProcessCloseSellsOpenPosition(t *testing.T) {
	orders := &memOrders{}
	orders.fills = []model.Fill{{
		ID: "f1", OrderID: "o1", BotID: "bot-1",
		MarketID: "cond-1", TokenID: "tok-yes",
		Outcome: model.OutcomeYes, Side: model.SideBuy,
		Price: 0.40, Size: 10, FilledAt: time.Now().Add(-time.Hour).UTC(),
	}}
	exch := &fakeExchange{prices: map[string]float64{"tok-yes": 0.60}}
	p, _ := newTestProcessor(orders, exch)

	err := p.Process(context.Background(), &model.SignalJob{
		BotID: "bot-1", RawPayload: "exit", IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	filled := orders.byStatus(model.OrderFilled)
	require.Len(t, filled, 1)
	assert.Equal(t, model.SideSell, filled[0].Side)
	assert.InDelta(t, 10, filled[0].Size, 1e-9)
	assert.Equal(t, "cond-1", filled[0].MarketID)
}
