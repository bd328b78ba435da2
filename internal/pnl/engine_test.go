package pnl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(side model.Side, price, size, fees float64, at time.Time) model.Fill {
	return model.Fill{
		ID:       fmt.Sprintf("f-%d", at.UnixNano()),
		OrderID:  "o-1",
		BotID:    "bot-1",
		MarketID: "cond-1",
		TokenID:  "tok-yes",
		Outcome:  model.OutcomeYes,
		Side:     side,
		Price:    price,
		Size:     size,
		Fees:     fees,
		FilledAt: at,
	}
}

func TestReplayRoundTrip(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	fills := []model.Fill{
		fill(model.SideBuy, 0.40, 10, 0.10, t0),
		fill(model.SideSell, 0.60, 10, 0.05, t0.Add(time.Hour)),
	}

	r := ReplayFills(fills)

	// Buy 10 @ 0.40 (+0.10 fees) costs 4.10; sell 10 @ 0.60 (-0.05 fees)
	// returns 5.95. Net +1.85, one winning trade.
	assert.InDelta(t, 1.85, r.RealizedPnl.InexactFloat64(), 1e-9)
	assert.Equal(t, 1, r.ClosedTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Empty(t, r.Open)
	assert.Equal(t, t0.Add(time.Hour).UnixNano(), r.Version)
}

func TestReplayOpenPosition(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	r := ReplayFills([]model.Fill{fill(model.SideBuy, 0.40, 10, 0, t0)})

	require.Len(t, r.Open, 1)
	pos := r.Open[PositionKey{MarketID: "cond-1", Outcome: model.OutcomeYes}]
	assert.Equal(t, "tok-yes", pos.TokenID)
	assert.InDelta(t, 10, pos.Shares.InexactFloat64(), 1e-9)
	assert.InDelta(t, 4.0, pos.Cost.InexactFloat64(), 1e-9)
	assert.InDelta(t, 4.0, r.OpenNotional(), 1e-9)
	assert.Equal(t, 0, r.ClosedTrades)
}

func TestReplayLosingTrade(t *testing.T) {
	t0 := time.Now().UTC()
	fills := []model.Fill{
		fill(model.SideBuy, 0.60, 10, 0, t0),
		fill(model.SideSell, 0.40, 10, 0, t0.Add(time.Minute)),
	}
	r := ReplayFills(fills)
	assert.InDelta(t, -2.0, r.RealizedPnl.InexactFloat64(), 1e-9)
	assert.Equal(t, 1, r.ClosedTrades)
	assert.Equal(t, 0, r.WinningTrades)
}

func TestReplayDeterministic(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	fills := []model.Fill{
		fill(model.SideBuy, 0.33, 30, 0.07, t0),
		fill(model.SideSell, 0.61, 30, 0.11, t0.Add(time.Minute)),
		fill(model.SideBuy, 0.52, 19, 0.04, t0.Add(2*time.Minute)),
	}

	a := ReplayFills(fills)
	b := ReplayFills(fills)
	assert.True(t, a.RealizedPnl.Equal(b.RealizedPnl))
	assert.True(t, a.CapitalDeployed.Equal(b.CapitalDeployed))
	assert.Equal(t, a.MaxDrawdown, b.MaxDrawdown)
	assert.Equal(t, a.Version, b.Version)
}

func TestDrawdown(t *testing.T) {
	assert.Equal(t, -11.0, Drawdown([]float64{0, 5, 2, 8, -3, 4}))
	assert.Equal(t, 0.0, Drawdown([]float64{0, 1, 2, 3}))
	assert.Equal(t, 0.0, Drawdown(nil))
	assert.Equal(t, -5.0, Drawdown([]float64{0, -5}))
}

type fakeFillStore struct {
	fills []model.Fill
	err   error
}

func (f *fakeFillStore) GetFillsForBot(context.Context, string) ([]model.Fill, error) {
	return f.fills, f.err
}

type fakeMetricsStore struct {
	last *model.BotMetrics
}

func (s *fakeMetricsStore) Upsert(_ context.Context, m *model.BotMetrics) error {
	// Version fence, same as the SQL upsert.
	if s.last != nil && s.last.Version > m.Version {
		return nil
	}
	s.last = m
	return nil
}

type fakePricer struct {
	prices map[string]float64
}

func (p *fakePricer) GetMarketPrice(_ context.Context, tokenID string) (float64, error) {
	v, ok := p.prices[tokenID]
	if !ok {
		return 0, fmt.Errorf("no price for %s", tokenID)
	}
	return v, nil
}

func TestEngineRecompute(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	store := &fakeMetricsStore{}
	engine := NewEngine(&fakeFillStore{fills: []model.Fill{
		fill(model.SideBuy, 0.40, 10, 0.10, t0),
		fill(model.SideSell, 0.60, 10, 0.05, t0.Add(time.Hour)),
	}}, store, &fakePricer{})

	m, err := engine.Recompute(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.InDelta(t, 1.85, m.PnlUSD, 1e-9)
	assert.Equal(t, 1, m.Trades)
	assert.Equal(t, 100.0, m.WinRate)
	assert.Equal(t, t0.Add(time.Hour).UnixNano(), m.Version)
	require.NotNil(t, store.last)
	assert.Equal(t, m.Version, store.last.Version)
}

func TestEngineRecomputeUnrealized(t *testing.T) {
	t0 := time.Now().UTC()
	engine := NewEngine(
		&fakeFillStore{fills: []model.Fill{fill(model.SideBuy, 0.40, 10, 0, t0)}},
		&fakeMetricsStore{},
		&fakePricer{prices: map[string]float64{"tok-yes": 0.55}},
	)

	m, err := engine.Recompute(context.Background(), "bot-1")
	require.NoError(t, err)
	// Marked at 0.55: 5.50 - 4.00 cost = +1.50 unrealized.
	assert.InDelta(t, 1.5, m.PnlUSD, 1e-9)
	assert.Equal(t, 0, m.Trades)
}

func TestEngineRecomputePriceFailureAborts(t *testing.T) {
	t0 := time.Now().UTC()
	store := &fakeMetricsStore{}
	engine := NewEngine(
		&fakeFillStore{fills: []model.Fill{fill(model.SideBuy, 0.40, 10, 0, t0)}},
		store,
		&fakePricer{}, // no prices
	)

	_, err := engine.Recompute(context.Background(), "bot-1")
	assert.Error(t, err)
	assert.Nil(t, store.last)
}

func TestEngineRecomputeEmptyLedger(t *testing.T) {
	store := &fakeMetricsStore{}
	engine := NewEngine(&fakeFillStore{}, store, &fakePricer{})

	m, err := engine.Recompute(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Zero(t, m.PnlUSD)
	assert.Zero(t, m.Trades)
	assert.Zero(t, m.Version)
}
