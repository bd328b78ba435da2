package exchange

import (
	"context"
	"testing"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tablePrices map[string]float64

func (p tablePrices) Price(_ context.Context, tokenID string) (float64, error) {
	return p[tokenID], nil
}

func TestMockSubmitOrderFills(t *testing.T) {
	m := NewMockClient(tablePrices{"tok-yes": 0.50}, 50, 100)
	m.Seed(42)

	res, err := m.SubmitOrder(context.Background(), OrderRequest{
		TokenID: "tok-yes",
		Side:    model.SideBuy,
		Price:   0.50,
		Size:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, res.Status)
	assert.Equal(t, 100.0, res.FillSize)
	// Buy slippage pushes the price up, at most 50 bps.
	assert.GreaterOrEqual(t, res.FillPrice, 0.50)
	assert.LessOrEqual(t, res.FillPrice, 0.50*1.005)
	assert.Greater(t, res.Fees, 0.0)
	assert.NotEmpty(t, res.ExchangeOrderID)
}

func TestMockSubmitOrderSellSlippage(t *testing.T) {
	m := NewMockClient(tablePrices{"tok-yes": 0.50}, 50, 0)
	m.Seed(7)

	res, err := m.SubmitOrder(context.Background(), OrderRequest{
		TokenID: "tok-yes",
		Side:    model.SideSell,
		Price:   0.50,
		Size:    10,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.FillPrice, 0.50)
	assert.GreaterOrEqual(t, res.FillPrice, 0.50*0.995)
}

func TestMockSubmitOrderCancelledContext(t *testing.T) {
	m := NewMockClient(tablePrices{"tok-yes": 0.50}, 50, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.SubmitOrder(ctx, OrderRequest{TokenID: "tok-yes", Side: model.SideBuy, Price: 0.5, Size: 1})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMockClaimLifecycle(t *testing.T) {
	m := NewMockClient(tablePrices{}, 1, 0)

	// Unresolved market cannot be claimed.
	_, err := m.Claim(context.Background(), nil, "cond-1")
	assert.Error(t, err)

	m.SetResolved("cond-1", 25)
	resolved, err := m.GetResolutionStatus(context.Background(), "cond-1")
	require.NoError(t, err)
	assert.True(t, resolved)

	res, err := m.Claim(context.Background(), nil, "cond-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, res.AmountUSDC)
	assert.False(t, res.AlreadyClaimed)

	// Claiming twice is an idempotent no-op.
	res, err = m.Claim(context.Background(), nil, "cond-1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyClaimed)
}

func TestCLOBClientRequiresConfirmedLiveMode(t *testing.T) {
	_, err := NewCLOBClient(safety.Mock(), config.PolymarketConfig{}, nil, nil, "")
	assert.Error(t, err)

	_, err = NewCLOBClient(nil, config.PolymarketConfig{}, nil, nil, "")
	assert.Error(t, err)
}
