package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSource provides a reference price for a token. The live price feed
// implements it; tests inject a fixed table.
type PriceSource interface {
	Price(ctx context.Context, tokenID string) (float64, error)
}

// MockClient simulates the exchange for mock mode: every order fills
// immediately at the reference price pushed by bounded synthetic slippage.
type MockClient struct {
	prices      PriceSource
	slippageBps int
	feeBps      int

	mu       sync.Mutex
	rng      *rand.Rand
	resolved map[string]bool
	claimed  map[string]bool
	claims   map[string]float64 // conditionID -> claimable USDC

	SubmitCalls int
	ClaimCalls  int
}

func NewMockClient(prices PriceSource, slippageBps, feeBps int) *MockClient {
	if slippageBps <= 0 {
		slippageBps = 50
	}
	return &MockClient{
		prices:      prices,
		slippageBps: slippageBps,
		feeBps:      feeBps,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		resolved:    make(map[string]bool),
		claimed:     make(map[string]bool),
		claims:      make(map[string]float64),
	}
}

// Seed pins the slippage RNG, for reproducible tests.
func (m *MockClient) Seed(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// SetResolved marks a market resolved with a claimable amount.
func (m *MockClient) SetResolved(conditionID string, claimableUSDC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[conditionID] = true
	m.claims[conditionID] = claimableUSDC
}

func (m *MockClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m.mu.Lock()
	m.SubmitCalls++
	slip := float64(m.rng.Intn(m.slippageBps+1)) / 10000.0
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout
	}

	ref := req.Price
	if m.prices != nil {
		if p, err := m.prices.Price(ctx, req.TokenID); err == nil && p > 0 {
			ref = p
		}
	}
	if ref <= 0 {
		return nil, fmt.Errorf("no reference price for token %s", req.TokenID)
	}

	price := decimal.NewFromFloat(ref)
	adj := price.Mul(decimal.NewFromFloat(slip))
	if req.Side == model.SideBuy {
		price = price.Add(adj)
	} else {
		price = price.Sub(adj)
	}
	// Prediction-market prices live strictly inside (0, 1).
	price = clampPrice(price)

	size := decimal.NewFromFloat(req.Size)
	notional := price.Mul(size)
	fees := notional.Mul(decimal.NewFromInt(int64(m.feeBps))).Div(decimal.NewFromInt(10000))

	return &OrderResult{
		ExchangeOrderID: "mock-" + uuid.NewString(),
		Status:          model.OrderFilled,
		FillPrice:       price.InexactFloat64(),
		FillSize:        req.Size,
		Fees:            fees.InexactFloat64(),
		FilledAt:        time.Now().UTC(),
	}, nil
}

func (m *MockClient) GetMarketPrice(ctx context.Context, tokenID string) (float64, error) {
	if m.prices == nil {
		return 0, fmt.Errorf("no price source configured")
	}
	return m.prices.Price(ctx, tokenID)
}

func (m *MockClient) GetResolutionStatus(_ context.Context, conditionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved[conditionID], nil
}

func (m *MockClient) Claim(_ context.Context, _ *model.BotKey, conditionID string) (*ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimCalls++

	if !m.resolved[conditionID] {
		return nil, fmt.Errorf("market %s not resolved", conditionID)
	}
	if m.claimed[conditionID] {
		return &ClaimResult{AlreadyClaimed: true}, nil
	}
	m.claimed[conditionID] = true
	return &ClaimResult{
		AmountUSDC: m.claims[conditionID],
		TxRef:      "mock-claim-" + uuid.NewString(),
	}, nil
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	floor := decimal.NewFromFloat(0.001)
	ceil := decimal.NewFromFloat(0.999)
	if p.LessThan(floor) {
		return floor
	}
	if p.GreaterThan(ceil) {
		return ceil
	}
	return p
}
