package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/polypilot/internal/market"
	"github.com/GoPolymarket/polypilot/internal/model"
)

// ErrTimeout is returned when the exchange did not confirm within the
// call's deadline. The order must be marked REJECTED, never left PENDING.
var ErrTimeout = errors.New("exchange timeout")

// OrderRequest is one trade intent handed to the exchange client.
type OrderRequest struct {
	Market  *market.Market
	TokenID string
	Outcome model.Outcome
	Side    model.Side
	Price   float64
	Size    float64 // shares
	Key     *model.BotKey
}

// OrderResult is the exchange's confirmation.
type OrderResult struct {
	ExchangeOrderID string
	Status          model.OrderStatus
	FillPrice       float64
	FillSize        float64
	Fees            float64
	FilledAt        time.Time
}

// ClaimResult reports one settlement withdrawal.
type ClaimResult struct {
	AmountUSDC     float64
	TxRef          string
	AlreadyClaimed bool
}

// Client is the opaque exchange capability the worker depends on. Which
// implementation is constructible is decided by the safety controller:
// mock mode can never reach a live client.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetMarketPrice(ctx context.Context, tokenID string) (float64, error)
	GetResolutionStatus(ctx context.Context, conditionID string) (bool, error)
	Claim(ctx context.Context, key *model.BotKey, conditionID string) (*ClaimResult, error)
}
