package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/clobtypes"
	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/market"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/apperrors"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/safety"
	"github.com/GoPolymarket/polypilot/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ConditionalTokens contract on Polygon; claims redeem positions there.
const ctfContractAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

const claimGasLimit = 300_000

// CLOBClient submits real orders through the Polymarket CLOB. It can only
// be constructed from a safety controller whose effective mode is live and
// confirmed, which makes an unconfirmed live order unrepresentable.
type CLOBClient struct {
	mode    safety.Mode
	creds   config.PolymarketConfig
	gamma   *market.GammaClient
	feed    *market.PriceFeed
	rpcURL  string
	httpc   *http.Client
	limiter *rate.Limiter
}

func NewCLOBClient(sc *safety.Controller, creds config.PolymarketConfig, gamma *market.GammaClient, feed *market.PriceFeed, rpcURL string) (*CLOBClient, error) {
	if sc == nil || sc.EffectiveMode() == safety.ModeMock || !sc.IsLiveConfirmed() {
		return nil, apperrors.New(apperrors.ErrSafetyViolation,
			"live exchange client requires a confirmed live safety mode", nil)
	}
	return &CLOBClient{
		mode:   sc.EffectiveMode(),
		creds:  creds,
		gamma:  gamma,
		feed:   feed,
		rpcURL: rpcURL,
		httpc: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

func (c *CLOBClient) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Key == nil {
		return nil, apperrors.NewDataIntegrity("bot key required for live order", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout
	}

	static, err := signer.NewStaticSigner(req.Key.Address, auth.PolygonChainID)
	if err != nil {
		return nil, apperrors.NewDataIntegrity("invalid bot signing address", err)
	}
	fast, err := signer.NewSigner(strings.TrimPrefix(req.Key.PrivateKey, "0x"), auth.PolygonChainID)
	if err != nil {
		return nil, apperrors.NewDataIntegrity("invalid bot signing key", err)
	}
	apiKey := &auth.APIKey{
		Key:        c.creds.ApiKey,
		Secret:     c.creds.ApiSecret,
		Passphrase: c.creds.ApiPassphrase,
	}

	client := c.newSDKClient().WithAuth(static, apiKey)

	// FAK so an unfillable order fails fast instead of resting.
	signable, err := clob.NewOrderBuilder(client.CLOB, static).
		TokenID(req.TokenID).
		Price(req.Price).
		Size(req.Size).
		Side(string(req.Side)).
		OrderType(clobtypes.OrderTypeFAK).
		BuildSignableWithContext(ctx)
	if err != nil {
		return nil, c.classify("build order", err)
	}

	signature, err := fast.SignOrder(toExchangeOrder(signable.Order))
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	signed := &clobtypes.SignedOrder{
		Order:     *signable.Order,
		Signature: signature,
		Owner:     apiKey.Key,
		OrderType: signable.OrderType,
		PostOnly:  signable.PostOnly,
	}
	resp, err := client.CLOB.PostOrder(ctx, signed)
	if err != nil {
		return nil, c.classify("post order", err)
	}
	if !resp.Success {
		return nil, apperrors.NewTransient("exchange rejected order: "+resp.ErrorMsg, nil)
	}

	// MVP assumes one fill per order at the submitted price; the user
	// stream would refine partial fills.
	return &OrderResult{
		ExchangeOrderID: resp.OrderID,
		Status:          model.OrderFilled,
		FillPrice:       req.Price,
		FillSize:        req.Size,
		Fees:            0,
		FilledAt:        time.Now().UTC(),
	}, nil
}

func (c *CLOBClient) GetMarketPrice(ctx context.Context, tokenID string) (float64, error) {
	if c.feed != nil {
		if p, err := c.feed.Price(ctx, tokenID); err == nil {
			return p, nil
		}
	}

	client := c.newSDKClient()
	book, err := client.CLOB.OrderBook(ctx, &clobtypes.BookRequest{TokenID: tokenID})
	if err != nil {
		return 0, c.classify("order book", err)
	}

	var best []decimal.Decimal
	if len(book.Bids) > 0 {
		if bid, err := decimal.NewFromString(book.Bids[0].Price); err == nil {
			best = append(best, bid)
		}
	}
	if len(book.Asks) > 0 {
		if ask, err := decimal.NewFromString(book.Asks[0].Price); err == nil {
			best = append(best, ask)
		}
	}
	switch len(best) {
	case 2:
		return best[0].Add(best[1]).Div(decimal.NewFromInt(2)).InexactFloat64(), nil
	case 1:
		return best[0].InexactFloat64(), nil
	}
	return 0, apperrors.NewTransient("order book empty for token "+tokenID, nil)
}

func (c *CLOBClient) GetResolutionStatus(ctx context.Context, conditionID string) (bool, error) {
	resolved, err := c.gamma.ResolutionStatus(ctx, conditionID)
	if err != nil {
		return false, c.classify("resolution status", err)
	}
	return resolved, nil
}

// Claim redeems the bot's settled position via the ConditionalTokens
// contract. The settlement amount is credited on-chain; callers estimate
// the claimable value from their own ledger.
func (c *CLOBClient) Claim(ctx context.Context, key *model.BotKey, conditionID string) (*ClaimResult, error) {
	if key == nil {
		return nil, apperrors.NewDataIntegrity("bot key required for claim", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, ErrTimeout
	}

	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, apperrors.NewTransient("rpc dial failed", err)
	}
	defer eth.Close()

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(key.PrivateKey, "0x"))
	if err != nil {
		return nil, apperrors.NewDataIntegrity("invalid bot signing key", err)
	}
	from := common.HexToAddress(key.Address)

	nonce, err := eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, c.classify("nonce", err)
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, c.classify("gas price", err)
	}

	data := redeemPositionsCalldata(conditionID)
	to := common.HexToAddress(ctfContractAddress)
	tx := types.NewTransaction(nonce, to, big.NewInt(0), claimGasLimit, gasPrice, data)

	chainID := big.NewInt(auth.PolygonChainID)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), pk)
	if err != nil {
		return nil, fmt.Errorf("sign claim tx: %w", err)
	}

	if err := eth.SendTransaction(ctx, signedTx); err != nil {
		// An already-redeemed position reverts on estimation/broadcast;
		// treat it as the idempotent no-op it is.
		if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
			return &ClaimResult{AlreadyClaimed: true}, nil
		}
		return nil, c.classify("send claim tx", err)
	}

	logger.Component("exchange").Info("claim submitted",
		"mode", string(c.mode),
		"condition_id", conditionID,
		"tx", signedTx.Hash().Hex())

	return &ClaimResult{TxRef: signedTx.Hash().Hex()}, nil
}

func (c *CLOBClient) newSDKClient() *polymarket.Client {
	return polymarket.NewClient(
		polymarket.WithUseServerTime(true),
		polymarket.WithHTTPClient(c.httpc),
	)
}

// classify maps SDK/RPC failures onto the worker taxonomy: deadline and
// cancellation become ErrTimeout, everything else stays transient so the
// job runner retries it.
func (c *CLOBClient) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTimeout
	}
	return apperrors.NewTransient(op+" failed", err)
}

func toExchangeOrder(o *clobtypes.Order) *signer.Order {
	side := uint8(0) // BUY
	if strings.ToUpper(o.Side) == "SELL" {
		side = 1
	}

	sigType := uint8(0)
	if o.SignatureType != nil {
		sigType = uint8(*o.SignatureType)
	}

	return &signer.Order{
		Salt:          o.Salt.Int,
		Maker:         o.Maker,
		Signer:        o.Signer,
		Taker:         o.Taker,
		TokenID:       o.TokenID.Int,
		MakerAmount:   o.MakerAmount.BigInt(),
		TakerAmount:   o.TakerAmount.BigInt(),
		Expiration:    o.Expiration.Int,
		Nonce:         o.Nonce.Int,
		FeeRateBps:    o.FeeRateBps.BigInt(),
		Side:          side,
		SignatureType: sigType,
	}
}

// redeemPositionsCalldata encodes
// redeemPositions(USDC, bytes32(0), conditionId, [1, 2]) by hand, the same
// fixed-layout encoding the order signer uses.
func redeemPositionsCalldata(conditionID string) []byte {
	selector := crypto.Keccak256([]byte("redeemPositions(address,bytes32,bytes32,uint256[])"))[:4]
	usdc := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	condition := common.HexToHash(conditionID)

	data := make([]byte, 0, 4+32*7)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(usdc.Bytes(), 32)...)
	data = append(data, make([]byte, 32)...) // parentCollectionId = 0
	data = append(data, condition.Bytes()...)
	data = append(data, common.LeftPadBytes(big.NewInt(128).Bytes(), 32)...) // offset of indexSets
	data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)   // len(indexSets)
	data = append(data, common.LeftPadBytes(big.NewInt(1).Bytes(), 32)...)   // YES
	data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)   // NO
	return data
}
