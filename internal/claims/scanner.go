// Package claims sweeps resolved markets and withdraws winnings. The
// scanner is a slow background loop, deliberately decoupled from the
// signal path: a claim that waits one extra cycle costs nothing.
package claims

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polypilot/internal/exchange"
	"github.com/GoPolymarket/polypilot/internal/model"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pkg/metrics"
	"github.com/GoPolymarket/polypilot/internal/pnl"
	"github.com/GoPolymarket/polypilot/internal/repository"
)

// BotStore lists the bots worth scanning and their signing keys.
type BotStore interface {
	ListActiveBots(ctx context.Context) ([]model.Bot, error)
	GetBotKey(ctx context.Context, botID string) (*model.BotKey, error)
}

// FillStore feeds the replay that locates open positions.
type FillStore interface {
	GetFillsForBot(ctx context.Context, botID string) ([]model.Fill, error)
}

// ClaimStore records claim attempts and answers the already-claimed check.
type ClaimStore interface {
	Record(ctx context.Context, rec *repository.ClaimRecord) error
	AlreadyClaimed(ctx context.Context, botID, conditionID string) (bool, error)
}

type Scanner struct {
	bots     BotStore
	fills    FillStore
	claims   ClaimStore
	exch     exchange.Client
	interval time.Duration
}

func NewScanner(bots BotStore, fills FillStore, claims ClaimStore, exch exchange.Client, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scanner{bots: bots, fills: fills, claims: claims, exch: exch, interval: interval}
}

// Run scans on a fixed interval until ctx is done. One immediate scan at
// startup so a restart never delays claims by a full interval.
func (s *Scanner) Run(ctx context.Context) {
	log := logger.Component("claims")
	s.ScanOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("claim scanner stopped")
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce walks every active bot's open positions and claims the ones
// whose market has resolved. Failures are isolated per bot: one bad RPC
// call never blocks the other bots' sweeps.
func (s *Scanner) ScanOnce(ctx context.Context) {
	log := logger.Component("claims")

	bots, err := s.bots.ListActiveBots(ctx)
	if err != nil {
		log.Error("failed to list bots", "error", err)
		return
	}

	for _, bot := range bots {
		if err := s.scanBot(ctx, &bot); err != nil {
			log.Error("bot claim sweep failed", "bot_id", bot.ID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scanner) scanBot(ctx context.Context, bot *model.Bot) error {
	log := logger.Component("claims").With("bot_id", bot.ID)

	fills, err := s.fills.GetFillsForBot(ctx, bot.ID)
	if err != nil {
		return err
	}
	replay := pnl.ReplayFills(fills)
	if len(replay.Open) == 0 {
		return nil
	}

	key, err := s.botKey(ctx, bot.ID)
	if err != nil {
		return err
	}

	// Claims are per market, so fold the bot's open outcomes into one
	// claimable figure per condition. A winning share redeems for one
	// USDC, which makes open shares the ceiling on the payout.
	claimable := make(map[string]float64)
	for pk, pos := range replay.Open {
		claimable[pk.MarketID] += pos.Shares.InexactFloat64()
	}

	for conditionID, amount := range claimable {
		done, err := s.claims.AlreadyClaimed(ctx, bot.ID, conditionID)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		resolved, err := s.exch.GetResolutionStatus(ctx, conditionID)
		if err != nil {
			log.Warn("resolution check failed", "market", conditionID, "error", err)
			continue
		}
		if !resolved {
			continue
		}

		s.claim(ctx, bot.ID, conditionID, amount, key, log)
	}
	return nil
}

func (s *Scanner) claim(ctx context.Context, botID, conditionID string, claimable float64, key *model.BotKey, log *slog.Logger) {
	res, err := s.exch.Claim(ctx, key, conditionID)
	rec := &repository.ClaimRecord{
		BotID:       botID,
		ConditionID: conditionID,
		ClaimedAt:   time.Now().UTC(),
	}
	switch {
	case err != nil:
		rec.Error = err.Error()
		metrics.ClaimsTotal.WithLabelValues("error").Inc()
		log.Error("claim failed", "market", conditionID, "error", err)
	case res.AlreadyClaimed:
		rec.Success = true
		metrics.ClaimsTotal.WithLabelValues("already_claimed").Inc()
		log.Info("winnings already claimed", "market", conditionID)
	default:
		rec.Success = true
		rec.AmountUSDC = res.AmountUSDC
		if rec.AmountUSDC == 0 {
			// The on-chain redeem credits the wallet without reporting
			// the amount, so fall back to the ledger's estimate.
			rec.AmountUSDC = claimable
		}
		rec.TxRef = res.TxRef
		metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
		log.Info("winnings claimed", "market", conditionID, "amount_usdc", rec.AmountUSDC, "tx", res.TxRef)
	}

	if err := s.claims.Record(ctx, rec); err != nil {
		log.Error("failed to record claim", "market", conditionID, "error", err)
	}
}

func (s *Scanner) botKey(ctx context.Context, botID string) (*model.BotKey, error) {
	key, err := s.bots.GetBotKey(ctx, botID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return key, nil
}
