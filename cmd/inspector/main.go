// Inspector is the ops CLI: it prints a bot's metrics snapshot, open
// positions and recent orders straight from the database, bypassing the
// HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/pnl"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/joho/godotenv"
)

func main() {
	botID := flag.String("bot", "", "bot id to inspect")
	limit := flag.Int("orders", 10, "number of recent orders to show")
	flag.Parse()

	if *botID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bots := repository.NewPostgresBotRepo(db)
	orders := repository.NewPostgresOrderRepo(db)
	botMetrics := repository.NewPostgresMetricsRepo(db)

	bot, err := bots.GetBot(ctx, *botID)
	if err != nil {
		log.Fatalf("Failed to load bot: %v", err)
	}
	fmt.Printf("Bot %s (%s)\n", bot.ID, bot.Name)
	fmt.Printf("  status:    %s\n", bot.Status)
	fmt.Printf("  market:    %s %s, order size $%.2f\n",
		bot.Config.Currency, bot.Config.Timeframe, bot.Config.OrderSizeUSD)

	if m, err := botMetrics.Get(ctx, *botID); err == nil {
		fmt.Println("\nMetrics")
		fmt.Printf("  pnl:          $%.2f\n", m.PnlUSD)
		fmt.Printf("  roi:          %.2f%%\n", m.RoiPct)
		fmt.Printf("  trades:       %d (win rate %.1f%%)\n", m.Trades, m.WinRate)
		fmt.Printf("  max drawdown: $%.2f\n", m.MaxDrawdown)
		fmt.Printf("  updated:      %s (version %d)\n", m.UpdatedAt.Format(time.RFC3339), m.Version)
	} else {
		fmt.Println("\nMetrics: no snapshot yet")
	}

	fills, err := orders.GetFillsForBot(ctx, *botID)
	if err != nil {
		log.Fatalf("Failed to load fills: %v", err)
	}
	replay := pnl.ReplayFills(fills)
	fmt.Printf("\nOpen positions (%d)\n", len(replay.Open))
	for pk, pos := range replay.Open {
		fmt.Printf("  %s %s: %s shares, cost $%s\n",
			pk.MarketID, pk.Outcome, pos.Shares.StringFixed(4), pos.Cost.StringFixed(2))
	}

	recent, err := orders.GetRecentOrders(ctx, *botID, *limit)
	if err != nil {
		log.Fatalf("Failed to load orders: %v", err)
	}
	fmt.Printf("\nRecent orders (%d)\n", len(recent))
	for _, o := range recent {
		line := fmt.Sprintf("  %s  %-8s %-4s %-3s %.3f x %.2f",
			o.PlacedAt.Format("2006-01-02 15:04:05"), o.Status, o.Side, o.Outcome, o.Price, o.Size)
		if o.RejectReason != "" {
			line += "  (" + o.RejectReason + ")"
		}
		fmt.Println(line)
	}
}
