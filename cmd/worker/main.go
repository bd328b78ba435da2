package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polypilot/internal/claims"
	"github.com/GoPolymarket/polypilot/internal/config"
	"github.com/GoPolymarket/polypilot/internal/exchange"
	"github.com/GoPolymarket/polypilot/internal/market"
	"github.com/GoPolymarket/polypilot/internal/pkg/logger"
	"github.com/GoPolymarket/polypilot/internal/pnl"
	"github.com/GoPolymarket/polypilot/internal/processor"
	"github.com/GoPolymarket/polypilot/internal/queue"
	"github.com/GoPolymarket/polypilot/internal/repository"
	"github.com/GoPolymarket/polypilot/internal/safety"
	"github.com/GoPolymarket/polypilot/internal/server"
	"github.com/joho/godotenv"
)

const clobURL = "https://clob.polymarket.com"

func main() {
	// 0. Environment and logging
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Persistence
	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	logger.Info("✅ Connected to PostgreSQL")

	botRepo := repository.NewPostgresBotRepo(db)
	orderRepo := repository.NewPostgresOrderRepo(db)
	metricsRepo := repository.NewPostgresMetricsRepo(db)
	claimRepo := repository.NewPostgresClaimRepo(db)
	signalRepo := repository.NewPostgresSignalRepo(db)

	// 2. Queue (Redis > Memory)
	var q queue.Queue
	if cfg.Redis.Addr != "" {
		rq, err := queue.NewRedisQueue(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			q = rq
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to in-memory queue", "error", err)
		}
	}
	if q == nil {
		logger.Warn("using in-memory queue, jobs will not survive a restart")
		q = queue.NewMemoryQueue()
	}

	// 3. Market data
	feed := market.NewPriceFeed()
	feed.Start()
	gamma := market.NewGammaClient(cfg.Polymarket.GammaURL)

	// 4. Trading-mode safety. The effective mode is fixed here for the
	// whole process lifetime.
	diagnoser := safety.NewWalletDiagnoser(cfg.Chain.RPCURL, clobURL, cfg.Safety.WalletAddress, cfg.Polymarket)
	sc := safety.New(ctx, cfg.Safety, diagnoser)

	var exch exchange.Client
	if sc.IsLiveConfirmed() {
		live, err := exchange.NewCLOBClient(sc, cfg.Polymarket, gamma, feed, cfg.Chain.RPCURL)
		if err != nil {
			log.Fatalf("Failed to build live exchange client: %v", err)
		}
		exch = live
		logger.Info("🔴 LIVE trading enabled", "mode", sc.EffectiveMode())
	} else {
		exch = exchange.NewMockClient(feed, 50, 0)
		logger.Info("🟢 Mock trading mode", "configured", sc.ConfiguredMode())
	}

	// 5. Core workers
	engine := pnl.NewEngine(orderRepo, metricsRepo, exch)
	proc := processor.New(botRepo, orderRepo, gamma, exch, q, cfg.Worker.ExchangeTimeout())

	pool := queue.NewPool(q, cfg.Worker.MaxAttempts,
		time.Duration(cfg.Worker.BackoffBaseMs)*time.Millisecond,
		time.Duration(cfg.Worker.BackoffMaxMs)*time.Millisecond)
	pool.Register(queue.JobTypeSignal, cfg.Worker.SignalConcurrency, proc.HandleJob)
	pool.Register(queue.JobTypeMetrics, cfg.Worker.MetricsConcurrency, engine.HandleJob)
	go pool.Run(ctx)

	scanner := claims.NewScanner(botRepo, orderRepo, claimRepo, exch, cfg.Claims.ScanInterval())
	go scanner.Run(ctx)

	if days := cfg.Database.SignalRetentionDays; days > 0 {
		go runSignalCleanup(ctx, signalRepo, time.Duration(days)*24*time.Hour)
	}

	// 6. HTTP ingress
	signalHandler := server.NewSignalHandler(botRepo, signalRepo, q)
	botHandler := server.NewBotHandler(botRepo, metricsRepo, orderRepo)
	router := server.NewRouter(cfg, sc, signalHandler, botHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("🚀 PolyPilot worker started", "port", cfg.Server.Port, "mode", sc.EffectiveMode())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down worker...")

	cancel()
	feed.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Worker exiting")
}

func runSignalCleanup(ctx context.Context, signals *repository.PostgresSignalRepo, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := signals.Cleanup(ctx, retention); err != nil {
				logger.Error("signal cleanup failed", "error", err)
			}
		}
	}
}
