package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bschneid7/BinanceUSBot-sub004/internal/api"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/balance"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/correlation"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/data"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/engine"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/events"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/market"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/monitor"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/order"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/playbook"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/reconciliation"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/risk"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/shutdown"
	"github.com/bschneid7/BinanceUSBot-sub004/internal/state"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/config"
	"github.com/bschneid7/BinanceUSBot-sub004/pkg/db"
	exspot "github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/binance/spot"
	marketbinance "github.com/bschneid7/BinanceUSBot-sub004/pkg/market/binance"
)

// dryRunFeeRate approximates the taker fee applied to paper fills.
const dryRunFeeRate = 0.001

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config load failed: %v", err)
	}
	log.Printf("🚀 Starting bot controller (account=%s, port=%s)", cfg.AccountID, cfg.Port)
	log.Printf("📁 Using DB path: %s", cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store unreachable at startup is fatal: the engine must
	// not trade against a ledger it cannot read.
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ Ledger store init failed: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("❌ Ledger migrations failed: %v", err)
	}
	if err := database.InitBotState(ctx, cfg.AccountID, cfg.StartingEquity); err != nil {
		log.Fatalf("❌ Bot state init failed: %v", err)
	}

	bus := events.NewBus()

	// Risk configuration: persisted versions win, the YAML seed fills
	// an empty account, documented defaults cover everything else.
	riskMgr, err := risk.NewManager(ctx, database, cfg.AccountID, cfg.RiskConfigPath)
	if err != nil {
		log.Printf("⚠️ Risk config load failed, using defaults: %v", err)
		riskMgr = risk.NewInMemory(risk.DefaultConfig())
	}
	rc := riskMgr.Get()
	log.Printf("✓ Risk config v%d (R=%.2f%%, daily stop %.1fR, weekly stop %.1fR)",
		rc.Version, rc.RPct*100, rc.DailyStopR, rc.WeeklyStopR)

	playbooks, err := playbook.Load(cfg.PlaybookPath)
	if err != nil {
		log.Fatalf("❌ Playbook catalog invalid: %v", err)
	}

	haltMgr := risk.NewHaltManager(database, bus, cfg.AccountID, cfg.InstanceID)

	positions := state.NewManager(database, bus, cfg.AccountID)
	if err := positions.Load(ctx); err != nil {
		log.Fatalf("❌ Position book load failed: %v", err)
	}
	log.Printf("✓ Position book loaded: %d open", positions.Count())

	// Exchange clients. The signed client carries order placement and
	// account reads; market data and streams need no credentials.
	spotClient := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	marketClient := marketbinance.NewMarketDataClient(cfg.BinanceTestnet)
	streamClient := marketbinance.NewStreamClient(cfg.BinanceTestnet)

	live := cfg.ExecutionEnabled && cfg.BinanceAPIKey != "" && cfg.BinanceAPISecret != ""
	if cfg.ExecutionEnabled && !live {
		log.Println("⚠️ EXECUTION_ENABLED set but API keys missing; falling back to dry run")
	}
	if live {
		spotClient.StartTimeSync(ctx)
	}

	// Market data feed (mock first, real later).
	var feed engine.MarketData
	if cfg.UseMockFeed {
		mock := market.NewMockFeed(bus, cfg.Symbols, 100, 0.8, time.Second)
		mock.Start(ctx)
		feed = mock
		log.Println("✓ Mock feed started")
	} else {
		f := market.NewFeed(marketClient, streamClient, bus, cfg.Symbols, cfg.PriceRefreshInterval)
		f.Start(ctx)
		feed = f
		log.Println("✓ Binance.US feed started")
	}

	// Balances: exchange truth in live mode, a seeded quote balance on
	// paper.
	var balances *balance.Manager
	if live {
		balances = balance.NewManager(spotClient, 30*time.Second)
	} else {
		balances = balance.NewManager(nil, 30*time.Second)
		balances.SetInitial(cfg.QuoteAsset, cfg.StartingEquity)
	}
	balances.Start(ctx)

	// Correlation gate over daily return series.
	history := data.NewHistoryService(marketClient, time.Hour)
	corrMgr := correlation.NewManager(history, time.Hour)

	// Order flow.
	queue := order.NewQueue(200)
	executor := order.NewExecutor(database, bus, spotClient, positions, cfg.AccountID)
	if !live {
		executor.EnableDryRun(dryRunFeeRate, 2)
		log.Println("📝 Dry-run execution: paper fills only")
	}
	haltMgr.SetFlattener(executor)

	if live {
		stream := order.NewUserStream(spotClient, streamClient, executor)
		if err := stream.Start(ctx); err != nil {
			log.Printf("⚠️ User data stream unavailable: %v", err)
		}
	}

	// Reconciliation runs on its own ticker in live mode; the manual
	// trigger stays available either way. Paper mode has no exchange
	// truth, so the service gets no venue and reports a clean skip.
	var reconVenue reconciliation.Venue
	if live {
		reconVenue = spotClient
	}
	recon := reconciliation.NewService(reconVenue, database, positions, bus, cfg.AccountID, cfg.ReconInterval)
	if live {
		recon.SetBalanceSource(spotClient)
		recon.Start(ctx)
	}

	// Observability: alert fan-out plus the drawdown early warning.
	monitor.New(bus).Start(ctx)
	monitor.NewDrawdownRule(bus, riskMgr.Get).Start(ctx)

	// Engine service composes everything behind the API seam.
	eng := engine.NewImpl(engine.Config{
		Store:          database,
		Bus:            bus,
		Risk:           riskMgr,
		Halt:           haltMgr,
		Positions:      positions,
		Balances:       balances,
		Correlation:    corrMgr,
		Playbooks:      playbooks,
		Queue:          queue,
		Executor:       executor,
		Market:         feed,
		AccountID:      cfg.AccountID,
		QuoteAsset:     cfg.QuoteAsset,
		TickSize:       cfg.TickSize,
		MaxSlippageBps: cfg.MaxSlippageBps,
		CycleInterval:  cfg.CycleInterval,
	})
	executor.SetRiskUnit(eng.RiskUnit)
	eng.Start(ctx)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	server := api.NewServer(eng, recon, database, cfg.AccountID, api.SystemMeta{
		DryRun:      !live,
		Venue:       "binance-us-spot",
		Symbols:     cfg.Symbols,
		UseMockFeed: cfg.UseMockFeed,
		Version:     buildVersion,
	})

	// Shutdown: drain the API first, stop the loops, then cancel
	// resting orders and release resources concurrently.
	coord := shutdown.New(cfg.ShutdownGrace)
	coord.RegisterIntake("api drain", server.Shutdown)
	coord.RegisterIntake("stop loops", func(context.Context) error {
		queue.Close()
		cancel()
		return nil
	})
	coord.RegisterCleanup("cancel open orders", false, func(c context.Context) error {
		n, err := executor.CancelOpenOrders(c, cfg.CancelDeadline)
		if n > 0 {
			log.Printf("✓ Canceled %d resting orders", n)
		}
		return err
	})
	coord.RegisterCleanup("close ledger store", true, func(context.Context) error {
		return database.Close()
	})

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Printf("❌ API server: %v", err)
			coord.Trigger("api server failure")
		}
	}()
	log.Printf("✓ Control API listening on :%s", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			coord.Trigger(sig.String())
		}
	}()

	<-coord.Done()
	os.Exit(coord.ExitCode())
}
