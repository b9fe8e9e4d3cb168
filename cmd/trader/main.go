// Command trader is the core trading kernel's process entrypoint: loads
// configuration, wires every component (C1-C8), and runs until an
// operator signal or a fatal error drains the engine. Grounded on the
// teacher's internal/bootstrap.App.Run errgroup pattern, generalized from
// a fixed runner list to the supervisor-owned command loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"market_maker/internal/bus"
	"market_maker/internal/config"
	"market_maker/internal/exchange"
	"market_maker/internal/exchange/binance"
	"market_maker/internal/exchange/paper"
	"market_maker/internal/executor"
	"market_maker/internal/health"
	"market_maker/internal/ingestor"
	"market_maker/internal/ledger"
	"market_maker/internal/logging"
	"market_maker/internal/model"
	"market_maker/internal/risk"
	"market_maker/internal/strategy"
	"market_maker/internal/supervisor"
	"market_maker/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	dbPath := flag.String("db", "trader.db", "path to the SQLite position ledger database")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("starting trader", "config", cfg.String())

	if err := run(cfg, logger, *dbPath); err != nil {
		logger.Error("trader exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger, dbPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup("market_maker")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	metrics, err := telemetry.NewMetrics(telemetry.GetMeter("market_maker"))
	if err != nil {
		return fmt.Errorf("telemetry metrics: %w", err)
	}

	store, err := ledger.OpenSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	defer store.Close()

	marketBus := bus.NewMarketBus(orDefault(cfg.Concurrency.MarketBusRingSize, 256), logger)
	eventBus := bus.NewEventBus(orDefault(cfg.Concurrency.EventBusRingSize, 256), logger)
	signals := make(chan model.Signal, orDefault(cfg.Concurrency.SignalBufferSize, 64))
	orders := make(chan model.Order, orDefault(cfg.Concurrency.OrderBufferSize, 64))

	ledgerStore := ledger.New(store, logger.WithField("component", "ledger"))
	if err := ledgerStore.Load(ctx); err != nil {
		return fmt.Errorf("ledger load: %w", err)
	}

	mode, err := model.ParseMode(cfg.App.TradingMode)
	if err != nil {
		return fmt.Errorf("trading mode: %w", err)
	}

	client, streamClient, positionSource := buildExchange(cfg, mode, ledgerStore, marketBus, logger)

	engine := strategy.New(logger.WithField("component", "strategy"), signals)
	for _, s := range cfg.Trading.Strategies {
		strat, err := buildStrategy(s)
		if err != nil {
			return fmt.Errorf("strategy config: %w", err)
		}
		engine.Register(s.Pair, strat)
	}
	pairSub := marketBus.Subscribe("strategy-engine")
	go func() {
		for evt := range pairSub {
			engine.OnMarketEvent(evt)
		}
	}()

	riskCfg, err := buildRiskConfig(cfg.Risk)
	if err != nil {
		return fmt.Errorf("risk config: %w", err)
	}

	sup := supervisor.New(eventBus, nil, nil, logger.WithField("component", "supervisor"))
	ledgerStore.OnDivergence(func(fill model.Fill, err error) {
		logger.Error("ledger: persistence divergence, halting", "pair", fill.Pair, "error", err)
		eventBus.Publish(model.Event{PersistenceDivergence: &model.PersistenceDivergenceEvent{Fill: fill, Err: err.Error()}})
		sup.Halt(err.Error())
	})
	riskManager := risk.New(riskCfg, ledgerStore, sup, eventBus, orders, logger.WithField("component", "risk"))
	riskManager.SeedPortfolio(decimal.NewFromFloat(cfg.Risk.InitialPortfolioValue))
	sup.SetRiskCollaborators(riskManager, riskManager)

	go func() {
		for sig := range signals {
			riskManager.OnSignal(sig)
		}
	}()
	riskSub := marketBus.Subscribe("risk-manager")
	go func() {
		for evt := range riskSub {
			riskManager.OnMarketEvent(evt)
		}
	}()

	exec := executor.New(client, ledgerStore, eventBus, riskManager, metrics, logger.WithField("component", "executor"))

	ing := ingestor.New(streamClient, positionSource, marketBus, eventBus, ledgerStore, cfg.Trading.Pairs, logger.WithField("component", "ingestor"))

	healthMgr := health.New(logger.WithField("component", "health"))
	healthMgr.Register("ledger", func(ctx context.Context) error {
		_, err := store.LoadPositions(ctx)
		return err
	})
	healthMgr.Register("exchange", func(ctx context.Context) error {
		_, err := client.OpenPositions(ctx)
		return err
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { exec.Run(gctx, orders); return nil })
	g.Go(func() error { return ing.Start(gctx) })
	g.Go(func() error { runHealthLoop(gctx, healthMgr, logger); return nil })

	startCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
	result := sup.Dispatch(startCtx, model.CmdStart)
	cancel()
	if !result.Accepted {
		return fmt.Errorf("supervisor refused start: %s", result.Denial)
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	logger.Info("trader shut down gracefully")
	return nil
}

func buildExchange(cfg *config.Config, mode model.Mode, ledgerStore *ledger.Ledger, marketBus *bus.MarketBus, logger logging.Logger) (exchange.Client, exchange.StreamClient, exchange.PositionSource) {
	if mode == model.Paper {
		paperClient := paper.New(cfg.Exchange.SlippageBps)
		sub := marketBus.Subscribe("paper-client")
		go func() {
			for evt := range sub {
				paperClient.Observe(evt)
			}
		}()
		// Paper mode still takes market data from the live Binance
		// stream; only order submission and the position source go to
		// the paper client.
		stream := binance.NewStream(logger.WithField("component", "stream"))
		return paperClient, stream, paperClient
	}

	apiKey, secretKey := cfg.Exchange.BinanceCredentials()
	client := binance.New(binance.Config{APIKey: apiKey, SecretKey: secretKey, BaseURL: cfg.Exchange.BaseURL}, cfg.Trading.Pairs, logger.WithField("component", "binance"))
	stream := binance.NewStream(logger.WithField("component", "stream"))
	return client, stream, client
}

func buildStrategy(s config.StrategyConfig) (strategy.Strategy, error) {
	qty := decimal.NewFromFloat(s.Quantity)
	switch s.Type {
	case "rsi":
		return strategy.NewRSIStrategy(orDefault(s.Period, 14), qty), nil
	case "macd":
		return strategy.NewMACDStrategy(orDefault(s.Fast, 12), orDefault(s.Slow, 26), orDefault(s.Signal, 9), qty), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", s.Type)
	}
}

func buildRiskConfig(r config.RiskConfig) (model.RiskConfig, error) {
	cfg := model.RiskConfig{
		StopLossPct:          decimal.NewFromFloat(r.StopLossPct),
		TakeProfitPct:        decimal.NewFromFloat(r.TakeProfitPct),
		MaxExposurePerTrade:  decimal.NewFromFloat(r.MaxExposurePerTrade),
		MaxExposureIsPercent: r.MaxExposureIsPercent,
		MaxDrawdownPct:       decimal.NewFromFloat(r.MaxDrawdownPct),
	}
	if err := cfg.Validate(); err != nil {
		return model.RiskConfig{}, err
	}
	return cfg, nil
}

// runHealthLoop logs the aggregate health status periodically until ctx
// is cancelled. There is no dashboard/HTTP surface in this core kernel
// (spec §1 Non-goals), so the registry's consumer is the log stream.
func runHealthLoop(ctx context.Context, mgr *health.Manager, logger logging.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !mgr.IsHealthy(ctx) {
				logger.Warn("health check degraded", "status", mgr.Status(ctx))
			}
		}
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
