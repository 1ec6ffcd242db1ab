// Command sniper watches DEX factories for newly created liquidity pools,
// screens the unknown token through external security checks and trades the
// survivors: a fixed-size buy at listing, then an automated exit at the take
// profit or stop loss level.
//
// Usage:
//
//	sniper -config config.yaml
//	sniper -setup   (interactive wizard, writes config.gen.yaml)
//
// The trading key can be given per chain in the config file or through the
// SNIPER_PRIVATE_KEY environment variable.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/justbytes/evmsniper/config"
	"github.com/justbytes/evmsniper/internal/audit"
	"github.com/justbytes/evmsniper/internal/chain"
	"github.com/justbytes/evmsniper/internal/classifier"
	"github.com/justbytes/evmsniper/internal/dispatch"
	"github.com/justbytes/evmsniper/internal/domain"
	"github.com/justbytes/evmsniper/internal/engine"
	"github.com/justbytes/evmsniper/internal/listener"
	"github.com/justbytes/evmsniper/internal/observability"
	"github.com/justbytes/evmsniper/internal/ratelimit"
	"github.com/justbytes/evmsniper/internal/setup"
	"github.com/justbytes/evmsniper/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	runSetup := flag.Bool("setup", false, "run the interactive configuration wizard")
	flag.Parse()

	if *runSetup {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		*configPath = "config.gen.yaml"
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.FromFile(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("sniper stopped with error", zap.Error(err))
	}
	logger.Info("sniper stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	limiter := ratelimit.New(cfg.Audit.CallsPerMinute, time.Minute, logger)
	securityClient := audit.NewClient(cfg.Audit.APIURL, cfg.Audit.APIKey, limiter, metrics, logger)

	journal, err := audit.NewJournal(cfg.Audit.JournalDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	bus := dispatch.NewBus(64)

	pipeline := audit.NewPipeline(
		audit.Config{
			Tick:          time.Second,
			MaxConcurrent: cfg.Audit.MaxConcurrent,
			MaxAttempts:   cfg.Audit.MaxAttempts,
			RetryDelay:    cfg.Audit.RetryDelay,
		},
		securityClient,
		audit.Policy{
			MaxTaxPercent:    cfg.Audit.MaxTaxPercent,
			MaxHolderPercent: cfg.Audit.MaxHolderPercent,
		},
		limiter, bus, journal, metrics, logger,
	)

	engines := make(map[string]*engine.Engine)
	g, ctx := errgroup.WithContext(ctx)

	for _, chainCfg := range cfg.Chains {
		client, err := ethclient.DialContext(ctx, chainCfg.WsURL)
		if err != nil {
			return err
		}
		defer client.Close()

		tokenRegistry := classifier.NewRegistry(chainCfg.BaseTokens)

		var routerV2, routerV3 common.Address
		for _, f := range chainCfg.Factories {
			if f.Version == domain.VersionV2 {
				routerV2 = f.Router
			} else {
				routerV3 = f.Router
			}
		}

		exchange, err := chain.NewClient(client, chainCfg.ChainID, routerV2, routerV3, chainCfg.PrivateKey, logger)
		if err != nil {
			return err
		}
		logger.Info("chain adapter ready",
			zap.String("chain", chainCfg.Name),
			zap.String("wallet", exchange.Wallet().Hex()))

		for _, f := range chainCfg.Factories {
			eng := engine.New(chainCfg.Name, chainCfg.ChainID, f.Version,
				engine.Config{
					BuyAmountWei:       cfg.Trade.BuyAmountWei,
					TargetMultiplier:   cfg.Trade.TargetMultiplier,
					StopLossMultiplier: cfg.Trade.StopLossMultiplier,
					SlippagePercent:    cfg.Trade.SlippagePercent,
					ConfirmTimeout:     cfg.Trade.ConfirmTimeout,
				},
				exchange, metrics, logger)
			engines[eng.Name()] = eng
			defer eng.StopListeners()

			l := listener.New(chainCfg.Name, chainCfg.ChainID, f.Version, f.Factory,
				client, tokenRegistry, bus, metrics, logger)
			g.Go(func() error { return l.Run(ctx) })
		}
	}

	g.Go(func() error { return pipeline.Run(ctx) })
	g.Go(func() error { return dispatchLoop(ctx, bus, pipeline, engines, logger) })

	server := web.NewServer(cfg.WebAddr, bus, journal, registry, logger)
	g.Go(func() error { return server.Start(ctx) })

	logger.Info("sniper started",
		zap.Int("engines", len(engines)),
		zap.String("web_addr", cfg.WebAddr))
	return g.Wait()
}

// dispatchLoop routes bus messages: audit requests into the pipeline, pass
// verdicts into the responsible trading engine.
func dispatchLoop(ctx context.Context, bus *dispatch.Bus, pipeline *audit.Pipeline,
	engines map[string]*engine.Engine, logger *zap.Logger) error {
	msgs := bus.Subscribe()
	defer bus.Unsubscribe(msgs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			switch msg.Action {
			case domain.ActionAudit:
				pipeline.Enqueue(msg.Candidate)
			case domain.ActionTrade:
				eng := engine.Resolve(engines, msg.Candidate)
				if eng == nil {
					logger.Warn("no trading instance for candidate",
						zap.String("candidate", msg.Candidate.String()))
					continue
				}
				candidate := msg.Candidate
				go func() {
					if _, err := eng.Buy(ctx, candidate); err != nil {
						logger.Error("buy failed",
							zap.String("candidate", candidate.String()),
							zap.Error(err))
					}
				}()
			}
		}
	}
}
