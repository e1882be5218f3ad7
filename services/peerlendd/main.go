package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lendcfg "peerlend/config"
	"peerlend/core/events"
	"peerlend/core/state"
	"peerlend/native/lending"
	"peerlend/observability/logging"
	"peerlend/observability/metrics"
	appcfg "peerlend/services/peerlendd/config"
	"peerlend/storage"
)

// logEmitter forwards engine events to the structured logger so operators can
// follow matching activity without an external subscriber.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	e.log.Info("lending event", "type", ev.EventType())
}

func main() {
	var (
		configPath = flag.String("config", "peerlendd.yaml", "path to the service configuration")
		listenFlag = flag.String("listen", "", "override the configured listen address")
	)
	flag.Parse()

	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.ListenAddress = *listenFlag
	}

	logger := logging.Setup("peerlendd", cfg.Environment)

	if err := run(cfg, logger); err != nil {
		logger.Error("peerlendd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg appcfg.Config, logger *slog.Logger) error {
	markets, err := lendcfg.Load(cfg.MarketsPath)
	if err != nil {
		return fmt.Errorf("load markets config: %w", err)
	}

	engine, err := buildEngine(markets, logger)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.Load(engine); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	server := NewServer(engine, manager, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("peerlendd listening", "addr", cfg.ListenAddress, "markets", len(markets.Markets))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}

	if err := manager.Save(engine); err != nil {
		return fmt.Errorf("final state snapshot: %w", err)
	}
	logger.Info("state snapshot written", "path", cfg.DataDir)
	return nil
}

// buildEngine constructs the matching engine from the governance parameters:
// one market per config entry, oracle seeds, metrics and event wiring.
func buildEngine(cfg *lendcfg.Config, logger *slog.Logger) (*lending.Engine, error) {
	engine := lending.NewEngine()
	oracle := lending.NewStaticOracle()

	for i := range cfg.Markets {
		market := &cfg.Markets[i]
		mc, err := market.MarketConfig()
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", market.Symbol, err)
		}
		pool, err := market.BuildPool()
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", market.Symbol, err)
		}
		if err := engine.CreateMarket(mc, pool); err != nil {
			return nil, fmt.Errorf("create market %s: %w", market.Symbol, err)
		}
		price, factorBps, err := market.OracleSeed()
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", market.Symbol, err)
		}
		if price != nil {
			oracle.SetPrice(mc.Underlying, price)
			oracle.SetCollateralFactor(mc.Underlying, factorBps)
		}
		logger.Info("market created", "symbol", mc.Symbol, "underlying", mc.Underlying.Hex())
	}

	engine.SetOracle(oracle)
	engine.SetEmitter(logEmitter{log: logger})
	engine.SetMetrics(metrics.Lending())
	if cfg.DefaultMatchBudget > 0 {
		engine.SetDefaultBudget(cfg.DefaultMatchBudget)
	}
	return engine, nil
}
