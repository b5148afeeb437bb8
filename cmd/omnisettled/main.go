package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnisettle/config"
	"omnisettle/core/events"
	"omnisettle/native/arbitration"
	"omnisettle/native/escrow"
	"omnisettle/native/ledger"
	"omnisettle/native/settlement"
	"omnisettle/observability"
	"omnisettle/observability/logging"
)

func main() {
	var (
		configPath    = flag.String("config", "settlement.toml", "path to the settlement configuration file")
		metricsListen = flag.String("metrics-listen", ":9090", "listen address for the metrics endpoint")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "omnisettled: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Service, cfg.Environment, cfg.LogLevel)

	coordinator, err := buildCoordinator(cfg)
	if err != nil {
		logger.Error("settlement core init failed", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	coordinator.SetMetrics(observability.NewMetrics(registry))
	coordinator.SetLogger(logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{Addr: *metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("metrics endpoint listening", "addr", *metricsListen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics endpoint shutdown failed", "err", err)
	}
}

// buildCoordinator assembles the settlement core from the configuration. The
// daemon runs on the in-memory ledger and state backends; hosts embedding the
// core in a larger system supply their own.
func buildCoordinator(cfg *config.Config) (*settlement.Coordinator, error) {
	book := ledger.NewMemoryLedger()
	for _, asset := range cfg.Assets {
		if err := book.RegisterAsset(asset); err != nil {
			return nil, fmt.Errorf("register asset %s: %w", asset, err)
		}
	}

	escrowCfg, err := cfg.EscrowConfig()
	if err != nil {
		return nil, err
	}
	engine, err := escrow.NewEngine(escrowCfg)
	if err != nil {
		return nil, err
	}
	engine.SetState(escrow.NewMemoryState())
	engine.SetLedger(book)

	minStake := new(big.Int).SetUint64(cfg.MinArbitratorStake)
	arbRegistry := arbitration.NewRegistry(cfg.MaxArbitrators, minStake)
	resolver, err := arbitration.NewResolver(arbRegistry, cfg.ResolverParams())
	if err != nil {
		return nil, err
	}
	resolver.SetState(arbitration.NewMemoryState())

	coordinator, err := settlement.New(engine, resolver, arbRegistry, book, cfg.CoordinatorOptions())
	if err != nil {
		return nil, err
	}
	coordinator.SetEmitter(events.NewRecorder())
	return coordinator, nil
}
