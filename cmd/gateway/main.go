// Command gateway runs the grant platform API: payment gating, on-chain
// payment observation, fee reconciliation and the dashboard endpoints.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/swissgrant/platform/internal/chain"
	"github.com/swissgrant/platform/internal/config"
	"github.com/swissgrant/platform/internal/countdown"
	"github.com/swissgrant/platform/internal/gate"
	"github.com/swissgrant/platform/internal/httpapi"
	"github.com/swissgrant/platform/internal/ledger"
	"github.com/swissgrant/platform/internal/metrics"
	"github.com/swissgrant/platform/internal/observer"
	"github.com/swissgrant/platform/internal/pricefeed"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/storage/memory"
	"github.com/swissgrant/platform/internal/storage/postgres"
	"github.com/swissgrant/platform/internal/storage/supastore"
	"github.com/swissgrant/platform/internal/supabase"
	"github.com/swissgrant/platform/internal/system"
	"github.com/swissgrant/platform/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewConsole("gateway").Err(err, "configuration invalid")
		os.Exit(1)
	}

	logger.Configure(os.Stderr, cfg.Log.Level)
	log := logger.NewDefault("gateway")
	if cfg.Log.Console {
		log = logger.NewConsole("gateway")
	}

	if err := run(cfg, log); err != nil {
		log.Err(err, "gateway exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	supaClient, err := supabase.NewClient(supabase.Config{
		ProjectURL: cfg.Supabase.URL,
		AnonKey:    cfg.Supabase.AnonKey,
		ServiceKey: cfg.Supabase.ServiceKey,
		Timeout:    cfg.Supabase.Timeout,
		Resilience: true,
	})
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg, supaClient)
	if err != nil {
		return err
	}
	defer closeStore()

	bucket := supaClient.Storage(cfg.Supabase.StorageBucket)
	chainClient := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.Timeout)
	fees := cfg.Schedule()

	m := metrics.New()
	paymentGate := gate.New(store, store, log.With("component", "gate"))
	reconciler := ledger.NewReconciler(store, bucket, chainClient, fees, log.With("component", "ledger"))
	registry := observer.NewRegistry()

	var prices *pricefeed.Cache
	manager := system.NewManager(log.With("component", "system"))

	manager.Register(observer.NewBalanceWatcher(
		chainClient, registry, reconciler, cfg.Chain, fees, m,
		log.With("component", "observer.balance")))

	if cfg.Chain.WSURL != "" {
		sub, err := chain.NewSubscription(cfg.Chain.WSURL, cfg.Chain.TokenContract, cfg.Chain.ReceivingWallet)
		if err != nil {
			return err
		}
		manager.Register(observer.NewTransferWatcher(
			sub, registry, reconciler, fees,
			log.With("component", "observer.transfer")))
	}

	if cfg.Store.Driver == "supabase" {
		manager.Register(countdown.NewWatcher(
			supaClient.Realtime(),
			log.With("component", "countdown.watch")))
	}

	if cfg.PriceFeed.Endpoint != "" {
		var rdb *redis.Client
		if cfg.PriceFeed.RedisAddr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.PriceFeed.RedisAddr})
		}
		prices = pricefeed.NewCache(rdb, cfg.PriceFeed.CacheTTL)
		fetcher := pricefeed.NewFetcher(cfg.PriceFeed.Endpoint, 10*time.Second)
		manager.Register(pricefeed.NewRefresher(
			fetcher, prices, cfg.PriceFeed.RefreshInterval,
			log.With("component", "pricefeed")))
	}

	handler := httpapi.New(httpapi.Deps{
		Config:     cfg,
		Store:      store,
		Auth:       supaClient.Auth(),
		Bucket:     bucket,
		Gate:       paymentGate,
		Reconciler: reconciler,
		Registry:   registry,
		Chain:      chainClient,
		Countdown:  countdown.NewService(store, nil),
		Prices:     prices,
		Metrics:    m,
		Log:        log.With("component", "httpapi"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	// Hourly sweep drops watches nobody completed, so abandoned payment
	// pages do not pin baselines forever.
	sweeper := cron.New()
	sweeper.AddFunc("@hourly", func() {
		stale := 0
		for _, w := range registry.Snapshot() {
			if time.Since(w.StartedAt) > 2*time.Hour {
				registry.Remove(w.UserID, w.FeeType)
				stale++
			}
		}
		if stale > 0 {
			log.Info("dropped %d stale payment watches", stale)
		}
		m.ActiveWatches.Set(float64(registry.Len()))
	})
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Err(err, "http shutdown")
	}
	return manager.Stop(shutdownCtx)
}

// openStore selects the configured persistence backend.
func openStore(cfg *config.Config, supaClient *supabase.Client) (storage.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.MigrationsPath != "" {
			if err := pg.Migrate(cfg.Store.MigrationsPath); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg, func() { pg.Close() }, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		return supastore.New(supaClient), func() {}, nil
	}
}
