package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"

	"vtu-service/internal/config"
	"vtu-service/internal/events"
	"vtu-service/internal/gateway"
	"vtu-service/internal/handlers"
	"vtu-service/internal/ledger"
	"vtu-service/internal/ledger/memstore"
	"vtu-service/internal/ledger/pgstore"
	"vtu-service/internal/pricing"
	"vtu-service/internal/repository"
	"vtu-service/internal/services"
	"vtu-service/internal/utils"
	"vtu-service/internal/vendors"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, health monitor and verification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	utils.SetupLogging(cfg.LogLevel, cfg.LogJSON)
	if ctx == nil {
		ctx = context.Background()
	}

	// Ledger storage
	var store ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory ledger")
		store = memstore.New()
	}

	// Transaction events
	bus := events.NewBus(cfg.EventWorkers, 10*time.Second)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		publisher := events.NewKafkaPublisher(producer, cfg.KafkaTopic)
		defer publisher.Close()
		if err := bus.SubscribeAll(publisher.Publish); err != nil {
			return err
		}
	}
	l := ledger.New(store, bus)

	// Vendors and pricing
	pool, err := vendors.NewPool(vendors.DefaultRegistry(cfg.VendorTimeout), nil)
	if err != nil {
		return err
	}
	prices := pricing.NewCatalog()
	catalog := services.NewCatalogService(cfg.CatalogPath, pool, prices)
	if err := catalog.Reload(); err != nil {
		return err
	}
	resolver := pricing.NewResolver(prices)

	// Redis-backed lock and verify queue, when configured
	var (
		locker      services.Locker = services.NewLocalLocker()
		jobQueue    services.JobQueue
		verifyQueue services.VerifyQueue
	)
	if cfg.RedisAddr != "" {
		rdb, err := repository.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = repository.NewRedisLocker(rdb, cfg.LockPrefix, cfg.LockTTL)
		q := repository.NewVerifyQueue(rdb, cfg.VerifyQueue, cfg.RetryDelayQueue, cfg.DeadLetterQueue)
		jobQueue, verifyQueue = q, q
	} else {
		log.Warn().Msg("REDIS_ADDR not set, wallet locks are process-local and webhook retries rely on the gateway")
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.PaystackBaseURL,
		SecretKey:    cfg.PaystackSecretKey,
		CallbackURL:  cfg.PaystackCallbackURL,
		RetryTimeout: cfg.GatewayRetryTimeout,
	}, &http.Client{Timeout: cfg.GatewayTimeout})

	// Initialize services
	router := services.NewVendorRouter(pool, cfg)
	monitor := services.NewHealthMonitor(pool, cfg, clockz.RealClock)
	reconciler := services.NewPaymentReconciler(l, gw, verifyQueue, cfg)
	purchases := services.NewPurchaseService(l, resolver, router, locker)
	fundings := services.NewFundingService(l, gw, reconciler, cfg.FundingEmailDomain)

	// Start background services
	monitor.Start()
	var queueService *services.QueueService
	if jobQueue != nil {
		queueService = services.NewQueueService(jobQueue, cfg, clockz.RealClock)
		queueService.StartWorkers(reconciler)
		queueService.StartDelayedJobProcessor()
	}

	handler := handlers.NewRouter(
		handlers.NewPurchaseHandler(purchases, l),
		handlers.NewFundingHandler(fundings, reconciler),
		handlers.NewVendorHandler(pool, catalog, resolver, cfg.VendorTimeout),
	)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Sized for the catalog at startup. Vendors added by a reload can
		// outlast it; the purchase still settles and the client polls
		// GET /v1/transactions/{reference}.
		WriteTimeout: cfg.FailoverBudget(len(pool.Snapshot())),
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	monitor.Stop()
	if queueService != nil {
		queueService.Stop()
	}
	if err := bus.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing event bus")
	}

	log.Info().Msg("Server exited")
	return nil
}
