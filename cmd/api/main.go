package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/modelgate/backend/internal/cache"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/db"
	"github.com/modelgate/backend/internal/events"
	"github.com/modelgate/backend/internal/evm"
	apphttp "github.com/modelgate/backend/internal/http"
	"github.com/modelgate/backend/internal/http/handlers"
	"github.com/modelgate/backend/internal/logging"
	"github.com/modelgate/backend/internal/metrics"
	"github.com/modelgate/backend/internal/repositories"
	"github.com/modelgate/backend/internal/services"
	"github.com/modelgate/backend/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(log); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Chain
	var chain services.ChainReader
	var contract evm.Address
	if cfg.GateEnabled {
		contract, err = cfg.ContractAddress()
		if err != nil {
			log.Fatal("invalid payment contract", zap.Error(err))
		}
		client, err := evm.Dial(ctx, evm.Options{
			RPCURL:      cfg.RPCURL,
			Contract:    contract,
			PriceMethod: cfg.PriceMethod,
			Timeout:     cfg.RPCTimeout,
			Retry:       cfg.RetryPolicy(),
		}, rec, log)
		if err != nil {
			log.Fatal("failed to connect to chain rpc", zap.Error(err))
		}
		defer client.Close()
		chain = client
	}

	// Blob storage
	blobs, err := storage.NewDiskStore(cfg.BlobDir, cfg.RetryPolicy(), log)
	if err != nil {
		log.Fatal("failed to open blob store", zap.Error(err))
	}

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	grantRepo := repositories.NewGrantRepo(pool)
	modelRepo := repositories.NewModelRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	validator := services.NewPaymentValidator(chain, grantRepo, userRepo, services.ValidatorConfig{
		Contract:      contract,
		GrantWindow:   cfg.PaymentValidityWindow,
		ChainWindow:   cfg.ChainValidityWindow,
		BlockInterval: cfg.BlockInterval,
	}, rec, log)
	statusCache := cache.NewStatusCache(rdb)
	gate := services.NewAccessGate(validator, grantRepo, statusCache, auditRepo, publisher, cfg.GateEnabled, log)
	statusReporter := services.NewStatusReporter(validator, statusCache, cfg.PaymentValidityWindow, cfg.StatusCacheTTL, cfg.GateEnabled, log)

	inference := services.NewInferenceClient(cfg.InferenceURL, cfg.InferenceTimeout, cfg.RetryPolicy(), rec, log)
	walletService := services.NewWalletService(walletRepo, userRepo, auditRepo, cfg, log)
	predictionService := services.NewPredictionService(gate, grantRepo, modelRepo, inference, blobs, log)
	modelService := services.NewModelService(modelRepo, blobs, auditRepo, publisher, log)

	// Handlers
	walletHandler := handlers.NewWalletHandler(walletService, log)
	userHandler := handlers.NewUserHandler(walletService, log)
	paymentHandler := handlers.NewPaymentHandler(predictionService, statusReporter, log)
	modelHandler := handlers.NewModelHandler(modelService, cfg.MaxUploadBytes, log)
	auditHandler := handlers.NewAuditHandler(auditRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to payment events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    2*cfg.MaxUploadBytes + 1<<20,
		ErrorHandler: handlers.ErrorHandler(log),
	})

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	apphttp.SetupRouter(app, cfg, log, rdb, metricsHandler, walletHandler, userHandler, paymentHandler, modelHandler, auditHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.Bool("payment_gate_enabled", cfg.GateEnabled),
		zap.Duration("payment_validity_window", cfg.PaymentValidityWindow),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
