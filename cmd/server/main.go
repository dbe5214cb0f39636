package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/payment"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	eventPublisher := broker.NewEventPublisher(producer, broker.Topics{
		OrderEvents:       cfg.Kafka.TopicOrder,
		PaymentRetry:      cfg.Kafka.TopicPaymentRetry,
		PaymentDeadLetter: cfg.Kafka.TopicPaymentDeadLetter,
	})

	if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
		logger.Warn("Stripe keys are not fully configured, payments will fail")
	}
	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	pricing := service.PricingPolicy{
		TaxRate:               cfg.Business.TaxRate,
		FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
		FlatShipping:          cfg.Business.FlatShipping,
	}

	authService := service.NewAuthService(db, cfg.JWT.Secret, cfg.JWT.Expiry)
	catalogService := service.NewCatalogService(db)
	cartService := service.NewCartService(db, db)
	orderService := service.NewOrderService(db, eventPublisher, pricing, cfg.Business.AllowDeliverUnpaid)
	paymentService := service.NewPaymentService(orderService, gateway, redisClient, eventPublisher, service.PaymentConfig{
		Currency:         cfg.Stripe.Currency,
		MaxRetryAttempts: cfg.Business.PaymentRetryMaxAttempts,
		RetryBackoff:     cfg.Business.PaymentRetryBackoff,
		PendingTTL:       cfg.Business.WebhookPendingTTL,
		DedupeTTL:        cfg.Business.WebhookDedupeTTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentRetry, cfg.Kafka.ConsumerGroup)
	retryWorker := worker.NewPaymentRetryWorker(retryConsumer, paymentService)
	go func() {
		if err := retryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Payment retry worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Auth:      authService,
		Catalog:   catalogService,
		Carts:     cartService,
		Orders:    orderService,
		Payments:  paymentService,
		Limiter:   redisClient,
		RateLimit: cfg.RateLimit,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err := handler.SetupRoutes(router); err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := retryWorker.Stop(); err != nil {
		logger.Warn("Error stopping payment retry worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
