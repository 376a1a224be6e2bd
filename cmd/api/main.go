package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/billing-webhooks/internal/config"
	"github.com/jwalitptl/billing-webhooks/internal/handler/health"
	webhookHandler "github.com/jwalitptl/billing-webhooks/internal/handler/webhook"
	"github.com/jwalitptl/billing-webhooks/internal/middleware"
	"github.com/jwalitptl/billing-webhooks/internal/notifier"
	"github.com/jwalitptl/billing-webhooks/internal/repository/postgres"
	"github.com/jwalitptl/billing-webhooks/internal/router"
	billingService "github.com/jwalitptl/billing-webhooks/internal/service/billing"
	webhookService "github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook/handlers"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	redisBroker "github.com/jwalitptl/billing-webhooks/pkg/messaging/redis"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
	"github.com/jwalitptl/billing-webhooks/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
	})
	appMetrics := metrics.NewMetrics("billing_webhooks")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	eventRepo := postgres.NewWebhookEventRepository(base)
	attemptRepo := postgres.NewVerificationAttemptRepository(base)
	subscriptionRepo := postgres.NewSubscriptionRepository(base)
	customerRepo := postgres.NewCustomerRepository(base)
	paymentRepo := postgres.NewPaymentRepository(base)
	organizationRepo := postgres.NewOrganizationRepository(base)

	zl := log.Logger
	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &zl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	var mailer *notifier.Mailer
	if cfg.SMTP.Host != "" {
		mailer = notifier.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.From)
	}
	notify := notifier.New(broker, cfg.Webhook.NotifyChannel, mailer, appLogger)

	billingSvc := billingService.NewService(subscriptionRepo, customerRepo, paymentRepo, organizationRepo, appLogger)

	registry := webhookService.NewRegistry()
	registry.Register(handlers.NewSubscriptionHandler(billingSvc, notify, appLogger))
	registry.Register(handlers.NewPaymentHandler(billingSvc, notify, appLogger))
	registry.Register(handlers.NewCustomerHandler(billingSvc, appLogger))

	dispatcher := webhookService.NewDispatcher(registry, appLogger, appMetrics)
	verifier := webhookService.NewVerifier(cfg.Webhook.SigningSecret, cfg.Webhook.Tolerance)
	backoff := webhookService.BackoffPolicy{
		Base: cfg.Webhook.RetryBaseDelay,
		Cap:  cfg.Webhook.RetryMaxDelay,
	}
	ingestor := webhookService.NewIngestor(verifier, dispatcher, eventRepo, attemptRepo, billingSvc, backoff, appLogger, appMetrics)
	retrier := webhookService.NewRetrier(dispatcher, eventRepo, backoff, appLogger, appMetrics)

	auth := middleware.NewOperatorAuth(
		cfg.Operator.JWTSecret,
		cfg.Operator.APIKeyHash,
		security.NewBcryptHasher(0),
	)

	webhookH := webhookHandler.NewHandler(ingestor, retrier, eventRepo, attemptRepo, cfg.Webhook.SignatureHeader, appLogger)
	healthH := health.NewHandler(db)

	r := router.NewRouter(webhookH, healthH, auth, router.Config{
		RateLimit:    rate.Limit(cfg.Operator.RateLimitRPS),
		RateBurst:    cfg.Operator.RateLimitBurst,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting webhook API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
