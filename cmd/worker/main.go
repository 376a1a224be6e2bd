package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/billing-webhooks/internal/config"
	"github.com/jwalitptl/billing-webhooks/internal/notifier"
	"github.com/jwalitptl/billing-webhooks/internal/repository/postgres"
	billingService "github.com/jwalitptl/billing-webhooks/internal/service/billing"
	webhookService "github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook/handlers"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	redisBroker "github.com/jwalitptl/billing-webhooks/pkg/messaging/redis"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
	"github.com/jwalitptl/billing-webhooks/pkg/worker"
)

// The worker runs the retry sweep loop against the same ledger the API
// writes. It exposes only a metrics endpoint; all HTTP traffic belongs to
// the API process.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
	})
	appMetrics := metrics.NewMetrics("billing_webhooks_worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	eventRepo := postgres.NewWebhookEventRepository(base)
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
	retrier := webhookService.NewRetrier(dispatcher, eventRepo, webhookService.BackoffPolicy{
		Base: cfg.Webhook.RetryBaseDelay,
		Cap:  cfg.Webhook.RetryMaxDelay,
	}, appLogger, appMetrics)

	sweeper := worker.NewRetrySweeper(eventRepo, retrier, worker.RetrySweeperConfig{
		BatchSize:    cfg.Webhook.SweepBatchSize,
		PollInterval: cfg.Webhook.SweepInterval,
	}, appLogger, appMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down worker...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server forced to shutdown")
	}

	log.Info().Msg("worker exited properly")
}
