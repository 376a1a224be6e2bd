package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/billing-webhooks/internal/repository"
	"github.com/jwalitptl/billing-webhooks/internal/service/webhook"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
)

type RetrySweeperConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// RetrySweeper periodically claims failed events whose backoff has elapsed
// and pushes each one back through the retrier. The claim query locks rows
// with SKIP LOCKED, so multiple sweeper instances never fight over an event.
type RetrySweeper struct {
	events  repository.WebhookEventRepository
	retrier *webhook.Retrier
	config  RetrySweeperConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRetrySweeper(
	events repository.WebhookEventRepository,
	retrier *webhook.Retrier,
	config RetrySweeperConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *RetrySweeper {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}

	return &RetrySweeper{
		events:  events,
		retrier: retrier,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RetrySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.logger.Info("starting retry sweeper",
		"poll_interval", s.config.PollInterval.String(),
		"batch_size", s.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down retry sweeper")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error(err, "retry sweep failed")
			}
		}
	}
}

func (s *RetrySweeper) sweep(ctx context.Context) error {
	timer := prometheus.NewTimer(s.metrics.SweepLatency)
	defer timer.ObserveDuration()

	due, err := s.events.ListDueForRetry(ctx, s.config.BatchSize)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("list_due_for_retry", "error").Inc()
		return fmt.Errorf("failed to list due events: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("list_due_for_retry", "success").Inc()
	s.metrics.SweepBatchSize.Set(float64(len(due)))

	if len(due) == 0 {
		return nil
	}

	for _, event := range due {
		result := s.retrier.Retry(ctx, event.EventID)
		if !result.Success {
			// The retrier already recorded the failure and scheduled the
			// next attempt, so the sweep just moves on.
			s.logger.Warn("sweep retry failed",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"message", result.Message)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}
