package webhook

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
)

// BackoffPolicy computes the wait before retry attempt n (1-based).
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{Base: 30 * time.Second, Cap: time.Hour}
}

// Delay doubles per attempt, capped: base, 2*base, 4*base, ... The delay is
// strictly increasing until it hits the cap.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// Retrier re-runs failed, retry-eligible events through the dispatcher. It
// reconstructs the event from the persisted raw payload and never re-fetches
// anything from the provider. Invoked by the sweep worker and by the manual
// operator trigger.
type Retrier struct {
	dispatcher *Dispatcher
	events     repository.WebhookEventRepository
	backoff    BackoffPolicy
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewRetrier(
	dispatcher *Dispatcher,
	events repository.WebhookEventRepository,
	backoff BackoffPolicy,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Retrier {
	return &Retrier{
		dispatcher: dispatcher,
		events:     events,
		backoff:    backoff,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Retry re-invokes processing for one event. Preconditions are checked
// here, not in the sweep, so the manual operator path gets the same guards:
// the event must exist, be in a failed state, and have retries left.
// Violations come back as terminal rejections without touching the handler.
func (r *Retrier) Retry(ctx context.Context, eventID string) *model.HandlerResult {
	event, err := r.events.GetByEventID(ctx, eventID)
	if err != nil {
		return model.NewFailureResult(http.StatusInternalServerError, fmt.Sprintf("failed to load event: %v", err))
	}
	if event == nil {
		return model.NewFailureResult(http.StatusNotFound, fmt.Sprintf("event %s not found", eventID))
	}
	if event.Status == model.WebhookEventStatusProcessed {
		return model.NewFailureResult(http.StatusBadRequest, "event already processed")
	}
	if event.RetriesExhausted() {
		r.metrics.RetriesExhausted.Inc()
		return model.NewFailureResult(http.StatusBadRequest,
			fmt.Sprintf("retry limit reached (%d/%d)", event.RetryCount, event.MaxRetries))
	}

	r.metrics.RetryAttempts.WithLabelValues(event.EventType).Inc()
	r.logger.Info("retrying event",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"attempt", event.RetryCount+1)

	result := r.dispatcher.Dispatch(ctx, event)
	if result.Success {
		if err := r.events.MarkProcessed(ctx, event.EventID, true, nil); err != nil {
			r.logger.Error(err, "failed to mark retried event processed", "event_id", event.EventID)
		}
		r.metrics.EventsProcessed.WithLabelValues(event.EventType).Inc()
		return result
	}

	nextAttempt := event.RetryCount + 1
	if nextAttempt >= event.MaxRetries {
		// Ceiling reached: the row stays failed with its error for the
		// operator surface; the sweep skips it once the count hits the max.
		r.metrics.RetriesExhausted.Inc()
		r.logger.Warn("event retries exhausted",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"retry_count", nextAttempt)
	}
	// Failure bookkeeping and rescheduling are one UPDATE; a crash here
	// cannot strand the row failed without a next_retry_at.
	msg := result.Message
	nextRetryAt := r.now().Add(r.backoff.Delay(nextAttempt))
	if err := r.events.ScheduleRetry(ctx, event.EventID, nextRetryAt, &msg); err != nil {
		r.logger.Error(err, "failed to schedule next retry", "event_id", event.EventID)
	}

	return result
}
