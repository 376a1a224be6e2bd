package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository/mock"
)

func TestBackoffDelayDoublesUntilCap(t *testing.T) {
	p := BackoffPolicy{Base: 30 * time.Second, Cap: time.Hour}

	assert.Equal(t, 30*time.Second, p.Delay(1))
	assert.Equal(t, time.Minute, p.Delay(2))
	assert.Equal(t, 2*time.Minute, p.Delay(3))
	assert.Equal(t, time.Hour, p.Delay(10))

	// Out-of-range attempts clamp to the first step.
	assert.Equal(t, 30*time.Second, p.Delay(0))
	assert.Equal(t, 30*time.Second, p.Delay(-3))
}

func TestBackoffDelayStrictlyIncreasesBelowCap(t *testing.T) {
	p := DefaultBackoffPolicy()
	for attempt := 1; attempt < 7; attempt++ {
		if p.Delay(attempt) >= p.Cap {
			break
		}
		assert.Greater(t, p.Delay(attempt+1), p.Delay(attempt))
	}
}

func newRetryFixture(t *testing.T, handlerResult *model.HandlerResult, invoked *int) (*Retrier, *mock.WebhookEventRepository) {
	t.Helper()

	events := mock.NewWebhookEventRepository()
	registry := NewRegistry()
	registry.Register(&stubHandler{
		types: []string{"customer.created"},
		process: func(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult {
			*invoked++
			return handlerResult
		},
	})
	dispatcher := NewDispatcher(registry, testLogger(), testMetrics)
	retrier := NewRetrier(dispatcher, events, DefaultBackoffPolicy(), testLogger(), testMetrics)
	return retrier, events
}

func seedFailedEvent(events *mock.WebhookEventRepository, eventID string, retryCount int) {
	msg := "downstream down"
	events.Seed(&model.WebhookEvent{
		EventID:    eventID,
		EventType:  "customer.created",
		Payload:    []byte(`{"id":"` + eventID + `","type":"customer.created","data":{"object":{}}}`),
		Status:     model.WebhookEventStatusFailed,
		RetryCount: retryCount,
		MaxRetries: model.DefaultMaxRetries,
		LastError:  &msg,
	})
}

func TestRetrySucceeds(t *testing.T) {
	var invoked int
	retrier, events := newRetryFixture(t, model.NewSuccessResult("handled"), &invoked)
	seedFailedEvent(events, "evt_200", 1)

	result := retrier.Retry(context.Background(), "evt_200")

	assert.True(t, result.Success)
	assert.Equal(t, 1, invoked)

	stored := events.Stored("evt_200")
	require.NotNil(t, stored)
	assert.Equal(t, model.WebhookEventStatusProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestRetryUnknownEvent(t *testing.T) {
	var invoked int
	retrier, _ := newRetryFixture(t, model.NewSuccessResult("handled"), &invoked)

	result := retrier.Retry(context.Background(), "evt_missing")

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Equal(t, 0, invoked)
}

func TestRetryAlreadyProcessedEvent(t *testing.T) {
	var invoked int
	retrier, events := newRetryFixture(t, model.NewSuccessResult("handled"), &invoked)
	events.Seed(&model.WebhookEvent{
		EventID:    "evt_201",
		EventType:  "customer.created",
		Status:     model.WebhookEventStatusProcessed,
		MaxRetries: model.DefaultMaxRetries,
	})

	result := retrier.Retry(context.Background(), "evt_201")

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Equal(t, 0, invoked)
}

func TestRetryExhaustedDoesNotInvokeHandler(t *testing.T) {
	var invoked int
	retrier, events := newRetryFixture(t, model.NewSuccessResult("handled"), &invoked)
	seedFailedEvent(events, "evt_202", model.DefaultMaxRetries)

	result := retrier.Retry(context.Background(), "evt_202")

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Contains(t, result.Message, "retry limit reached")
	assert.Equal(t, 0, invoked, "exhausted events must never reach the handler")
}

func TestRetryFailureIncrementsCountAndReschedules(t *testing.T) {
	var invoked int
	retrier, events := newRetryFixture(t, model.NewFailureResult(http.StatusInternalServerError, "still down"), &invoked)
	seedFailedEvent(events, "evt_203", 1)

	before := time.Now()
	result := retrier.Retry(context.Background(), "evt_203")

	assert.False(t, result.Success)
	assert.Equal(t, 1, invoked)

	stored := events.Stored("evt_203")
	require.NotNil(t, stored)
	assert.Equal(t, model.WebhookEventStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "still down", *stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(before))

	// Error message, counter and schedule are committed as one write.
	assert.Equal(t, 0, events.Calls["MarkProcessed"])
	assert.Equal(t, 1, events.Calls["ScheduleRetry"])
}

func TestRetryCountNeverExceedsCeiling(t *testing.T) {
	var invoked int
	retrier, events := newRetryFixture(t, model.NewFailureResult(http.StatusInternalServerError, "still down"), &invoked)
	seedFailedEvent(events, "evt_204", 1)

	// Fail through the remaining attempts, then keep asking.
	for i := 0; i < 5; i++ {
		retrier.Retry(context.Background(), "evt_204")
	}

	stored := events.Stored("evt_204")
	require.NotNil(t, stored)
	assert.Equal(t, model.DefaultMaxRetries, stored.RetryCount)
	// Attempts at count 1 and 2 ran the handler; every call after the
	// ceiling is rejected before dispatch.
	assert.Equal(t, 2, invoked)
}
