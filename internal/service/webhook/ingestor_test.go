package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository/mock"
)

type stubOrgChecker struct {
	known map[uuid.UUID]bool
	err   error
}

func (s *stubOrgChecker) OrganizationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.known[id], nil
}

type ingestFixture struct {
	ingestor *Ingestor
	verifier *Verifier
	events   *mock.WebhookEventRepository
	attempts *mock.VerificationAttemptRepository
	orgs     *stubOrgChecker
	invoked  *atomic.Int64
}

func newIngestFixture(t *testing.T, handlerResult *model.HandlerResult) *ingestFixture {
	t.Helper()

	events := mock.NewWebhookEventRepository()
	attempts := mock.NewVerificationAttemptRepository()
	verifier := NewVerifier(testSecret, 5*time.Minute)
	orgs := &stubOrgChecker{known: make(map[uuid.UUID]bool)}

	var invoked atomic.Int64
	registry := NewRegistry()
	registry.Register(&stubHandler{
		types: []string{"customer.created", "payment_intent.succeeded"},
		process: func(ctx context.Context, event *model.WebhookEvent) *model.HandlerResult {
			invoked.Add(1)
			return handlerResult
		},
	})

	dispatcher := NewDispatcher(registry, testLogger(), testMetrics)
	ingestor := NewIngestor(verifier, dispatcher, events, attempts, orgs, DefaultBackoffPolicy(), testLogger(), testMetrics)

	return &ingestFixture{
		ingestor: ingestor,
		verifier: verifier,
		events:   events,
		attempts: attempts,
		orgs:     orgs,
		invoked:  &invoked,
	}
}

func signedRequest(f *ingestFixture, body []byte) IngestRequest {
	return IngestRequest{
		Body:            body,
		SignatureHeader: f.verifier.Sign(body, time.Now()),
		SourceIP:        "203.0.113.7",
		UserAgent:       "provider-webhooks/1.0",
	}
}

func eventBody(eventID, eventType string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"api_version":"2024-06-20","livemode":false,"data":{"object":{"id":"obj_1"}}}`,
		eventID, eventType,
	))
}

func TestIngestProcessesValidEvent(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := eventBody("evt_100", "customer.created")

	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, "evt_100", result.EventID)
	assert.Equal(t, int64(1), f.invoked.Load())

	stored := f.events.Stored("evt_100")
	require.NotNil(t, stored)
	assert.Equal(t, model.WebhookEventStatusProcessed, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.VerificationOutcomeSuccess, attempts[0].Outcome)
	require.NotNil(t, attempts[0].EventID)
	assert.Equal(t, "evt_100", *attempts[0].EventID)
	assert.Equal(t, "203.0.113.7", attempts[0].SourceIP)
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := eventBody("evt_101", "customer.created")

	result := f.ingestor.Ingest(context.Background(), IngestRequest{
		Body:            body,
		SignatureHeader: "t=123,v1=deadbeef",
		SourceIP:        "203.0.113.7",
	})

	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "rejected", result.Status)
	assert.Equal(t, int64(0), f.invoked.Load())
	assert.Equal(t, 0, f.events.Count())

	// The rejection still leaves an audit row, with no event identity.
	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.VerificationOutcomeFailed, attempts[0].Outcome)
	assert.Nil(t, attempts[0].EventID)
	require.NotNil(t, attempts[0].FailureReason)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := []byte(`{"type":"customer.created"}`)

	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Equal(t, "invalid", result.Status)
	assert.Equal(t, 0, f.events.Count())

	// Signature was fine, so the audit row records a success.
	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.VerificationOutcomeSuccess, attempts[0].Outcome)
}

func TestIngestAcknowledgesDuplicate(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := eventBody("evt_102", "customer.created")

	first := f.ingestor.Ingest(context.Background(), signedRequest(f, body))
	second := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, "processed", first.Status)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, int64(1), f.invoked.Load(), "handler must run exactly once")
	assert.Equal(t, 1, f.events.Count())

	// Both deliveries are audited even though only one was processed.
	assert.Len(t, f.attempts.Attempts(), 2)
}

func TestIngestDuplicateOfFailedEventIsAcknowledged(t *testing.T) {
	f := newIngestFixture(t, model.NewFailureResult(http.StatusInternalServerError, "downstream down"))
	body := eventBody("evt_103", "customer.created")

	first := f.ingestor.Ingest(context.Background(), signedRequest(f, body))
	second := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusInternalServerError, first.StatusCode)
	// The redelivery must not re-run the handler; the retry path owns it now.
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, int64(1), f.invoked.Load())
}

func TestIngestHandlerFailureSchedulesRetry(t *testing.T) {
	f := newIngestFixture(t, model.NewFailureResult(http.StatusInternalServerError, "downstream down"))
	body := eventBody("evt_104", "customer.created")

	before := time.Now()
	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	assert.Equal(t, "failed", result.Status)

	stored := f.events.Stored("evt_104")
	require.NotNil(t, stored)
	assert.Equal(t, model.WebhookEventStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "downstream down", *stored.LastError)
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(before), "next retry must be in the future")

	// The error and the retry schedule land in one write; a separate
	// mark-failed step would leave a crash window with no next_retry_at.
	assert.Equal(t, 0, f.events.Calls["MarkProcessed"])
	assert.Equal(t, 1, f.events.Calls["ScheduleRetry"])
}

func TestIngestAuditDurationUsesInjectedClock(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))

	base := time.Now()
	var called bool
	f.ingestor.now = func() time.Time {
		if !called {
			called = true
			return base
		}
		return base.Add(250 * time.Millisecond)
	}

	body := eventBody("evt_110", "customer.created")
	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))
	assert.Equal(t, "processed", result.Status)

	attempts := f.attempts.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, int64(250), attempts[0].DurationMS)
}

func TestIngestConcurrentDuplicatesProcessOnce(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := eventBody("evt_105", "payment_intent.succeeded")

	const deliveries = 8
	results := make([]*IngestResult, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.ingestor.Ingest(context.Background(), signedRequest(f, body))
		}(i)
	}
	wg.Wait()

	processed, duplicate := 0, 0
	for _, result := range results {
		assert.Equal(t, http.StatusOK, result.StatusCode)
		switch result.Status {
		case "processed":
			processed++
		case "duplicate":
			duplicate++
		}
	}

	assert.Equal(t, 1, processed, "exactly one delivery wins the insert")
	assert.Equal(t, deliveries-1, duplicate)
	assert.Equal(t, int64(1), f.invoked.Load())
	assert.Equal(t, 1, f.events.Count())
}

func TestIngestRecordsOrganizationFromMetadata(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	orgID := uuid.New()
	f.orgs.known[orgID] = true
	body := []byte(fmt.Sprintf(
		`{"id":"evt_106","type":"customer.created","data":{"object":{"id":"cus_1","metadata":{"organization_id":%q}}}}`,
		orgID,
	))

	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))
	assert.Equal(t, "processed", result.Status)

	stored := f.events.Stored("evt_106")
	require.NotNil(t, stored)
	require.NotNil(t, stored.OrganizationID)
	assert.Equal(t, orgID, *stored.OrganizationID)
}

func TestIngestDropsUnknownOrganization(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	body := []byte(fmt.Sprintf(
		`{"id":"evt_108","type":"customer.created","data":{"object":{"id":"cus_1","metadata":{"organization_id":%q}}}}`,
		uuid.New(),
	))

	// A valid UUID that matches no local organization must not end up on
	// the ledger row; the FK would reject the insert and lose the event.
	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "processed", result.Status)

	stored := f.events.Stored("evt_108")
	require.NotNil(t, stored)
	assert.Nil(t, stored.OrganizationID)
}

func TestIngestToleratesOrganizationCheckFailure(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	f.orgs.err = fmt.Errorf("organizations unavailable")
	orgID := uuid.New()
	body := []byte(fmt.Sprintf(
		`{"id":"evt_109","type":"customer.created","data":{"object":{"id":"cus_1","metadata":{"organization_id":%q}}}}`,
		orgID,
	))

	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, "processed", result.Status)

	stored := f.events.Stored("evt_109")
	require.NotNil(t, stored)
	assert.Nil(t, stored.OrganizationID)
}

func TestIngestAuditFailureDoesNotBlockProcessing(t *testing.T) {
	f := newIngestFixture(t, model.NewSuccessResult("handled"))
	f.attempts.CreateFunc = func(ctx context.Context, attempt *model.VerificationAttempt) error {
		return fmt.Errorf("audit table unavailable")
	}
	body := eventBody("evt_107", "customer.created")

	result := f.ingestor.Ingest(context.Background(), signedRequest(f, body))

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "processed", result.Status)
}
