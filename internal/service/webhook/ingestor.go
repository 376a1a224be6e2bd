package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/internal/repository"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	"github.com/jwalitptl/billing-webhooks/pkg/metrics"
)

// IngestRequest carries the raw transport-level inputs for one delivery.
// Body must be the exact bytes as received.
type IngestRequest struct {
	Body            []byte
	SignatureHeader string
	SourceIP        string
	UserAgent       string
}

// IngestResult is what the transport layer turns into an HTTP response.
type IngestResult struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	EventID    string `json:"event_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

const (
	ingestStatusProcessed = "processed"
	ingestStatusDuplicate = "duplicate"
	ingestStatusRejected  = "rejected"
	ingestStatusInvalid   = "invalid"
	ingestStatusFailed    = "failed"
)

// OrganizationChecker reports whether an organization ID from payload
// metadata is known locally.
type OrganizationChecker interface {
	OrganizationExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Ingestor is the single entry point for newly arrived deliveries: verify,
// audit, claim the ledger row, dispatch, record the outcome.
type Ingestor struct {
	verifier   *Verifier
	dispatcher *Dispatcher
	events     repository.WebhookEventRepository
	attempts   repository.VerificationAttemptRepository
	orgs       OrganizationChecker
	backoff    BackoffPolicy
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewIngestor(
	verifier *Verifier,
	dispatcher *Dispatcher,
	events repository.WebhookEventRepository,
	attempts repository.VerificationAttemptRepository,
	orgs OrganizationChecker,
	backoff BackoffPolicy,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Ingestor {
	return &Ingestor{
		verifier:   verifier,
		dispatcher: dispatcher,
		events:     events,
		attempts:   attempts,
		orgs:       orgs,
		backoff:    backoff,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Ingest runs one delivery through the full pipeline. Every request leaves
// exactly one VerificationAttempt row behind, whatever else happens.
func (s *Ingestor) Ingest(ctx context.Context, req IngestRequest) *IngestResult {
	start := s.now()

	verifyErr := s.verifier.Verify(req.Body, req.SignatureHeader)
	s.metrics.VerificationLatency.Observe(s.now().Sub(start).Seconds())

	if verifyErr != nil {
		// The body is untrusted at this point, so the audit row carries
		// no event identity.
		s.recordAttempt(ctx, req, nil, nil, verifyErr, start)
		s.metrics.VerificationAttempts.WithLabelValues("failed").Inc()
		s.logger.Warn("webhook signature rejected",
			"reason", verifyErr.Error(),
			"source_ip", req.SourceIP)
		return &IngestResult{
			StatusCode: http.StatusUnauthorized,
			Status:     ingestStatusRejected,
			Message:    "signature verification failed",
		}
	}

	env, parseErr := ParseEnvelope(req.Body)
	if parseErr != nil {
		s.recordAttempt(ctx, req, nil, nil, nil, start)
		s.metrics.VerificationAttempts.WithLabelValues("success").Inc()
		return &IngestResult{
			StatusCode: http.StatusBadRequest,
			Status:     ingestStatusInvalid,
			Message:    "malformed event payload",
		}
	}

	s.recordAttempt(ctx, req, &env.ID, &env.Type, nil, start)
	s.metrics.VerificationAttempts.WithLabelValues("success").Inc()

	event := &model.WebhookEvent{
		EventID:    env.ID,
		EventType:  env.Type,
		Payload:    req.Body,
		APIVersion: env.APIVersion,
		Livemode:   env.Livemode,
	}
	// The ledger has a foreign key on organization_id, so a metadata ID
	// that matches no local organization must not be attached; the event is
	// still processed, just without an organization.
	if orgID, ok := ExtractOrganizationID(env); ok {
		known, err := s.orgs.OrganizationExists(ctx, orgID)
		switch {
		case err != nil:
			s.logger.Error(err, "failed to check organization",
				"event_id", env.ID,
				"organization_id", orgID.String())
		case known:
			event.OrganizationID = &orgID
		}
	}

	outcome, err := s.events.Insert(ctx, event)
	if err != nil {
		s.logger.Error(err, "failed to insert webhook event", "event_id", env.ID)
		return &IngestResult{
			StatusCode: http.StatusInternalServerError,
			Status:     ingestStatusFailed,
			EventID:    env.ID,
			Message:    "failed to record event",
		}
	}

	// A pre-existing row means another delivery of this event already won
	// the insert race, whether or not it finished processing. Acknowledge
	// without reprocessing either way; reprocessing an in-flight event is
	// exactly the double-effect the ledger exists to prevent.
	if outcome == repository.AlreadyExists {
		s.metrics.EventsDuplicate.Inc()
		s.logger.Info("duplicate delivery acknowledged", "event_id", env.ID)
		return &IngestResult{
			StatusCode: http.StatusOK,
			Status:     ingestStatusDuplicate,
			EventID:    env.ID,
		}
	}

	s.metrics.EventsReceived.WithLabelValues(env.Type).Inc()

	result := s.dispatcher.Dispatch(ctx, event)
	if result.Success {
		if err := s.events.MarkProcessed(ctx, env.ID, true, nil); err != nil {
			s.logger.Error(err, "failed to mark event processed", "event_id", env.ID)
		}
		s.metrics.EventsProcessed.WithLabelValues(env.Type).Inc()
		return &IngestResult{
			StatusCode: http.StatusOK,
			Status:     ingestStatusProcessed,
			EventID:    env.ID,
			Message:    result.Message,
		}
	}

	s.metrics.EventsFailed.WithLabelValues(env.Type).Inc()
	msg := result.Message
	// One UPDATE records the failure and arms the retry together; a crash
	// can never leave the row failed without a next_retry_at.
	if err := s.events.ScheduleRetry(ctx, env.ID, s.now().Add(s.backoff.Delay(1)), &msg); err != nil {
		s.logger.Error(err, "failed to schedule retry", "event_id", env.ID)
	}

	// A non-2xx here lets the provider redeliver once more as a safety
	// net; the redelivery hits the duplicate short-circuit above, so this
	// cannot amplify into a redelivery storm.
	return &IngestResult{
		StatusCode: http.StatusInternalServerError,
		Status:     ingestStatusFailed,
		EventID:    env.ID,
		Message:    result.Message,
	}
}

func (s *Ingestor) recordAttempt(ctx context.Context, req IngestRequest, eventID, eventType *string, verifyErr error, start time.Time) {
	attempt := &model.VerificationAttempt{
		EventID:    eventID,
		EventType:  eventType,
		Outcome:    model.VerificationOutcomeSuccess,
		SourceIP:   req.SourceIP,
		UserAgent:  req.UserAgent,
		DurationMS: s.now().Sub(start).Milliseconds(),
	}
	if verifyErr != nil {
		attempt.Outcome = model.VerificationOutcomeFailed
		reason := verifyErr.Error()
		attempt.FailureReason = &reason
	}

	// The audit trail is best-effort relative to the provider: dropping a
	// delivery because the audit insert failed would trade a security log
	// line for a lost business event.
	if err := s.attempts.Create(ctx, attempt); err != nil {
		s.logger.Error(err, "failed to record verification attempt",
			"source_ip", req.SourceIP)
	}
}
