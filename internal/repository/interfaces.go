package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/billing-webhooks/internal/model"
)

// InsertOutcome is the explicit result of a ledger insert. Duplicate
// deliveries surface as AlreadyExists, never as an error.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
)

// All repository interfaces in one file
type (
	// WebhookEventRepository is the persistent event ledger. The unique
	// constraint on event_id is the real idempotency guard; the lookup is
	// an optimization on top of it, not the sole guard.
	WebhookEventRepository interface {
		Insert(ctx context.Context, event *model.WebhookEvent) (InsertOutcome, error)
		GetByEventID(ctx context.Context, eventID string) (*model.WebhookEvent, error)
		MarkProcessed(ctx context.Context, eventID string, success bool, lastError *string) error
		ScheduleRetry(ctx context.Context, eventID string, nextRetryAt time.Time, lastError *string) error
		ListDueForRetry(ctx context.Context, limit int) ([]*model.WebhookEvent, error)
		List(ctx context.Context, filters model.WebhookEventFilters) ([]*model.WebhookEvent, error)
		GetStats(ctx context.Context, orgID *uuid.UUID) (*model.WebhookEventStats, error)
	}

	// VerificationAttemptRepository is the append-only signature audit log.
	VerificationAttemptRepository interface {
		Create(ctx context.Context, attempt *model.VerificationAttempt) error
		List(ctx context.Context, filters model.VerificationFilters) ([]*model.VerificationAttempt, error)
		CountByOutcome(ctx context.Context, since time.Time) (map[model.VerificationOutcome]int64, error)
	}

	SubscriptionRepository interface {
		Upsert(ctx context.Context, sub *model.Subscription) error
		GetByProviderID(ctx context.Context, providerID string) (*model.Subscription, error)
	}

	CustomerRepository interface {
		Upsert(ctx context.Context, customer *model.Customer) error
		GetByProviderID(ctx context.Context, providerID string) (*model.Customer, error)
		DeleteByProviderID(ctx context.Context, providerID string) error
	}

	PaymentRepository interface {
		Upsert(ctx context.Context, payment *model.Payment) error
		GetByProviderID(ctx context.Context, providerID string) (*model.Payment, error)
	}

	// OrganizationRepository is the read/annotate boundary into the
	// external organization model.
	OrganizationRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Organization, error)
		UpdatePlan(ctx context.Context, id uuid.UUID, plan string) error
		RecomputeUsage(ctx context.Context, id uuid.UUID) error
	}
)
